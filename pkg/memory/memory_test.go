package memory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel-labs/reagent/pkg/memory"
	"github.com/kadirpekel-labs/reagent/pkg/message"
)

func TestAddAndGetMessages(t *testing.T) {
	m := memory.New()
	m.AddMessage(message.NewUserMessage("u", "one"))
	m.AddMessage(message.NewUserMessage("u", "two"))

	got := m.GetMessages()
	require.Len(t, got, 2)
	assert.Equal(t, "one", got[0].TextContent())
	assert.Equal(t, "two", got[1].TextContent())
}

func TestGetMessagesReturnsSnapshot(t *testing.T) {
	m := memory.New()
	m.AddMessage(message.NewUserMessage("u", "one"))

	snap := m.GetMessages()
	m.AddMessage(message.NewUserMessage("u", "two"))

	assert.Len(t, snap, 1, "snapshot must not observe later mutation")
	assert.Len(t, m.GetMessages(), 2)
}

func TestDeleteMessage(t *testing.T) {
	m := memory.New()
	m.AddMessage(message.NewUserMessage("u", "one"))
	m.AddMessage(message.NewUserMessage("u", "two"))
	m.AddMessage(message.NewUserMessage("u", "three"))

	require.NoError(t, m.DeleteMessage(1))
	got := m.GetMessages()
	require.Len(t, got, 2)
	assert.Equal(t, "one", got[0].TextContent())
	assert.Equal(t, "three", got[1].TextContent())
}

func TestDeleteMessageOutOfRange(t *testing.T) {
	m := memory.New()
	m.AddMessage(message.NewUserMessage("u", "one"))

	assert.Error(t, m.DeleteMessage(5))
	assert.Error(t, m.DeleteMessage(-1))
}

func TestClear(t *testing.T) {
	m := memory.New()
	m.AddMessage(message.NewUserMessage("u", "one"))
	m.Clear()
	assert.Empty(t, m.GetMessages())
}
