package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel-labs/reagent/pkg/model"
)

func ptr[T any](v T) *T { return &v }

func TestCloneIsIndependentOfOriginal(t *testing.T) {
	base := &model.GenerateOptions{
		Temperature:          ptr(0.5),
		AdditionalBodyParams: map[string]any{"a": 1},
	}
	clone := base.Clone()

	*clone.Temperature = 0.9
	clone.AdditionalBodyParams["a"] = 2

	assert.Equal(t, 0.5, *base.Temperature, "mutating the clone must not affect the original")
	assert.Equal(t, 1, base.AdditionalBodyParams["a"])
}

func TestCloneOfNilIsNil(t *testing.T) {
	var o *model.GenerateOptions
	assert.Nil(t, o.Clone())
}

func TestMergeOptionsOverridePreferred(t *testing.T) {
	base := &model.GenerateOptions{Temperature: ptr(0.2), MaxTokens: ptr(100)}
	override := &model.GenerateOptions{Temperature: ptr(0.8)}

	merged := model.MergeOptions(override, base)
	require.NotNil(t, merged)
	assert.Equal(t, 0.8, *merged.Temperature, "override wins when set")
	assert.Equal(t, 100, *merged.MaxTokens, "base value survives when override leaves it unset")
}

func TestMergeOptionsHandlesNilArguments(t *testing.T) {
	assert.NotNil(t, model.MergeOptions(nil, nil))

	base := &model.GenerateOptions{Temperature: ptr(0.3)}
	merged := model.MergeOptions(nil, base)
	assert.Equal(t, 0.3, *merged.Temperature)

	override := &model.GenerateOptions{Temperature: ptr(0.7)}
	merged2 := model.MergeOptions(override, nil)
	assert.Equal(t, 0.7, *merged2.Temperature)
}

func TestMergeOptionsToolChoiceAndAdditionalParams(t *testing.T) {
	base := &model.GenerateOptions{
		ToolChoice:           model.ToolChoice{Kind: model.ToolChoiceAuto},
		AdditionalBodyParams: map[string]any{"x": 1},
	}
	override := &model.GenerateOptions{
		ToolChoice:           model.ToolChoice{Kind: model.ToolChoiceSpecific, Name: "generate_response"},
		AdditionalBodyParams: map[string]any{"y": 2},
	}

	merged := model.MergeOptions(override, base)
	assert.Equal(t, model.ToolChoiceSpecific, merged.ToolChoice.Kind)
	assert.Equal(t, "generate_response", merged.ToolChoice.Name)
	assert.Equal(t, 1, merged.AdditionalBodyParams["x"])
	assert.Equal(t, 2, merged.AdditionalBodyParams["y"])
}
