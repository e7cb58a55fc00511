// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package structured implements the structured-output controller: a
// synthetic generate_response tool plus a call-scoped retry state machine
// that forces a model to produce a response matching a caller-supplied
// schema, validates it, and compresses it out of the retry scaffolding
// before returning it to the caller.
package structured

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	schemagen "github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kadirpekel-labs/reagent/pkg/hook"
	"github.com/kadirpekel-labs/reagent/pkg/memory"
	"github.com/kadirpekel-labs/reagent/pkg/message"
	"github.com/kadirpekel-labs/reagent/pkg/model"
	"github.com/kadirpekel-labs/reagent/pkg/rlog"
	"github.com/kadirpekel-labs/reagent/pkg/tool"
)

// MaxRetries bounds how many reminder round-trips the controller allows
// before giving up and letting the loop fall through to its summary phase.
const MaxRetries = 3

// ToolName is the name of the synthetic tool the controller registers.
const ToolName = "generate_response"

// Mode selects how the controller reminds the model to call generate_response.
type Mode string

const (
	// ModeToolChoice injects the reminder user message and also forces
	// generate-options.ToolChoice to the synthetic tool on the retry
	// following a tool-call-free reasoning turn.
	ModeToolChoice Mode = "TOOL_CHOICE"
	// ModePrompt reminds the model only through the injected user message;
	// ToolChoice is left unchanged.
	ModePrompt Mode = "PROMPT"
)

const (
	metaReminder     = message.MetaStructuredOutputReminder
	metaReminderMode = message.MetaStructuredOutputReminderType
	metaResponseMsg  = "response_msg"
	metaSuccess      = "success"
	metaValidation   = "validation_error"
)

// InvalidConfigError is returned by New when the schema configuration is
// ambiguous (both forms, or neither, supplied).
type InvalidConfigError struct{ Reason string }

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("structured: invalid structured-output config: %s", e.Reason)
}

// Schema is either a JSON-schema document or a Go type, never both.
type Schema struct {
	JSONSchema map[string]any
	GoType     reflect.Type
}

func (s Schema) validate(data map[string]any) (map[string]any, string) {
	switch {
	case s.JSONSchema != nil:
		raw, err := json.Marshal(s.JSONSchema)
		if err != nil {
			return nil, fmt.Sprintf("marshal schema: %v", err)
		}
		compiled, err := jsonschema.CompileString(ToolName, string(raw))
		if err != nil {
			return nil, fmt.Sprintf("compile schema: %v", err)
		}
		if err := compiled.Validate(data); err != nil {
			return nil, err.Error()
		}
		return data, ""
	case s.GoType != nil:
		out := reflect.New(s.GoType).Interface()
		if err := mapstructure.Decode(data, out); err != nil {
			return nil, err.Error()
		}
		var asMap map[string]any
		if err := mapstructure.Decode(out, &asMap); err != nil {
			return nil, err.Error()
		}
		return asMap, ""
	default:
		return nil, "no schema configured"
	}
}

// state is the controller's private lifecycle.
type state string

const (
	stateAwaiting  state = "awaiting-call"
	stateCompleted state = "completed"
	stateFailed    state = "failed"
)

// Controller is a dedicated call-scoped struct owning the structured-output
// retry state; it registers itself as a transient tool and a transient
// high-priority hook for the lifetime of one call.
type Controller struct {
	schema Schema
	mode   Mode
	agent  string
	mem    memory.Memory
	tools  *tool.Toolkit

	st      state
	retries int
	result  *message.Message
}

var log = rlog.Named("structured")

// New validates the schema configuration and returns a Controller, or an
// InvalidConfigError if the configuration is ambiguous.
func New(agentName string, schema Schema, mode Mode, mem memory.Memory, tools *tool.Toolkit) (*Controller, error) {
	hasJSON := schema.JSONSchema != nil
	hasGo := schema.GoType != nil
	if hasJSON == hasGo {
		reason := "neither a JSON schema nor a Go type was supplied"
		if hasJSON {
			reason = "both a JSON schema and a Go type were supplied"
		}
		return nil, &InvalidConfigError{Reason: reason}
	}
	if mode == "" {
		mode = ModePrompt
	}
	return &Controller{schema: schema, mode: mode, agent: agentName, mem: mem, tools: tools, st: stateAwaiting}, nil
}

// Register installs the synthetic tool and returns the hook.Hook to add to
// the agent's transient registry for the lifetime of this call.
func (c *Controller) Register() hook.Hook {
	c.tools.Register(&generateResponseTool{schema: c.schema})
	return hook.Hook{Priority: 10, OnEvent: c.onEvent}
}

// Unregister removes the synthetic tool. Callers invoke this on every exit
// path of the call that registered the controller.
func (c *Controller) Unregister() {
	c.tools.Remove(ToolName)
}

// Completed reports whether the controller reached a successful result.
func (c *Controller) Completed() bool { return c.st == stateCompleted }

// Result returns the captured structured-output result message, if completed.
func (c *Controller) Result() *message.Message { return c.result }

func (c *Controller) onEvent(_ context.Context, ev hook.Event) (hook.Event, error) {
	switch e := ev.(type) {
	case *hook.PreReasoningEvent:
		c.onPreReasoning(e)
	case *hook.PostReasoningEvent:
		c.onPostReasoning(e)
	case *hook.PostActingEvent:
		c.onPostActing(e)
	case *hook.PostCallEvent:
		c.onPostCall(e)
	}
	return ev, nil
}

func (c *Controller) onPreReasoning(e *hook.PreReasoningEvent) {
	if c.mode != ModeToolChoice || len(e.Input) == 0 {
		return
	}
	last := e.Input[len(e.Input)-1]
	if last.Metadata == nil || last.Metadata[metaReminder] != true {
		return
	}
	opts := e.Options.Clone()
	if opts == nil {
		opts = &model.GenerateOptions{}
	}
	opts.ToolChoice = model.ToolChoice{Kind: model.ToolChoiceSpecific, Name: ToolName}
	e.SetOptions(opts)
}

func (c *Controller) onPostReasoning(e *hook.PostReasoningEvent) {
	if c.st != stateAwaiting || e.Reasoning == nil || e.Reasoning.HasToolUses() {
		return
	}
	if c.retries >= MaxRetries {
		c.st = stateFailed
		log.Debug().Int("retries", c.retries).Msg("structured output retries exhausted, falling through to summary")
		return
	}
	c.retries++
	reminder := c.buildReminder()
	e.GotoReasoning(reminder)
}

func (c *Controller) buildReminder() *message.Message {
	text := fmt.Sprintf("You must respond by calling the %s tool with your answer.", ToolName)
	msg := message.NewUserMessage(c.agent, text)
	msg = msg.WithMetadata(metaReminder, true)
	msg = msg.WithMetadata(metaReminderMode, string(c.mode))
	return msg
}

func (c *Controller) onPostActing(e *hook.PostActingEvent) {
	if c.st != stateAwaiting || e.Result == nil {
		return
	}
	for _, tr := range message.GetContentBlocks[message.ToolResult](e.Result) {
		if tr.Name != ToolName {
			continue
		}
		if tr.Metadata[metaSuccess] != true {
			continue
		}
		respMsg, _ := tr.Metadata[metaResponseMsg].(*message.Message)
		if respMsg == nil {
			continue
		}
		c.st = stateCompleted
		c.result = respMsg
		e.StopAgent()
		return
	}
}

func (c *Controller) onPostCall(e *hook.PostCallEvent) {
	if c.st != stateCompleted {
		return
	}
	e.SetFinal(c.compress())
}

// compress implements the memory-compression algorithm: snapshot, clear,
// reinsert every non-structured-output-related message, and append the
// captured response with aggregated assistant-turn usage.
func (c *Controller) compress() *message.Message {
	snapshot := c.mem.GetMessages()
	c.mem.Clear()

	usage := map[string]any{}
	for _, m := range snapshot {
		if c.isStructuredOutputRelated(m) {
			if m.Role == message.RoleAssistant {
				if u, ok := m.Metadata[message.MetaChatUsage]; ok {
					usage[m.ID] = u
				}
			}
			continue
		}
		c.mem.AddMessage(m)
	}

	final := c.result
	if len(usage) > 0 {
		final = final.WithMetadata(message.MetaChatUsage, usage)
	}
	c.mem.AddMessage(final)
	return final
}

func (c *Controller) isStructuredOutputRelated(m *message.Message) bool {
	if m.Metadata != nil && m.Metadata[metaReminder] == true {
		return true
	}
	toolUses := m.ToolUses()
	for _, tu := range toolUses {
		if tu.Name == ToolName {
			return true
		}
	}
	results := message.GetContentBlocks[message.ToolResult](m)
	if len(results) > 0 {
		allGenerate := true
		for _, tr := range results {
			if tr.Name != ToolName {
				allGenerate = false
				break
			}
		}
		if allGenerate {
			return true
		}
	}
	return false
}

// generateResponseTool is the synthetic tool registered for the duration
// of one structured-output call.
type generateResponseTool struct{ schema Schema }

func (t *generateResponseTool) Name() string        { return ToolName }
func (t *generateResponseTool) Description() string { return "Submit the final structured response." }
func (t *generateResponseTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"response": t.responseSchema(),
		},
		"required": []string{"response"},
	}
}

func (t *generateResponseTool) responseSchema() map[string]any {
	if t.schema.JSONSchema != nil {
		return t.schema.JSONSchema
	}
	if t.schema.GoType != nil {
		return goTypeSchema(t.schema.GoType)
	}
	return map[string]any{"type": "object"}
}

// goTypeSchema reflects typ into a JSON-schema document, the same way the
// teacher's functiontool package turns a Go type into a tool's parameter
// schema: run invopop/jsonschema's Reflector over a zero value of typ, then
// round-trip through JSON to a plain map so it composes with the
// hand-built JSONSchema branch above.
func goTypeSchema(typ reflect.Type) map[string]any {
	reflector := &schemagen.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(reflect.New(typ).Interface())
	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	delete(m, "$schema")
	delete(m, "$id")
	return m
}

func (t *generateResponseTool) Invoke(_ context.Context, call tool.ToolCall) (*tool.Result, error) {
	response, _ := call.Input["response"].(map[string]any)
	validated, validationErr := t.schema.validate(response)
	if validationErr != "" {
		return &tool.Result{
			Content: fmt.Sprintf("validation failed: %s. Please retry with a corrected response.", validationErr),
			IsError: true,
			Metadata: map[string]any{
				metaSuccess:    false,
				metaValidation: validationErr,
			},
		}, nil
	}
	raw, _ := json.Marshal(validated)
	respMsg := message.NewAssistantMessage("", message.Text{Text: string(raw)})
	respMsg = respMsg.WithMetadata(message.MetaStructuredOutput, validated)
	return &tool.Result{
		Content: "response accepted",
		Metadata: map[string]any{
			metaSuccess:     true,
			metaResponseMsg: respMsg,
		},
	}, nil
}
