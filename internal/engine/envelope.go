package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ModelIntent is the intent vocabulary of the model envelope.
type ModelIntent string

const (
	ModelCreate     ModelIntent = "CREATE"
	ModelList       ModelIntent = "LIST"
	ModelComplete   ModelIntent = "COMPLETE"
	ModelUncomplete ModelIntent = "UNCOMPLETE"
	ModelUpdate     ModelIntent = "UPDATE"
	ModelDelete     ModelIntent = "DELETE"
	ModelClarify    ModelIntent = "CLARIFY"
	ModelError      ModelIntent = "ERROR"
	ModelInfo       ModelIntent = "INFO"
)

// Informational reports whether the intent carries no store action.
func (i ModelIntent) Informational() bool {
	return i == ModelClarify || i == ModelError || i == ModelInfo
}

const (
	ActionAPICall = "api_call"
	ActionNone    = "none"
)

type Action struct {
	Type     string         `json:"type"`
	Endpoint string         `json:"endpoint,omitempty"`
	Method   string         `json:"method,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// Title returns payload.title, or "".
func (a Action) Title() string {
	if t, ok := a.Payload["title"].(string); ok {
		return strings.TrimSpace(t)
	}
	return ""
}

type EnvelopeData struct {
	TaskID        string `json:"task_id,omitempty"`
	Filter        string `json:"filter,omitempty"`
	PendingAction string `json:"pending_action,omitempty"`
}

// Envelope is the structured answer the model is instructed to give.
type Envelope struct {
	Intent  ModelIntent  `json:"intent"`
	Message string       `json:"message"`
	Action  Action       `json:"action"`
	Data    EnvelopeData `json:"data"`
}

// Executable reports whether the envelope asks for a store operation.
func (e Envelope) Executable() bool {
	return !e.Intent.Informational() && e.Action.Type == ActionAPICall
}

const envelopeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["intent", "message"],
  "properties": {
    "intent": {"enum": ["CREATE", "LIST", "COMPLETE", "UNCOMPLETE", "UPDATE", "DELETE", "CLARIFY", "ERROR", "INFO"]},
    "message": {"type": "string"},
    "action": {
      "type": ["object", "null"],
      "properties": {
        "type": {"enum": ["api_call", "none"]},
        "endpoint": {"type": ["string", "null"]},
        "method": {"type": ["string", "null"]},
        "payload": {"type": ["object", "null"]}
      }
    },
    "data": {
      "type": ["object", "null"],
      "properties": {
        "task_id": {"type": ["string", "null"]},
        "filter": {"enum": ["all", "completed", "incomplete", null]},
        "pending_action": {"type": ["string", "null"]}
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func envelopeValidator() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(envelopeSchema))
		if err != nil {
			schemaErr = fmt.Errorf("unmarshal schema JSON: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("envelope.json", doc); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile("envelope.json")
	})
	return compiledSchema, schemaErr
}

// DecodeEnvelope extracts the JSON object from model text, validates it
// against the envelope schema and decodes it. Anything short of a valid
// envelope is a *ParseError; no partial result is returned.
func DecodeEnvelope(text string) (Envelope, error) {
	schema, err := envelopeValidator()
	if err != nil {
		return Envelope{}, err
	}

	jsonStr := extractJSON(text)
	if jsonStr == "" {
		return Envelope{}, &ParseError{Reason: "response does not contain a JSON object", Raw: text}
	}

	// jsonschema.UnmarshalJSON keeps numbers as json.Number, which the
	// validator requires.
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(jsonStr))
	if err != nil {
		return Envelope{}, &ParseError{Reason: fmt.Sprintf("invalid JSON: %s", err), Raw: text}
	}
	if err := schema.Validate(doc); err != nil {
		return Envelope{}, &ParseError{Reason: fmt.Sprintf("schema validation failed: %s", err), Raw: text}
	}

	var env Envelope
	if err := json.Unmarshal([]byte(jsonStr), &env); err != nil {
		return Envelope{}, &ParseError{Reason: fmt.Sprintf("decode envelope: %s", err), Raw: text}
	}
	if env.Action.Type == "" {
		env.Action.Type = ActionNone
	}
	env.Message = strings.TrimSpace(env.Message)
	return env, nil
}

// extractJSON finds a JSON object in the response text.
func extractJSON(text string) string {
	// Fenced block: ```json ... ```
	if idx := strings.Index(text, "```json"); idx >= 0 {
		start := idx + len("```json")
		if start < len(text) && text[start] == '\n' {
			start++
		}
		if end := strings.Index(text[start:], "```"); end >= 0 {
			candidate := strings.TrimSpace(text[start : start+end])
			if isJSONObject(candidate) {
				return candidate
			}
		}
	}

	// Generic fenced block.
	if idx := strings.Index(text, "```\n"); idx >= 0 {
		start := idx + 4
		if end := strings.Index(text[start:], "```"); end >= 0 {
			candidate := strings.TrimSpace(text[start : start+end])
			if isJSONObject(candidate) {
				return candidate
			}
		}
	}

	// Raw JSON: first balanced object that parses.
	for i := 0; i < len(text); i++ {
		if text[i] == '{' {
			candidate := extractBalanced(text[i:])
			if candidate != "" && isJSONObject(candidate) {
				return candidate
			}
		}
	}
	return ""
}

func isJSONObject(s string) bool {
	var v map[string]any
	return json.Unmarshal([]byte(s), &v) == nil
}

// extractBalanced returns the object starting at s[0] up to its matching
// close brace, honoring string literals and escapes.
func extractBalanced(s string) string {
	if len(s) == 0 || s[0] != '{' {
		return ""
	}

	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch ch {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}
