package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// eventSchemaJSON is the JSON Schema applied to disruption events at intake.
// Embedded as a constant to avoid filesystem dependencies.
const eventSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://chainsight.dev/schemas/disruption-event.json",
  "type": "object",
  "required": ["category", "payload"],
  "properties": {
    "id": { "type": "string" },
    "category": {
      "type": "string",
      "enum": ["supplier_failure", "logistics_delay", "quality_recall", "price_spike", "geopolitical"]
    },
    "payload": {
      "type": "object",
      "properties": {
        "supplier_id": { "type": "string" },
        "region": { "type": "string" },
        "description": { "type": "string" },
        "duration_days": { "type": "integer", "minimum": 0 }
      }
    },
    "received_at": { "type": "string" }
  },
  "additionalProperties": false
}`

// planSchemaJSON is the JSON Schema applied to drafted response plans before
// their delta is merged. The planner is an external generator; its output is
// never trusted structurally.
const planSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://chainsight.dev/schemas/response-plan.json",
  "type": "object",
  "required": ["id", "summary", "actions"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "summary": { "type": "string", "minLength": 1 },
    "contingency_only": { "type": "boolean" },
    "escalate": { "type": "boolean" },
    "iteration": { "type": "integer", "minimum": 0 },
    "actions": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["priority", "action"],
        "properties": {
          "priority": { "type": "integer", "minimum": 1 },
          "action": { "type": "string", "minLength": 1 },
          "timeline": { "type": "string" },
          "owner": { "type": "string" }
        },
        "additionalProperties": false
      }
    },
    "notifications": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["channel", "message", "recipients"],
        "properties": {
          "channel": { "type": "string", "enum": ["slack", "email", "both"] },
          "message": { "type": "string", "minLength": 1 },
          "recipients": { "type": "array", "minItems": 1, "items": { "type": "string" } }
        },
        "additionalProperties": false
      }
    },
    "order_changes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["po_id", "new_supplier"],
        "properties": {
          "po_id": { "type": "string", "minLength": 1 },
          "new_supplier": { "type": "string", "minLength": 1 },
          "terms": {
            "type": "object",
            "properties": {
              "unit_price": { "type": "number", "minimum": 0 },
              "lead_time_days": { "type": "integer", "minimum": 0 },
              "quantity": { "type": "integer", "minimum": 0 }
            },
            "additionalProperties": false
          }
        },
        "additionalProperties": false
      }
    },
    "generated_at": { "type": "string" }
  },
  "additionalProperties": false
}`

// Validator validates intake events and plan artifacts against their JSON
// Schemas. Safe for concurrent use; schemas are compiled once at construction.
type Validator struct {
	eventSchema *jsonschema.Schema
	planSchema  *jsonschema.Schema
}

// NewValidator compiles the embedded schemas.
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	eventSchema, err := compileResource(c, "https://chainsight.dev/schemas/disruption-event.json", eventSchemaJSON)
	if err != nil {
		return nil, err
	}
	planSchema, err := compileResource(c, "https://chainsight.dev/schemas/response-plan.json", planSchemaJSON)
	if err != nil {
		return nil, err
	}

	return &Validator{eventSchema: eventSchema, planSchema: planSchema}, nil
}

// ValidateEvent validates a serialized disruption event at intake.
func (v *Validator) ValidateEvent(doc any) error {
	jv, err := toJSONValue(doc)
	if err != nil {
		return NewError(ErrCodeValidation, "failed to serialize event").WithCause(err)
	}
	if err := v.eventSchema.Validate(jv); err != nil {
		return toResponderError(err, ErrCodeValidation)
	}
	return nil
}

// ValidatePlan validates a drafted plan artifact. A violation is a malformed
// delta: the generator produced data the state schema cannot accept.
func (v *Validator) ValidatePlan(doc any) error {
	jv, err := toJSONValue(doc)
	if err != nil {
		return NewError(ErrCodeMalformedDelta, "failed to serialize plan").WithCause(err)
	}
	if err := v.planSchema.Validate(jv); err != nil {
		return toResponderError(err, ErrCodeMalformedDelta)
	}
	return nil
}

func compileResource(c *jsonschema.Compiler, url, schemaJSON string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema %s: %w", url, err)
	}
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", url, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", url, err)
	}
	return compiled, nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toResponderError converts a jsonschema.ValidationError into a
// ResponderError with the leaf violations collected for reporting.
func toResponderError(err error, code string) *ResponderError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return NewError(code, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return NewError(code, verr.Error())
	}

	msg := violations[0]
	if len(violations) > 1 {
		msg = fmt.Sprintf("validation failed with %d errors", len(violations))
	}
	return NewError(code, msg).WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
