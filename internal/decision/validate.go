package decision

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

const decisionSchemaJSON = `{
  "type": "object",
  "required": ["action"],
  "properties": {
    "instrument": {"type": "string"},
    "action": {"enum": ["buy", "sell", "hold", "close"]},
    "quantity": {"type": "number", "minimum": 0},
    "price": {"type": "number", "minimum": 0},
    "stop_loss": {"type": "number", "minimum": 0},
    "take_profit": {"type": "number", "minimum": 0},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "reasoning": {"type": "string"}
  }
}`

var decisionSchema = jsonschema.MustCompileString("decision.json", decisionSchemaJSON)

// ParseDecision validates a raw engine payload and converts it into a
// Decision. This is the single choke point for loosely-typed engine output.
func ParseDecision(raw string) (Decision, error) {
	var d Decision
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return d, fmt.Errorf("decision payload is empty")
	}
	if !gjson.Valid(raw) {
		return d, fmt.Errorf("decision payload is not valid json")
	}
	parsed := gjson.Parse(raw)
	if !parsed.IsObject() {
		return d, fmt.Errorf("decision payload must be a json object")
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return d, fmt.Errorf("decision payload decode failed: %w", err)
	}
	// The engine is allowed to shout ("BUY"); normalize before the schema
	// checks the enum.
	if obj, ok := doc.(map[string]any); ok {
		if action, ok := obj["action"].(string); ok {
			obj["action"] = strings.ToLower(strings.TrimSpace(action))
		}
	}
	if err := decisionSchema.Validate(doc); err != nil {
		return d, fmt.Errorf("decision payload schema violation: %w", err)
	}

	d = Decision{
		Instrument: strings.TrimSpace(parsed.Get("instrument").String()),
		Action:     Action(strings.ToLower(strings.TrimSpace(parsed.Get("action").String()))),
		Quantity:   parsed.Get("quantity").Float(),
		Price:      parsed.Get("price").Float(),
		StopLoss:   parsed.Get("stop_loss").Float(),
		TakeProfit: parsed.Get("take_profit").Float(),
		Confidence: parsed.Get("confidence").Float(),
		Reasoning:  strings.TrimSpace(parsed.Get("reasoning").String()),
	}
	return d, Validate(d)
}

// Validate checks the per-variant field requirements of a decision.
func Validate(d Decision) error {
	if !d.Action.Valid() {
		return fmt.Errorf("unknown action %q", d.Action)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence %.3f out of range [0,1]", d.Confidence)
	}
	switch d.Action {
	case ActionBuy, ActionSell:
		if d.Quantity <= 0 {
			return fmt.Errorf("%s decision requires quantity > 0", d.Action)
		}
		if d.Price <= 0 {
			return fmt.Errorf("%s decision requires price > 0", d.Action)
		}
	case ActionClose:
		if d.Price <= 0 {
			return fmt.Errorf("close decision requires price > 0")
		}
	}
	if d.StopLoss < 0 || d.TakeProfit < 0 {
		return fmt.Errorf("stop levels must be non-negative")
	}
	return nil
}
