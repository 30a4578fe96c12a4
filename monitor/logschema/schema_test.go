package logschema

import "testing"

func TestValidate(t *testing.T) {
	err := Validate("flow_transition", map[string]interface{}{
		"flow": "manual_order",
		"from": "DRAFTING",
		"to":   "PRICE_CONFIRMATION",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = Validate("action_error", map[string]interface{}{
		"flow": "auto_strategy",
	})
	if err == nil {
		t.Fatalf("expected error for missing fields")
	}
	if err := Validate("unregistered", nil); err != nil {
		t.Fatalf("unknown events should pass, got %v", err)
	}
}

func TestKnownEvents(t *testing.T) {
	names := Known()
	if len(names) == 0 {
		t.Fatalf("expected non-empty schema list")
	}
	found := false
	for _, n := range names {
		if n == "remote_call" {
			found = true
		}
	}
	if !found {
		t.Fatalf("remote_call not found in schemas")
	}
}
