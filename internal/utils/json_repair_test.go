package utils

import (
	"encoding/json"
	"testing"
)

func TestExtractJSON_BareObject(t *testing.T) {
	got, ok := ExtractJSON(`{"category":"WORK"}`)
	if !ok {
		t.Fatal("ExtractJSON found no object")
	}
	if got != `{"category":"WORK"}` {
		t.Errorf("ExtractJSON = %s", got)
	}
}

func TestExtractJSON_ProseAndFences(t *testing.T) {
	input := "Sure! Here's the classification:\n```json\n{\"category\":\"SPAM\"}\n```\nHope that helps."
	got, ok := ExtractJSON(input)
	if !ok {
		t.Fatal("ExtractJSON found no object")
	}
	if got != `{"category":"SPAM"}` {
		t.Errorf("ExtractJSON = %s", got)
	}
}

func TestExtractJSON_NoBraces(t *testing.T) {
	if _, ok := ExtractJSON("no json here"); ok {
		t.Error("ExtractJSON reported an object in brace-free input")
	}
}

func TestExtractJSON_TruncatedObject(t *testing.T) {
	got, ok := ExtractJSON(`prefix {"category":"WORK","confidence":0.8`)
	if !ok {
		t.Fatal("ExtractJSON found no object")
	}
	if got != `{"category":"WORK","confidence":0.8` {
		t.Errorf("ExtractJSON = %s", got)
	}
}

func TestRepairJSON_ValidUnchanged(t *testing.T) {
	input := `{"category": "WORK", "confidence": 0.9}`
	if got := RepairJSON(input); got != input {
		t.Errorf("RepairJSON changed valid input: %s", got)
	}
}

func TestRepairJSON_Idempotent(t *testing.T) {
	input := `{'category': 'WORK', "valid": True,}`
	once := RepairJSON(input)
	twice := RepairJSON(once)
	if once != twice {
		t.Errorf("RepairJSON not idempotent: %q vs %q", once, twice)
	}
}

func TestRepairJSON_MissingBraces(t *testing.T) {
	got := RepairJSON(`{"category": "WORK", "nested": {"a": 1}`)
	if !json.Valid([]byte(got)) {
		t.Errorf("RepairJSON output invalid: %s", got)
	}
}

func TestRepairJSON_UnterminatedString(t *testing.T) {
	got := RepairJSON(`{"category": "WORK", "reasoning": "cut off mid sent`)
	if !json.Valid([]byte(got)) {
		t.Errorf("RepairJSON output invalid: %s", got)
	}
}

func TestRepairJSON_BareKeys(t *testing.T) {
	got := RepairJSON(`{category: "WORK", confidence: 0.8}`)
	var parsed struct {
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(got), &parsed); err != nil {
		t.Fatalf("repaired JSON does not parse: %v (%s)", err, got)
	}
	if parsed.Category != "WORK" || parsed.Confidence != 0.8 {
		t.Errorf("parsed = %+v", parsed)
	}
}

func TestRepairJSON_PythonLiterals(t *testing.T) {
	got := RepairJSON(`{"spam": True, "fraud": False, "score": None,}`)
	var parsed struct {
		Spam  bool     `json:"spam"`
		Fraud bool     `json:"fraud"`
		Score *float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(got), &parsed); err != nil {
		t.Fatalf("repaired JSON does not parse: %v (%s)", err, got)
	}
	if !parsed.Spam || parsed.Fraud || parsed.Score != nil {
		t.Errorf("parsed = %+v", parsed)
	}
}

func TestRepairJSON_SingleQuotes(t *testing.T) {
	got := RepairJSON(`{'category': 'SPAM'}`)
	var parsed struct {
		Category string `json:"category"`
	}
	if err := json.Unmarshal([]byte(got), &parsed); err != nil {
		t.Fatalf("repaired JSON does not parse: %v (%s)", err, got)
	}
	if parsed.Category != "SPAM" {
		t.Errorf("category = %q", parsed.Category)
	}
}
