package schema

import (
	"encoding/json"
	"strings"
	"testing"
)

type testDoc struct {
	Name  string   `json:"name" required:"true"`
	Count int      `json:"count,omitempty"`
	Tags  []string `json:"tags,omitempty"`
	_     struct{} `additionalProperties:"false"`
}

func TestGenerateJSON(t *testing.T) {
	out, err := GenerateJSON(testDoc{})
	if err != nil {
		t.Fatalf("GenerateJSON failed: %v", err)
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("generated schema is not valid JSON: %v", err)
	}
	if parsed["type"] != "object" {
		t.Errorf("type = %v, want object", parsed["type"])
	}
	if parsed["additionalProperties"] != false {
		t.Errorf("additionalProperties = %v, want false", parsed["additionalProperties"])
	}

	props, ok := parsed["properties"].(map[string]any)
	if !ok {
		t.Fatalf("properties is %T, want object", parsed["properties"])
	}
	for _, field := range []string{"name", "count", "tags"} {
		if _, exists := props[field]; !exists {
			t.Errorf("schema missing property %q", field)
		}
	}
}

func TestRegisterAndValidate(t *testing.T) {
	Register("testdoc", testDoc{})

	if err := Validate("testdoc", []byte(`{"name": "x", "count": 3, "tags": ["a"]}`)); err != nil {
		t.Errorf("valid document rejected: %v", err)
	}
	if err := Validate("testdoc", []byte(`{"name": "x", "count": "three"}`)); err == nil {
		t.Error("mistyped field accepted")
	}
	if err := Validate("testdoc", []byte(`{"name": "x", "typo_field": 1}`)); err == nil {
		t.Error("unknown field accepted despite additionalProperties=false")
	}
}

func TestValidateUnknownLabel(t *testing.T) {
	err := Validate("no-such-label", []byte(`{}`))
	if err == nil || !strings.Contains(err.Error(), "unknown schema label") {
		t.Errorf("error = %v, want unknown label", err)
	}
}

func TestGetIsStable(t *testing.T) {
	Register("stable-doc", testDoc{})
	first, err := Get("stable-doc")
	if err != nil {
		t.Fatal(err)
	}
	second, err := Get("stable-doc")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("repeated Get returned different schemas")
	}
}

func TestLabelsIncludesRegistered(t *testing.T) {
	Register("labels-doc", testDoc{})
	found := false
	for _, l := range Labels() {
		if l == "labels-doc" {
			found = true
		}
	}
	if !found {
		t.Errorf("Labels() = %v, missing labels-doc", Labels())
	}
}
