package wizard

import (
	"testing"

	"github.com/rsautomocion/tallerbot/internal/validate"
)

func TestBuiltinTemplatesValidate(t *testing.T) {
	registry := NewRegistry(BuiltinTemplates()...)
	if err := registry.Validate(); err != nil {
		t.Fatalf("builtin templates must validate: %v", err)
	}
	if len(registry.Intents()) != 5 {
		t.Errorf("expected 5 builtin intents, got %d", len(registry.Intents()))
	}
}

func TestRegistryValidateRejectsBadTemplates(t *testing.T) {
	cases := []struct {
		name string
		tmpl Template
	}{
		{"empty steps", Template{Intent: "x", Title: "X"}},
		{"duplicate keys", Template{Intent: "x", Steps: []FieldSpec{
			{Key: "a", Kind: validate.KindNombre},
			{Key: "a", Kind: validate.KindNombre},
		}}},
		{"empty key", Template{Intent: "x", Steps: []FieldSpec{
			{Key: "", Kind: validate.KindNombre},
		}}},
		{"unknown kind", Template{Intent: "x", Steps: []FieldSpec{
			{Key: "a", Kind: validate.Kind("bogus")},
		}}},
	}
	for _, c := range cases {
		if err := NewRegistry(c.tmpl).Validate(); err == nil {
			t.Errorf("%s: expected validation error", c.name)
		}
	}
}

func TestStepIndex(t *testing.T) {
	tmpl := BuiltinTemplates()[0]
	if idx := tmpl.StepIndex("nif"); idx != 2 {
		t.Errorf("StepIndex(nif) = %d, want 2", idx)
	}
	if idx := tmpl.StepIndex("no_such"); idx != -1 {
		t.Errorf("StepIndex(no_such) = %d, want -1", idx)
	}
}
