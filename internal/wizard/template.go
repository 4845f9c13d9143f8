// Package wizard implements the multi-step guided-input engine that drives
// all data entry through the chat interface.
//
// A Template describes one guided flow as an ordered list of fields. The
// Engine walks a per-user Session through those fields, validating each input,
// and hands the collected payload to the Committer bound to the intent once
// the user confirms.
package wizard

import (
	"fmt"

	"github.com/rsautomocion/tallerbot/internal/validate"
)

// Intent identifies one guided flow.
type Intent string

const (
	IntentCrearCliente  Intent = "crear_cliente"
	IntentCrearOT       Intent = "crear_ot"
	IntentGenerarFactura Intent = "generar_factura"
	IntentRegistrarPago Intent = "registrar_pago"
	IntentBuscarCliente Intent = "buscar_cliente"
)

// FieldSpec describes one field collected by a wizard step.
type FieldSpec struct {
	// Key is the payload key the validated value is stored under.
	Key string
	// Label is the short name shown in the confirmation summary.
	Label string
	// Prompt is the question asked when the step is reached.
	Prompt string
	// Kind selects the validator applied to the input.
	Kind validate.Kind
	// Optional fields may be skipped by answering "-".
	Optional bool
}

// Template is the static description of one guided flow. Step order defines
// the only legal forward path.
type Template struct {
	Intent Intent
	Title  string
	Steps  []FieldSpec
}

// StepIndex returns the index of the step with the given key, or -1.
func (t Template) StepIndex(key string) int {
	for i, s := range t.Steps {
		if s.Key == key {
			return i
		}
	}
	return -1
}

// Registry maps intents to their templates. It is built once at startup and
// read-only thereafter.
type Registry struct {
	templates map[Intent]Template
	order     []Intent
}

// NewRegistry builds a registry from the given templates, preserving order.
func NewRegistry(templates ...Template) *Registry {
	r := &Registry{templates: make(map[Intent]Template, len(templates))}
	for _, t := range templates {
		if _, exists := r.templates[t.Intent]; !exists {
			r.order = append(r.order, t.Intent)
		}
		r.templates[t.Intent] = t
	}
	return r
}

// Get retrieves the template registered for an intent.
func (r *Registry) Get(intent Intent) (Template, bool) {
	t, ok := r.templates[intent]
	return t, ok
}

// Intents returns the registered intents in registration order.
func (r *Registry) Intents() []Intent {
	out := make([]Intent, len(r.order))
	copy(out, r.order)
	return out
}

// Validate checks every template for structural errors: empty step lists,
// duplicate field keys, and unknown validator kinds. It is meant to run at
// startup; a failure here is a programming error and should be fatal.
func (r *Registry) Validate() error {
	if len(r.templates) == 0 {
		return fmt.Errorf("registry has no templates")
	}
	for intent, t := range r.templates {
		if len(t.Steps) == 0 {
			return fmt.Errorf("template %s has no steps", intent)
		}
		seen := make(map[string]bool, len(t.Steps))
		for _, s := range t.Steps {
			if s.Key == "" {
				return fmt.Errorf("template %s has a step with an empty key", intent)
			}
			if seen[s.Key] {
				return fmt.Errorf("template %s has duplicate field key %q", intent, s.Key)
			}
			seen[s.Key] = true
			if !validate.KnownKind(s.Kind) {
				return fmt.Errorf("template %s field %q uses unknown kind %q", intent, s.Key, s.Kind)
			}
		}
	}
	return nil
}
