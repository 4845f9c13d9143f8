package wizard

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// recordingCommitter captures commit payloads and can be told to fail.
type recordingCommitter struct {
	payloads []map[string]string
	fail     error
	result   *CommitResult
}

func (r *recordingCommitter) Commit(ctx context.Context, intent Intent, payload map[string]string) (*CommitResult, error) {
	r.payloads = append(r.payloads, payload)
	if r.fail != nil {
		return nil, r.fail
	}
	if r.result != nil {
		return r.result, nil
	}
	return &CommitResult{EntityID: "entity-1", Message: "ok"}, nil
}

func newTestEngine(t *testing.T, committer Committer) *Engine {
	t.Helper()
	registry := NewRegistry(BuiltinTemplates()...)
	if err := registry.Validate(); err != nil {
		t.Fatalf("registry validation failed: %v", err)
	}
	committers := make(map[Intent]Committer)
	for _, intent := range registry.Intents() {
		committers[intent] = committer
	}
	eng := NewEngine(registry, NewMemoryStore(0), committers)
	if err := eng.ValidateBindings(); err != nil {
		t.Fatalf("binding validation failed: %v", err)
	}
	return eng
}

// driveToConfirm submits valid inputs for every crear_cliente step.
func driveToConfirm(t *testing.T, eng *Engine, userID string) *Reply {
	t.Helper()
	ctx := context.Background()
	if _, err := eng.Start(ctx, userID, IntentCrearCliente); err != nil {
		t.Fatalf("Start: %v", err)
	}
	inputs := []string{"Juan", "Pérez", "12345678Z", "juan@x.com", "Calle Mayor 1"}
	var reply *Reply
	var err error
	for _, in := range inputs {
		reply, err = eng.HandleInput(ctx, userID, in)
		if err != nil {
			t.Fatalf("HandleInput(%q): %v", in, err)
		}
	}
	return reply
}

func TestStartUnknownIntent(t *testing.T) {
	eng := newTestEngine(t, &recordingCommitter{})
	_, err := eng.Start(context.Background(), "u1", Intent("hacer_cafe"))
	if !errors.Is(err, ErrIntentNotFound) {
		t.Fatalf("expected ErrIntentNotFound, got %v", err)
	}
}

func TestStartWhileActiveFailsAndPreservesSession(t *testing.T) {
	eng := newTestEngine(t, &recordingCommitter{})
	ctx := context.Background()

	if _, err := eng.Start(ctx, "u1", IntentCrearCliente); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := eng.HandleInput(ctx, "u1", "Juan"); err != nil {
		t.Fatalf("HandleInput: %v", err)
	}

	_, err := eng.Start(ctx, "u1", IntentCrearOT)
	if !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}

	// The existing session's collected data must be untouched.
	sess, err := eng.sessions.Get(ctx, "u1")
	if err != nil || sess == nil {
		t.Fatalf("session lookup: %v %v", sess, err)
	}
	if sess.Intent != IntentCrearCliente || sess.Collected["nombre"] != "Juan" {
		t.Errorf("existing session was modified: %+v", sess)
	}
}

func TestHandleInputWithoutSession(t *testing.T) {
	eng := newTestEngine(t, &recordingCommitter{})
	_, err := eng.HandleInput(context.Background(), "nobody", "hola")
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestInvalidInputDoesNotAdvance(t *testing.T) {
	eng := newTestEngine(t, &recordingCommitter{})
	ctx := context.Background()

	first, err := eng.Start(ctx, "u1", IntentCrearCliente)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	reply, err := eng.HandleInput(ctx, "u1", "J")
	if err != nil {
		t.Fatalf("HandleInput: %v", err)
	}
	if reply.Kind != ReplyPrompt {
		t.Fatalf("expected prompt reply, got %s", reply.Kind)
	}
	if reply.Prompt.Field.Key != first.Prompt.Field.Key {
		t.Errorf("cursor advanced on invalid input: now asking %q", reply.Prompt.Field.Key)
	}
	if len(reply.Prompt.Errors) == 0 {
		t.Error("re-issued prompt must carry a non-empty error list")
	}
}

func TestFullFlowReachesConfirmingWithExactKeys(t *testing.T) {
	eng := newTestEngine(t, &recordingCommitter{})
	reply := driveToConfirm(t, eng, "u1")

	if reply.Kind != ReplySummary {
		t.Fatalf("expected summary after last step, got %s", reply.Kind)
	}
	want := map[string]string{
		"nombre":    "Juan",
		"apellidos": "Pérez",
		"nif":       "12345678Z",
		"email":     "juan@x.com",
		"direccion": "Calle Mayor 1",
	}
	if len(reply.Summary.Fields) != len(want) {
		t.Fatalf("summary has %d fields, want %d", len(reply.Summary.Fields), len(want))
	}
	for _, f := range reply.Summary.Fields {
		if want[f.Key] != f.Value {
			t.Errorf("summary field %s = %q, want %q", f.Key, f.Value, want[f.Key])
		}
	}
}

func TestConfirmCommitsAndDestroysSession(t *testing.T) {
	committer := &recordingCommitter{result: &CommitResult{EntityID: "cli-42", Message: "creado"}}
	eng := newTestEngine(t, committer)
	ctx := context.Background()
	driveToConfirm(t, eng, "u1")

	reply, err := eng.HandleAction(ctx, "u1", Action{Kind: ActionConfirm})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if reply.Kind != ReplyResult || reply.Result.EntityID != "cli-42" {
		t.Fatalf("unexpected commit reply: %+v", reply)
	}

	if len(committer.payloads) != 1 {
		t.Fatalf("committer called %d times, want 1", len(committer.payloads))
	}
	payload := committer.payloads[0]
	if len(payload) != 5 {
		t.Errorf("payload has %d keys, want exactly 5: %v", len(payload), payload)
	}
	if payload["nif"] != "12345678Z" || payload["email"] != "juan@x.com" {
		t.Errorf("payload values wrong: %v", payload)
	}

	sess, err := eng.sessions.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("session lookup: %v", err)
	}
	if sess != nil {
		t.Error("session must be destroyed after successful commit")
	}
}

func TestConfirmBeforeConfirmingIsInvalidState(t *testing.T) {
	eng := newTestEngine(t, &recordingCommitter{})
	ctx := context.Background()
	if _, err := eng.Start(ctx, "u1", IntentCrearCliente); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, err := eng.HandleAction(ctx, "u1", Action{Kind: ActionConfirm})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestCommitFailurePreservesSessionAndAllowsRetry(t *testing.T) {
	committer := &recordingCommitter{fail: fmt.Errorf("duplicate key")}
	eng := newTestEngine(t, committer)
	ctx := context.Background()
	driveToConfirm(t, eng, "u1")

	_, err := eng.HandleAction(ctx, "u1", Action{Kind: ActionConfirm})
	var commitErr *CommitError
	if !errors.As(err, &commitErr) {
		t.Fatalf("expected CommitError, got %v", err)
	}

	sess, err := eng.sessions.Get(ctx, "u1")
	if err != nil || sess == nil {
		t.Fatalf("session must survive commit failure, got %v %v", sess, err)
	}
	tmpl, _ := eng.registry.Get(sess.Intent)
	if !sess.Confirming(tmpl) {
		t.Error("session must still be confirming after commit failure")
	}

	// A second confirm is accepted and retried.
	committer.fail = nil
	reply, err := eng.HandleAction(ctx, "u1", Action{Kind: ActionConfirm})
	if err != nil {
		t.Fatalf("retry confirm: %v", err)
	}
	if reply.Kind != ReplyResult {
		t.Fatalf("expected result on retry, got %s", reply.Kind)
	}
	if len(committer.payloads) != 2 {
		t.Errorf("committer called %d times, want 2", len(committer.payloads))
	}
}

func TestEditReturnsDirectlyToConfirming(t *testing.T) {
	eng := newTestEngine(t, &recordingCommitter{})
	ctx := context.Background()
	driveToConfirm(t, eng, "u1")

	reply, err := eng.HandleAction(ctx, "u1", Action{Kind: ActionEdit, Field: "email"})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if reply.Kind != ReplyPrompt || reply.Prompt.Field.Key != "email" {
		t.Fatalf("expected email prompt, got %+v", reply)
	}
	if reply.Prompt.Current != "juan@x.com" {
		t.Errorf("edit prompt must be pre-filled with current value, got %q", reply.Prompt.Current)
	}

	reply, err = eng.HandleInput(ctx, "u1", "nuevo@x.com")
	if err != nil {
		t.Fatalf("resubmission: %v", err)
	}
	if reply.Kind != ReplySummary {
		t.Fatalf("expected direct return to summary, got %s", reply.Kind)
	}
	for _, f := range reply.Summary.Fields {
		switch f.Key {
		case "email":
			if f.Value != "nuevo@x.com" {
				t.Errorf("email not updated: %q", f.Value)
			}
		case "nombre":
			if f.Value != "Juan" {
				t.Errorf("unrelated field changed: %q", f.Value)
			}
		}
	}
}

func TestEditMidFlowIsInvalidState(t *testing.T) {
	eng := newTestEngine(t, &recordingCommitter{})
	ctx := context.Background()
	if _, err := eng.Start(ctx, "u1", IntentCrearCliente); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, err := eng.HandleAction(ctx, "u1", Action{Kind: ActionEdit, Field: "nombre"})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestEditUnknownFieldIsInvalidState(t *testing.T) {
	eng := newTestEngine(t, &recordingCommitter{})
	driveToConfirm(t, eng, "u1")
	_, err := eng.HandleAction(context.Background(), "u1", Action{Kind: ActionEdit, Field: "color_favorito"})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	eng := newTestEngine(t, &recordingCommitter{})
	ctx := context.Background()
	if _, err := eng.Start(ctx, "u1", IntentCrearCliente); err != nil {
		t.Fatalf("Start: %v", err)
	}

	reply, err := eng.HandleAction(ctx, "u1", Action{Kind: ActionCancel})
	if err != nil || reply.Kind != ReplyCancelled {
		t.Fatalf("cancel: %v %v", reply, err)
	}
	if sess, _ := eng.sessions.Get(ctx, "u1"); sess != nil {
		t.Fatal("session must be gone after cancel")
	}

	// Cancelling again with no active session is a no-op, not an error.
	reply, err = eng.HandleAction(ctx, "u1", Action{Kind: ActionCancel})
	if err != nil || reply.Kind != ReplyCancelled {
		t.Fatalf("repeated cancel: %v %v", reply, err)
	}

	// And a fresh start is possible afterwards.
	if _, err := eng.Start(ctx, "u1", IntentCrearOT); err != nil {
		t.Fatalf("restart after cancel: %v", err)
	}
}

func TestOptionalFieldSkip(t *testing.T) {
	eng := newTestEngine(t, &recordingCommitter{})
	ctx := context.Background()
	if _, err := eng.Start(ctx, "u1", IntentGenerarFactura); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := eng.HandleInput(ctx, "u1", "3F2504E0-4F89-11D3-9A0C-0305E82C3301"); err != nil {
		t.Fatalf("ot_id: %v", err)
	}
	reply, err := eng.HandleInput(ctx, "u1", "-")
	if err != nil {
		t.Fatalf("skip tasa_iva: %v", err)
	}
	if reply.Kind != ReplyPrompt || reply.Prompt.Field.Key != "observaciones" {
		t.Fatalf("expected observaciones prompt after skip, got %+v", reply)
	}
	reply, err = eng.HandleInput(ctx, "u1", "-")
	if err != nil {
		t.Fatalf("skip observaciones: %v", err)
	}
	if reply.Kind != ReplySummary {
		t.Fatalf("expected summary, got %s", reply.Kind)
	}
}

func TestTextWhileConfirmingReShowsSummary(t *testing.T) {
	eng := newTestEngine(t, &recordingCommitter{})
	driveToConfirm(t, eng, "u1")
	reply, err := eng.HandleInput(context.Background(), "u1", "¿hola?")
	if err != nil {
		t.Fatalf("HandleInput: %v", err)
	}
	if reply.Kind != ReplySummary {
		t.Fatalf("expected summary re-issue, got %s", reply.Kind)
	}
}

func TestAllTemplatesCompleteInOrder(t *testing.T) {
	samples := map[string]string{
		"nombre": "Ana", "apellidos": "García", "nif": "12345678Z",
		"email": "ana@taller.es", "direccion": "Calle Mayor 1",
		"cliente_id": "3F2504E0-4F89-11D3-9A0C-0305E82C3301",
		"matricula":  "1234ABC", "marca": "Seat", "modelo": "Ibiza",
		"descripcion": "cambio de aceite y filtros", "horas": "2.5",
		"ot_id": "3F2504E0-4F89-11D3-9A0C-0305E82C3301", "tasa_iva": "21",
		"observaciones": "pago a 30 días",
		"factura_id":    "3F2504E0-4F89-11D3-9A0C-0305E82C3301",
		"monto":         "120.50", "metodo": "tarjeta", "referencia": "TRF-001",
		"query": "García",
	}

	for _, tmpl := range BuiltinTemplates() {
		eng := newTestEngine(t, &recordingCommitter{})
		ctx := context.Background()
		userID := "user-" + string(tmpl.Intent)
		if _, err := eng.Start(ctx, userID, tmpl.Intent); err != nil {
			t.Fatalf("%s: Start: %v", tmpl.Intent, err)
		}
		var reply *Reply
		var err error
		for _, step := range tmpl.Steps {
			in, ok := samples[step.Key]
			if !ok {
				t.Fatalf("%s: no sample input for %s", tmpl.Intent, step.Key)
			}
			reply, err = eng.HandleInput(ctx, userID, in)
			if err != nil {
				t.Fatalf("%s: step %s: %v", tmpl.Intent, step.Key, err)
			}
		}
		if reply.Kind != ReplySummary {
			t.Fatalf("%s: expected summary at end, got %s", tmpl.Intent, reply.Kind)
		}
		if len(reply.Summary.Fields) != len(tmpl.Steps) {
			t.Errorf("%s: summary has %d fields, want %d", tmpl.Intent, len(reply.Summary.Fields), len(tmpl.Steps))
		}
	}
}
