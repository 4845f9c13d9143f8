package bot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rsautomocion/tallerbot/internal/models"
	"github.com/rsautomocion/tallerbot/internal/store"
	"github.com/rsautomocion/tallerbot/internal/wizard"
)

const testUser = "+34600111222"

// mockService is an in-memory messaging.Service for gateway tests.
type mockService struct {
	mu       sync.Mutex
	sent     []string
	messages chan models.Message
}

func newMockService() *mockService {
	return &mockService{messages: make(chan models.Message, 10)}
}

func (m *mockService) ValidateAndCanonicalizeRecipient(r string) (string, error) { return r, nil }

func (m *mockService) SendMessage(ctx context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, body)
	return nil
}

func (m *mockService) Start(ctx context.Context) error { return nil }
func (m *mockService) Stop() error                     { return nil }

func (m *mockService) Deliveries() <-chan models.Delivery { return nil }
func (m *mockService) Messages() <-chan models.Message    { return m.messages }

func (m *mockService) sentMessages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	copy(out, m.sent)
	return out
}

func newTestBot(t *testing.T) (*Bot, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	registry := wizard.NewRegistry(wizard.BuiltinTemplates()...)
	if err := registry.Validate(); err != nil {
		t.Fatalf("registry invalid: %v", err)
	}
	committers := NewCommitters(st, nil, models.Empresa{Nombre: "R&S Automoción S.L.", NIF: "B12345678"}, 40)
	engine := wizard.NewEngine(registry, wizard.NewMemoryStore(wizard.DefaultIdleTimeout), committers.Bindings())
	if err := engine.ValidateBindings(); err != nil {
		t.Fatalf("bindings invalid: %v", err)
	}
	return New(newMockService(), engine, st), st
}

func say(t *testing.T, b *Bot, body string) string {
	t.Helper()
	return b.HandleMessage(context.Background(), testUser, body)
}

func TestStartShowsMenu(t *testing.T) {
	b, _ := newTestBot(t)
	reply := say(t, b, "/start")
	if !strings.Contains(reply, "Menú Principal") {
		t.Errorf("reply = %q, want main menu", reply)
	}
}

func TestUnknownTextShowsFallback(t *testing.T) {
	b, _ := newTestBot(t)
	if reply := say(t, b, "hola qué tal"); reply != fallbackText {
		t.Errorf("reply = %q, want fallback", reply)
	}
}

func TestCrearClienteFullFlow(t *testing.T) {
	b, st := newTestBot(t)

	reply := say(t, b, "1")
	if !strings.Contains(reply, "Paso 1 de 5") {
		t.Fatalf("wizard did not start: %q", reply)
	}

	for _, input := range []string{"Juan", "Pérez García", "12345678Z", "juan@example.com"} {
		reply = say(t, b, input)
	}
	if !strings.Contains(reply, "Paso 5 de 5") {
		t.Fatalf("expected final step prompt, got %q", reply)
	}

	reply = say(t, b, "Calle Mayor 1")
	if !strings.Contains(reply, "Confirmación") {
		t.Fatalf("expected summary, got %q", reply)
	}
	if !strings.Contains(reply, "12345678Z") {
		t.Errorf("summary missing NIF: %q", reply)
	}

	reply = say(t, b, "confirmar")
	if !strings.Contains(reply, "Cliente guardado exitosamente") {
		t.Fatalf("expected success, got %q", reply)
	}

	cliente, err := st.GetClienteByNIF("12345678Z")
	if err != nil {
		t.Fatalf("cliente not persisted: %v", err)
	}
	if cliente.Nombre != "Juan" || cliente.Email != "juan@example.com" {
		t.Errorf("persisted cliente = %+v", cliente)
	}
}

func TestInvalidInputReissuesPrompt(t *testing.T) {
	b, _ := newTestBot(t)
	say(t, b, "1")
	say(t, b, "Juan")
	say(t, b, "Pérez")

	reply := say(t, b, "12345678A") // wrong check letter
	if !strings.Contains(reply, "⚠️") {
		t.Errorf("expected validation warning, got %q", reply)
	}
	if !strings.Contains(reply, "Paso 3 de 5") {
		t.Errorf("cursor advanced on invalid input: %q", reply)
	}
}

func TestDuplicateNIFPreservesSessionForRetry(t *testing.T) {
	b, st := newTestBot(t)
	now := time.Now()
	existing := models.Cliente{
		ClienteID: "c1", Nombre: "Ana", Apellidos: "López", NIF: "12345678Z",
		Email: "ana@example.com", Direccion: "Calle Sol 2", Estado: models.ClienteActivo,
		FechaAlta: now, CreadoEn: now, ActualizadoEn: now,
	}
	if err := st.CreateCliente(existing); err != nil {
		t.Fatalf("seed cliente failed: %v", err)
	}

	say(t, b, "1")
	for _, input := range []string{"Juan", "Pérez", "12345678Z", "juan@example.com", "Calle Mayor 1"} {
		say(t, b, input)
	}

	reply := say(t, b, "confirmar")
	if !strings.Contains(reply, "NIF ya está registrado") {
		t.Fatalf("expected duplicate NIF error, got %q", reply)
	}

	// Session survives: edit the NIF and commit again.
	reply = say(t, b, "editar nif")
	if !strings.Contains(reply, "Paso 3 de 5") {
		t.Fatalf("edit did not reopen the NIF step: %q", reply)
	}
	say(t, b, "87654321X")
	reply = say(t, b, "confirmar")
	if !strings.Contains(reply, "Cliente guardado exitosamente") {
		t.Fatalf("retry after edit failed: %q", reply)
	}
}

func TestCancelarAbortsWizard(t *testing.T) {
	b, st := newTestBot(t)
	say(t, b, "1")
	say(t, b, "Juan")

	reply := say(t, b, "cancelar")
	if !strings.Contains(reply, "Operación cancelada") {
		t.Fatalf("expected cancellation, got %q", reply)
	}
	if _, _, err := st.ListClientes(0, 10); err != nil {
		t.Fatalf("ListClientes failed: %v", err)
	}
	// a fresh wizard can start now
	if reply := say(t, b, "1"); !strings.Contains(reply, "Paso 1 de 5") {
		t.Errorf("wizard did not restart after cancel: %q", reply)
	}
}

func TestConfirmarWithoutSummaryIsRejected(t *testing.T) {
	b, _ := newTestBot(t)
	say(t, b, "1")
	reply := say(t, b, "confirmar")
	if !strings.Contains(reply, "no está disponible") {
		t.Errorf("expected invalid-state warning, got %q", reply)
	}
}

func TestBuscarClienteFlow(t *testing.T) {
	b, st := newTestBot(t)
	now := time.Now()
	if err := st.CreateCliente(models.Cliente{
		ClienteID: "c1", Nombre: "María", Apellidos: "López", NIF: "12345678Z",
		Email: "maria@example.com", Direccion: "Calle Sol 2", Estado: models.ClienteActivo,
		FechaAlta: now, CreadoEn: now, ActualizadoEn: now,
	}); err != nil {
		t.Fatalf("seed cliente failed: %v", err)
	}

	say(t, b, "2")
	say(t, b, "maría")
	reply := say(t, b, "confirmar")
	if !strings.Contains(reply, "Resultados de Búsqueda") || !strings.Contains(reply, "María López") {
		t.Errorf("search results = %q", reply)
	}
}

func TestCrearOTUnknownClienteFails(t *testing.T) {
	b, _ := newTestBot(t)
	say(t, b, "4")
	for _, input := range []string{
		"11111111-2222-3333-4444-555555555555", "1234ABC", "Seat", "León",
		"Cambio de embrague completo", "4",
	} {
		say(t, b, input)
	}
	reply := say(t, b, "confirmar")
	if !strings.Contains(reply, "no existe ningún cliente") {
		t.Errorf("expected unknown cliente error, got %q", reply)
	}
}

func TestDashboardCommand(t *testing.T) {
	b, _ := newTestBot(t)
	reply := say(t, b, "/stats")
	if !strings.Contains(reply, "Dashboard") || !strings.Contains(reply, "OT Completadas") {
		t.Errorf("dashboard reply = %q", reply)
	}
}

func TestListaClientesOption(t *testing.T) {
	b, st := newTestBot(t)
	reply := say(t, b, "3")
	if !strings.Contains(reply, "No hay clientes registrados") {
		t.Errorf("empty list reply = %q", reply)
	}

	now := time.Now()
	if err := st.CreateCliente(models.Cliente{
		ClienteID: "c1", Nombre: "Juan", Apellidos: "Pérez", NIF: "12345678Z",
		Email: "juan@example.com", Direccion: "Calle Mayor 1", Estado: models.ClienteActivo,
		FechaAlta: now, CreadoEn: now, ActualizadoEn: now,
	}); err != nil {
		t.Fatalf("seed cliente failed: %v", err)
	}
	reply = say(t, b, "3")
	if !strings.Contains(reply, "Juan Pérez") {
		t.Errorf("list reply = %q", reply)
	}
}

func TestRunDeliversReplies(t *testing.T) {
	st := store.NewInMemoryStore()
	registry := wizard.NewRegistry(wizard.BuiltinTemplates()...)
	committers := NewCommitters(st, nil, models.Empresa{Nombre: "R&S"}, 40)
	engine := wizard.NewEngine(registry, wizard.NewMemoryStore(wizard.DefaultIdleTimeout), committers.Bindings())
	svc := newMockService()
	b := New(svc, engine, st)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Run(ctx)
	}()

	svc.messages <- models.Message{From: testUser, Body: "/start", Time: time.Now().Unix()}

	deadline := time.After(2 * time.Second)
	for {
		if sent := svc.sentMessages(); len(sent) > 0 {
			if !strings.Contains(sent[0], "Menú Principal") {
				t.Errorf("reply = %q", sent[0])
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("no reply delivered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
}
