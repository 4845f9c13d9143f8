package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rsautomocion/tallerbot/internal/models"
	"github.com/rsautomocion/tallerbot/internal/store"
)

func newTestServer(t *testing.T, opts ...Option) (*Server, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	return NewServer(st, opts...), st
}

func seedCliente(t *testing.T, st *store.InMemoryStore) models.Cliente {
	t.Helper()
	now := time.Now()
	c := models.Cliente{
		ClienteID: "11111111-1111-1111-1111-111111111111",
		Nombre:    "Juan", Apellidos: "Pérez", NIF: "12345678Z",
		Email: "juan@example.com", Direccion: "Calle Mayor 1",
		Estado: models.ClienteActivo, FechaAlta: now, CreadoEn: now, ActualizadoEn: now,
	}
	if err := st.CreateCliente(c); err != nil {
		t.Fatalf("seed cliente failed: %v", err)
	}
	return c
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if resp := decodeResponse(t, rec); resp.Status != "ok" {
		t.Errorf("response status = %q", resp.Status)
	}
}

func TestGetClienteNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/v1/clientes/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGetCliente(t *testing.T) {
	s, st := newTestServer(t)
	c := seedCliente(t, st)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/clientes/"+c.ClienteID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "12345678Z") {
		t.Errorf("body missing NIF: %s", rec.Body.String())
	}
}

func TestListClientesPagination(t *testing.T) {
	s, st := newTestServer(t)
	seedCliente(t, st)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/clientes?limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("result type = %T", resp.Result)
	}
	if result["total"].(float64) != 1 {
		t.Errorf("total = %v, want 1", result["total"])
	}
	if result["limit"].(float64) != 5 {
		t.Errorf("limit = %v, want 5", result["limit"])
	}
}

func TestSearchClientes(t *testing.T) {
	s, st := newTestServer(t)
	seedCliente(t, st)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/clientes/search?q="+url.QueryEscape("pérez"), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Juan") {
		t.Errorf("search result missing match: %s", rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodGet, "/api/v1/clientes/search", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty query status = %d, want 400", rec.Code)
	}
}

func TestDeactivateCliente(t *testing.T) {
	s, st := newTestServer(t)
	c := seedCliente(t, st)

	rec := doRequest(t, s, http.MethodDelete, "/api/v1/clientes/"+c.ClienteID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got, err := st.GetCliente(c.ClienteID)
	if err != nil {
		t.Fatalf("GetCliente failed: %v", err)
	}
	if got.Estado != models.ClienteInactivo {
		t.Errorf("Estado = %s, want inactivo", got.Estado)
	}
}

func TestUpdateOTEstado(t *testing.T) {
	s, st := newTestServer(t)
	c := seedCliente(t, st)
	ot := models.OrdenTrabajo{
		OTID: "ot1", ClienteID: c.ClienteID, Matricula: "1234ABC",
		Descripcion: "Cambio de aceite", Estado: models.OTPresupuesto,
		FechaCreacion: time.Now(),
	}
	if err := st.CreateOT(ot); err != nil {
		t.Fatalf("seed OT failed: %v", err)
	}

	rec := doRequest(t, s, http.MethodPut, "/api/v1/ots/ot1/estado", `{"estado":"aprobado"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	got, err := st.GetOT("ot1")
	if err != nil {
		t.Fatalf("GetOT failed: %v", err)
	}
	if got.Estado != models.OTAprobado {
		t.Errorf("Estado = %s, want aprobado", got.Estado)
	}

	// Skipping states is rejected with a conflict.
	rec = doRequest(t, s, http.MethodPut, "/api/v1/ots/ot1/estado", `{"estado":"finalizado"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("skip-ahead status = %d, want 409", rec.Code)
	}

	rec = doRequest(t, s, http.MethodPut, "/api/v1/ots/ot1/estado", `{"estado":"volando"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown estado status = %d, want 400", rec.Code)
	}
}

func TestFacturaEndpoints(t *testing.T) {
	s, st := newTestServer(t)
	c := seedCliente(t, st)
	now := time.Now()
	f := models.Factura{
		FacturaID: "f1", ClienteID: c.ClienteID, Numero: "2025-001", Serie: "R&S",
		FechaEmision: now, FechaVencimiento: now.AddDate(0, 0, 30),
		Items:    []models.ItemFactura{{Descripcion: "Mano de obra", Cantidad: 2, PrecioUnitario: 40, Subtotal: 80}},
		Totales:  models.TotalesOT{Subtotal: 80, BaseImponible: 80, IVATotal: 16.8, Total: 96.8},
		TasaIVA:  21,
		Estado:   models.FacturaPendiente,
		CreadoEn: now,
	}
	if err := st.CreateFactura(f); err != nil {
		t.Fatalf("seed factura failed: %v", err)
	}
	if _, err := st.RegistrarPago(models.Pago{
		PagoID: "p1", FacturaID: "f1", Fecha: now, Monto: 50,
		Metodo: models.PagoEfectivo, CreadoEn: now,
	}); err != nil {
		t.Fatalf("seed pago failed: %v", err)
	}

	rec := doRequest(t, s, http.MethodGet, "/api/v1/facturas/f1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get factura status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "2025-001") {
		t.Errorf("factura body = %s", rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodGet, "/api/v1/facturas/f1/pagos", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list pagos status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "efectivo") {
		t.Errorf("pagos body = %s", rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodGet, "/api/v1/facturas/nope/pagos", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing factura pagos status = %d, want 404", rec.Code)
	}
}

func TestResumenEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/v1/dashboard/resumen", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ot_completadas") {
		t.Errorf("resumen body = %s", rec.Body.String())
	}
}

func TestWebhookMounting(t *testing.T) {
	called := false
	s, _ := newTestServer(t, WithTwilioWebhook(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	form := url.Values{"From": {"whatsapp:+34600111222"}, "Body": {"hola"}}
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if !called {
		t.Error("webhook handler was not invoked")
	}

	// Without the option the route does not exist.
	s2, _ := newTestServer(t)
	rec2 := doRequest(t, s2, http.MethodPost, "/webhook/twilio", "")
	if rec2.Code == http.StatusOK {
		t.Errorf("unmounted webhook status = %d", rec2.Code)
	}
}
