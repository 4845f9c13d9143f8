package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rsautomocion/tallerbot/internal/models"
)

// Pagination bounds for list endpoints.
const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// pageParams reads offset/limit query parameters with sane bounds.
func pageParams(r *http.Request) (offset, limit int) {
	limit = defaultPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = min(v, maxPageSize)
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return offset, limit
}

// writeStoreError maps repository errors to HTTP responses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrClienteNotFound),
		errors.Is(err, models.ErrOTNotFound),
		errors.Is(err, models.ErrFacturaNotFound):
		writeJSONResponse(w, http.StatusNotFound, models.Error(err.Error()))
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrFacturaYaPagada),
		errors.Is(err, models.ErrMontoExcedeDeuda):
		writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
	default:
		slog.Error("Server repository operation failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Internal server error"))
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("ok", nil))
}

func (s *Server) listClientesHandler(w http.ResponseWriter, r *http.Request) {
	offset, limit := pageParams(r)
	clientes, total, err := s.store.ListClientes(offset, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"clientes": clientes,
		"total":    total,
		"offset":   offset,
		"limit":    limit,
	}))
}

func (s *Server) searchClientesHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	slog.Debug("Server.searchClientesHandler: searching", "query_length", len(query))
	clientes, err := s.store.SearchClientes(query, defaultPageSize)
	if err != nil {
		if errors.Is(err, models.ErrEmptySearchQuery) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		writeStoreError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(clientes))
}

func (s *Server) getClienteHandler(w http.ResponseWriter, r *http.Request) {
	cliente, err := s.store.GetCliente(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(cliente))
}

func (s *Server) deactivateClienteHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeactivateCliente(id); err != nil {
		writeStoreError(w, err)
		return
	}
	slog.Info("Server deactivated cliente", "cliente_id", id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Cliente desactivado", nil))
}

func (s *Server) listOTsHandler(w http.ResponseWriter, r *http.Request) {
	offset, limit := pageParams(r)
	ots, err := s.store.ListOTs(offset, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(ots))
}

func (s *Server) getOTHandler(w http.ResponseWriter, r *http.Request) {
	ot, err := s.store.GetOT(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(ot))
}

// updateOTEstadoHandler advances a work order through its lifecycle. The body
// carries the target state: {"estado": "aprobado"}.
func (s *Server) updateOTEstadoHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req struct {
		Estado models.EstadoOT `json:"estado"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.updateOTEstadoHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if !models.IsValidEstadoOT(req.Estado) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("estado desconocido"))
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.store.UpdateOTEstado(id, req.Estado, time.Now()); err != nil {
		writeStoreError(w, err)
		return
	}
	slog.Info("Server updated OT estado", "ot_id", id, "estado", req.Estado)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Estado actualizado", nil))
}

func (s *Server) listFacturasHandler(w http.ResponseWriter, r *http.Request) {
	offset, limit := pageParams(r)
	facturas, err := s.store.ListFacturas(offset, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(facturas))
}

func (s *Server) getFacturaHandler(w http.ResponseWriter, r *http.Request) {
	factura, err := s.store.GetFactura(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(factura))
}

func (s *Server) listPagosHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetFactura(id); err != nil {
		writeStoreError(w, err)
		return
	}
	pagos, err := s.store.ListPagosByFactura(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(pagos))
}

func (s *Server) resumenHandler(w http.ResponseWriter, r *http.Request) {
	resumen, err := s.store.Resumen()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(resumen))
}
