package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"fournil/backend/internal/domain"
	"fournil/backend/internal/production"
)

func (a *API) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	snapshot, err := a.service.Catalog(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (a *API) handleCatalogImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.CatalogSnapshot
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	products, clients, err := a.service.ImportCatalog(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products, "clients": clients})
}

func (a *API) handlePrograms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if strings.TrimSpace(to) == "" {
		to = from
	}
	programs, err := a.service.ListPrograms(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"programs": programs})
}

func (a *API) handleProgram(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	program, err := a.service.GetProgram(r.Context(), r.PathValue("date"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"program": program})
}

func (a *API) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.OrderCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	a.writeProgram(w, http.StatusCreated)(a.service.PlaceOrder(r.Context(), r.PathValue("date"), req))
}

func (a *API) handleDefaultOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.DefaultOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	a.writeProgram(w, http.StatusCreated)(a.service.ApplyDefaultOrder(r.Context(), r.PathValue("date"), req.ClientID))
}

func (a *API) handleOrder(w http.ResponseWriter, r *http.Request) {
	date := r.PathValue("date")
	orderID := r.PathValue("orderID")
	switch r.Method {
	case http.MethodPatch:
		var req domain.OrderStatusRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		a.writeProgram(w, http.StatusOK)(a.service.SetOrderStatus(r.Context(), date, orderID, req.Status))
	case http.MethodDelete:
		a.writeProgram(w, http.StatusOK)(a.service.RemoveOrder(r.Context(), date, orderID))
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleOrderLine(w http.ResponseWriter, r *http.Request) {
	date := r.PathValue("date")
	orderID := r.PathValue("orderID")
	productID := r.PathValue("productID")
	switch r.Method {
	case http.MethodPut:
		var split domain.RunSplit
		if err := decodeJSON(r, &split); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		a.writeProgram(w, http.StatusOK)(a.service.SetOrderLine(r.Context(), date, orderID, productID, split))
	case http.MethodDelete:
		a.writeProgram(w, http.StatusOK)(a.service.RemoveOrderLine(r.Context(), date, orderID, productID))
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleAllocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.AllocationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	a.writeProgram(w, http.StatusOK)(a.service.SetAllocation(r.Context(), r.PathValue("date"), r.PathValue("productID"), req))
}

func (a *API) handleActualProduced(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.ActualProducedRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	a.writeProgram(w, http.StatusOK)(a.service.SetActualProduced(r.Context(), r.PathValue("date"), r.PathValue("productID"), req))
}

func (a *API) handleSendProgram(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.SendProgramRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.SendProgram(r.Context(), r.PathValue("date"), req)
	if errors.Is(err, production.ErrConfirmationRequired) {
		writeJSON(w, http.StatusPreconditionRequired, map[string]any{
			"error":    err.Error(),
			"warnings": resp.Warnings,
		})
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleConfirmProgram(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	report, err := a.service.ConfirmProgram(r.Context(), r.PathValue("date"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleRegularizeProgram re-deducts stock, so it needs the manager PIN on
// top of the regularize permission.
func (a *API) handleRegularizeProgram(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.RegularizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	switch err := a.auth.AuthorizeRegularize(principalFrom(r), remoteHost(r), req.ManagerPIN); {
	case errors.Is(err, errPINThrottled):
		writeError(w, http.StatusTooManyRequests, err)
		return
	case errors.Is(err, errPINRejected):
		writeError(w, http.StatusForbidden, err)
		return
	case err != nil:
		writeServiceError(w, err)
		return
	}
	report, err := a.service.RegularizeProgram(r.Context(), r.PathValue("date"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleStockTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 200, 1000)
	txs, err := a.service.ListStockTransactions(r.Context(), r.PathValue("date"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

// writeProgram adapts a program-returning service call to a JSON response.
func (a *API) writeProgram(w http.ResponseWriter, status int) func(*domain.ProductionProgram, error) {
	return func(program *domain.ProductionProgram, err error) {
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, status, map[string]any{"program": program})
	}
}
