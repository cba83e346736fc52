package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"fournil/backend/internal/domain"
	"fournil/backend/internal/service"
)

func (a *API) handleReturns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	returns, err := a.service.ListReturns(r.Context(), r.PathValue("date"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"returns": returns})
}

func (a *API) handleNoReturns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	resp, err := a.service.MarkNoReturns(r.Context(), r.PathValue("date"))
	if err != nil && len(resp.Created) == 0 {
		writeServiceError(w, err)
		return
	}
	if err != nil {
		resp.Warnings = append(resp.Warnings, domain.Warning{Code: "partial_failure", Message: err.Error()})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleClientReturn(w http.ResponseWriter, r *http.Request) {
	date := r.PathValue("date")
	clientID := r.PathValue("clientID")
	switch r.Method {
	case http.MethodGet:
		draft, err := a.service.ReturnDraft(r.Context(), date, clientID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"return": draft})
	case http.MethodPut:
		if !requirePermission(w, r, permReturns) {
			return
		}
		var req domain.ReturnRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := a.service.SaveReturn(r.Context(), date, clientID, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleInvoices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	query := r.URL.Query()
	from := query.Get("from")
	to := query.Get("to")
	if strings.TrimSpace(to) == "" {
		to = from
	}
	limit := parsePositiveLimit(query.Get("limit"), 100, 500)

	invoices, err := a.service.ListInvoices(r.Context(), from, to, query.Get("status"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"invoices":  invoices,
		"total_ttc": service.InvoiceTotals(invoices).StringFixed(2),
	})
}

func (a *API) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.ReconcileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := a.service.ReconcileInvoices(r.Context(), req.Date)
	if err != nil && result.Created == 0 && result.Validated == 0 {
		writeServiceError(w, err)
		return
	}
	if err != nil {
		result.Warnings = append(result.Warnings, domain.Warning{Code: "partial_failure", Message: err.Error()})
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleInvoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	invoice, err := a.service.GetInvoice(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice": invoice})
}

func (a *API) handleInvoiceAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	action := r.PathValue("action")

	var (
		invoice *domain.Invoice
		err     error
	)
	switch action {
	case "send", "pay", "cancel":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
	case "tax-rate":
		if r.Method != http.MethodPut {
			writeMethodNotAllowed(w)
			return
		}
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown invoice action"))
		return
	}
	if (action == "cancel" || action == "tax-rate") && !requirePermission(w, r, permBilling) {
		return
	}

	switch action {
	case "send":
		invoice, err = a.service.SendInvoice(r.Context(), id)
	case "pay":
		invoice, err = a.service.PayInvoice(r.Context(), id)
	case "cancel":
		var req domain.CancelInvoiceRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		invoice, err = a.service.CancelInvoice(r.Context(), id, req)
	case "tax-rate":
		var req domain.TaxRateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		invoice, err = a.service.SetInvoiceTaxRate(r.Context(), id, req)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice": invoice})
}

func (a *API) handleBillingConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg, err := a.service.BillingConfig(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"billing_config": cfg})
	case http.MethodPatch:
		if !requirePermission(w, r, permBilling) {
			return
		}
		var req domain.BillingConfigUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		cfg, err := a.service.UpdateBillingConfig(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"billing_config": cfg})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	date := r.URL.Query().Get("date")
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), date, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleStaff(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		staff := a.auth.ListStaff(r.Context())
		writeJSON(w, http.StatusOK, map[string]any{"staff": staff})
	case http.MethodPost:
		var req domain.StaffCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		user, err := a.auth.CreateStaff(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{"user": user})
	default:
		writeMethodNotAllowed(w)
	}
}
