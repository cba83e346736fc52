package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fournil/backend/internal/billing"
	"fournil/backend/internal/domain"
	"fournil/backend/internal/production"
	"fournil/backend/internal/service"
	"fournil/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	feed          production.Subscriber
	csrf          *csrfSigner
	allowedOrigin string
}

// New wires the HTTP surface. feed backs the program event stream and may be
// nil, in which case the stream endpoint answers 503.
func New(svc *service.Service, auth *AuthManager, feed production.Subscriber, allowedOrigin string) *API {
	return &API{
		service:       svc,
		auth:          auth,
		feed:          feed,
		csrf:          newCSRFSigner(),
		allowedOrigin: allowedOrigin,
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("/api/v1/catalog", a.requireAuth(a.handleCatalog, permRead))
	mux.HandleFunc("/api/v1/catalog/import", a.requireAuth(a.handleCatalogImport, permCatalog))

	mux.HandleFunc("/api/v1/programs", a.requireAuth(a.handlePrograms, permRead))
	mux.HandleFunc("/api/v1/programs/{date}", a.requireAuth(a.handleProgram, permRead))
	mux.HandleFunc("/api/v1/programs/{date}/stream", a.requireAuth(a.handleProgramStream, permRead))
	mux.HandleFunc("/api/v1/programs/{date}/orders", a.requireAuth(a.handleOrders, permPlan))
	mux.HandleFunc("/api/v1/programs/{date}/orders/default", a.requireAuth(a.handleDefaultOrder, permPlan))
	mux.HandleFunc("/api/v1/programs/{date}/orders/{orderID}", a.requireAuth(a.handleOrder, permPlan))
	mux.HandleFunc("/api/v1/programs/{date}/orders/{orderID}/lines/{productID}", a.requireAuth(a.handleOrderLine, permPlan))
	mux.HandleFunc("/api/v1/programs/{date}/allocations/{productID}", a.requireAuth(a.handleAllocation, permPlan))
	mux.HandleFunc("/api/v1/programs/{date}/actual/{productID}", a.requireAuth(a.handleActualProduced, permPlan))
	mux.HandleFunc("/api/v1/programs/{date}/send", a.requireAuth(a.handleSendProgram, permProduce))
	mux.HandleFunc("/api/v1/programs/{date}/confirm", a.requireAuth(a.handleConfirmProgram, permProduce))
	mux.HandleFunc("/api/v1/programs/{date}/regularize", a.requireAuth(a.handleRegularizeProgram, permRegularize))
	mux.HandleFunc("/api/v1/programs/{date}/stock-transactions", a.requireAuth(a.handleStockTransactions, permRead))

	mux.HandleFunc("/api/v1/returns/{date}", a.requireAuth(a.handleReturns, permRead))
	mux.HandleFunc("/api/v1/returns/{date}/none", a.requireAuth(a.handleNoReturns, permReturns))
	mux.HandleFunc("/api/v1/returns/{date}/{clientID}", a.requireAuth(a.handleClientReturn, permRead))

	mux.HandleFunc("/api/v1/invoices", a.requireAuth(a.handleInvoices, permRead))
	mux.HandleFunc("/api/v1/invoices/reconcile", a.requireAuth(a.handleReconcile, permInvoices))
	mux.HandleFunc("/api/v1/invoices/{id}", a.requireAuth(a.handleInvoice, permRead))
	mux.HandleFunc("/api/v1/invoices/{id}/{action}", a.requireAuth(a.handleInvoiceAction, permInvoices))

	mux.HandleFunc("/api/v1/billing-config", a.requireAuth(a.handleBillingConfig, permRead))
	mux.HandleFunc("/api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, permAudit))
	mux.HandleFunc("/api/v1/users/staff", a.requireAuth(a.handleStaff, permStaff))

	return a.withMiddleware(mux)
}

type principalKey struct{}

// requireAuth resolves the bearer token and admits callers holding perm.
func (a *API) requireAuth(next http.HandlerFunc, perm permission) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scheme, token, _ := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
		if !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		p, err := a.auth.Authenticate(strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		if !p.can(perm) {
			writeError(w, http.StatusForbidden, errors.New("missing permission "+string(perm)))
			return
		}
		ctx := context.WithValue(service.WithActor(r.Context(), p.actor), principalKey{}, p)
		next(w, r.WithContext(ctx))
	}
}

func principalFrom(r *http.Request) principal {
	p, _ := r.Context().Value(principalKey{}).(principal)
	return p
}

// requirePermission is the in-handler check for operations stricter than
// their route.
func requirePermission(w http.ResponseWriter, r *http.Request, perm permission) bool {
	if principalFrom(r).can(perm) {
		return true
	}
	writeError(w, http.StatusForbidden, errors.New("missing permission "+string(perm)))
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.auth.Login(r.Context(), remoteHost(r), req)
	switch {
	case errors.Is(err, errLoginThrottled):
		writeError(w, http.StatusTooManyRequests, err)
	case err != nil:
		writeError(w, http.StatusUnauthorized, err)
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

// handleCSRFToken issues the token mutating requests send in X-CSRF-Token.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"csrf_token": a.csrf.issue()})
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

// writeServiceError maps domain and store errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusForError(err), err)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidInput), errors.Is(err, billing.ErrInvalidTaxRate):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, production.ErrInvalidTransition),
		errors.Is(err, billing.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, production.ErrConfirmationRequired):
		return http.StatusPreconditionRequired
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// For 5xx responses, return a generic message to avoid leaking internal
	// implementation details (stack traces, SQL errors, file paths, etc.).
	// 4xx responses are user-facing so we return the original error message.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
