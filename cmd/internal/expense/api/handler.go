// Package api exposes the expense ledger over HTTP: CRUD under
// /api/v1/expenses and aggregate reports under /api/v1/reports.
//
// Every route runs behind the shared bearer middleware. Forbidden and
// not-found both surface as one canonical 404 body, so a caller probing
// foreign expense IDs learns nothing; the denial itself is logged and
// audited server-side.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	authapi "tally/cmd/internal/auth/api"
	"tally/cmd/internal/auth/session"
	"tally/cmd/internal/expense"
	"tally/cmd/internal/httpjson"
	"tally/cmd/internal/operr"
	"tally/cmd/internal/ratelimit"

	"github.com/go-chi/chi/v5"
)

// Auditor receives security-relevant events. The auth package's Auditor
// satisfies it; nil disables auditing.
type Auditor interface {
	Record(ctx context.Context, action string, userID *string, ip net.IP, ua string, meta map[string]any)
}

// Config carries the transport knobs shared with the auth API.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64
}

// DefaultConfig returns safe transport defaults.
func DefaultConfig() Config {
	return Config{MaxBodyBytes: 1 << 20}
}

// Handler serves the expense and report routes.
type Handler struct {
	log   *slog.Logger
	cfg   Config
	svc   *expense.Service
	audit Auditor
}

// NewHandler constructs the handler. audit may be nil.
func NewHandler(log *slog.Logger, cfg Config, svc *expense.Service, audit Auditor) (*Handler, error) {
	if svc == nil {
		return nil, fmt.Errorf("expense api: nil service")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	return &Handler{log: log, cfg: cfg, svc: svc, audit: audit}, nil
}

// Routes mounts the expense CRUD surface. The caller wraps the mount in the
// bearer middleware.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/{expenseID}", h.handleGet)
	r.Put("/{expenseID}", h.handleUpdate)
	r.Delete("/{expenseID}", h.handleDelete)
}

// ReportRoutes mounts the aggregate report surface.
func (h *Handler) ReportRoutes(r chi.Router) {
	r.Get("/summary", h.handleSummary)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	p, ok := authapi.PrincipalFromContext(r.Context())
	if !ok {
		writeNotAuthenticated(w)
		return
	}

	var req upsertRequest
	if err := httpjson.DecodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
		return
	}

	e, err := h.svc.Create(r.Context(), time.Now().UTC(), p.UserID, expense.CreateInput{
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		Category:    req.Category,
		Note:        req.Note,
		SpentAt:     req.SpentAt,
	})
	if err != nil {
		httpjson.WriteOpError(w, h.log, err)
		return
	}

	httpjson.WriteJSON(w, http.StatusCreated, toExpenseResponse(e))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	p, ok := authapi.PrincipalFromContext(r.Context())
	if !ok {
		writeNotAuthenticated(w)
		return
	}
	expenseID := chi.URLParam(r, "expenseID")

	e, err := h.svc.Get(r.Context(), p.UserID, expenseID)
	if err != nil {
		h.writeExpenseError(w, r, p, expenseID, err)
		return
	}

	httpjson.WriteJSON(w, http.StatusOK, toExpenseResponse(e))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	p, ok := authapi.PrincipalFromContext(r.Context())
	if !ok {
		writeNotAuthenticated(w)
		return
	}
	expenseID := chi.URLParam(r, "expenseID")

	var req upsertRequest
	if err := httpjson.DecodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
		return
	}

	e, err := h.svc.Update(r.Context(), time.Now().UTC(), p.UserID, expenseID, expense.UpdateInput{
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		Category:    req.Category,
		Note:        req.Note,
		SpentAt:     req.SpentAt,
	})
	if err != nil {
		h.writeExpenseError(w, r, p, expenseID, err)
		return
	}

	httpjson.WriteJSON(w, http.StatusOK, toExpenseResponse(e))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	p, ok := authapi.PrincipalFromContext(r.Context())
	if !ok {
		writeNotAuthenticated(w)
		return
	}
	expenseID := chi.URLParam(r, "expenseID")

	if err := h.svc.Delete(r.Context(), time.Now().UTC(), p.UserID, expenseID); err != nil {
		h.writeExpenseError(w, r, p, expenseID, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	p, ok := authapi.PrincipalFromContext(r.Context())
	if !ok {
		writeNotAuthenticated(w)
		return
	}

	q, err := parseListQuery(r)
	if err != nil {
		httpjson.WriteOpError(w, h.log, err)
		return
	}

	rows, err := h.svc.List(r.Context(), p.UserID, q)
	if err != nil {
		httpjson.WriteOpError(w, h.log, err)
		return
	}

	httpjson.WriteJSON(w, http.StatusOK, toListResponse(rows))
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	p, ok := authapi.PrincipalFromContext(r.Context())
	if !ok {
		writeNotAuthenticated(w)
		return
	}

	values := r.URL.Query()
	from, to, err := parseRangeParams(values.Get("from"), values.Get("to"))
	if err != nil {
		httpjson.WriteOpError(w, h.log, err)
		return
	}

	sum, err := h.svc.Summarize(r.Context(), p.UserID, from, to)
	if err != nil {
		httpjson.WriteOpError(w, h.log, err)
		return
	}

	httpjson.WriteJSON(w, http.StatusOK, toSummaryResponse(sum))
}

// writeExpenseError renders service failures for id-addressed routes.
// Forbidden is audited and then rendered through the same helper as a
// missing row, keeping the two responses byte-identical.
func (h *Handler) writeExpenseError(w http.ResponseWriter, r *http.Request, p session.Principal, expenseID string, err error) {
	switch {
	case operr.IsForbidden(err):
		h.auditDenied(r, p.UserID, expenseID)
		writeExpenseNotFound(w)
	case operr.IsNotFound(err):
		writeExpenseNotFound(w)
	default:
		httpjson.WriteOpError(w, h.log, err)
	}
}

func writeExpenseNotFound(w http.ResponseWriter) {
	httpjson.WriteError(w, http.StatusNotFound, "not_found", "expense not found")
}

func writeNotAuthenticated(w http.ResponseWriter) {
	httpjson.WriteError(w, http.StatusUnauthorized, "not_authenticated", "authentication required")
}

func (h *Handler) auditDenied(r *http.Request, userID, expenseID string) {
	if h.audit == nil {
		return
	}
	ip := ratelimit.ClientIP(r, h.cfg.TrustProxy)
	uid := userID
	h.audit.Record(r.Context(), "expense.ownership.denied", &uid, ip, r.UserAgent(), map[string]any{
		"expense_id": expenseID,
	})
}
