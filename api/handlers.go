/*
handlers.go - HTTP API handlers for the installment engine

PURPOSE:
  Exposes the installment engine via REST API. Handles HTTP request and
  response, JSON serialization, and delegates to the parcela package.

ENDPOINTS:
  Policies:
    GET    /api/policies                          List policies
    POST   /api/policies                          Create or replace from JSON
    GET    /api/policies/{id}                     Get policy
    DELETE /api/policies/{id}                     Delete policy
    GET    /api/policies/{id}/installments        Derived schedule + summary
    GET    /api/policies/{id}/installments/export Schedule as .xlsx

  Edit sessions:
    POST   /api/policies/{id}/sessions            Open (derive) a session
    GET    /api/sessions/{sid}                    Current rows and edit state
    DELETE /api/sessions/{sid}                    Discard unsaved edits
    POST   /api/sessions/{sid}/edit               {row, field}
    PUT    /api/sessions/{sid}/buffer             {value}
    POST   /api/sessions/{sid}/confirm            {value?}
    POST   /api/sessions/{sid}/cancel
    POST   /api/sessions/{sid}/keys               {key: "Enter"|"Escape"}
    POST   /api/sessions/{sid}/save               Best-effort save + toasts

  Consistency:
    GET    /api/consistency                       Latest checker report
    POST   /api/consistency/run                   Run the checker now

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: No current user on save
  - 404: Resource not found
  - 500: Internal errors

  A save with failed rows is still a 200: the body carries the per-row
  outcome and the warning toast.

SEE ALSO:
  - dto.go: Request/response data structures
  - sessions.go: Session registry
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/warp/parcela-engine/factory"
	"github.com/warp/parcela-engine/notify"
	"github.com/warp/parcela-engine/parcela"
	"github.com/warp/parcela-engine/report"
)

// maxBodyBytes caps request bodies; policy documents are small.
const maxBodyBytes = 1 << 20

// Store is the persistence surface the API needs. Implemented by
// parcela/store.Memory, store/sqlite.Store and store/postgres.Store.
type Store interface {
	parcela.InstallmentStore
	parcela.PolicyStore
	SavePolicy(ctx context.Context, p parcela.Policy) error
	ListPolicies(ctx context.Context) ([]parcela.Policy, error)
	DeletePolicy(ctx context.Context, id parcela.PolicyID) error
	Reset(ctx context.Context) error
}

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store         Store
	PolicyFactory *factory.PolicyFactory
	Reconciler    *parcela.Reconciler
	Sessions      *SessionRegistry
	Checker       *ConsistencyChecker
	Logger        *zap.Logger

	scenarioMu      sync.Mutex
	currentScenario string
}

// NewHandler wires the engine over store. Toasts go to the log and to the
// request that triggered them.
func NewHandler(store Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	rec := parcela.NewReconciler(store, store, parcela.UserFunc(CurrentUser),
		notify.Multi{notify.NewLogger(logger), notify.Scoped{}}, logger)

	h := &Handler{
		Store:         store,
		PolicyFactory: factory.NewPolicyFactory(),
		Reconciler:    rec,
		Sessions:      NewSessionRegistry(),
		Checker:       NewConsistencyChecker(store, logger),
		Logger:        logger,
	}
	rec.OnSaved = append(rec.OnSaved, h.recheckAfterSave)
	return h
}

func (h *Handler) recheckAfterSave(ctx context.Context, id parcela.PolicyID, _ parcela.BatchResult) {
	p, err := h.Store.Get(ctx, id)
	if err != nil {
		h.Logger.Warn("re-check after save skipped", zap.String("policy_id", string(id)), zap.Error(err))
		return
	}
	h.Checker.CheckPolicy(ctx, id, p)
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// ListPolicies returns all policies.
// GET /api/policies
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.Store.ListPolicies(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list policies", err)
		return
	}

	dtos := make([]PolicyDTO, len(policies))
	for i, p := range policies {
		dtos[i] = toPolicyDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePolicy stores a policy document. An existing id is replaced.
// POST /api/policies
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body", err)
		return
	}

	policy, err := h.PolicyFactory.ParsePolicy(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid policy document", err)
		return
	}
	if policy.UserID == "" {
		if user, err := CurrentUser(r.Context()); err == nil {
			policy.UserID = user
		}
	}

	if err := h.Store.SavePolicy(r.Context(), policy); err != nil {
		h.handleError(w, "Failed to save policy", err)
		return
	}
	h.Checker.CheckPolicy(r.Context(), policy.ID, &policy)

	writeJSON(w, http.StatusCreated, toPolicyDTO(policy))
}

// GetPolicy returns a single policy.
// GET /api/policies/{id}
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.Get(r.Context(), policyIDParam(r))
	if err != nil {
		h.handleError(w, "Failed to get policy", err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(*p))
}

// DeletePolicy removes a policy, its installments and its open sessions.
// DELETE /api/policies/{id}
func (h *Handler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	id := policyIDParam(r)
	if err := h.Store.DeletePolicy(r.Context(), id); err != nil {
		h.handleError(w, "Failed to delete policy", err)
		return
	}
	h.Sessions.CloseForPolicy(id)
	h.Checker.CheckPolicy(r.Context(), id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SCHEDULE HANDLERS
// =============================================================================

// GetInstallments derives the policy's schedule without opening a session.
// GET /api/policies/{id}/installments
func (h *Handler) GetInstallments(w http.ResponseWriter, r *http.Request) {
	p, d, err := h.derive(r.Context(), policyIDParam(r))
	if err != nil {
		h.handleError(w, "Failed to get installments", err)
		return
	}

	writeJSON(w, http.StatusOK, ScheduleDTO{
		PolicyID:       string(d.PolicyID),
		Source:         string(d.Source),
		Count:          d.Count,
		MonthlyPremium: money(d.MonthlyPremium),
		Rows:           toInstallmentDTOs(d.Rows),
		Summary:        toSummaryDTO(parcela.Summarize(p, d.Rows)),
	})
}

// ExportInstallments returns the derived schedule as a spreadsheet.
// GET /api/policies/{id}/installments/export
func (h *Handler) ExportInstallments(w http.ResponseWriter, r *http.Request) {
	p, d, err := h.derive(r.Context(), policyIDParam(r))
	if err != nil {
		h.handleError(w, "Failed to export installments", err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="parcelas-%s.xlsx"`, p.ID))
	if err := report.WriteSchedule(w, p, d); err != nil {
		h.Logger.Error("export failed", zap.String("policy_id", string(p.ID)), zap.Error(err))
	}
}

func (h *Handler) derive(ctx context.Context, id parcela.PolicyID) (parcela.Policy, parcela.Derivation, error) {
	p, err := h.Store.Get(ctx, id)
	if err != nil {
		return parcela.Policy{}, parcela.Derivation{}, err
	}
	return *p, parcela.NewDeriver(h.Store, h.Logger).Derive(ctx, *p), nil
}

// =============================================================================
// SESSION HANDLERS
// =============================================================================

// OpenSession derives a fresh schedule and opens an edit session on it.
// POST /api/policies/{id}/sessions
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	p, session, err := h.Reconciler.Open(r.Context(), policyIDParam(r))
	if err != nil {
		h.handleError(w, "Failed to open session", err)
		return
	}
	sid := h.Sessions.Open(p, session)

	writeJSON(w, http.StatusCreated, toSessionDTO(sid, p, session))
}

// GetSession returns the session's rows and edit state.
// GET /api/sessions/{sid}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(sid string, p *parcela.Policy, s *parcela.Session) (int, any, error) {
		return http.StatusOK, toSessionDTO(sid, *p, s), nil
	})
}

// DiscardSession drops the session and its unsaved edits.
// DELETE /api/sessions/{sid}
func (h *Handler) DiscardSession(w http.ResponseWriter, r *http.Request) {
	if !h.Sessions.Close(chi.URLParam(r, "sid")) {
		writeError(w, http.StatusNotFound, "Session not found", ErrSessionNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BeginEdit puts one row field into editing, discarding any other buffer.
// POST /api/sessions/{sid}/edit
func (h *Handler) BeginEdit(w http.ResponseWriter, r *http.Request) {
	var req BeginEditRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	field, err := parcela.ParseField(req.Field)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid field", err)
		return
	}

	h.withSession(w, r, func(sid string, p *parcela.Policy, s *parcela.Session) (int, any, error) {
		if err := s.Begin(req.Row, field); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, toSessionDTO(sid, *p, s), nil
	})
}

// SetBuffer replaces the text of the field being edited.
// PUT /api/sessions/{sid}/buffer
func (h *Handler) SetBuffer(w http.ResponseWriter, r *http.Request) {
	var req BufferRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	h.withSession(w, r, func(sid string, p *parcela.Policy, s *parcela.Session) (int, any, error) {
		if err := s.SetBuffer(req.Value); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, toSessionDTO(sid, *p, s), nil
	})
}

// Confirm applies the buffer. A value that does not parse is dropped
// silently: the response says applied=false and the row is unchanged.
// POST /api/sessions/{sid}/confirm
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	h.withSession(w, r, func(sid string, p *parcela.Policy, s *parcela.Session) (int, any, error) {
		if req.Value != nil {
			if err := s.SetBuffer(*req.Value); err != nil {
				return 0, nil, err
			}
		}
		applied := s.Confirm()
		return http.StatusOK, EditResponse{Applied: applied, Session: toSessionDTO(sid, *p, s)}, nil
	})
}

// Cancel discards the buffer.
// POST /api/sessions/{sid}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(sid string, p *parcela.Policy, s *parcela.Session) (int, any, error) {
		s.Cancel()
		return http.StatusOK, toSessionDTO(sid, *p, s), nil
	})
}

// HandleKey forwards a key press: Enter confirms, Escape cancels.
// POST /api/sessions/{sid}/keys
func (h *Handler) HandleKey(w http.ResponseWriter, r *http.Request) {
	var req KeyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	h.withSession(w, r, func(sid string, p *parcela.Policy, s *parcela.Session) (int, any, error) {
		applied := s.HandleKey(req.Key)
		return http.StatusOK, EditResponse{Applied: applied, Session: toSessionDTO(sid, *p, s)}, nil
	})
}

// SaveSession writes the session back and returns the outcome with the
// toasts raised during the save.
// POST /api/sessions/{sid}/save
func (h *Handler) SaveSession(w http.ResponseWriter, r *http.Request) {
	recorder := &notify.Recorder{}
	ctx := notify.WithRecorder(r.Context(), recorder)

	h.withSession(w, r, func(sid string, p *parcela.Policy, s *parcela.Session) (int, any, error) {
		result, err := h.Reconciler.Save(ctx, s)
		resp := SaveResponse{
			Result: toBatchResultDTO(result),
			Toasts: toToastDTOs(recorder.Drain()),
		}
		if err != nil {
			resp.Error = err.Error()
			resp.Session = toSessionDTO(sid, *p, s)
			return statusFor(err), resp, nil
		}
		if result.PolicyUpdated {
			if fresh, err := h.Store.Get(ctx, p.ID); err == nil {
				*p = *fresh
			}
		}
		resp.Session = toSessionDTO(sid, *p, s)
		return http.StatusOK, resp, nil
	})
}

// withSession runs fn under the session lock and writes its result.
func (h *Handler) withSession(w http.ResponseWriter, r *http.Request, fn func(sid string, p *parcela.Policy, s *parcela.Session) (int, any, error)) {
	sid := chi.URLParam(r, "sid")
	var (
		status int
		body   any
	)
	err := h.Sessions.With(sid, func(p *parcela.Policy, s *parcela.Session) error {
		var err error
		status, body, err = fn(sid, p, s)
		return err
	})
	if err != nil {
		h.handleError(w, "Session operation failed", err)
		return
	}
	writeJSON(w, status, body)
}

// =============================================================================
// CONSISTENCY HANDLERS
// =============================================================================

// GetConsistency returns the latest checker report.
// GET /api/consistency
func (h *Handler) GetConsistency(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toConsistencyDTO(h.Checker.Latest()))
}

// RunConsistency runs the checker now.
// POST /api/consistency/run
func (h *Handler) RunConsistency(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toConsistencyDTO(h.Checker.RunNow(r.Context())))
}

// =============================================================================
// HELPERS
// =============================================================================

func policyIDParam(r *http.Request) parcela.PolicyID {
	return parcela.PolicyID(chi.URLParam(r, "id"))
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}

// decodeOptionalBody accepts an empty body.
func decodeOptionalBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := decodeBody(r, v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrSessionNotFound), parcela.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, parcela.ErrNoCurrentUser):
		return http.StatusUnauthorized
	case parcela.IsClientError(err):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *Handler) handleError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error(message, zap.Error(err))
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
