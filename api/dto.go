/*
dto.go - Data Transfer Objects for API requests and responses

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts are strings with two decimals ("1234.50"). Clients never see
  floats. Edit buffers use the pt-BR comma ("1234,50"), as typed by users.

DUE DATES:
  vencimento is null when unassigned, never "".

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/warp/parcela-engine/parcela"
)

// =============================================================================
// POLICIES
// =============================================================================

// PolicyDTO represents a policy in API responses.
type PolicyDTO struct {
	ID               string         `json:"id"`
	UserID           string         `json:"user_id,omitempty"`
	Premium          string         `json:"premium"`
	InstallmentCount int            `json:"installment_count"`
	MonthlyPremium   string         `json:"monthly_premium"`
	Document         map[string]any `json:"document"`
}

// =============================================================================
// SCHEDULES
// =============================================================================

// InstallmentDTO is one row of a schedule.
type InstallmentDTO struct {
	ID         *string `json:"id"`
	Numero     int     `json:"numero"`
	Valor      string  `json:"valor"`
	Vencimento *string `json:"vencimento"`
	Status     string  `json:"status"`
	Persisted  bool    `json:"persisted"`
}

// SummaryDTO compares a schedule with its premium.
type SummaryDTO struct {
	Count          int    `json:"count"`
	Total          string `json:"total"`
	Premium        string `json:"premium"`
	MonthlyPremium string `json:"monthly_premium"`
	Difference     string `json:"difference"`
	Mismatch       bool   `json:"mismatch"`
}

// ScheduleDTO is a freshly derived schedule.
type ScheduleDTO struct {
	PolicyID       string           `json:"policy_id"`
	Source         string           `json:"source"`
	Count          int              `json:"count"`
	MonthlyPremium string           `json:"monthly_premium"`
	Rows           []InstallmentDTO `json:"rows"`
	Summary        SummaryDTO       `json:"summary"`
}

// =============================================================================
// SESSIONS
// =============================================================================

// EditStateDTO is the single edit slot of a session.
type EditStateDTO struct {
	Status   string  `json:"status"`
	RowIndex *int    `json:"row_index,omitempty"`
	Field    string  `json:"field,omitempty"`
	Buffer   *string `json:"buffer,omitempty"`
}

// SessionDTO is an open edit session.
type SessionDTO struct {
	ID             string           `json:"id"`
	PolicyID       string           `json:"policy_id"`
	Source         string           `json:"source"`
	MonthlyPremium string           `json:"monthly_premium"`
	Rows           []InstallmentDTO `json:"rows"`
	State          EditStateDTO     `json:"state"`
	HasChanges     bool             `json:"has_changes"`
	Summary        SummaryDTO       `json:"summary"`
}

// BeginEditRequest puts a row field into editing.
type BeginEditRequest struct {
	Row   int    `json:"row"`
	Field string `json:"field"`
}

// BufferRequest replaces the edit buffer.
type BufferRequest struct {
	Value string `json:"value"`
}

// ConfirmRequest optionally sets the buffer before confirming.
type ConfirmRequest struct {
	Value *string `json:"value,omitempty"`
}

// KeyRequest forwards a key press.
type KeyRequest struct {
	Key string `json:"key"`
}

// EditResponse is returned by confirm and key handlers.
type EditResponse struct {
	Applied bool       `json:"applied"`
	Session SessionDTO `json:"session"`
}

// =============================================================================
// SAVE
// =============================================================================

// ToastDTO is a notification for the client to display.
type ToastDTO struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Variant     string `json:"variant"`
	DurationMS  int64  `json:"duration_ms"`
}

// RowOutcomeDTO reports one row write.
type RowOutcomeDTO struct {
	Index  int    `json:"index"`
	Numero int    `json:"numero"`
	Op     string `json:"op"`
	ID     string `json:"id,omitempty"`
	Error  string `json:"error,omitempty"`
}

// BatchResultDTO reports a save.
type BatchResultDTO struct {
	Attempted     bool            `json:"attempted"`
	OK            bool            `json:"ok"`
	Succeeded     []RowOutcomeDTO `json:"succeeded"`
	Failed        []RowOutcomeDTO `json:"failed"`
	MonthlyCost   string          `json:"monthly_cost,omitempty"`
	PolicyUpdated bool            `json:"policy_updated"`
	PolicyError   string          `json:"policy_error,omitempty"`
}

// SaveResponse wraps a save.
type SaveResponse struct {
	Result  BatchResultDTO `json:"result"`
	Toasts  []ToastDTO     `json:"toasts"`
	Session SessionDTO     `json:"session"`
	Error   string         `json:"error,omitempty"`
}

// =============================================================================
// CONSISTENCY
// =============================================================================

// ConsistencyIssueDTO is one soft-invariant violation.
type ConsistencyIssueDTO struct {
	PolicyID string `json:"policy_id"`
	Kind     string `json:"kind"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Source   string `json:"source"`
}

// ConsistencyReportDTO is the result of a checker run.
type ConsistencyReportDTO struct {
	RunAt    *string               `json:"run_at"`
	Duration string                `json:"duration,omitempty"`
	Checked  int                   `json:"checked"`
	Issues   []ConsistencyIssueDTO `json:"issues"`
	Error    string                `json:"error,omitempty"`
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects the scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func toInstallmentDTOs(rows []parcela.Installment) []InstallmentDTO {
	out := make([]InstallmentDTO, len(rows))
	for i, r := range rows {
		dto := InstallmentDTO{
			Numero:    r.Numero,
			Valor:     money(r.Valor),
			Status:    string(r.Status),
			Persisted: r.Persisted(),
		}
		if r.Persisted() {
			id := string(*r.ID)
			dto.ID = &id
		}
		if r.Vencimento != "" {
			v := r.Vencimento
			dto.Vencimento = &v
		}
		out[i] = dto
	}
	return out
}

func toSummaryDTO(s parcela.Summary) SummaryDTO {
	return SummaryDTO{
		Count:          s.Count,
		Total:          money(s.Total),
		Premium:        money(s.Premium),
		MonthlyPremium: money(s.MonthlyPremium),
		Difference:     money(s.Difference),
		Mismatch:       s.Mismatch,
	}
}

func toPolicyDTO(p parcela.Policy) PolicyDTO {
	doc := map[string]any(p.Record)
	if doc == nil {
		doc = map[string]any{}
	}
	return PolicyDTO{
		ID:               string(p.ID),
		UserID:           string(p.UserID),
		Premium:          money(p.Premium()),
		InstallmentCount: parcela.InstallmentCount(p),
		MonthlyPremium:   money(parcela.MonthlyPremium(p)),
		Document:         normalizeDocument(doc),
	}
}

// normalizeDocument renders decimals stored in a document as JSON numbers.
func normalizeDocument(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if d, ok := v.(decimal.Decimal); ok {
			out[k] = json.Number(d.String())
			continue
		}
		out[k] = v
	}
	return out
}

func toSessionDTO(id string, p parcela.Policy, s *parcela.Session) SessionDTO {
	state := EditStateDTO{Status: string(s.State.Status)}
	if s.Editing() {
		idx, buf := s.State.RowIndex, s.State.Buffer
		state.RowIndex = &idx
		state.Field = string(s.State.Field)
		state.Buffer = &buf
	}
	return SessionDTO{
		ID:             id,
		PolicyID:       string(s.PolicyID),
		Source:         string(s.Source),
		MonthlyPremium: money(s.MonthlyPremium),
		Rows:           toInstallmentDTOs(s.Rows),
		State:          state,
		HasChanges:     s.HasChanges,
		Summary:        toSummaryDTO(parcela.Summarize(p, s.Rows)),
	}
}

func toToastDTOs(toasts []parcela.Toast) []ToastDTO {
	out := make([]ToastDTO, len(toasts))
	for i, t := range toasts {
		out[i] = ToastDTO{
			Title:       t.Title,
			Description: t.Description,
			Variant:     string(t.Variant),
			DurationMS:  t.Duration.Milliseconds(),
		}
	}
	return out
}

func toOutcomeDTOs(outcomes []parcela.RowOutcome) []RowOutcomeDTO {
	out := make([]RowOutcomeDTO, len(outcomes))
	for i, o := range outcomes {
		dto := RowOutcomeDTO{Index: o.Index, Numero: o.Numero, Op: string(o.Op), ID: string(o.ID)}
		if o.Err != nil {
			dto.Error = o.Err.Error()
		}
		out[i] = dto
	}
	return out
}

func toBatchResultDTO(b parcela.BatchResult) BatchResultDTO {
	dto := BatchResultDTO{
		Attempted:     b.Attempted,
		OK:            b.OK(),
		Succeeded:     toOutcomeDTOs(b.Succeeded),
		Failed:        toOutcomeDTOs(b.Failed),
		PolicyUpdated: b.PolicyUpdated,
	}
	if b.Attempted {
		dto.MonthlyCost = money(b.MonthlyCost)
	}
	if b.PolicyErr != nil {
		dto.PolicyError = b.PolicyErr.Error()
	}
	return dto
}

func toConsistencyDTO(r ConsistencyReport) ConsistencyReportDTO {
	dto := ConsistencyReportDTO{
		Checked: r.Checked,
		Issues:  make([]ConsistencyIssueDTO, len(r.Issues)),
	}
	if !r.RunAt.IsZero() {
		at := r.RunAt.Format(time.RFC3339)
		dto.RunAt = &at
		dto.Duration = r.Duration.String()
	}
	if r.Err != nil {
		dto.Error = r.Err.Error()
	}
	for i, issue := range r.Issues {
		dto.Issues[i] = ConsistencyIssueDTO{
			PolicyID: string(issue.PolicyID),
			Kind:     string(issue.Kind),
			Expected: issue.Expected,
			Actual:   issue.Actual,
			Source:   string(issue.Source),
		}
	}
	return dto
}
