/*
session.go - Inline edit state machine

STATES:
  Viewing
  Editing{RowIndex, Field, Buffer}   Field is valor or vencimento

TRANSITIONS:
  Viewing  --Begin(i, f)-->  Editing   buffer pre-filled from row i
  Editing  --Begin(j, g)-->  Editing   previous buffer discarded
  Editing  --Confirm-->      Viewing   buffer applied when it parses
  Editing  --Cancel-->       Viewing   buffer discarded
  Keys: "Enter" confirms, "Escape" cancels.

  Only one row and field across the whole session is ever in Editing.
  A valor buffer that does not parse to a finite number >= 0 is dropped
  silently; the session still returns to Viewing and HasChanges is untouched.
  Every applied confirm sets HasChanges, even when the value is unchanged.

A Session is owned by a single edit surface and is not safe for concurrent
use.
*/
package parcela

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

type Field string

const (
	FieldValor      Field = "valor"
	FieldVencimento Field = "vencimento"
)

func ParseField(s string) (Field, error) {
	switch Field(s) {
	case FieldValor, FieldVencimento:
		return Field(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownField, s)
}

type EditStatus string

const (
	Viewing EditStatus = "viewing"
	Editing EditStatus = "editing"
)

// EditState is the single edit slot of a session. RowIndex, Field and Buffer
// are meaningful only while Status is Editing.
type EditState struct {
	Status   EditStatus
	RowIndex int
	Field    Field
	Buffer   string
}

const (
	KeyEnter  = "Enter"
	KeyEscape = "Escape"
)

// Session is one opening of the edit surface for a policy.
type Session struct {
	PolicyID       PolicyID
	Source         Source
	MonthlyPremium decimal.Decimal // fallback for the monthly cost on save
	Rows           []Installment
	State          EditState
	HasChanges     bool
}

// NewSession starts a session from a fresh derivation.
func NewSession(d Derivation) *Session {
	return &Session{
		PolicyID:       d.PolicyID,
		Source:         d.Source,
		MonthlyPremium: d.MonthlyPremium,
		Rows:           cloneRows(d.Rows),
		State:          EditState{Status: Viewing},
	}
}

// Begin enters Editing for one row and field.
func (s *Session) Begin(index int, field Field) error {
	if index < 0 || index >= len(s.Rows) {
		return fmt.Errorf("%w: %d of %d", ErrRowOutOfRange, index, len(s.Rows))
	}
	var buffer string
	switch field {
	case FieldValor:
		buffer = FormatBuffer(s.Rows[index].Valor)
	case FieldVencimento:
		buffer = s.Rows[index].Vencimento
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	s.State = EditState{Status: Editing, RowIndex: index, Field: field, Buffer: buffer}
	return nil
}

// SetBuffer replaces the text being edited.
func (s *Session) SetBuffer(text string) error {
	if s.State.Status != Editing {
		return ErrNotEditing
	}
	s.State.Buffer = text
	return nil
}

// Confirm applies the buffer and returns to Viewing. It reports whether the
// row was changed. Confirming while Viewing does nothing.
func (s *Session) Confirm() bool {
	st := s.State
	s.State = EditState{Status: Viewing}
	if st.Status != Editing || st.RowIndex < 0 || st.RowIndex >= len(s.Rows) {
		return false
	}

	switch st.Field {
	case FieldValor:
		v, ok := ParseBuffer(st.Buffer)
		if !ok {
			return false
		}
		s.Rows[st.RowIndex].Valor = v
	case FieldVencimento:
		s.Rows[st.RowIndex].Vencimento = st.Buffer
	default:
		return false
	}
	s.HasChanges = true
	return true
}

// Cancel discards the buffer and returns to Viewing.
func (s *Session) Cancel() {
	s.State = EditState{Status: Viewing}
}

// HandleKey maps Enter to Confirm and Escape to Cancel. Other keys are ignored.
func (s *Session) HandleKey(key string) bool {
	switch key {
	case KeyEnter:
		return s.Confirm()
	case KeyEscape:
		s.Cancel()
	}
	return false
}

// Editing reports whether any row is being edited.
func (s *Session) Editing() bool { return s.State.Status == Editing }

// Snapshot returns a copy of the rows.
func (s *Session) Snapshot() []Installment { return cloneRows(s.Rows) }

// =============================================================================
// BUFFER FORMAT
// =============================================================================

// FormatBuffer renders a value for editing with a comma decimal separator.
// Cents are always shown; finer precision is kept, never rounded away.
func FormatBuffer(v decimal.Decimal) string {
	text := v.StringFixed(2)
	if !v.Equal(v.Round(2)) {
		text = v.String()
	}
	return strings.Replace(text, ".", ",", 1)
}

// ParseBuffer reads an edit buffer: the comma is taken as the decimal point
// and the result must be a finite number >= 0.
func ParseBuffer(text string) (decimal.Decimal, bool) {
	text = strings.TrimSpace(strings.Replace(text, ",", ".", 1))
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return decimal.Zero, false
	}
	v, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, false
	}
	return v, true
}
