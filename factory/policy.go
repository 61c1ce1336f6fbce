/*
Package factory provides JSON to Go policy conversion.

PURPOSE:
  Policy documents (apólices) reach this service as free-form JSON written by
  several generations of the back office. The factory decodes them into
  parcela.Policy, checks the few fields the installment engine relies on,
  and encodes them back for storage.

JSON SHAPE (every field but "id" optional):
  {
    "id": "apl-2025-0001",
    "user_id": "corretor-17",
    "numero_apolice": "0531.2025.000123",
    "valor_premio": 2400.00,          // or "premium"
    "quantidade_parcelas": 12,
    "valor_parcela": 200.00,
    "custo_mensal": 200.00,           // or "monthlyAmount"
    "installments": [ {"numero": 1, "valor": 200, "vencimento": "2025-02-10"} ],
    "parcelas":     [ {"number": 1, "value": 200, "dueDate": "2025-02-10"} ]
  }

  Numbers are decoded as json.Number so amounts never pass through float64.
  Numeric fields may also be strings ("2.400,00").

USAGE:
  f := factory.NewPolicyFactory()
  policy, err := f.ParsePolicy(body)
  data, err := f.EncodeRecord(policy.Record)

SEE ALSO:
  - parcela/record.go: Field accessors used to read these documents
*/
package factory

import (
	"bytes"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/warp/parcela-engine/parcela"
)

const (
	FieldID     = "id"
	FieldUserID = "user_id"
)

// numericFields must read as numbers when present.
var numericFields = []string{
	"valor_premio", "premium",
	parcela.FieldQuantidadeParcelas,
	parcela.FieldValorParcela,
	parcela.FieldCustoMensal, "monthlyAmount",
}

var arrayFields = []string{parcela.FieldInstallments, parcela.FieldParcelas}

// PolicyFactory creates policies from JSON documents.
type PolicyFactory struct{}

func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// ParsePolicy decodes and validates a policy document.
func (f *PolicyFactory) ParsePolicy(data []byte) (parcela.Policy, error) {
	rec, err := f.DecodeRecord(data)
	if err != nil {
		return parcela.Policy{}, err
	}
	return f.FromRecord(rec)
}

// DecodeRecord decodes a JSON object without validating it.
func (f *PolicyFactory) DecodeRecord(data []byte) (parcela.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", parcela.ErrInvalidPolicy, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: document is null", parcela.ErrInvalidPolicy)
	}
	return parcela.Record(raw), nil
}

// FromRecord validates a decoded document and builds the policy.
func (f *PolicyFactory) FromRecord(rec parcela.Record) (parcela.Policy, error) {
	id := rec.String(FieldID)
	if id == "" {
		return parcela.Policy{}, fmt.Errorf("%w: id is required", parcela.ErrInvalidPolicy)
	}

	for _, field := range numericFields {
		v, ok := rec[field]
		if !ok || v == nil {
			continue
		}
		if s, isString := v.(string); isString && s == "" {
			continue
		}
		if _, ok := rec.Decimal(field); !ok {
			return parcela.Policy{}, fmt.Errorf("%w: %s is not a number", parcela.ErrInvalidPolicy, field)
		}
	}
	if _, present := rec.Decimal(parcela.FieldQuantidadeParcelas); present {
		n, ok := rec.Int(parcela.FieldQuantidadeParcelas)
		if !ok || n < 0 || n > parcela.MaxInstallments {
			return parcela.Policy{}, fmt.Errorf("%w: %s must be a whole number between 0 and %d",
				parcela.ErrInvalidPolicy, parcela.FieldQuantidadeParcelas, parcela.MaxInstallments)
		}
	}

	for _, field := range arrayFields {
		v, ok := rec[field]
		if !ok || v == nil {
			continue
		}
		if _, isArray := v.([]any); !isArray {
			return parcela.Policy{}, fmt.Errorf("%w: %s must be an array", parcela.ErrInvalidPolicy, field)
		}
	}

	return parcela.Policy{
		ID:     parcela.PolicyID(id),
		UserID: parcela.UserID(rec.String(FieldUserID)),
		Record: rec,
	}, nil
}

// EncodeRecord encodes a document for storage. Decimal amounts are written
// as JSON numbers.
func (f *PolicyFactory) EncodeRecord(rec parcela.Record) ([]byte, error) {
	return json.Marshal(normalize(rec))
}

// ToRecord returns the policy document with id and user_id set.
func (f *PolicyFactory) ToRecord(p parcela.Policy) parcela.Record {
	rec := p.Record.Clone()
	rec[FieldID] = string(p.ID)
	if p.UserID != "" {
		rec[FieldUserID] = string(p.UserID)
	}
	return rec
}

func normalize(v any) any {
	switch t := v.(type) {
	case decimal.Decimal:
		return json.Number(t.String())
	case parcela.Record:
		return normalizeMap(t)
	case map[string]any:
		return normalizeMap(t)
	case []parcela.Record:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeMap(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	}
	return v
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalize(v)
	}
	return out
}
