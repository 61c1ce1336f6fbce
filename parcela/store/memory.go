// Package store provides in-memory implementations of the parcela stores.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/parcela-engine/parcela"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	policies     map[parcela.PolicyID]policyRow
	installments map[parcela.InstallmentID]installmentRow
	byPolicy     map[parcela.PolicyID][]parcela.InstallmentID
}

type policyRow struct {
	policy    parcela.Policy
	createdAt time.Time
}

type installmentRow struct {
	policyID  parcela.PolicyID
	userID    parcela.UserID
	row       parcela.Installment
	updatedAt time.Time
}

func NewMemory() *Memory {
	return &Memory{
		policies:     make(map[parcela.PolicyID]policyRow),
		installments: make(map[parcela.InstallmentID]installmentRow),
		byPolicy:     make(map[parcela.PolicyID][]parcela.InstallmentID),
	}
}

// =============================================================================
// POLICIES
// =============================================================================

// SavePolicy inserts or replaces a policy document.
func (m *Memory) SavePolicy(_ context.Context, p parcela.Policy) error {
	if p.ID == "" {
		return fmt.Errorf("%w: missing id", parcela.ErrInvalidPolicy)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	created := time.Now().UTC()
	if existing, ok := m.policies[p.ID]; ok {
		created = existing.createdAt
	}
	p.Record = p.Record.Clone()
	m.policies[p.ID] = policyRow{policy: p, createdAt: created}
	return nil
}

func (m *Memory) Get(_ context.Context, id parcela.PolicyID) (*parcela.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.policies[id]
	if !ok {
		return nil, parcela.ErrPolicyNotFound
	}
	p := row.policy
	p.Record = p.Record.Clone()
	return &p, nil
}

// ListPolicies returns every policy ordered by creation time.
func (m *Memory) ListPolicies(_ context.Context) ([]parcela.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := make([]policyRow, 0, len(m.policies))
	for _, r := range m.policies {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].createdAt.Equal(rows[j].createdAt) {
			return rows[i].policy.ID < rows[j].policy.ID
		}
		return rows[i].createdAt.Before(rows[j].createdAt)
	})

	out := make([]parcela.Policy, len(rows))
	for i, r := range rows {
		out[i] = r.policy
		out[i].Record = r.policy.Record.Clone()
	}
	return out, nil
}

// DeletePolicy removes a policy and its installments.
func (m *Memory) DeletePolicy(_ context.Context, id parcela.PolicyID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.policies[id]; !ok {
		return parcela.ErrPolicyNotFound
	}
	for _, iid := range m.byPolicy[id] {
		delete(m.installments, iid)
	}
	delete(m.byPolicy, id)
	delete(m.policies, id)
	return nil
}

func (m *Memory) UpdateMonthlyCost(_ context.Context, id parcela.PolicyID, monthly decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.policies[id]
	if !ok {
		return parcela.ErrPolicyNotFound
	}
	rec := row.policy.Record.Clone()
	rec[parcela.FieldCustoMensal] = monthly
	rec[parcela.FieldValorParcela] = monthly
	row.policy.Record = rec
	m.policies[id] = row
	return nil
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

func (m *Memory) Fetch(_ context.Context, policyID parcela.PolicyID) ([]parcela.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byPolicy[policyID]
	out := make([]parcela.Installment, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.installments[id].row.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Numero < out[j].Numero })
	return out, nil
}

func (m *Memory) Update(_ context.Context, id parcela.InstallmentID, patch parcela.InstallmentPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.installments[id]
	if !ok {
		return parcela.ErrInstallmentNotFound
	}
	stored.row.Valor = patch.Valor
	stored.row.Vencimento = ""
	if patch.Vencimento != nil {
		stored.row.Vencimento = *patch.Vencimento
	}
	stored.updatedAt = time.Now().UTC()
	m.installments[id] = stored
	return nil
}

func (m *Memory) Insert(_ context.Context, in parcela.NewInstallment) (parcela.InstallmentID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.policies[in.PolicyID]; !ok {
		return "", parcela.ErrPolicyNotFound
	}
	id := parcela.InstallmentID(uuid.NewString())
	row := parcela.Installment{
		ID:     &id,
		Numero: in.Numero,
		Valor:  in.Valor,
		Status: in.Status,
	}
	if in.Vencimento != nil {
		row.Vencimento = *in.Vencimento
	}
	if row.Status == "" {
		row.Status = parcela.StatusPendente
	}
	m.installments[id] = installmentRow{
		policyID:  in.PolicyID,
		userID:    in.UserID,
		row:       row,
		updatedAt: time.Now().UTC(),
	}
	m.byPolicy[in.PolicyID] = append(m.byPolicy[in.PolicyID], id)
	return id, nil
}

// InstallmentOwner returns the user that inserted a row.
func (m *Memory) InstallmentOwner(id parcela.InstallmentID) (parcela.UserID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.installments[id]
	return r.userID, ok
}

// Reset drops all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies = make(map[parcela.PolicyID]policyRow)
	m.installments = make(map[parcela.InstallmentID]installmentRow)
	m.byPolicy = make(map[parcela.PolicyID][]parcela.InstallmentID)
	return nil
}
