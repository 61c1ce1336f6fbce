/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Pre-built scenarios that populate the store with policies exercising
  each way a schedule can be derived, so the edit surface can be tried
  without a back office.

AVAILABLE SCENARIOS:
  persisted-rows:        Schedule already saved as installment rows
  embedded-installments: Schedule only in the policy's "installments" array
  legacy-parcelas:       Schedule only in the legacy "parcelas" array,
                         with the older field names and pt-BR amounts
  synthesized:           Only a premium and a count
  premium-mismatch:      Rows that add up to less than the premium
  portfolio:             All of the above

HOW SCENARIOS WORK:
  1. Reset the store (clear all data)
  2. Create policies via factory
  3. Optionally insert persisted rows
  4. Re-run the consistency checker

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "portfolio"}

NOTE:
  Scenarios reset the store. Only use in development/demo environments.
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/parcela-engine/parcela"
)

// SeedUser owns rows inserted by scenarios.
const SeedUser parcela.UserID = "seed"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	load func(ctx context.Context, h *Handler) error
}

var scenarios = []scenario{
	{
		ScenarioDTO{ID: "persisted-rows", Name: "Persisted Rows",
			Description: "Four saved installments with due dates; edits update them in place"},
		loadPersistedRows,
	},
	{
		ScenarioDTO{ID: "embedded-installments", Name: "Embedded Installments",
			Description: "Schedule only on the policy document; the first save inserts it"},
		loadEmbeddedInstallments,
	},
	{
		ScenarioDTO{ID: "legacy-parcelas", Name: "Legacy Parcelas",
			Description: "Older document shape: parcelas with number/value/dueDate and pt-BR amounts"},
		loadLegacyParcelas,
	},
	{
		ScenarioDTO{ID: "synthesized", Name: "Premium Only",
			Description: "Premium of R$ 2.400,00 in 12 installments and nothing else"},
		loadSynthesized,
	},
	{
		ScenarioDTO{ID: "premium-mismatch", Name: "Premium Mismatch",
			Description: "Installments add up to less than the premium and fewer than quantidade_parcelas"},
		loadPremiumMismatch,
	},
	{
		ScenarioDTO{ID: "portfolio", Name: "Portfolio",
			Description: "Every scenario above at once"},
		loadPortfolio,
	},
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.Lock()
	current := h.currentScenario
	h.scenarioMu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s.ScenarioDTO)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads one scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Load(r.Context(), req.ScenarioID); err != nil {
		var unknown *unknownScenarioError
		if errors.As(err, &unknown) {
			writeError(w, http.StatusBadRequest, "Unknown scenario", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
	})
}

// ResetDatabase clears every policy, row and open session.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.Checker.RunNow(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// Load resets the store and loads the named scenario. Used by the API and
// by startup seeding.
func (h *Handler) Load(ctx context.Context, id string) error {
	s, ok := findScenario(id)
	if !ok {
		return &unknownScenarioError{id: id}
	}
	if err := h.reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if err := s.load(ctx, h); err != nil {
		return fmt.Errorf("scenario %s: %w", id, err)
	}

	h.scenarioMu.Lock()
	h.currentScenario = id
	h.scenarioMu.Unlock()

	h.Checker.RunNow(ctx)
	return nil
}

func (h *Handler) reset(ctx context.Context) error {
	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	h.Sessions.CloseAll()
	h.scenarioMu.Lock()
	h.currentScenario = ""
	h.scenarioMu.Unlock()
	return nil
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

type unknownScenarioError struct{ id string }

func (e *unknownScenarioError) Error() string { return fmt.Sprintf("unknown scenario: %q", e.id) }

// =============================================================================
// LOADERS
// =============================================================================

func (h *Handler) savePolicyJSON(ctx context.Context, doc string) (parcela.Policy, error) {
	p, err := h.PolicyFactory.ParsePolicy([]byte(doc))
	if err != nil {
		return parcela.Policy{}, err
	}
	return p, h.Store.SavePolicy(ctx, p)
}

func loadPersistedRows(ctx context.Context, h *Handler) error {
	p, err := h.savePolicyJSON(ctx, `{
		"id": "apl-persisted",
		"user_id": "corretor-01",
		"numero_apolice": "0531.2025.000101",
		"segurado": "Maria Souza",
		"valor_premio": 1200.00,
		"quantidade_parcelas": 4,
		"custo_mensal": 300.00
	}`)
	if err != nil {
		return err
	}

	dates := []string{"2025-02-10", "2025-03-10", "2025-04-10", "2025-05-10"}
	for i, due := range dates {
		due := due
		_, err := h.Store.Insert(ctx, parcela.NewInstallment{
			PolicyID:   p.ID,
			UserID:     SeedUser,
			Numero:     i + 1,
			Valor:      decimal.NewFromInt(300),
			Vencimento: &due,
			Status:     seededStatus(i),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// The first persisted installment is already paid.
func seededStatus(i int) parcela.Status {
	if i == 0 {
		return parcela.StatusPaga
	}
	return parcela.StatusPendente
}

func loadEmbeddedInstallments(ctx context.Context, h *Handler) error {
	_, err := h.savePolicyJSON(ctx, `{
		"id": "apl-embedded",
		"user_id": "corretor-01",
		"numero_apolice": "0531.2025.000102",
		"segurado": "João Pereira",
		"valor_premio": 900.00,
		"quantidade_parcelas": 3,
		"installments": [
			{"numero": 1, "valor": 300.00, "vencimento": "2025-03-05"},
			{"numero": 2, "valor": 300.00, "vencimento": "2025-04-05"},
			{"numero": 3, "valor": 300.00}
		]
	}`)
	return err
}

func loadLegacyParcelas(ctx context.Context, h *Handler) error {
	_, err := h.savePolicyJSON(ctx, `{
		"id": "apl-legacy",
		"user_id": "corretor-02",
		"numero_apolice": "0531.2019.004410",
		"segurado": "Ana Lima",
		"premium": "1.000,00",
		"parcelas": [
			{"number": 1, "value": "250,00", "dueDate": "2019-07-01", "status": "paga"},
			{"number": 2, "value": "250,00", "dueDate": "2019-08-01", "status": "paga"},
			{"number": 3, "value": "250,00", "dueDate": "2019-09-01"},
			{"number": 4, "value": "250,00", "dueDate": "2019-10-01"}
		]
	}`)
	return err
}

func loadSynthesized(ctx context.Context, h *Handler) error {
	_, err := h.savePolicyJSON(ctx, `{
		"id": "apl-synth",
		"user_id": "corretor-02",
		"numero_apolice": "0531.2025.000103",
		"segurado": "Carlos Almeida",
		"valor_premio": 2400.00,
		"quantidade_parcelas": 12
	}`)
	return err
}

func loadPremiumMismatch(ctx context.Context, h *Handler) error {
	_, err := h.savePolicyJSON(ctx, `{
		"id": "apl-mismatch",
		"user_id": "corretor-03",
		"numero_apolice": "0531.2025.000104",
		"segurado": "Beatriz Costa",
		"valor_premio": 1000.00,
		"quantidade_parcelas": 3,
		"installments": [
			{"numero": 1, "valor": 400.00},
			{"numero": 2, "valor": 400.00}
		]
	}`)
	return err
}

func loadPortfolio(ctx context.Context, h *Handler) error {
	loaders := []func(context.Context, *Handler) error{
		loadPersistedRows,
		loadEmbeddedInstallments,
		loadLegacyParcelas,
		loadSynthesized,
		loadPremiumMismatch,
	}
	for _, load := range loaders {
		if err := load(ctx, h); err != nil {
			return err
		}
	}
	return nil
}
