package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/parcela-engine/parcela"
)

func TestScenarios_DerivationSources(t *testing.T) {
	cases := []struct {
		scenario string
		policy   string
		source   parcela.Source
		rows     int
		mismatch bool
	}{
		{"persisted-rows", "apl-persisted", parcela.SourcePersisted, 4, false},
		{"embedded-installments", "apl-embedded", parcela.SourceInstallments, 3, false},
		{"legacy-parcelas", "apl-legacy", parcela.SourceParcelas, 4, false},
		{"synthesized", "apl-synth", parcela.SourceSynthesized, 12, false},
		{"premium-mismatch", "apl-mismatch", parcela.SourceInstallments, 2, true},
	}

	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			s := newTestServer(t)

			rec := s.do(http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: tc.scenario})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			rec = s.do(http.MethodGet, "/api/policies/"+tc.policy+"/installments", "", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			sched := decode[ScheduleDTO](t, rec)
			assert.Equal(t, string(tc.source), sched.Source)
			assert.Len(t, sched.Rows, tc.rows)
			assert.Equal(t, tc.mismatch, sched.Summary.Mismatch)

			rec = s.do(http.MethodGet, "/api/scenarios/current", "", nil)
			assert.Equal(t, tc.scenario, decode[ScenarioDTO](t, rec).ID)
		})
	}
}

func TestScenarios_LegacyFieldNames(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: "legacy-parcelas"})

	sched := decode[ScheduleDTO](t, s.do(http.MethodGet, "/api/policies/apl-legacy/installments", "", nil))

	require.Len(t, sched.Rows, 4)
	assert.Equal(t, "250.00", sched.Rows[0].Valor)
	require.NotNil(t, sched.Rows[0].Vencimento)
	assert.Equal(t, "2019-07-01", *sched.Rows[0].Vencimento)
	assert.Equal(t, string(parcela.StatusPaga), sched.Rows[0].Status)
	assert.Equal(t, string(parcela.StatusPendente), sched.Rows[3].Status)
	assert.Equal(t, "1000.00", sched.Summary.Premium)
}

func TestScenarios_PortfolioConsistency(t *testing.T) {
	// GIVEN: Every scenario loaded at once
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: "portfolio"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// WHEN: Reading the report the load produced
	report := decode[ConsistencyReportDTO](t, s.do(http.MethodGet, "/api/consistency", "", nil))

	// THEN: Only the mismatched policy is reported, for both sum and count
	assert.Equal(t, 5, report.Checked)
	require.NotNil(t, report.RunAt)
	require.Len(t, report.Issues, 2)
	kinds := map[string]ConsistencyIssueDTO{}
	for _, issue := range report.Issues {
		assert.Equal(t, "apl-mismatch", issue.PolicyID)
		kinds[issue.Kind] = issue
	}
	assert.Equal(t, "1000.00", kinds[string(IssueSumMismatch)].Expected)
	assert.Equal(t, "800.00", kinds[string(IssueSumMismatch)].Actual)
	assert.Equal(t, "3", kinds[string(IssueCountMismatch)].Expected)
	assert.Equal(t, "2", kinds[string(IssueCountMismatch)].Actual)
}

func TestScenarios_ResetAndUnknown(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: "synthesized"})
	sess := s.openSession("apl-synth")

	rec := s.do(http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/scenarios/reset", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Empty(t, decode[[]PolicyDTO](t, s.do(http.MethodGet, "/api/policies", "", nil)))
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/sessions/"+sess.ID, "", nil).Code)

	rec = s.do(http.MethodGet, "/api/scenarios", "", nil)
	assert.Len(t, decode[[]ScenarioDTO](t, rec), len(scenarios))
}
