/*
scenarios.go - Demo scenarios for testing and demonstrations

PURPOSE:
  Provides pre-built inputs that exercise one rule each, so the office can
  see how a setting changes the result before trying real timesheets.

AVAILABLE SCENARIOS:
  special-rounding: 8h25m rounds down to 8, not up to 8.5
  type-b-cash:      five 9 hour days for a Type B employee go 40/5 to cash
  fuzzy-names:      "SMYTH, JON" is matched to John Smith by last name
  loan-short:       a loan payment larger than the cash owed rolls over
  sanity-limit:     an 18 hour day stops the run until approved

HOW SCENARIOS WORK:
  Load replaces the stored roster with the scenario's roster (and clears
  runs, templates and aliases). Preview runs the scenario's files against
  the stored settings, like an upload would.

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "type-b-cash"}

  POST /api/scenarios/type-b-cash/preview

NOTE:
  Load resets the database. Only use in development/demo environments.
*/
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/pipeline"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	roster []payroll.Employee
	time   string
	bonus  string
	loans  string
}

func rates(regular, overtime string) payroll.CashRates {
	return payroll.CashRates{Regular: decimal.RequireFromString(regular), Overtime: decimal.RequireFromString(overtime)}
}

var demoRoster = []payroll.Employee{
	{Name: "Ana Ruiz", Type: payroll.TypeA, Position: "Laborer", Rates: rates("18", "27")},
	{Name: "Bo Diaz", Type: payroll.TypeB, Position: "Operator", Rates: rates("15", "22.5")},
	{Name: "John Smith", Type: payroll.TypeC, Position: "Foreman", Rates: rates("20", "30")},
	{Name: "Jane Smithers", Type: payroll.TypeA, Position: "Laborer", Rates: rates("18", "27")},
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "special-rounding",
			Name:        "Special Rounding",
			Description: "8h25m is rounded down to 8.0 by the special window, not up to 8.5",
		},
		roster: demoRoster,
		time:   "Employee,Date,Hours\nAna Ruiz,2025-03-06,8:25\nAna Ruiz,2025-03-07,8:40\n",
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "type-b-cash",
			Name:        "Type B Cash",
			Description: "Five 9 hour days for a Type B employee: 40 cash regular, 5 cash overtime",
		},
		roster: demoRoster,
		time: "Employee,Date,Hours\n" +
			"Bo Diaz,2025-03-06,9\nBo Diaz,2025-03-07,9\nBo Diaz,2025-03-10,9\n" +
			"Bo Diaz,2025-03-11,9\nBo Diaz,2025-03-12,9\n",
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "fuzzy-names",
			Name:        "Fuzzy Names",
			Description: "\"SMYTH, JON\" is matched to John Smith on the last name; \"Zed Quinn\" is reported",
		},
		roster: demoRoster,
		time:   "Employee,Date,Hours\n\"SMYTH, JON\",2025-03-06,8\nZed Quinn,2025-03-06,6\n",
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "loan-short",
			Name:        "Loan Short Of Cash",
			Description: "Bo owes $80 this week but only earned $60 in cash; $20 rolls to next week",
		},
		roster: demoRoster,
		time:   "Employee,Date,Hours\nBo Diaz,2025-03-06,4\n",
		loans:  "Name,Loan Amount,Payment,Total Paid,Balance\nBo Diaz,200,80,0,200\n",
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "sanity-limit",
			Name:        "Sanity Limit",
			Description: "An 18 hour day stops the run until the day is approved",
		},
		roster: demoRoster,
		time:   "Employee,Date,Hours\nAna Ruiz,2025-03-06,18\n",
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

func (s scenario) input() pipeline.Input {
	in := pipeline.Input{
		Time:   []pipeline.Source{{Name: s.ID + ".csv", Data: []byte(s.time)}},
		Roster: s.roster,
	}
	if s.bonus != "" {
		in.Bonus = &pipeline.Source{Name: s.ID + "-bonus.csv", Data: []byte(s.bonus)}
	}
	if s.loans != "" {
		in.Loans = &pipeline.Source{Name: s.ID + "-loans.csv", Data: []byte(s.loans)}
	}
	return in
}

// =============================================================================
// SCENARIO HANDLERS
// =============================================================================

// ListScenarios returns available demo scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LoadScenarioRequest selects a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// LoadScenario resets the database and stores the scenario's roster.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown scenario: "+req.ScenarioID, nil)
		return
	}

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	if err := h.Store.SaveRoster(ctx, s.roster); err != nil {
		h.fail(w, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "scenario": s.ID})
}

// PreviewScenario runs a scenario's files in preview mode.
// POST /api/scenarios/{id}/preview
func (h *Handler) PreviewScenario(w http.ResponseWriter, r *http.Request) {
	s, ok := findScenario(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown scenario", nil)
		return
	}
	resp, err := h.execute(r.Context(), s.input(), pipeline.ModePreview)
	if err != nil {
		h.fail(w, "Run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
