/*
handlers_test.go - HTTP tests for the API

Tests run the full router against an in-memory store:
- settings round trips and validation
- template upload/download/delete
- preview and process uploads, stored runs and downloads
- error statuses (400, 404, 422)
- demo scenarios
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/store/sqlite"
)

type part struct {
	field, name, body string
}

type testServer struct {
	t     *testing.T
	h     *Handler
	store *sqlite.Store
	http  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := NewHandler(store, nil, 8)
	n := 0
	h.newID = func() string {
		n++
		return fmt.Sprintf("out-%d", n)
	}
	return &testServer{t: t, h: h, store: store, http: NewRouter(h, nil)}
}

func (s *testServer) do(method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.http.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) upload(method, path string, parts []part, values map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		fw, err := mw.CreateFormFile(p.field, p.name)
		require.NoError(s.t, err)
		_, err = fw.Write([]byte(p.body))
		require.NoError(s.t, err)
	}
	for k, v := range values {
		require.NoError(s.t, mw.WriteField(k, v))
	}
	require.NoError(s.t, mw.Close())
	return s.do(method, path, mw.FormDataContentType(), buf.Bytes())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const (
	rosterCSV = "Name,Type,Rate,OT Rate\nAnn Lee,A,20,30\nBo Diaz,B,15,22.5\n"
	weekCSV   = "Employee,Date,Hours\n" +
		"Bo Diaz,2025-03-06,9\nBo Diaz,2025-03-07,9\nBo Diaz,2025-03-10,9\nBo Diaz,2025-03-11,9\nBo Diaz,2025-03-12,9\n" +
		"\"LEE, ANN\",2025-03-06,8:25\n"
)

func xlsxBytes(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, r := range rows {
		ref, _ := excelize.CoordinatesToCellName(1, i+1)
		row := r
		require.NoError(t, f.SetSheetRow("Sheet1", ref, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

// =============================================================================
// SETTINGS
// =============================================================================

func TestSettings_RoundTrip(t *testing.T) {
	s := newTestServer(t)

	// GIVEN a fresh install
	rec := s.do("GET", "/api/settings", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	want, err := config.ToJSON(config.Defaults())
	require.NoError(t, err)
	got, err := config.ToJSON(decode[config.Settings](t, rec))
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))

	// WHEN a partial document is saved
	rec = s.do("PUT", "/api/settings", "application/json", []byte(`{"rounding":{"round_to":0.25}}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN the change sticks and other keys keep their defaults
	saved := decode[config.Settings](t, s.do("GET", "/api/settings", "", nil))
	assert.Equal(t, "0.25", saved.Rounding.RoundTo.String())
	assert.Equal(t, 92, saved.Matching.StrictScore)

	// AND reset goes back to defaults
	rec = s.do("POST", "/api/settings/reset", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	reset := decode[config.Settings](t, s.do("GET", "/api/settings", "", nil))
	assert.Equal(t, "0.5", reset.Rounding.RoundTo.String())
}

func TestSettings_Rejects(t *testing.T) {
	s := newTestServer(t)

	cases := map[string]string{
		"out of range": `{"rounding":{"round_to":0.3}}`,
		"unknown key":  `{"rounding":{"round_too":0.5}}`,
		"not json":     `{`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := s.do("PUT", "/api/settings", "application/json", []byte(body))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "Invalid settings", decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestSettings_ExportImport(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do("PUT", "/api/settings", "application/json", []byte(`{"matching":{"strict_score":95}}`)).Code)

	// WHEN exported and imported into another install
	rec := s.do("GET", "/api/settings/export", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "payroll-settings.json")
	exported := rec.Body.String()

	other := newTestServer(t)
	rec = other.upload("POST", "/api/settings/import", []part{{"file", "settings.json", exported}}, nil)

	// THEN the settings match
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[config.Settings](t, other.do("GET", "/api/settings", "", nil))
	assert.Equal(t, 95, got.Matching.StrictScore)
}

// =============================================================================
// TEMPLATES
// =============================================================================

func TestTemplates_Lifecycle(t *testing.T) {
	s := newTestServer(t)
	data := xlsxBytes(t, [][]any{{"Name", "Position", "Type", "Hours"}, {"Ann Lee", "", "R"}})

	// upload
	rec := s.upload("POST", "/api/templates/payroll", []part{{"file", "payroll.xlsx", string(data)}}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "payroll.xlsx", decode[TemplateDTO](t, rec).FileName)

	// list
	list := decode[[]TemplateDTO](t, s.do("GET", "/api/templates", "", nil))
	require.Len(t, list, 1)
	assert.False(t, list[0].HasLayout)

	// download
	rec = s.do("GET", "/api/templates/payroll", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, data, rec.Body.Bytes())
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))

	// delete twice
	assert.Equal(t, http.StatusNoContent, s.do("DELETE", "/api/templates/payroll", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do("DELETE", "/api/templates/payroll", "", nil).Code)
}

func TestTemplates_Rejects(t *testing.T) {
	s := newTestServer(t)
	data := string(xlsxBytes(t, [][]any{{"Name"}}))

	rec := s.upload("POST", "/api/templates/bonus", []part{{"file", "x.xlsx", data}}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.upload("POST", "/api/templates/cash", []part{{"file", "x.csv", "Name\nAnn\n"}}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	layout := "category: payroll\nname_column: A\n"
	rec = s.upload("POST", "/api/templates/cash", []part{{"file", "x.xlsx", data}, {"layout", "l.yaml", layout}}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusNotFound, s.do("GET", "/api/templates/cash", "", nil).Code)
}

// =============================================================================
// RUNS
// =============================================================================

func TestPreview(t *testing.T) {
	s := newTestServer(t)

	// GIVEN a week and a roster
	parts := []part{{"time", "week.csv", weekCSV}, {"roster", "roster.csv", rosterCSV}}

	// WHEN previewed
	rec := s.upload("POST", "/api/preview", parts, nil)

	// THEN the summary is returned and the run is recorded without outputs
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[RunResponse](t, rec)
	assert.Equal(t, 6, resp.Summary.Counts.Days)
	assert.Equal(t, 2, resp.Summary.Counts.Employees)
	assert.Empty(t, resp.Outputs)
	assert.Empty(t, resp.Cells)
	assert.Contains(t, resp.Summary.Message, "Week 03/06/2025 - 03/12/2025")

	runs := decode[[]RunDTO](t, s.do("GET", "/api/runs", "", nil))
	require.Len(t, runs, 1)
	assert.Equal(t, "preview", runs[0].Mode)
	assert.Equal(t, "2025-03-12", runs[0].WeekTo)

	one := decode[RunDTO](t, s.do("GET", "/api/runs/"+resp.Summary.RunID, "", nil))
	assert.NotEmpty(t, one.Summary)
}

func TestProcess_StoresOutputs(t *testing.T) {
	s := newTestServer(t)
	parts := []part{
		{"time", "week.csv", weekCSV},
		{"roster", "roster.csv", rosterCSV},
		{"loans", "loans.csv", "Name,Loan Amount,Payment,Total Paid,Balance\nBo Diaz,500,100,450,50\n"},
	}

	rec := s.upload("POST", "/api/process", parts, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[RunResponse](t, rec)
	require.Len(t, resp.Outputs, 3)
	assert.NotEmpty(t, resp.Cells)
	assert.Equal(t, "/api/outputs/out-1", resp.Outputs[0].URL)

	// downloads open as workbooks
	dl := s.do("GET", resp.Outputs[1].URL, "", nil)
	require.Equal(t, http.StatusOK, dl.Code)
	f, err := excelize.OpenReader(bytes.NewReader(dl.Body.Bytes()))
	require.NoError(t, err)
	f.Close()

	list := decode[[]OutputDTO](t, s.do("GET", "/api/outputs?run_id="+resp.Summary.RunID, "", nil))
	assert.Len(t, list, 3)

	// the paid-off loan is in the history
	hist := decode[[]sqlite.LoanHistoryRecord](t, s.do("GET", "/api/loans/history?employee=Bo%20Diaz", "", nil))
	require.Len(t, hist, 1)
	assert.Equal(t, "2025-03-12", hist[0].ClosedOn)
}

func TestRun_Errors(t *testing.T) {
	s := newTestServer(t)

	// no timesheet
	rec := s.upload("POST", "/api/preview", []part{{"roster", "roster.csv", rosterCSV}}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// no roster stored or uploaded
	rec = s.upload("POST", "/api/preview", []part{{"time", "week.csv", weekCSV}}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// a bad cell
	rec = s.upload("POST", "/api/preview", []part{
		{"time", "week.csv", "Employee,Date,Hours\nBo Diaz,2025-03-06,lots\n"},
		{"roster", "roster.csv", rosterCSV},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Details, "week.csv")

	// nothing is recorded for failed runs
	runs := decode[[]RunDTO](t, s.do("GET", "/api/runs", "", nil))
	assert.Empty(t, runs)
}

func TestRun_SanityFailureAndOverride(t *testing.T) {
	s := newTestServer(t)
	parts := []part{
		{"time", "week.csv", "Employee,Date,Hours\nBo Diaz,2025-03-06,18\n"},
		{"roster", "roster.csv", rosterCSV},
	}

	// GIVEN an 18 hour day
	rec := s.upload("POST", "/api/process", parts, nil)

	// THEN the run is refused with the violation listed
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	require.Len(t, resp.Violations, 1)
	assert.Equal(t, "Bo Diaz", resp.Violations[0].Employee)

	// WHEN the day is approved
	rec = s.upload("POST", "/api/process", parts, map[string]string{
		"overrides": `{"days":[{"employee":"Bo Diaz","date":"2025-03-06"}]}`,
	})

	// THEN it goes through
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRosterAndAliases(t *testing.T) {
	s := newTestServer(t)

	// GIVEN a stored roster
	rec := s.upload("PUT", "/api/roster", []part{{"file", "roster.csv", rosterCSV}}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// aliases must name a roster employee
	rec = s.do("PUT", "/api/aliases", "application/json", []byte(`{"source_name":"Zed","canonical":"Nobody"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do("PUT", "/api/aliases", "application/json", []byte(`{"source_name":"Bobby D","canonical":"Bo Diaz"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	// WHEN a timesheet uses the alias and no roster is uploaded
	rec = s.upload("POST", "/api/preview", []part{{"time", "week.csv", "Employee,Date,Hours\nBobby D,2025-03-06,8\n"}}, nil)

	// THEN the stored roster and alias are used
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[RunResponse](t, rec)
	assert.Empty(t, resp.Summary.Unmatched)
	require.Len(t, resp.Summary.Allocations, 1)
	assert.Equal(t, "Bo Diaz", resp.Summary.Allocations[0].Employee)

	assert.Equal(t, http.StatusNoContent, s.do("DELETE", "/api/aliases/Bobby%20D", "", nil).Code)
	assert.Empty(t, decode[map[string]string](t, s.do("GET", "/api/aliases", "", nil)))
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenarios(t *testing.T) {
	s := newTestServer(t)

	list := decode[[]ScenarioDTO](t, s.do("GET", "/api/scenarios", "", nil))
	assert.Len(t, list, len(scenarios))

	rec := s.do("POST", "/api/scenarios/load", "application/json", []byte(`{"scenario_id":"type-b-cash"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	roster := decode[[]map[string]any](t, s.do("GET", "/api/roster", "", nil))
	assert.Len(t, roster, len(demoRoster))

	rec = s.do("POST", "/api/scenarios/type-b-cash/preview", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[RunResponse](t, rec)
	require.Len(t, resp.Summary.Allocations, 1)
	assert.Equal(t, "40", resp.Summary.Allocations[0].CashRegular.String())
	assert.Equal(t, "5", resp.Summary.Allocations[0].CashOvertime.String())

	rec = s.do("POST", "/api/scenarios/loan-short/preview", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, strings.Join(decode[RunResponse](t, rec).Summary.LoanNotes, "\n"), "$20.00 rolled")

	rec = s.do("POST", "/api/scenarios/sanity-limit/preview", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	assert.Equal(t, http.StatusNotFound, s.do("POST", "/api/scenarios/nope/preview", "", nil).Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do("GET", "/api/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
