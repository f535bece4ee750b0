/*
handlers.go - HTTP API handlers for the payroll engine

PURPOSE:
  Exposes payroll runs over REST. Handles uploads, stored templates and
  settings, and delegates every calculation to the pipeline package.

ENDPOINTS:
  Runs:
    POST   /api/preview                 Run every stage, return the summary
    POST   /api/process                 Run and produce filled workbooks
    GET    /api/runs                    Recent runs
    GET    /api/runs/{id}               One run with its summary

  Outputs:
    GET    /api/outputs                 Stored workbooks (?run_id=)
    GET    /api/outputs/{id}            Download a workbook

  Settings:
    GET    /api/settings                Current settings
    PUT    /api/settings                Replace settings (JSON)
    POST   /api/settings/reset          Back to defaults
    GET    /api/settings/export         Download as JSON
    POST   /api/settings/import         Upload a JSON export

  Templates:
    GET    /api/templates               Stored templates
    GET    /api/templates/{category}    Download a template
    POST   /api/templates/{category}    Upload (file, optional layout)
    DELETE /api/templates/{category}    Remove

  Roster and aliases:
    GET    /api/roster                  Stored roster
    PUT    /api/roster                  Upload a roster file
    GET    /api/aliases                 Confirmed name links
    PUT    /api/aliases                 Add a link
    DELETE /api/aliases/{source}        Remove a link

  Loans:
    GET    /api/loans/history           Loans closed by past runs (?employee=)

RUN UPLOADS (multipart/form-data):
  time       one or more timesheet files (xlsx, xls, csv), required
  roster     roster file; the stored roster is used when absent
  bonus      bonus sheet, optional
  loans      loans sheet, optional
  overrides  JSON OverridesRequest approving days over the sanity limit

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Format and validation errors, invalid input
  - 404: Stored resource not found
  - 422: Sanity check failure (body lists the violations)
  - 500: Internal errors

CONCURRENCY:
  Each run loads its own settings snapshot and builds its own Runner, so
  concurrent requests share nothing but the store.

SECURITY NOTE:
  No authentication. Deploy behind the office network or a proxy.
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/logging"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/pipeline"
	"github.com/warp/payroll-engine/sheet"
	"github.com/warp/payroll-engine/store/sqlite"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  *sqlite.Store
	Logger *zap.Logger
	// MaxUpload bounds the in-memory part of multipart uploads, in bytes.
	MaxUpload int64

	newID func() string
}

// NewHandler creates a new handler with the given store.
func NewHandler(store *sqlite.Store, logger *zap.Logger, maxUploadMB int) *Handler {
	if maxUploadMB <= 0 {
		maxUploadMB = 32
	}
	return &Handler{
		Store:     store,
		Logger:    logging.OrNop(logger),
		MaxUpload: int64(maxUploadMB) << 20,
		newID:     uuid.NewString,
	}
}

// Health reports liveness.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// RUN HANDLERS
// =============================================================================

// Preview runs every stage and returns the summary without writing anything.
// POST /api/preview
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, pipeline.ModePreview)
}

// Process runs every stage and stores the filled workbooks.
// POST /api/process
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, pipeline.ModeProcess)
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request, mode pipeline.Mode) {
	if err := r.ParseMultipartForm(h.MaxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid upload", err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	in, err := h.buildInput(r.Context(), r.MultipartForm)
	if err != nil {
		h.fail(w, "Invalid run input", err)
		return
	}
	resp, err := h.execute(r.Context(), in, mode)
	if err != nil {
		h.fail(w, "Run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// buildInput collects uploaded files and stored templates, roster and aliases.
func (h *Handler) buildInput(ctx context.Context, form *multipart.Form) (pipeline.Input, error) {
	var in pipeline.Input

	if len(form.File["time"]) == 0 {
		return in, &payroll.ValidationError{Field: "time", Reason: "at least one timesheet file is required"}
	}
	for _, fh := range form.File["time"] {
		src, err := readPart(fh)
		if err != nil {
			return in, err
		}
		in.Time = append(in.Time, src)
	}

	if fh := firstFile(form, "roster"); fh != nil {
		src, err := readPart(fh)
		if err != nil {
			return in, err
		}
		if in.Roster, err = pipeline.ReadRoster(src.Name, src.Data); err != nil {
			return in, err
		}
	} else {
		roster, err := h.Store.LoadRoster(ctx)
		if err != nil {
			return in, err
		}
		in.Roster = roster
	}

	for field, dst := range map[string]**pipeline.Source{"bonus": &in.Bonus, "loans": &in.Loans} {
		if fh := firstFile(form, field); fh != nil {
			src, err := readPart(fh)
			if err != nil {
				return in, err
			}
			*dst = &src
		}
	}

	if raw := strings.TrimSpace(firstValue(form, "overrides")); raw != "" {
		var req OverridesRequest
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			return in, &payroll.ValidationError{Field: "overrides", Reason: "not valid JSON: " + err.Error()}
		}
		in.Overrides = payroll.NewOverrideSet(req.Days...)
		in.Overrides.All = req.All
	}

	var err error
	if in.Aliases, err = h.Store.Aliases(ctx); err != nil {
		return in, err
	}
	in.Templates, in.Layouts, err = h.templates(ctx)
	return in, err
}

// templates loads every stored template and its layout override.
func (h *Handler) templates(ctx context.Context) (map[sheet.Category][]byte, map[sheet.Category]sheet.Layout, error) {
	list, err := h.Store.ListTemplates(ctx)
	if err != nil {
		return nil, nil, err
	}
	data := make(map[sheet.Category][]byte, len(list))
	layouts := make(map[sheet.Category]sheet.Layout)
	for _, meta := range list {
		t, err := h.Store.GetTemplate(ctx, meta.Category)
		if err != nil {
			return nil, nil, err
		}
		data[t.Category] = t.Data
		if t.Layout != "" {
			l, err := sheet.ParseLayout([]byte(t.Layout))
			if err != nil {
				return nil, nil, fmt.Errorf("stored layout %s: %w", t.Category, err)
			}
			layouts[t.Category] = l
		}
	}
	return data, layouts, nil
}

// execute runs the pipeline with the stored settings and records the run.
func (h *Handler) execute(ctx context.Context, in pipeline.Input, mode pipeline.Mode) (*RunResponse, error) {
	settings, _, err := h.Store.LoadSettings(ctx)
	if err != nil {
		return nil, err
	}
	runner, err := pipeline.New(settings, h.Logger)
	if err != nil {
		return nil, err
	}
	res, err := runner.Run(in, mode)
	if err != nil {
		return nil, err
	}

	summary, err := json.Marshal(res.Summary)
	if err != nil {
		return nil, fmt.Errorf("encode summary: %w", err)
	}
	record := sqlite.RunRecord{ID: res.Summary.RunID, Mode: string(mode), Summary: summary}
	if !res.Summary.Week.IsZero() {
		record.WeekFrom = res.Summary.Week.From.String()
		record.WeekTo = res.Summary.Week.To.String()
	}

	resp := &RunResponse{Summary: res.Summary, Cells: res.Cells}
	var outputs []sqlite.OutputRecord
	for _, o := range res.Outputs {
		rec := sqlite.OutputRecord{
			ID:       h.newID(),
			RunID:    record.ID,
			Category: string(o.Category),
			FileName: o.FileName,
			Data:     o.Data,
			Size:     len(o.Data),
		}
		outputs = append(outputs, rec)
		resp.Outputs = append(resp.Outputs, toOutputDTO(rec))
	}

	var closed []sqlite.LoanHistoryRecord
	if mode == pipeline.ModeProcess {
		for _, o := range res.Summary.ClosedLoans {
			closed = append(closed, sqlite.LoanHistoryRecord{
				Employee:     o.Loan.Employee,
				SourceName:   o.Loan.SourceName,
				LoanAmount:   o.Loan.LoanAmount,
				FinalPayment: o.Deduction,
				DateTaken:    o.Loan.DateTaken,
				ClosedOn:     record.WeekTo,
			})
		}
	}

	if err := h.Store.SaveRun(ctx, record, outputs, closed); err != nil {
		return nil, err
	}
	h.Logger.Info("run stored",
		zap.String("run_id", record.ID),
		zap.String("mode", record.Mode),
		zap.Int("outputs", len(outputs)),
		zap.Int("closed_loans", len(closed)),
	)
	return resp, nil
}

// ListRuns returns recent runs.
// GET /api/runs?limit=50
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.Store.ListRuns(r.Context(), limit)
	if err != nil {
		h.fail(w, "Failed to list runs", err)
		return
	}
	dtos := make([]RunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toRunDTO(run))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRun returns one run with its summary.
// GET /api/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.Store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "Run not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(*run))
}

// =============================================================================
// OUTPUT HANDLERS
// =============================================================================

// ListOutputs returns stored workbooks.
// GET /api/outputs?run_id=
func (h *Handler) ListOutputs(w http.ResponseWriter, r *http.Request) {
	list, err := h.Store.ListOutputs(r.Context(), r.URL.Query().Get("run_id"))
	if err != nil {
		h.fail(w, "Failed to list outputs", err)
		return
	}
	dtos := make([]OutputDTO, 0, len(list))
	for _, o := range list {
		dtos = append(dtos, toOutputDTO(o))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// DownloadOutput streams a stored workbook.
// GET /api/outputs/{id}
func (h *Handler) DownloadOutput(w http.ResponseWriter, r *http.Request) {
	o, err := h.Store.GetOutput(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "Output not found", err)
		return
	}
	writeFile(w, xlsxContentType, o.FileName, o.Data)
}

// =============================================================================
// SETTINGS HANDLERS
// =============================================================================

// GetSettings returns the current settings.
// GET /api/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, _, err := h.Store.LoadSettings(r.Context())
	if err != nil {
		h.fail(w, "Failed to load settings", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// UpdateSettings replaces the settings. Missing keys take their defaults.
// PUT /api/settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	h.saveSettings(r.Context(), w, data)
}

// ImportSettings accepts a settings export as an uploaded "file" or as the
// raw body.
// POST /api/settings/import
func (h *Handler) ImportSettings(w http.ResponseWriter, r *http.Request) {
	var data []byte
	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err = r.ParseMultipartForm(1 << 20); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid upload", err)
			return
		}
		fh := firstFile(r.MultipartForm, "file")
		if fh == nil {
			writeError(w, http.StatusBadRequest, "Missing file", nil)
			return
		}
		var src pipeline.Source
		if src, err = readPart(fh); err == nil {
			data = src.Data
		}
	} else {
		data, err = io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	h.saveSettings(r.Context(), w, data)
}

func (h *Handler) saveSettings(ctx context.Context, w http.ResponseWriter, data []byte) {
	s, err := config.FromJSON(data)
	if err != nil {
		h.fail(w, "Invalid settings", err)
		return
	}
	if err := h.Store.SaveSettings(ctx, s); err != nil {
		h.fail(w, "Failed to save settings", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// ResetSettings restores the defaults.
// POST /api/settings/reset
func (h *Handler) ResetSettings(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.ResetSettings(r.Context()); err != nil {
		h.fail(w, "Failed to reset settings", err)
		return
	}
	writeJSON(w, http.StatusOK, config.Defaults())
}

// ExportSettings downloads the settings as JSON.
// GET /api/settings/export
func (h *Handler) ExportSettings(w http.ResponseWriter, r *http.Request) {
	s, _, err := h.Store.LoadSettings(r.Context())
	if err != nil {
		h.fail(w, "Failed to load settings", err)
		return
	}
	data, err := config.ToJSON(s)
	if err != nil {
		h.fail(w, "Failed to export settings", err)
		return
	}
	writeFile(w, "application/json", "payroll-settings.json", data)
}

// =============================================================================
// TEMPLATE HANDLERS
// =============================================================================

// ListTemplates returns stored templates.
// GET /api/templates
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	list, err := h.Store.ListTemplates(r.Context())
	if err != nil {
		h.fail(w, "Failed to list templates", err)
		return
	}
	dtos := make([]TemplateDTO, 0, len(list))
	for _, t := range list {
		dtos = append(dtos, toTemplateDTO(t))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetTemplate downloads the template of a category.
// GET /api/templates/{category}
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	c, err := sheet.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		h.fail(w, "Invalid category", err)
		return
	}
	t, err := h.Store.GetTemplate(r.Context(), c)
	if err != nil {
		h.fail(w, "Template not found", err)
		return
	}
	writeFile(w, xlsxContentType, t.FileName, t.Data)
}

// UploadTemplate stores the workbook of a category. An optional "layout"
// part overrides the built-in YAML layout.
// POST /api/templates/{category}
func (h *Handler) UploadTemplate(w http.ResponseWriter, r *http.Request) {
	c, err := sheet.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		h.fail(w, "Invalid category", err)
		return
	}
	if err := r.ParseMultipartForm(h.MaxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid upload", err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	fh := firstFile(r.MultipartForm, "file")
	if fh == nil {
		writeError(w, http.StatusBadRequest, "Missing file", nil)
		return
	}
	src, err := readPart(fh)
	if err != nil {
		h.fail(w, "Invalid upload", err)
		return
	}

	layout, err := sheet.Builtin(c)
	if err != nil {
		h.fail(w, "Invalid category", err)
		return
	}
	record := sqlite.TemplateRecord{Category: c, FileName: src.Name, Data: src.Data}
	if lf := firstFile(r.MultipartForm, "layout"); lf != nil {
		raw, err := readPart(lf)
		if err != nil {
			h.fail(w, "Invalid layout", err)
			return
		}
		if layout, err = sheet.ParseLayout(raw.Data); err != nil {
			h.fail(w, "Invalid layout", err)
			return
		}
		if layout.Category != c {
			h.fail(w, "Invalid layout", &payroll.ValidationError{Field: "layout.category", Value: layout.Category,
				Reason: fmt.Sprintf("must be %s", c)})
			return
		}
		record.Layout = string(raw.Data)
	}

	// Reject workbooks the run would not be able to open.
	wr, err := sheet.Open(src.Data, layout.Sheet)
	if err != nil {
		h.fail(w, "Invalid template", err)
		return
	}
	wr.Close()

	if err := h.Store.SaveTemplate(r.Context(), record); err != nil {
		h.fail(w, "Failed to save template", err)
		return
	}
	saved, err := h.Store.GetTemplate(r.Context(), c)
	if err != nil {
		h.fail(w, "Failed to save template", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTemplateDTO(*saved))
}

// DeleteTemplate removes the template of a category; runs then generate a
// fresh workbook from the layout.
// DELETE /api/templates/{category}
func (h *Handler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	c, err := sheet.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		h.fail(w, "Invalid category", err)
		return
	}
	if err := h.Store.DeleteTemplate(r.Context(), c); err != nil {
		h.fail(w, "Failed to delete template", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ROSTER AND ALIAS HANDLERS
// =============================================================================

// GetRoster returns the stored roster.
// GET /api/roster
func (h *Handler) GetRoster(w http.ResponseWriter, r *http.Request) {
	roster, err := h.Store.LoadRoster(r.Context())
	if err != nil {
		h.fail(w, "Failed to load roster", err)
		return
	}
	if roster == nil {
		roster = []payroll.Employee{}
	}
	writeJSON(w, http.StatusOK, roster)
}

// UploadRoster replaces the stored roster with an uploaded file.
// PUT /api/roster
func (h *Handler) UploadRoster(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.MaxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid upload", err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	fh := firstFile(r.MultipartForm, "file")
	if fh == nil {
		writeError(w, http.StatusBadRequest, "Missing file", nil)
		return
	}
	src, err := readPart(fh)
	if err != nil {
		h.fail(w, "Invalid upload", err)
		return
	}
	roster, err := pipeline.ReadRoster(src.Name, src.Data)
	if err != nil {
		h.fail(w, "Invalid roster", err)
		return
	}
	if err := h.Store.SaveRoster(r.Context(), roster); err != nil {
		h.fail(w, "Failed to save roster", err)
		return
	}
	writeJSON(w, http.StatusOK, roster)
}

// ListAliases returns confirmed name links.
// GET /api/aliases
func (h *Handler) ListAliases(w http.ResponseWriter, r *http.Request) {
	aliases, err := h.Store.Aliases(r.Context())
	if err != nil {
		h.fail(w, "Failed to list aliases", err)
		return
	}
	writeJSON(w, http.StatusOK, aliases)
}

// SaveAlias links a source name to a roster employee.
// PUT /api/aliases
func (h *Handler) SaveAlias(w http.ResponseWriter, r *http.Request) {
	var req AliasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.SourceName = strings.TrimSpace(req.SourceName)
	req.Canonical = strings.TrimSpace(req.Canonical)
	if req.SourceName == "" || req.Canonical == "" {
		writeError(w, http.StatusBadRequest, "source_name and canonical are required", nil)
		return
	}

	roster, err := h.Store.LoadRoster(r.Context())
	if err != nil {
		h.fail(w, "Failed to load roster", err)
		return
	}
	if len(roster) > 0 && !onRoster(roster, req.Canonical) {
		h.fail(w, "Unknown employee", &payroll.ValidationError{Field: "canonical", Value: req.Canonical, Reason: "not on the roster"})
		return
	}

	if err := h.Store.SaveAlias(r.Context(), req.SourceName, req.Canonical); err != nil {
		h.fail(w, "Failed to save alias", err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// DeleteAlias removes a link.
// DELETE /api/aliases/{source}
func (h *Handler) DeleteAlias(w http.ResponseWriter, r *http.Request) {
	source, err := url.PathUnescape(chi.URLParam(r, "source"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid source name", err)
		return
	}
	if err := h.Store.DeleteAlias(r.Context(), source); err != nil {
		h.fail(w, "Failed to delete alias", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func onRoster(roster []payroll.Employee, name string) bool {
	for _, e := range roster {
		if strings.EqualFold(e.Name, name) {
			return true
		}
	}
	return false
}

// LoanHistory lists loans closed by past process runs.
// GET /api/loans/history?employee=
func (h *Handler) LoanHistory(w http.ResponseWriter, r *http.Request) {
	list, err := h.Store.LoanHistory(r.Context(), r.URL.Query().Get("employee"))
	if err != nil {
		h.fail(w, "Failed to load loan history", err)
		return
	}
	if list == nil {
		list = []sqlite.LoanHistoryRecord{}
	}
	writeJSON(w, http.StatusOK, list)
}

// ResetDatabase clears all data.
// POST /api/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

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

func writeFile(w http.ResponseWriter, contentType, name string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// errorStatus maps the payroll error taxonomy to HTTP statuses.
func errorStatus(err error) int {
	switch {
	case payroll.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, payroll.ErrSanityCheck):
		return http.StatusUnprocessableEntity
	case payroll.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with the status its kind maps to. Sanity failures carry
// their violations.
func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error(message, zap.Error(err))
	}
	resp := ErrorResponse{Error: message, Details: err.Error()}
	var sf *payroll.SanityCheckFailure
	if errors.As(err, &sf) {
		resp.Violations = sf.Violations
	}
	writeJSON(w, status, resp)
}

func firstFile(form *multipart.Form, field string) *multipart.FileHeader {
	if form == nil || len(form.File[field]) == 0 {
		return nil
	}
	return form.File[field][0]
}

func firstValue(form *multipart.Form, field string) string {
	if form == nil || len(form.Value[field]) == 0 {
		return ""
	}
	return form.Value[field][0]
}

func readPart(fh *multipart.FileHeader) (pipeline.Source, error) {
	f, err := fh.Open()
	if err != nil {
		return pipeline.Source{}, fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return pipeline.Source{}, fmt.Errorf("read upload %s: %w", fh.Filename, err)
	}
	return pipeline.Source{Name: fh.Filename, Data: data}, nil
}
