/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Run summaries are
  returned as the pipeline produces them; everything stored (templates,
  runs, outputs) gets a DTO so binary data never ends up in JSON.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Validation is done in handlers and in the core packages, not in DTOs.
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/pipeline"
	"github.com/warp/payroll-engine/sheet"
	"github.com/warp/payroll-engine/store/sqlite"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// TemplateDTO describes a stored template.
type TemplateDTO struct {
	Category   sheet.Category `json:"category"`
	FileName   string         `json:"file_name"`
	HasLayout  bool           `json:"has_layout"`
	UploadedAt string         `json:"uploaded_at"`
}

// OutputDTO describes a stored workbook. URL downloads it.
type OutputDTO struct {
	ID        string `json:"id"`
	RunID     string `json:"run_id"`
	Category  string `json:"category"`
	FileName  string `json:"file_name"`
	Size      int    `json:"size"`
	URL       string `json:"url"`
	CreatedAt string `json:"created_at,omitempty"`
}

// RunDTO lists a stored run.
type RunDTO struct {
	ID        string          `json:"id"`
	Mode      string          `json:"mode"`
	WeekFrom  string          `json:"week_from,omitempty"`
	WeekTo    string          `json:"week_to,omitempty"`
	CreatedAt string          `json:"created_at"`
	Summary   json.RawMessage `json:"summary,omitempty"`
}

// RunResponse is returned by preview and process.
type RunResponse struct {
	Summary pipeline.Summary `json:"summary"`
	Cells   []sheet.Mapping  `json:"cells,omitempty"`
	Outputs []OutputDTO      `json:"outputs,omitempty"`
}

// OverridesRequest approves days over the sanity limit. It is sent as the
// "overrides" field of a run upload.
type OverridesRequest struct {
	All  bool                     `json:"all"`
	Days []payroll.SanityOverride `json:"days"`
}

// AliasRequest links a source name to a roster name.
type AliasRequest struct {
	SourceName string `json:"source_name"`
	Canonical  string `json:"canonical"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the body of every failed request. Violations is set for
// sanity check failures so the operator can approve the listed days.
type ErrorResponse struct {
	Error      string                    `json:"error"`
	Details    string                    `json:"details,omitempty"`
	Violations []payroll.SanityViolation `json:"violations,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toTemplateDTO(t sqlite.TemplateRecord) TemplateDTO {
	return TemplateDTO{
		Category:   t.Category,
		FileName:   t.FileName,
		HasLayout:  t.Layout != "",
		UploadedAt: t.UploadedAt.Format(time.RFC3339),
	}
}

func toOutputDTO(o sqlite.OutputRecord) OutputDTO {
	dto := OutputDTO{
		ID:       o.ID,
		RunID:    o.RunID,
		Category: o.Category,
		FileName: o.FileName,
		Size:     o.Size,
		URL:      "/api/outputs/" + o.ID,
	}
	if !o.CreatedAt.IsZero() {
		dto.CreatedAt = o.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toRunDTO(r sqlite.RunRecord) RunDTO {
	dto := RunDTO{
		ID:        r.ID,
		Mode:      r.Mode,
		WeekFrom:  r.WeekFrom,
		WeekTo:    r.WeekTo,
		CreatedAt: r.CreatedAt.Format(time.RFC3339),
	}
	if len(r.Summary) > 0 {
		dto.Summary = json.RawMessage(r.Summary)
	}
	return dto
}
