package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/coverdeck/coverdeck/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// AddRepoRequest is the JSON body for the repository registration endpoint.
type AddRepoRequest struct {
	Provider      string   `json:"provider"`
	ServiceID     string   `json:"service_id"`
	Name          string   `json:"name"`
	BundleCaching []string `json:"bundle_caching"`
}

// RepoResponse is the JSON representation of a registered repository.
type RepoResponse struct {
	ID            int64    `json:"id"`
	Provider      string   `json:"provider"`
	ServiceID     string   `json:"service_id"`
	Name          string   `json:"name"`
	BundleCaching []string `json:"bundle_caching"`
	CreatedAt     string   `json:"created_at"`
}

// CreateUploadRequest is the JSON body for the upload intake endpoint.
// Payload carries the raw artifact verbatim; the pipeline parses it later,
// so a malformed payload is accepted here and classified during merge.
type CreateUploadRequest struct {
	Branch     string          `json:"branch"`
	ParentSHA  string          `json:"parent_sha"`
	Flags      []string        `json:"flags"`
	ReportType string          `json:"report_type"`
	ReportCode string          `json:"report_code"`
	CommitYAML string          `json:"commit_yaml"`
	Payload    json.RawMessage `json:"payload"`
}

// UploadResponse is the JSON representation of one upload.
type UploadResponse struct {
	ExternalID  string                `json:"external_id"`
	StoragePath string                `json:"storage_path"`
	OrderNumber int                   `json:"order_number"`
	State       string                `json:"state"`
	Type        string                `json:"type"`
	Flags       []string              `json:"flags"`
	Totals      *model.Totals         `json:"totals,omitempty"`
	Errors      []UploadErrorResponse `json:"errors,omitempty"`
	CreatedAt   string                `json:"created_at"`
}

// UploadErrorResponse is one structured failure record of an upload.
type UploadErrorResponse struct {
	Code      string            `json:"code"`
	Retryable bool              `json:"retryable"`
	Params    map[string]string `json:"params"`
}

// TotalsResponse is the JSON representation of a report's aggregate state.
type TotalsResponse struct {
	CommitSHA   string        `json:"commit_sha"`
	CommitState string        `json:"commit_state"`
	ReportType  string        `json:"report_type"`
	ReportCode  string        `json:"report_code,omitempty"`
	Totals      *model.Totals `json:"totals"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// toRepoResponse converts a domain Repository to its JSON representation.
func toRepoResponse(repo model.Repository) RepoResponse {
	caching := repo.BundleCaching
	if caching == nil {
		caching = []string{}
	}
	return RepoResponse{
		ID:            repo.ID,
		Provider:      repo.Provider,
		ServiceID:     repo.ServiceID,
		Name:          repo.Name,
		BundleCaching: caching,
		CreatedAt:     repo.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// toUploadResponse converts a domain Upload and its failure records to the
// JSON representation.
func toUploadResponse(u model.Upload, errs []model.UploadError) UploadResponse {
	flags := u.Flags
	if flags == nil {
		flags = []string{}
	}
	resp := UploadResponse{
		ExternalID:  u.ExternalID,
		StoragePath: u.StoragePath,
		OrderNumber: u.OrderNumber,
		State:       string(u.State),
		Type:        string(u.Type),
		Flags:       flags,
		Totals:      u.Totals,
		CreatedAt:   u.CreatedAt.UTC().Format(time.RFC3339),
	}
	for _, e := range errs {
		resp.Errors = append(resp.Errors, UploadErrorResponse{
			Code:      string(e.Code),
			Retryable: e.Code.Retryable(),
			Params:    e.Params,
		})
	}
	return resp
}
