// Package api exposes the HTTP surface of the ingestion service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/aslobodnik/health-sync/internal/domain"
	"github.com/aslobodnik/health-sync/internal/server/auth"
	"github.com/aslobodnik/health-sync/internal/server/ingest"
	"github.com/aslobodnik/health-sync/internal/server/refresh"
	"github.com/aslobodnik/health-sync/internal/wire"
)

const maxBatchBody = 16 << 20

// RecordCounter reports stored record counts for the status surface.
type RecordCounter interface {
	CountRecords(ctx context.Context, stream domain.Stream) (int64, error)
}

// Handler coordinates HTTP requests with the ingestion service.
type Handler struct {
	service *ingest.Service
	counter RecordCounter
	trigger *refresh.Trigger
	schema  *jsonschema.Schema
}

// NewHandler builds a Handler.
func NewHandler(service *ingest.Service, counter RecordCounter, trigger *refresh.Trigger) (*Handler, error) {
	schema, err := compileBatchSchema()
	if err != nil {
		return nil, err
	}
	return &Handler{service: service, counter: counter, trigger: trigger, schema: schema}, nil
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/sync/batches", h.ingestBatch)
	mux.HandleFunc("/v1/sync/complete", h.syncComplete)
	mux.HandleFunc("/v1/sync/counts", h.recordCounts)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) ingestBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, wire.ReasonUnauthorized, "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeHealthWrite) {
		writeError(w, http.StatusForbidden, wire.ReasonUnauthorized, "scope health:write required")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBatchBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, wire.ReasonMalformed, "unable to read body")
		return
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, wire.ReasonMalformed, "invalid JSON")
		return
	}
	if err := h.schema.Validate(inst); err != nil {
		writeError(w, http.StatusBadRequest, wire.ReasonMalformed, err.Error())
		return
	}

	var req wire.BatchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, wire.ReasonMalformed, "unable to parse body")
		return
	}

	result, err := h.service.IngestBatch(r.Context(), req)
	if err != nil {
		if errors.Is(err, ingest.ErrMalformed) {
			writeError(w, http.StatusBadRequest, wire.ReasonMalformed, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, wire.ReasonStorageFailure, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, wire.BatchResponse{
		Inserted:  result.Inserted,
		Duplicate: result.Duplicate,
		Deleted:   result.Deleted,
	})
}

// syncComplete is invoked by the agent once per sync cycle, after every batch
// of the cycle has committed. It signals the analytics layer that aggregate
// views may be stale. Firing here, not per batch, avoids an invalidation per
// chunk.
func (h *Handler) syncComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, wire.ReasonUnauthorized, "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeHealthWrite) {
		writeError(w, http.StatusForbidden, wire.ReasonUnauthorized, "scope health:write required")
		return
	}

	var req struct {
		Stream   string `json:"stream"`
		DeviceID string `json:"device_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, wire.ReasonMalformed, "unable to parse body")
		return
	}
	if strings.TrimSpace(req.Stream) == "" {
		writeError(w, http.StatusBadRequest, wire.ReasonMalformed, "stream is required")
		return
	}

	coalesced := h.trigger.Fire(domain.Stream(req.Stream), req.DeviceID)
	writeJSON(w, http.StatusAccepted, map[string]bool{"coalesced": coalesced})
}

func (h *Handler) recordCounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, wire.ReasonUnauthorized, "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeHealthRead) && !claims.HasScope(auth.ScopeHealthWrite) {
		writeError(w, http.StatusForbidden, wire.ReasonUnauthorized, "scope health:read required")
		return
	}

	stream := domain.Stream(r.URL.Query().Get("stream"))
	count, err := h.counter.CountRecords(r.Context(), stream)
	if err != nil {
		writeError(w, http.StatusInternalServerError, wire.ReasonStorageFailure, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"records": count})
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, wire.ErrorResponse{Type: code, Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
