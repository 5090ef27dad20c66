package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aslobodnik/health-sync/internal/domain"
	"github.com/aslobodnik/health-sync/internal/server/auth"
	"github.com/aslobodnik/health-sync/internal/server/ingest"
	"github.com/aslobodnik/health-sync/internal/server/refresh"
	"github.com/aslobodnik/health-sync/internal/wire"
)

type fakeWriter struct {
	batches []*domain.SyncBatch
	result  ingest.Result
}

func (f *fakeWriter) Write(_ context.Context, batch *domain.SyncBatch) (ingest.Result, error) {
	f.batches = append(f.batches, batch)
	return f.result, nil
}

type fakeCounter struct {
	count int64
}

func (f *fakeCounter) CountRecords(context.Context, domain.Stream) (int64, error) {
	return f.count, nil
}

func newTestHandler(t *testing.T, writer *fakeWriter) *Handler {
	t.Helper()
	service := ingest.NewService(writer, 0)
	trigger := refresh.NewTrigger(refresh.NoopRefresher{}, nil, time.Second, nil)
	handler, err := NewHandler(service, &fakeCounter{count: 10}, trigger)
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	return handler
}

func writerClaims() *auth.Claims {
	return &auth.Claims{
		Subject:  "agent",
		DeviceID: "device-1",
		Scopes: map[string]struct{}{
			auth.ScopeHealthWrite: {},
		},
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func batchBody(t *testing.T) []byte {
	t.Helper()
	start := time.Date(2025, time.July, 3, 8, 0, 0, 0, time.UTC)
	value := 72.0
	body, err := json.Marshal(wire.BatchRequest{
		BatchID:  "batch-1",
		Stream:   "heart-rate",
		DeviceID: "device-1",
		Records: []wire.Record{{
			Stream:       "heart-rate",
			SourceName:   "Apple Watch",
			StartTime:    start,
			EndTime:      start.Add(time.Minute),
			Unit:         "count/min",
			ValueNumeric: &value,
		}},
		AssembledAt: start,
	})
	if err != nil {
		t.Fatalf("marshal batch: %v", err)
	}
	return body
}

func postBatch(handler *Handler, claims *auth.Claims, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/sync/batches", bytes.NewReader(body))
	if claims != nil {
		req = req.WithContext(auth.WithClaims(req.Context(), claims))
	}
	rr := httptest.NewRecorder()
	handler.ingestBatch(rr, req)
	return rr
}

func TestIngestBatchSuccess(t *testing.T) {
	writer := &fakeWriter{result: ingest.Result{Inserted: 1}}
	handler := newTestHandler(t, writer)

	rr := postBatch(handler, writerClaims(), batchBody(t))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp wire.BatchResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Inserted != 1 {
		t.Fatalf("expected 1 inserted got %d", resp.Inserted)
	}
	if len(writer.batches) != 1 {
		t.Fatalf("expected one batch written got %d", len(writer.batches))
	}
}

func TestIngestBatchRequiresClaims(t *testing.T) {
	writer := &fakeWriter{}
	handler := newTestHandler(t, writer)

	rr := postBatch(handler, nil, batchBody(t))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
	if len(writer.batches) != 0 {
		t.Fatal("unauthorized request must write nothing")
	}

	var resp wire.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.Type != wire.ReasonUnauthorized {
		t.Fatalf("expected %q reason got %q", wire.ReasonUnauthorized, resp.Type)
	}
}

func TestIngestBatchRequiresWriteScope(t *testing.T) {
	writer := &fakeWriter{}
	handler := newTestHandler(t, writer)

	claims := writerClaims()
	claims.Scopes = map[string]struct{}{auth.ScopeHealthRead: {}}

	rr := postBatch(handler, claims, batchBody(t))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}
	if len(writer.batches) != 0 {
		t.Fatal("forbidden request must write nothing")
	}
}

func TestIngestBatchRejectsSchemaViolations(t *testing.T) {
	writer := &fakeWriter{}
	handler := newTestHandler(t, writer)

	cases := map[string]string{
		"not json":         `{"batch_id": `,
		"missing stream":   `{"batch_id":"b1","device_id":"d1","assembled_at":"2025-07-03T08:00:00Z"}`,
		"mixed kinds":      `{"batch_id":"b1","stream":"heart-rate","device_id":"d1","assembled_at":"2025-07-03T08:00:00Z","records":[{"stream":"heart-rate","source_name":"w","start_time":"2025-07-03T08:00:00Z","end_time":"2025-07-03T08:01:00Z"}],"workouts":[{"activity_type":"running","source_name":"w","start_time":"2025-07-03T08:00:00Z","end_time":"2025-07-03T09:00:00Z","duration_seconds":3600}]}`,
		"record no source": `{"batch_id":"b1","stream":"heart-rate","device_id":"d1","assembled_at":"2025-07-03T08:00:00Z","records":[{"stream":"heart-rate","start_time":"2025-07-03T08:00:00Z","end_time":"2025-07-03T08:01:00Z"}]}`,
	}
	for name, body := range cases {
		rr := postBatch(handler, writerClaims(), []byte(body))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 got %d: %s", name, rr.Code, rr.Body.String())
		}
	}
	if len(writer.batches) != 0 {
		t.Fatal("malformed requests must write nothing")
	}
}

func TestSyncCompleteFiresTrigger(t *testing.T) {
	handler := newTestHandler(t, &fakeWriter{})

	body := []byte(`{"stream":"heart-rate","device_id":"device-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/sync/complete", bytes.NewReader(body))
	req = req.WithContext(auth.WithClaims(req.Context(), writerClaims()))
	rr := httptest.NewRecorder()
	handler.syncComplete(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestSyncCompleteRequiresStream(t *testing.T) {
	handler := newTestHandler(t, &fakeWriter{})

	req := httptest.NewRequest(http.MethodPost, "/v1/sync/complete", bytes.NewReader([]byte(`{"device_id":"d1"}`)))
	req = req.WithContext(auth.WithClaims(req.Context(), writerClaims()))
	rr := httptest.NewRecorder()
	handler.syncComplete(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestRecordCountsAllowsReadScope(t *testing.T) {
	handler := newTestHandler(t, &fakeWriter{})

	claims := writerClaims()
	claims.Scopes = map[string]struct{}{auth.ScopeHealthRead: {}}

	req := httptest.NewRequest(http.MethodGet, "/v1/sync/counts?stream=heart-rate", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), claims))
	rr := httptest.NewRecorder()
	handler.recordCounts(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var resp map[string]int64
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["records"] != 10 {
		t.Fatalf("expected 10 records got %d", resp["records"])
	}
}

func TestIngestBatchMethodNotAllowed(t *testing.T) {
	handler := newTestHandler(t, &fakeWriter{})

	req := httptest.NewRequest(http.MethodGet, "/v1/sync/batches", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), writerClaims()))
	rr := httptest.NewRecorder()
	handler.ingestBatch(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 got %d", rr.Code)
	}
}
