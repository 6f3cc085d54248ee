package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JonMunkholm/salesingest/internal/blob"
	"github.com/JonMunkholm/salesingest/internal/config"
	"github.com/JonMunkholm/salesingest/internal/core"
	_ "github.com/JonMunkholm/salesingest/internal/core/formats"
	"github.com/JonMunkholm/salesingest/internal/memdb"
	"github.com/JonMunkholm/salesingest/internal/metrics"
)

type testEnv struct {
	srv *Server
	svc *core.Service
	db  *memdb.DB
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Pipeline: config.PipelineConfig{MaxFileSize: 1 << 20, CanonicalCurrency: "EUR"},
	}
	if mutate != nil {
		mutate(cfg)
	}

	db := memdb.New()
	store := blob.NewLocalStore(t.TempDir())
	svc := core.NewService(core.Deps{Repo: db, Blobs: store}, core.PipelineConfig{
		CanonicalCurrency: cfg.Pipeline.CanonicalCurrency,
		MaxFileSize:       cfg.Pipeline.MaxFileSize,
		MaxAttempts:       2,
		BaseBackoff:       time.Millisecond,
		MaxBackoff:        time.Millisecond,
	})

	reg := prometheus.NewRegistry()
	srv := NewServer(Options{
		Config:      cfg,
		Service:     svc,
		Blobs:       store,
		Gatherer:    reg,
		HTTPMetrics: metrics.NewHTTP(reg),
		Workers:     func() core.LimiterStatus { return core.LimiterStatus{Capacity: 4, Available: 4} },
	})
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return &testEnv{srv: srv, svc: svc, db: db}
}

func (e *testEnv) do(t *testing.T, method, path, tenant string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) upload(t *testing.T, path, tenant, reseller, name, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if reseller != "" {
		mw.WriteField("reseller_id", reseller)
	}
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(fw, content)
	mw.Close()
	return e.do(t, http.MethodPost, path, tenant, &buf, mw.FormDataContentType())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func boltCSV(n int, missingDate int) string {
	var sb strings.Builder
	sb.WriteString("EAN,Sale Date,Units,Net Sales,Store\n")
	for i := 1; i <= n; i++ {
		date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i).Format(time.DateOnly)
		if i == missingDate {
			date = ""
		}
		fmt.Fprintf(&sb, "4006381333931,%s,%d,%d.50,Berlin Mitte\n", date, i, i*10)
	}
	return sb.String()
}

func TestSubmitReviewApprove(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.upload(t, "/api/batches", "acme", "bolt", "bolt_w1.csv", boltCSV(5, 3))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d: %s", rec.Code, rec.Body)
	}
	sub := decode[core.SubmitResult](t, rec)
	if sub.Duplicate || sub.State != core.StatePending {
		t.Fatalf("submit = %+v", sub)
	}

	if err := env.svc.Advance(context.Background(), sub.BatchID); err != nil {
		t.Fatal(err)
	}

	path := "/api/batches/" + sub.BatchID.String()
	st := decode[core.BatchStatus](t, env.do(t, http.MethodGet, path, "acme", nil, ""))
	if st.State != core.StateAwaitingApproval || st.Counts.Failed != 1 {
		t.Fatalf("status = %+v", st)
	}

	rec = env.do(t, http.MethodGet, path+"/errors", "acme", nil, "")
	report := decode[struct {
		Errors []core.ErrorEntry `json:"errors"`
	}](t, rec)
	if len(report.Errors) != 1 || report.Errors[0].RowOrdinal != 3 || report.Errors[0].Kind != core.KindMissingRequiredField {
		t.Errorf("errors = %+v", report.Errors)
	}

	rec = env.do(t, http.MethodPost, path+"/approve", "acme", nil, "")
	if rec.Code != http.StatusOK || decode[transitionResponse](t, rec).State != core.StateApproved {
		t.Fatalf("approve = %d: %s", rec.Code, rec.Body)
	}
	if err := env.svc.Advance(context.Background(), sub.BatchID); err != nil {
		t.Fatal(err)
	}

	st = decode[core.BatchStatus](t, env.do(t, http.MethodGet, path, "acme", nil, ""))
	if st.State != core.StateCommitted || st.Counts != (core.BatchCounts{Total: 5, Committed: 4, Failed: 1}) {
		t.Errorf("final status = %+v", st)
	}
	if got := len(env.db.Sales()); got != 4 {
		t.Errorf("sales = %d, want 4", got)
	}

	// approving twice conflicts
	rec = env.do(t, http.MethodPost, path+"/approve", "acme", nil, "")
	if rec.Code != http.StatusConflict || decode[ErrorResponse](t, rec).Code != "ING003" {
		t.Errorf("second approve = %d: %s", rec.Code, rec.Body)
	}
}

func TestSubmitDuplicate(t *testing.T) {
	env := newTestEnv(t, nil)
	content := boltCSV(2, 0)

	first := decode[core.SubmitResult](t, env.upload(t, "/api/batches", "acme", "bolt", "a.csv", content))
	rec := env.upload(t, "/api/batches", "acme", "bolt", "b.csv", content)
	if rec.Code != http.StatusOK {
		t.Fatalf("duplicate status = %d: %s", rec.Code, rec.Body)
	}
	dup := decode[core.SubmitResult](t, rec)
	if !dup.Duplicate || dup.BatchID != first.BatchID {
		t.Errorf("duplicate = %+v, first = %+v", dup, first)
	}
	if env.db.BatchCount() != 1 {
		t.Errorf("batches = %d, want 1", env.db.BatchCount())
	}
}

func TestSubmitRejections(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Pipeline.MaxFileSize = 64 })

	tests := []struct {
		name     string
		tenant   string
		reseller string
		content  string
		status   int
		code     string
	}{
		{name: "missing tenant", reseller: "bolt", content: "x", status: http.StatusUnauthorized},
		{name: "missing reseller", tenant: "acme", content: "x", status: http.StatusBadRequest, code: "REQ002"},
		{name: "too large", tenant: "acme", reseller: "bolt", content: strings.Repeat("x", 200), status: http.StatusRequestEntityTooLarge, code: "FILE001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.upload(t, "/api/batches", tt.tenant, tt.reseller, "f.csv", tt.content)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body)
			}
			if tt.code != "" && decode[ErrorResponse](t, rec).Code != tt.code {
				t.Errorf("code = %s, want %s", decode[ErrorResponse](t, rec).Code, tt.code)
			}
		})
	}
}

func TestBatchLookupErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	sub := decode[core.SubmitResult](t, env.upload(t, "/api/batches", "acme", "bolt", "bolt.csv", boltCSV(1, 0)))

	tests := []struct {
		name   string
		method string
		path   string
		tenant string
		status int
	}{
		{name: "malformed id", method: http.MethodGet, path: "/api/batches/not-a-uuid", tenant: "acme", status: http.StatusBadRequest},
		{name: "unknown id", method: http.MethodGet, path: "/api/batches/" + uuid.NewString(), tenant: "acme", status: http.StatusNotFound},
		{name: "other tenant", method: http.MethodGet, path: "/api/batches/" + sub.BatchID.String(), tenant: "globex", status: http.StatusNotFound},
		{name: "approve pending", method: http.MethodPost, path: "/api/batches/" + sub.BatchID.String() + "/approve", tenant: "acme", status: http.StatusConflict},
		{name: "retry pending", method: http.MethodPost, path: "/api/batches/" + sub.BatchID.String() + "/retry", tenant: "acme", status: http.StatusConflict},
		{name: "delete other tenant", method: http.MethodDelete, path: "/api/batches/" + sub.BatchID.String(), tenant: "globex", status: http.StatusNotFound},
		{name: "delete", method: http.MethodDelete, path: "/api/batches/" + sub.BatchID.String(), tenant: "acme", status: http.StatusNoContent},
		{name: "gone after delete", method: http.MethodGet, path: "/api/batches/" + sub.BatchID.String(), tenant: "acme", status: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.tenant, nil, "")
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body)
			}
		})
	}
}

func TestMappings(t *testing.T) {
	env := newTestEnv(t, nil)

	body := `{"reseller_id":"fjord","source_code":" art-100 ","canonical_id":"04006381333931"}`
	rec := env.do(t, http.MethodPost, "/api/mappings", "acme", strings.NewReader(body), "application/json")
	if rec.Code != http.StatusCreated {
		t.Fatalf("confirm = %d: %s", rec.Code, rec.Body)
	}
	if got := decode[mappingResponse](t, rec); got.SourceCode != "ART-100" {
		t.Errorf("source code = %q, want normalized ART-100", got.SourceCode)
	}

	rec = env.do(t, http.MethodPost, "/api/mappings", "acme", strings.NewReader(`{"bogus":1}`), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown field = %d, want 400", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/mappings/suggest?reseller_id=fjord", "acme", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("suggest without code = %d, want 400", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/mappings/suggest?reseller_id=fjord&code=ART-101", "acme", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("suggest = %d: %s", rec.Code, rec.Body)
	}
	got := decode[struct {
		Suggestions []core.Suggestion `json:"suggestions"`
	}](t, rec)
	if len(got.Suggestions) == 0 || got.Suggestions[0].SourceCode != "ART-100" {
		t.Errorf("suggestions = %+v", got.Suggestions)
	}
}

func TestPreview(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.upload(t, "/api/batches/preview", "acme", "bolt", "bolt.csv", boltCSV(4, 2))
	if rec.Code != http.StatusOK {
		t.Fatalf("preview = %d: %s", rec.Code, rec.Body)
	}
	p := decode[core.PreviewResponse](t, rec)
	if p.Format != "bolt_weekly" || p.Summary.TotalRows != 4 || p.Summary.ErrorRows != 1 {
		t.Errorf("preview = %+v", p)
	}
	if env.db.BatchCount() != 0 {
		t.Error("preview created a batch")
	}

	rec = env.upload(t, "/api/batches/preview", "acme", "bolt", "mystery.csv", "a,b,c\n1,2,3\n")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("unresolved preview = %d, want 422: %s", rec.Code, rec.Body)
	}
}

func TestFormatsHealthMetrics(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/formats", "", nil, "")
	formats := decode[struct {
		Formats []core.FormatInfo `json:"formats"`
	}](t, rec)
	if rec.Code != http.StatusOK || len(formats.Formats) == 0 {
		t.Errorf("formats = %d: %s", rec.Code, rec.Body)
	}

	rec = env.do(t, http.MethodGet, "/healthz", "", nil, "")
	health := decode[healthResponse](t, rec)
	if rec.Code != http.StatusOK || health.Status != "ok" || health.Workers == nil || health.Workers.Capacity != 4 {
		t.Errorf("health = %d: %s", rec.Code, rec.Body)
	}

	rec = env.do(t, http.MethodGet, "/metrics", "", nil, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `http_requests_total{method="GET",path="/api/formats",status="200"} 1`) {
		t.Errorf("metrics = %d: %s", rec.Code, rec.Body)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"secret"}}
	})

	if rec := env.do(t, http.MethodGet, "/api/formats", "", nil, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("without key = %d, want 401", rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/formats", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("with key = %d, want 200", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/healthz", "", nil, ""); rec.Code != http.StatusOK {
		t.Errorf("healthz needs no key, got %d", rec.Code)
	}
}

func TestUploadRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 100, UploadLimit: 1}
	})

	first := env.upload(t, "/api/batches", "acme", "bolt", "a.csv", boltCSV(1, 0))
	if first.Code != http.StatusAccepted {
		t.Fatalf("first upload = %d: %s", first.Code, first.Body)
	}
	second := env.upload(t, "/api/batches", "acme", "bolt", "b.csv", boltCSV(2, 0))
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("second upload = %d, want 429", second.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/formats", "", nil, ""); rec.Code != http.StatusOK {
		t.Errorf("non-upload route limited: %d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrBatchNotFound, http.StatusNotFound},
		{core.ErrApprovalPrecondition, http.StatusConflict},
		{core.ErrFormatUnresolved, http.StatusUnprocessableEntity},
		{core.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
		{fmt.Errorf("invalid request: x"), http.StatusBadRequest},
		{core.WithKind(core.KindInfrastructureFailure, io.ErrUnexpectedEOF), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{fmt.Errorf("load batch: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{io.ErrClosedPipe, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
