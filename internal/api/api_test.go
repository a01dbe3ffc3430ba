package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/opensource-finance/kestrel/internal/batch"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ingestion"
	"github.com/opensource-finance/kestrel/internal/matching"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/reconcile"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/screening"
)

type testServer struct {
	*Server
	repo  domain.Repository
	coord *batch.Coordinator
}

// createTestServer wires the full engine over a temp sqlite file.
func createTestServer(t *testing.T, maxUpload int64) *testServer {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api.db"),
	})
	if err != nil {
		t.Fatalf("failed to open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })
	notifier := bus.NewNotifier(eventBus)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	corpus := cache.NewLRUCache(100)

	fetcher := ingestion.NewFetcher(ingestion.WithMaxRetries(1), ingestion.WithRetryDelay(0))
	registry := ingestion.NewRegistry(domain.IngestionConfig{}, fetcher, nil)
	svc := ingestion.NewService(registry, reconcile.New(repo, reconcile.WithCache(corpus)), repo, notifier, m)

	engine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	matcher := matching.NewMatcher(repo, domain.MatchingConfig{Threshold: 0.8, Workers: 2},
		matching.WithCache(corpus, time.Minute),
		matching.WithMetrics(m),
	)
	screener := screening.New(repo, matcher, engine, screening.WithNotifier(notifier), screening.WithMetrics(m))
	coord := batch.New(repo, screener, svc, domain.BatchConfig{Workers: 2, BatchSize: 10}, batch.WithMetrics(m))
	t.Cleanup(coord.Wait)

	cfg := domain.ServerConfig{
		Host:           "localhost",
		Port:           8080,
		ReadTimeout:    30,
		WriteTimeout:   30,
		MaxUploadBytes: maxUpload,
	}
	srv := NewServer(cfg, Deps{
		Repo:        repo,
		Cache:       corpus,
		Bus:         eventBus,
		Engine:      engine,
		Matcher:     matcher,
		Screener:    screener,
		Coordinator: coord,
		Registry:    registry,
		Gatherer:    reg,
	}, "test-v1")

	return &testServer{Server: srv, repo: repo, coord: coord}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func (s *testServer) upload(t *testing.T, path, filename, category, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		part.Write([]byte(content))
	}
	if category != "" {
		mw.WriteField("category", category)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
	return v
}

const fraudMaster = "Name,PAN\nVijay Mallya,AAAPM1234C\nNirav Modi,AAAPM9876D\n"

func (s *testServer) seedFraudMaster(t *testing.T) {
	t.Helper()
	rr := s.upload(t, "/ingestion/rbi/upload", "fraud.csv", "Fraud Master", fraudMaster)
	if rr.Code != http.StatusOK {
		t.Fatalf("seed upload failed: %d %s", rr.Code, rr.Body.String())
	}
}

func (s *testServer) seedCustomer(t *testing.T, id, name string) {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/customers", domain.CustomerRequest{ID: id, FullName: name, RiskTier: domain.RiskMedium})
	if rr.Code != http.StatusCreated {
		t.Fatalf("seed customer failed: %d %s", rr.Code, rr.Body.String())
	}
}

func TestHealthEndpoints(t *testing.T) {
	server := createTestServer(t, 0)

	t.Run("Health", func(t *testing.T) {
		rr := server.do(t, http.MethodGet, "/health", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
		resp := decode[map[string]any](t, rr)
		if resp["status"] != "healthy" {
			t.Errorf("expected healthy, got %v", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version test-v1, got %v", resp["version"])
		}
	})

	t.Run("Ready", func(t *testing.T) {
		rr := server.do(t, http.MethodGet, "/ready", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("RequestIDEchoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if got := rr.Header().Get(RequestIDHeader); got != "req-42" {
			t.Errorf("expected request id req-42, got %q", got)
		}
		if rr.Header().Get(TraceIDHeader) == "" {
			t.Error("expected a trace id header")
		}
	})

	t.Run("Preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/screen", nil)
		req.Header.Set("Origin", "https://console.example.test")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Errorf("expected status 204, got %d", rr.Code)
		}
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://console.example.test" {
			t.Errorf("unexpected allow origin %q", got)
		}
	})
}

func TestIngestionEndpoints(t *testing.T) {
	t.Run("UploadAndRuns", func(t *testing.T) {
		server := createTestServer(t, 0)

		rr := server.upload(t, "/ingestion/rbi/upload", "fraud.csv", "Fraud Master", fraudMaster)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		result := decode[domain.RunResult](t, rr)
		if !result.Success || result.New != 2 {
			t.Errorf("expected 2 new records, got %+v", result)
		}

		rr = server.do(t, http.MethodGet, "/ingestion/RBI/runs?limit=5", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		runs := decode[map[string]any](t, rr)
		if runs["count"] != float64(1) {
			t.Errorf("expected 1 run, got %v", runs["count"])
		}

		rr = server.do(t, http.MethodGet, "/metrics", nil)
		if !strings.Contains(rr.Body.String(), "kestrel_ingestion_runs_total") {
			t.Error("expected ingestion metrics to be exposed")
		}
	})

	t.Run("UnknownProvider", func(t *testing.T) {
		server := createTestServer(t, 0)
		rr := server.upload(t, "/ingestion/interpol/upload", "list.csv", "", "Name\nX\n")
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("UnsupportedFormat", func(t *testing.T) {
		server := createTestServer(t, 0)
		rr := server.upload(t, "/ingestion/rbi/upload", "list.pdf", "Fraud Master", "%PDF")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("UnknownCategory", func(t *testing.T) {
		server := createTestServer(t, 0)
		rr := server.upload(t, "/ingestion/rbi/upload", "list.csv", "Lottery Winners", fraudMaster)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		server := createTestServer(t, 0)
		rr := server.upload(t, "/ingestion/rbi/upload", "", "Fraud Master", "")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("UploadTooLarge", func(t *testing.T) {
		server := createTestServer(t, 64)
		rr := server.upload(t, "/ingestion/rbi/upload", "fraud.csv", "Fraud Master", strings.Repeat(fraudMaster, 20))
		if rr.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("expected status 413, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("RemoteRunWithoutConfig", func(t *testing.T) {
		server := createTestServer(t, 0)
		rr := server.do(t, http.MethodPost, "/ingestion/ofac", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if result := decode[domain.RunResult](t, rr); result.Success {
			t.Error("expected an unconfigured provider run to fail")
		}
	})

	t.Run("Sources", func(t *testing.T) {
		server := createTestServer(t, 0)
		rr := server.do(t, http.MethodGet, "/sources", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestCustomerAndScreeningEndpoints(t *testing.T) {
	server := createTestServer(t, 0)
	server.seedFraudMaster(t)
	server.seedCustomer(t, "cust-001", "Vijay Mallya")
	server.seedCustomer(t, "cust-002", "Priya Raman")

	t.Run("CreateCustomerValidation", func(t *testing.T) {
		rr := server.do(t, http.MethodPost, "/customers", domain.CustomerRequest{ID: "cust-x"})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for missing name, got %d", rr.Code)
		}
		rr = server.do(t, http.MethodPost, "/customers", domain.CustomerRequest{FullName: "A", RiskTier: "Extreme"})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for bad tier, got %d", rr.Code)
		}
	})

	t.Run("CreateCustomerGeneratesID", func(t *testing.T) {
		rr := server.do(t, http.MethodPost, "/customers", domain.CustomerRequest{FullName: "Anita Desai"})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d", rr.Code)
		}
		if c := decode[domain.Customer](t, rr); c.ID == "" {
			t.Error("expected a generated id")
		}
	})

	t.Run("GetCustomerNotFound", func(t *testing.T) {
		rr := server.do(t, http.MethodGet, "/customers/missing", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	var alertID string
	t.Run("ScreenStoredCustomer", func(t *testing.T) {
		rr := server.do(t, http.MethodPost, "/screen", domain.ScreeningRequest{CustomerID: "cust-001"})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		result := decode[domain.ScreeningResult](t, rr)
		if !result.Success || result.Status != domain.ScreeningCompleted {
			t.Fatalf("expected completed screening, got %+v", result)
		}
		if len(result.Alerts) != 1 {
			t.Fatalf("expected 1 alert, got %d", len(result.Alerts))
		}
		alert := result.Alerts[0]
		if alert.Priority != domain.RiskCritical {
			t.Errorf("expected critical priority, got %s", alert.Priority)
		}
		alertID = alert.ID

		customer := decode[domain.Customer](t, server.do(t, http.MethodGet, "/customers/cust-001", nil))
		if customer.LastScreenedAt == nil {
			t.Error("expected customer to be stamped as screened")
		}
	})

	t.Run("AlertLookups", func(t *testing.T) {
		rr := server.do(t, http.MethodGet, "/alerts/"+alertID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if a := decode[domain.Alert](t, rr); a.CustomerID != "cust-001" {
			t.Errorf("unexpected alert customer %q", a.CustomerID)
		}

		rr = server.do(t, http.MethodGet, "/customers/cust-001/alerts", nil)
		if got := decode[map[string]any](t, rr)["count"]; got != float64(1) {
			t.Errorf("expected 1 customer alert, got %v", got)
		}

		rr = server.do(t, http.MethodGet, "/alerts/missing", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("ScreenUnknownCustomer", func(t *testing.T) {
		rr := server.do(t, http.MethodPost, "/screen", domain.ScreeningRequest{CustomerID: "nobody"})
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("ScreenRequiresSubject", func(t *testing.T) {
		rr := server.do(t, http.MethodPost, "/screen", map[string]any{})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/screen", strings.NewReader("{not json"))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MatchByName", func(t *testing.T) {
		rr := server.do(t, http.MethodPost, "/match", MatchRequest{Name: "Nirav Modi"})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		resp := decode[MatchResponse](t, rr)
		if resp.Count == 0 || resp.Matches[0].SourceList != "RBI" {
			t.Fatalf("expected an RBI match, got %+v", resp)
		}
		if resp.RiskScore <= 0 {
			t.Errorf("expected a positive risk score, got %v", resp.RiskScore)
		}
	})

	t.Run("MatchRejectsThreshold", func(t *testing.T) {
		rr := server.do(t, http.MethodPost, "/match", MatchRequest{Name: "Nirav Modi", Options: domain.MatchOptions{Threshold: 1.5}})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("WhitelistSuppressesMatch", func(t *testing.T) {
		resp := decode[MatchResponse](t, server.do(t, http.MethodPost, "/match", MatchRequest{Name: "Nirav Modi"}))
		if resp.Count == 0 {
			t.Fatal("expected a match before whitelisting")
		}
		entryID := resp.Matches[0].WatchlistEntryID

		rr := server.do(t, http.MethodPost, "/entries/"+entryID+"/whitelist", WhitelistRequest{Reason: "namesake"})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		resp = decode[MatchResponse](t, server.do(t, http.MethodPost, "/match", MatchRequest{Name: "Nirav Modi"}))
		for _, m := range resp.Matches {
			if m.WatchlistEntryID == entryID {
				t.Error("whitelisted entry still matched")
			}
		}

		rr = server.do(t, http.MethodPost, "/entries/missing/whitelist", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestScreeningBatchEndpoints(t *testing.T) {
	server := createTestServer(t, 0)
	server.seedFraudMaster(t)
	server.seedCustomer(t, "cust-001", "Vijay Mallya")
	server.seedCustomer(t, "cust-002", "Priya Raman")

	t.Run("Synchronous", func(t *testing.T) {
		rr := server.do(t, http.MethodPost, "/screening/batch", domain.BatchScreeningRequest{CustomerIDs: []string{"cust-001", "cust-002"}})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		out := decode[batch.BatchResult](t, rr)
		if out.Job.Status != domain.JobCompleted || out.Job.ProcessedRecords != 2 {
			t.Errorf("unexpected job %+v", out.Job)
		}

		rr = server.do(t, http.MethodGet, "/screening/jobs/"+out.Job.ID, nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		rr = server.do(t, http.MethodPost, "/screening/jobs/"+out.Job.ID+"/cancel", nil)
		if rr.Code != http.StatusConflict {
			t.Errorf("expected status 409 for finished job, got %d", rr.Code)
		}
	})

	t.Run("Async", func(t *testing.T) {
		rr := server.do(t, http.MethodPost, "/screening/batch", domain.BatchScreeningRequest{CustomerIDs: []string{"cust-002"}, Async: true})
		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
		}
		job := decode[domain.ScreeningJob](t, rr)
		if rr.Header().Get("Location") != "/screening/jobs/"+job.ID {
			t.Errorf("unexpected location %q", rr.Header().Get("Location"))
		}

		server.coord.Wait()
		got := decode[domain.ScreeningJob](t, server.do(t, http.MethodGet, "/screening/jobs/"+job.ID, nil))
		if got.Status != domain.JobCompleted {
			t.Errorf("expected completed job, got %s", got.Status)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		rr := server.do(t, http.MethodPost, "/screening/batch", domain.BatchScreeningRequest{})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("UnknownJob", func(t *testing.T) {
		if rr := server.do(t, http.MethodGet, "/screening/jobs/nope", nil); rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
		if rr := server.do(t, http.MethodPost, "/screening/jobs/nope/cancel", nil); rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestRuleEndpoints(t *testing.T) {
	server := createTestServer(t, 0)
	mandatory := len(rules.MandatoryRules())

	t.Run("ListMandatory", func(t *testing.T) {
		rr := server.do(t, http.MethodGet, "/rules", nil)
		if got := decode[map[string]any](t, rr)["count"]; got != float64(mandatory) {
			t.Errorf("expected %d rules, got %v", mandatory, got)
		}
	})

	t.Run("CreateRule", func(t *testing.T) {
		rr := server.do(t, http.MethodPost, "/rules", CreateRuleRequest{
			ID:         "inhouse-edd",
			Name:       "In-house hits need EDD",
			Expression: `list_type == "In-House" && similarity >= 0.9`,
			Actions:    []domain.ComplianceAction{domain.ActionEDD},
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = server.do(t, http.MethodGet, "/rules", nil)
		if got := decode[map[string]any](t, rr)["count"]; got != float64(mandatory+1) {
			t.Errorf("expected %d rules, got %v", mandatory+1, got)
		}
	})

	t.Run("InvalidExpression", func(t *testing.T) {
		rr := server.do(t, http.MethodPost, "/rules", CreateRuleRequest{
			ID:         "broken",
			Expression: `list_type ==`,
			Actions:    []domain.ComplianceAction{domain.ActionSTR},
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MandatoryCannotBeReplaced", func(t *testing.T) {
		rr := server.do(t, http.MethodPost, "/rules", CreateRuleRequest{
			ID:         "mandatory-pep-edd",
			Expression: `false`,
			Actions:    []domain.ComplianceAction{domain.ActionEDD},
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("Reload", func(t *testing.T) {
		rr := server.do(t, http.MethodPost, "/rules/reload", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if got := decode[map[string]any](t, rr)["count"]; got != float64(1) {
			t.Errorf("expected 1 stored rule, got %v", got)
		}
	})
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrInvalidInput, http.StatusBadRequest},
		{domain.ErrConfiguration, http.StatusBadRequest},
		{domain.ErrInvalidTransition, http.StatusConflict},
		{domain.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
