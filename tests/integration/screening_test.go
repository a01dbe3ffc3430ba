//go:build integration

// Package integration provides end-to-end tests against a running Kestrel
// server.
//
// These tests drive the complete screening pipeline over HTTP:
//
//	Upload list -> Reconcile corpus -> Register customer -> Screen -> Alerts
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// The server URL defaults to http://localhost:8080 and can be overridden with
// KESTREL_TEST_URL. Each run uses a unique suffix on customer ids so reruns
// against the same database do not interfere, while the uploaded OFAC file is
// fixed so re-ingestion can be observed.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL string
	RunID   string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("KESTREL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{
		BaseURL: baseURL,
		RunID:   fmt.Sprintf("%d", time.Now().UnixNano()),
	}
}

// ============================================================================
// API Types (matching Kestrel's API contract)
// ============================================================================

type RunResult struct {
	Source       string `json:"source"`
	Total        int    `json:"total"`
	New          int    `json:"new"`
	Updated      int    `json:"updated"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"errorMessage"`
}

type Customer struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	RiskTier string `json:"riskTier,omitempty"`
}

type Alert struct {
	ID               string  `json:"id"`
	CustomerID       string  `json:"customerId"`
	WatchlistEntryID string  `json:"watchlistEntryId"`
	AlertType        string  `json:"alertType"`
	SimilarityScore  float64 `json:"similarityScore"`
	Priority         string  `json:"priority"`
	RequiresSTR      bool    `json:"requiresStr"`
	RequiresSAR      bool    `json:"requiresSar"`
	DueDate          string  `json:"dueDate"`
}

type ScreeningResult struct {
	CustomerID  string  `json:"customerId"`
	Status      string  `json:"status"`
	RiskScore   float64 `json:"riskScore"`
	RiskLevel   string  `json:"riskLevel"`
	RequiresEDD bool    `json:"requiresEdd"`
	RequiresSTR bool    `json:"requiresStr"`
	RequiresSAR bool    `json:"requiresSar"`
	Alerts      []Alert `json:"alerts"`
	Success     bool    `json:"success"`
}

type ScreeningJob struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	TotalRecords     int    `json:"totalRecords"`
	ProcessedRecords int    `json:"processedRecords"`
	FailedRecords    int    `json:"failedRecords"`
}

// sdnList is a fixed OFAC-format file. ent_num is the stable external id.
const sdnList = `ent_num,SDN_Name,Program,Remarks
900001,Muhammad Rahim Qasim,SDGT,Integration fixture
900002,Karakum Trading Company,IRAN,Integration fixture
`

// ============================================================================
// Test Helper Functions
// ============================================================================

var client = &http.Client{Timeout: 30 * time.Second}

func doJSON(t *testing.T, config TestConfig, method, path string, body any, want int, out any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, config.BaseURL+path, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	send(t, req, want, out)
}

func send(t *testing.T, req *http.Request, want int, out any) {
	t.Helper()

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	if resp.StatusCode != want {
		t.Fatalf("%s %s: expected status %d, got %d: %s", req.Method, req.URL.Path, want, resp.StatusCode, respBody)
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, respBody)
		}
	}
}

func uploadSDN(t *testing.T, config TestConfig) RunResult {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "sdn.csv")
	if err != nil {
		t.Fatalf("Failed to build upload: %v", err)
	}
	part.Write([]byte(sdnList))
	mw.WriteField("category", "SDN")
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, config.BaseURL+"/ingestion/ofac/upload", &buf)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var result RunResult
	send(t, req, http.StatusOK, &result)
	if !result.Success {
		t.Fatalf("Upload failed: %s", result.ErrorMessage)
	}
	return result
}

func registerAndScreen(t *testing.T, config TestConfig, id, name string) ScreeningResult {
	t.Helper()
	doJSON(t, config, http.MethodPost, "/customers", Customer{ID: id, FullName: name, RiskTier: "Medium"}, http.StatusCreated, nil)

	var result ScreeningResult
	doJSON(t, config, http.MethodPost, "/screen", map[string]string{"customerId": id}, http.StatusOK, &result)
	if !result.Success {
		t.Fatalf("Screening of %s did not complete: %+v", id, result)
	}
	return result
}

// ============================================================================
// SCENARIO 1: Exact sanctions hit
// ============================================================================

func TestExactSanctionsHit_CriticalAlert(t *testing.T) {
	/*
	   SCENARIO: A customer whose name is on the OFAC SDN file verbatim

	   EXPECTED BEHAVIOR:
	   - Similarity 1.0 against an entry on a Sanctions list
	   - Priority Critical (sanctions and similarity >= 0.95), due within 1 hour
	   - Mandatory rule requires STR and SAR
	*/
	config := getTestConfig()
	uploadSDN(t, config)

	result := registerAndScreen(t, config, "it-exact-"+config.RunID, "Muhammad Rahim Qasim")

	if len(result.Alerts) != 1 {
		t.Fatalf("Expected 1 alert, got %d", len(result.Alerts))
	}
	alert := result.Alerts[0]
	if alert.AlertType != "SANCTIONS_MATCH" {
		t.Errorf("Expected SANCTIONS_MATCH, got %s", alert.AlertType)
	}
	if alert.Priority != "Critical" {
		t.Errorf("Expected Critical priority, got %s", alert.Priority)
	}
	if !result.RequiresSTR || !result.RequiresSAR {
		t.Errorf("Expected STR and SAR to be required, got str=%v sar=%v", result.RequiresSTR, result.RequiresSAR)
	}

	due, err := time.Parse(time.RFC3339Nano, alert.DueDate)
	if err != nil {
		t.Fatalf("Bad due date %q: %v", alert.DueDate, err)
	}
	if time.Until(due) > time.Hour {
		t.Errorf("Expected due date within 1 hour, got %v", due)
	}

	t.Logf("Exact hit: score=%.2f level=%s alert=%s", result.RiskScore, result.RiskLevel, alert.ID)
}

// ============================================================================
// SCENARIO 2: Transliteration variant
// ============================================================================

func TestTransliterationVariant_Matches(t *testing.T) {
	/*
	   SCENARIO: "Mohammed Rahim Qasim" against the listed "Muhammad Rahim Qasim"

	   EXPECTED BEHAVIOR:
	   - Phonetic codes agree, so the overall score clears the default threshold
	   - The match is reported against the OFAC entry
	*/
	config := getTestConfig()
	uploadSDN(t, config)

	var resp struct {
		Matches []struct {
			WatchlistName   string  `json:"watchlistName"`
			SimilarityScore float64 `json:"similarityScore"`
			SourceList      string  `json:"sourceList"`
		} `json:"matches"`
	}
	doJSON(t, config, http.MethodPost, "/match", map[string]string{"name": "Mohammed Rahim Qasim"}, http.StatusOK, &resp)

	found := false
	for _, m := range resp.Matches {
		if m.SourceList == "OFAC" && m.WatchlistName == "Muhammad Rahim Qasim" {
			found = true
			t.Logf("Variant matched with score %.3f", m.SimilarityScore)
		}
	}
	if !found {
		t.Errorf("Expected a match against the OFAC entry, got %+v", resp.Matches)
	}
}

// ============================================================================
// SCENARIO 3: Clean customer and idempotent rescreen
// ============================================================================

func TestCleanCustomer_NoAlert(t *testing.T) {
	config := getTestConfig()
	uploadSDN(t, config)

	result := registerAndScreen(t, config, "it-clean-"+config.RunID, "Harriet Oyelaran-Whitfield")
	if len(result.Alerts) != 0 {
		t.Errorf("Expected no alerts, got %d", len(result.Alerts))
	}
	if result.RiskLevel != "Low" {
		t.Errorf("Expected Low risk, got %s", result.RiskLevel)
	}
}

func TestRescreen_RefreshesExistingAlert(t *testing.T) {
	/*
	   SCENARIO: The same customer screened twice against an unchanged corpus

	   EXPECTED BEHAVIOR: The open alert is refreshed, not duplicated.
	*/
	config := getTestConfig()
	uploadSDN(t, config)
	id := "it-rescreen-" + config.RunID

	first := registerAndScreen(t, config, id, "Karakum Trading Company")
	var second ScreeningResult
	doJSON(t, config, http.MethodPost, "/screen", map[string]string{"customerId": id}, http.StatusOK, &second)

	if len(first.Alerts) != 1 || len(second.Alerts) != 1 {
		t.Fatalf("Expected one alert per screening, got %d and %d", len(first.Alerts), len(second.Alerts))
	}
	if first.Alerts[0].ID != second.Alerts[0].ID {
		t.Errorf("Expected the same alert id, got %s then %s", first.Alerts[0].ID, second.Alerts[0].ID)
	}

	var listed struct {
		Count int `json:"count"`
	}
	doJSON(t, config, http.MethodGet, "/customers/"+id+"/alerts", nil, http.StatusOK, &listed)
	if listed.Count != 1 {
		t.Errorf("Expected 1 stored alert, got %d", listed.Count)
	}
}

// ============================================================================
// SCENARIO 4: Re-ingestion
// ============================================================================

func TestReingestion_NoNewEntries(t *testing.T) {
	config := getTestConfig()
	uploadSDN(t, config)

	again := uploadSDN(t, config)
	if again.New != 0 {
		t.Errorf("Expected no new entries on re-ingestion, got %d", again.New)
	}
	if again.Total != 2 {
		t.Errorf("Expected 2 records processed, got %d", again.Total)
	}
}

// ============================================================================
// SCENARIO 5: Async batch
// ============================================================================

func TestAsyncBatch_Completes(t *testing.T) {
	config := getTestConfig()
	uploadSDN(t, config)

	ids := []string{"it-batch-a-" + config.RunID, "it-batch-b-" + config.RunID}
	doJSON(t, config, http.MethodPost, "/customers", Customer{ID: ids[0], FullName: "Muhammad Rahim Qasim"}, http.StatusCreated, nil)
	doJSON(t, config, http.MethodPost, "/customers", Customer{ID: ids[1], FullName: "Lena Marchetti"}, http.StatusCreated, nil)

	var job ScreeningJob
	doJSON(t, config, http.MethodPost, "/screening/batch", map[string]any{"customerIds": ids, "async": true}, http.StatusAccepted, &job)

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		doJSON(t, config, http.MethodGet, "/screening/jobs/"+job.ID, nil, http.StatusOK, &job)
		if job.Status == "Completed" || job.Status == "Failed" || job.Status == "Cancelled" {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}

	if job.Status != "Completed" {
		t.Fatalf("Expected Completed, got %s", job.Status)
	}
	if job.ProcessedRecords != 2 || job.FailedRecords != 0 {
		t.Errorf("Unexpected job counters: %+v", job)
	}
}

// ============================================================================
// SCENARIO 6: Input errors
// ============================================================================

func TestInvalidRequests(t *testing.T) {
	config := getTestConfig()

	doJSON(t, config, http.MethodPost, "/match", map[string]any{"name": "A", "options": map[string]any{"threshold": 2}}, http.StatusBadRequest, nil)
	doJSON(t, config, http.MethodPost, "/match", map[string]string{"name": "  "}, http.StatusBadRequest, nil)
	doJSON(t, config, http.MethodPost, "/screen", map[string]string{"customerId": "it-missing-" + config.RunID}, http.StatusNotFound, nil)
	doJSON(t, config, http.MethodPost, "/screening/batch", map[string]any{"customerIds": []string{}}, http.StatusBadRequest, nil)
	doJSON(t, config, http.MethodGet, "/ingestion/interpol/runs", nil, http.StatusNotFound, nil)
}

func TestResponseHeaders(t *testing.T) {
	config := getTestConfig()

	req, _ := http.NewRequest(http.MethodGet, config.BaseURL+"/health", nil)
	req.Header.Set("X-Request-ID", "it-"+config.RunID)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()

	if got := resp.Header.Get("X-Request-ID"); got != "it-"+config.RunID {
		t.Errorf("Expected request id echoed, got %q", got)
	}
	if resp.Header.Get("X-Trace-ID") == "" {
		t.Error("Expected X-Trace-ID header")
	}
}
