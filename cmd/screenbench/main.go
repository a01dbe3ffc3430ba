// Screenbench measures Kestrel's name matching against a labelled list of
// customer names.
//
// Usage:
//
//	go run ./cmd/screenbench -csv /path/to/labelled.csv -url http://localhost:8080
//
// The CSV needs a "name" column and an "is_listed" column (1 or 0). Optional
// columns: "dob", "nationality" and "source" (the list the name is expected
// to hit). Each name is sent once to POST /match at the lowest threshold and
// the confusion matrix is computed for every threshold in -thresholds from
// the best returned score.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabelledName is one row of the benchmark dataset.
type LabelledName struct {
	Name        string
	DateOfBirth string
	Nationality string
	Source      string
	IsListed    bool
}

// MatchRequest is the Kestrel /match request format.
type MatchRequest struct {
	Customer Customer     `json:"customer"`
	Options  MatchOptions `json:"options"`
}

type Customer struct {
	FullName    string `json:"fullName"`
	DateOfBirth string `json:"dateOfBirth,omitempty"`
	Nationality string `json:"nationality,omitempty"`
}

type MatchOptions struct {
	Threshold float64 `json:"threshold,omitempty"`
}

// MatchResponse is the Kestrel /match response format.
type MatchResponse struct {
	Matches []struct {
		WatchlistName   string  `json:"watchlistName"`
		SimilarityScore float64 `json:"similarityScore"`
		SourceList      string  `json:"sourceList"`
	} `json:"matches"`
	Count int `json:"count"`
}

// outcome is the best score a name reached, overall and on its expected source.
type outcome struct {
	row        LabelledName
	best       float64
	bestSource float64
	err        error
}

// Confusion is the confusion matrix at one threshold.
type Confusion struct {
	Threshold      float64
	TruePositives  int64
	FalsePositives int64
	TrueNegatives  int64
	FalseNegatives int64
}

func (c Confusion) precision() float64 {
	if c.TruePositives+c.FalsePositives == 0 {
		return 0
	}
	return float64(c.TruePositives) / float64(c.TruePositives+c.FalsePositives)
}

func (c Confusion) recall() float64 {
	if c.TruePositives+c.FalseNegatives == 0 {
		return 0
	}
	return float64(c.TruePositives) / float64(c.TruePositives+c.FalseNegatives)
}

func (c Confusion) f1() float64 {
	p, r := c.precision(), c.recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Stats tracks request-level results.
type Stats struct {
	TotalProcessed   atomic.Int64
	TotalErrors      atomic.Int64
	ProcessingTimeMs atomic.Int64
}

func main() {
	csvPath := flag.String("csv", "", "Path to labelled names CSV")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	limit := flag.Int("limit", 0, "Maximum names to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	thresholdList := flag.String("thresholds", "0.75,0.8,0.85,0.9,0.95", "Comma-separated thresholds to evaluate")
	strictSource := flag.Bool("strict-source", false, "Count a hit only when it lands on the row's expected source")
	verbose := flag.Bool("verbose", false, "Print each name result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: screenbench -csv /path/to/labelled.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	thresholds, err := parseThresholds(*thresholdList)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("================================================================")
	fmt.Println("          KESTREL SCREENBENCH - Name Matching Quality")
	fmt.Println("================================================================")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Thresholds:  %v\n", thresholds)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run ./cmd/kestrel")
		os.Exit(1)
	}
	fmt.Println("Kestrel is healthy")

	rows, err := readLabelledCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	listed := 0
	for _, r := range rows {
		if r.IsListed {
			listed++
		}
	}
	fmt.Printf("Loaded %d names (%d listed, %d clean)\n", len(rows), listed, len(rows)-listed)

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	stats := &Stats{}
	startTime := time.Now()
	outcomes := runBenchmark(rows, *baseURL, thresholds[0], *workers, stats, *verbose)
	duration := time.Since(startTime)

	matrices := make([]Confusion, len(thresholds))
	for i, t := range thresholds {
		matrices[i] = confusionAt(outcomes, t, *strictSource)
	}
	printResults(stats, matrices, duration)
}

func parseThresholds(raw string) ([]float64, error) {
	var out []float64
	for part := range strings.SplitSeq(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		t, err := strconv.ParseFloat(part, 64)
		if err != nil || t <= 0 || t > 1 {
			return nil, fmt.Errorf("invalid threshold %q", part)
		}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, errors.New("at least one threshold is required")
	}
	slices.Sort(out)
	return out, nil
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readLabelledCSV(path string, limit int) ([]LabelledName, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, required := range []string{"name", "is_listed"} {
		if _, ok := colIndex[required]; !ok {
			return nil, fmt.Errorf("missing %q column", required)
		}
	}
	get := func(record []string, col string) string {
		i, ok := colIndex[col]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var rows []LabelledName
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}
		name := get(record, "name")
		if name == "" {
			continue
		}
		listed := get(record, "is_listed")
		rows = append(rows, LabelledName{
			Name:        name,
			DateOfBirth: get(record, "dob"),
			Nationality: get(record, "nationality"),
			Source:      strings.ToUpper(get(record, "source")),
			IsListed:    listed == "1" || strings.EqualFold(listed, "true"),
		})
		if limit > 0 && len(rows) >= limit {
			break
		}
	}
	return rows, nil
}

func runBenchmark(rows []LabelledName, baseURL string, threshold float64, numWorkers int, stats *Stats, verbose bool) []outcome {
	outcomes := make([]outcome, len(rows))

	work := make(chan int, 100)
	var wg sync.WaitGroup

	for range max(numWorkers, 1) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for i := range work {
				row := rows[i]
				start := time.Now()
				resp, err := matchName(client, baseURL, threshold, row)
				stats.ProcessingTimeMs.Add(time.Since(start).Milliseconds())
				stats.TotalProcessed.Add(1)

				out := outcome{row: row, err: err}
				if err != nil {
					stats.TotalErrors.Add(1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", row.Name, err)
					}
					outcomes[i] = out
					continue
				}
				top := ""
				for _, m := range resp.Matches {
					if m.SimilarityScore > out.best {
						out.best = m.SimilarityScore
						top = m.WatchlistName
					}
					if row.Source != "" && strings.EqualFold(m.SourceList, row.Source) && m.SimilarityScore > out.bestSource {
						out.bestSource = m.SimilarityScore
					}
				}
				outcomes[i] = out

				if verbose {
					fmt.Printf("%-30s | Listed: %-5v | Best: %.3f %s\n", truncate(row.Name, 30), row.IsListed, out.best, top)
				}
			}
		}()
	}

	for i := range rows {
		work <- i
	}
	close(work)
	wg.Wait()

	return outcomes
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func matchName(client *http.Client, baseURL string, threshold float64, row LabelledName) (*MatchResponse, error) {
	req := MatchRequest{
		Customer: Customer{
			FullName:    row.Name,
			DateOfBirth: row.DateOfBirth,
			Nationality: row.Nationality,
		},
		Options: MatchOptions{Threshold: threshold},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/match", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result MatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// confusionAt scores every successful outcome at threshold t.
func confusionAt(outcomes []outcome, t float64, strictSource bool) Confusion {
	c := Confusion{Threshold: t}
	for _, o := range outcomes {
		if o.err != nil {
			continue
		}
		score := o.best
		if strictSource && o.row.Source != "" {
			score = o.bestSource
		}
		predicted := score >= t
		switch {
		case predicted && o.row.IsListed:
			c.TruePositives++
		case predicted && !o.row.IsListed:
			c.FalsePositives++
		case !predicted && !o.row.IsListed:
			c.TrueNegatives++
		default:
			c.FalseNegatives++
		}
	}
	return c
}

func printResults(s *Stats, matrices []Confusion, duration time.Duration) {
	fmt.Println("\n================================================================")
	fmt.Println("                       BENCHMARK RESULTS")
	fmt.Println("================================================================")

	processed := s.TotalProcessed.Load()
	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Total Processed:  %d\n", processed)
	fmt.Printf("   Errors:           %d\n", s.TotalErrors.Load())

	fmt.Printf("\nDETECTION METRICS BY THRESHOLD\n")
	fmt.Println("   Threshold      TP      FP      TN      FN   Precision  Recall     F1")
	best := matrices[0]
	for _, c := range matrices {
		fmt.Printf("   %9.2f %7d %7d %7d %7d   %9.4f  %6.4f  %6.4f\n",
			c.Threshold, c.TruePositives, c.FalsePositives, c.TrueNegatives, c.FalseNegatives,
			c.precision(), c.recall(), c.f1())
		if c.f1() > best.f1() {
			best = c
		}
	}
	fmt.Printf("\n   Best F1 at threshold %.2f (precision %.4f, recall %.4f)\n",
		best.Threshold, best.precision(), best.recall())

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if processed > 0 {
		avgMs := float64(s.ProcessingTimeMs.Load()) / float64(processed)
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f names/sec\n", float64(processed)/duration.Seconds())
	}

	fmt.Printf("\nINTERPRETATION\n")
	switch r := best.recall(); {
	case r >= 0.95:
		fmt.Println("   Excellent recall - listed names are caught")
	case r >= 0.8:
		fmt.Println("   Good recall - some listed names slip through")
	default:
		fmt.Println("   Poor recall - lower the threshold or check transliteration coverage")
	}
	if best.precision() < 0.5 {
		fmt.Println("   Low precision - analysts will see many false positives")
	}
	fmt.Println()
}
