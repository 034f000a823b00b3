// Command admission_probe fires concurrent enrollment requests at a running
// registrar instance and reports the outcome distribution. Pointed at a
// section with N seats and more than N tokens, the confirmed count must come
// back exactly N with everyone else waitlisted; anything different is a
// capacity bug.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

type queuedResponse struct {
	Data struct {
		JobID  string `json:"jobId"`
		Status string `json:"status"`
	} `json:"data"`
}

type statusResponse struct {
	Data struct {
		JobID  string  `json:"jobId"`
		Status string  `json:"status"`
		Result *string `json:"result"`
		Error  *string `json:"error"`
	} `json:"data"`
}

type probeResult struct {
	Token    string
	JobID    string
	Outcome  string
	Err      error
	Duration time.Duration
}

func main() {
	var (
		base         string
		sectionID    string
		tokensPath   string
		pollInterval time.Duration
		deadline     time.Duration
		timeout      time.Duration
	)

	flag.StringVar(&base, "base", "http://localhost:8080", "Registrar API base URL")
	flag.StringVar(&sectionID, "section", "", "Section ID to enroll into")
	flag.StringVar(&tokensPath, "tokens", "scripts/admission_probe/tokens.txt", "File with one bearer token per line")
	flag.DurationVar(&pollInterval, "poll", 200*time.Millisecond, "Status poll interval")
	flag.DurationVar(&deadline, "deadline", 30*time.Second, "Per-job decision deadline")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "HTTP client timeout")
	flag.Parse()

	if sectionID == "" {
		log.Fatal("-section is required")
	}

	tokens, err := loadTokens(tokensPath)
	if err != nil {
		log.Fatalf("failed to load tokens: %v", err)
	}

	client := &http.Client{Timeout: timeout}

	results := make([]probeResult, len(tokens))
	var wg sync.WaitGroup
	for i, token := range tokens {
		wg.Add(1)
		go func(i int, token string) {
			defer wg.Done()
			results[i] = probe(client, base, sectionID, token, pollInterval, deadline)
		}(i, token)
	}
	wg.Wait()

	printReport(results)
}

func loadTokens(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var tokens []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			tokens = append(tokens, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("no tokens in %s", path)
	}
	return tokens, nil
}

func probe(client *http.Client, base, sectionID, token string, pollInterval, deadline time.Duration) probeResult {
	res := probeResult{Token: token[:min(8, len(token))]}
	start := time.Now()

	jobID, err := submit(client, base, sectionID, token)
	if err != nil {
		res.Err = err
		res.Outcome = "submit_error"
		return res
	}
	res.JobID = jobID

	expire := time.Now().Add(deadline)
	for time.Now().Before(expire) {
		outcome, terminal, err := poll(client, base, jobID, token)
		if err != nil {
			res.Err = err
			res.Outcome = "poll_error"
			return res
		}
		if terminal {
			res.Outcome = outcome
			res.Duration = time.Since(start)
			return res
		}
		time.Sleep(pollInterval)
	}

	res.Outcome = "timeout"
	res.Duration = time.Since(start)
	return res
}

func submit(client *http.Client, base, sectionID, token string) (string, error) {
	payload, err := json.Marshal(map[string]string{"sectionId": sectionID})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(base, "/")+"/api/v1/enrollments", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("submit returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var queued queuedResponse
	if err := json.Unmarshal(body, &queued); err != nil {
		return "", err
	}
	if queued.Data.JobID == "" {
		return "", fmt.Errorf("submit accepted but no job id in %s", strings.TrimSpace(string(body)))
	}
	return queued.Data.JobID, nil
}

func poll(client *http.Client, base, jobID, token string) (string, bool, error) {
	req, err := http.NewRequest(http.MethodGet, strings.TrimRight(base, "/")+"/api/v1/enrollments/status/"+jobID, nil)
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return "not_found", true, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("status poll returned %d", resp.StatusCode)
	}
	var status statusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return "", false, err
	}
	switch status.Data.Status {
	case "COMPLETED":
		if status.Data.Result != nil {
			return *status.Data.Result, true, nil
		}
		return "completed", true, nil
	case "FAILED":
		if status.Data.Error != nil {
			return "failed:" + *status.Data.Error, true, nil
		}
		return "failed", true, nil
	default:
		return status.Data.Status, false, nil
	}
}

func printReport(results []probeResult) {
	fmt.Println("Admission Probe Report")
	fmt.Println("=======================")

	counts := make(map[string]int)
	errored := 0
	for _, res := range results {
		counts[res.Outcome]++
		if res.Err != nil {
			errored++
			fmt.Printf("[ERROR] token %s...: %v\n", res.Token, res.Err)
		}
	}

	outcomes := make([]string, 0, len(counts))
	for outcome := range counts {
		outcomes = append(outcomes, outcome)
	}
	sort.Strings(outcomes)
	for _, outcome := range outcomes {
		fmt.Printf("  %-30s %d\n", outcome, counts[outcome])
	}
	fmt.Printf("Total: %d, errors: %d\n", len(results), errored)

	if errored > 0 || counts["timeout"] > 0 {
		os.Exit(1)
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
