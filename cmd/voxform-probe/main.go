// Command voxform-probe drives a scripted conversation against a running
// server and reports per-turn latency, including the server's own stage
// timings from turn_complete events. It is the quickest way to see what a
// deployment change did to end-to-end turn time.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avoncourt/voxform/internal/protocol"
)

type options struct {
	baseURL        string
	formID         string
	industry       string
	businessName   string
	turns          int
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	verbose        bool
}

var defaultScript = []string{
	"Hi, I was rear-ended on the highway last week.",
	"My name is Dana Whitfield.",
	"You can reach me at 415-555-0142.",
	"The other driver ran a red light and hit my rear bumper.",
	"Yes, I saw a doctor the same day about neck pain.",
	"Mornings work best for a callback.",
}

type turnSample struct {
	wall    time.Duration
	stageMS map[string]int64
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxform-probe: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "voxform-probe: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var interTurnMS int
	var turnTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "server base URL")
	flag.StringVar(&cfg.formID, "form-id", "", "existing form to run against (default: instantiate a template)")
	flag.StringVar(&cfg.industry, "industry", "legal", "template industry when no form-id is given")
	flag.StringVar(&cfg.businessName, "business", "Probe & Partners", "business name substituted into the template")
	flag.IntVar(&cfg.turns, "turns", 6, "number of turns to drive")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 150, "delay between turns in milliseconds")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 30000, "timeout waiting for turn_complete per turn in milliseconds")
	flag.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print probe progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultScript...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty utterances")
		}
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 45 * time.Second}

	formID, err := resolveForm(ctx, httpClient, cfg)
	if err != nil {
		return fmt.Errorf("resolve form: %w", err)
	}
	sessionID, err := startSession(ctx, httpClient, cfg.baseURL, formID)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer func() {
		_ = endSession(context.Background(), httpClient, cfg.baseURL, sessionID)
	}()

	if cfg.verbose {
		fmt.Printf("voxform-probe: form=%s session=%s turns=%d\n", formID, sessionID, cfg.turns)
	}

	wsURL, err := wsURLForSession(cfg.baseURL, sessionID)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	turnEndCh := make(chan map[string]int64, 32)
	readErrCh := make(chan error, 1)
	go readLoop(conn, turnEndCh, readErrCh, cfg.verbose)

	samples := make([]turnSample, 0, cfg.turns)
	for i := 0; i < cfg.turns; i++ {
		select {
		case err := <-readErrCh:
			return fmt.Errorf("ws read: %w", err)
		default:
		}

		text := cfg.texts[i%len(cfg.texts)]
		if cfg.verbose {
			fmt.Printf("voxform-probe: turn %d/%d text=%q\n", i+1, cfg.turns, text)
		}

		started := time.Now()
		msg := protocol.UserMessage{
			Type:      protocol.TypeUserMessage,
			SessionID: sessionID,
			Text:      text,
		}
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("turn %d send: %w", i+1, err)
		}
		stageMS, err := awaitTurnComplete(turnEndCh, readErrCh, cfg.turnTimeout)
		if err != nil {
			return fmt.Errorf("turn %d await turn_complete: %w", i+1, err)
		}
		samples = append(samples, turnSample{wall: time.Since(started), stageMS: stageMS})

		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	printSummary(samples)
	return printPayload(ctx, httpClient, cfg.baseURL, sessionID)
}

func resolveForm(ctx context.Context, client *http.Client, cfg options) (string, error) {
	if strings.TrimSpace(cfg.formID) != "" {
		return strings.TrimSpace(cfg.formID), nil
	}

	payload, err := json.Marshal(map[string]string{"business_name": cfg.businessName})
	if err != nil {
		return "", err
	}
	endpoint := cfg.baseURL + "/api/forms/from-template/" + url.PathEscape(cfg.industry)
	body, err := postJSON(ctx, client, endpoint, payload, http.StatusCreated)
	if err != nil {
		return "", err
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ID) == "" {
		return "", fmt.Errorf("missing id in template response")
	}
	return out.ID, nil
}

func startSession(ctx context.Context, client *http.Client, baseURL, formID string) (string, error) {
	payload, err := json.Marshal(map[string]string{"form_id": formID})
	if err != nil {
		return "", err
	}
	body, err := postJSON(ctx, client, baseURL+"/api/chat/start", payload, http.StatusCreated)
	if err != nil {
		return "", err
	}

	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", fmt.Errorf("missing session_id in response")
	}
	return out.SessionID, nil
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, baseURL+"/api/chat/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, payload []byte, wantStatus int) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if res.StatusCode != wantStatus {
		return nil, fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/chat"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type wsEvent struct {
	Type    string           `json:"type"`
	Code    string           `json:"code,omitempty"`
	Detail  string           `json:"detail,omitempty"`
	StageMS map[string]int64 `json:"stage_ms,omitempty"`
}

func readLoop(conn *websocket.Conn, turnEndCh chan<- map[string]int64, readErrCh chan<- error, verbose bool) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}

		var env wsEvent
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case string(protocol.TypeTurnComplete):
			select {
			case turnEndCh <- env.StageMS:
			default:
			}
		case string(protocol.TypeErrorEvent):
			if verbose {
				fmt.Fprintf(os.Stderr, "voxform-probe: error event code=%s detail=%s\n", env.Code, env.Detail)
			}
		}
	}
}

func awaitTurnComplete(turnEndCh <-chan map[string]int64, readErrCh <-chan error, timeout time.Duration) (map[string]int64, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case stageMS := <-turnEndCh:
		return stageMS, nil
	case err := <-readErrCh:
		return nil, err
	case <-timer.C:
		return nil, fmt.Errorf("timeout after %s", timeout)
	}
}

func printSummary(samples []turnSample) {
	if len(samples) == 0 {
		return
	}

	wall := make([]float64, 0, len(samples))
	byStage := make(map[string][]float64)
	for _, s := range samples {
		wall = append(wall, float64(s.wall.Milliseconds()))
		for stage, ms := range s.stageMS {
			byStage[stage] = append(byStage[stage], float64(ms))
		}
	}

	fmt.Printf("voxform-probe: %d turns completed\n", len(samples))
	printStatLine("wall", wall)

	stages := make([]string, 0, len(byStage))
	for stage := range byStage {
		stages = append(stages, stage)
	}
	sort.Strings(stages)
	for _, stage := range stages {
		printStatLine(stage, byStage[stage])
	}
}

func printStatLine(name string, values []float64) {
	if len(values) == 0 {
		return
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	fmt.Printf("voxform-probe:   %-8s n=%d avg=%.0fms p50=%.0fms p90=%.0fms max=%.0fms\n",
		name, len(sorted), sum/float64(len(sorted)),
		percentile(sorted, 0.50), percentile(sorted, 0.90), sorted[len(sorted)-1])
}

func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func printPayload(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/chat/"+url.PathEscape(sessionID)+"/payload", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("payload HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		Complete bool           `json:"complete"`
		Missing  []string       `json:"missing"`
		Record   map[string]any `json:"record"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return err
	}
	fmt.Printf("voxform-probe: complete=%v captured=%d missing=%v\n", out.Complete, len(out.Record), out.Missing)
	return nil
}
