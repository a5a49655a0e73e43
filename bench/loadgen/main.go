package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"nhooyr.io/websocket"

	"termlend/core/events"
)

const (
	defaultDuration = 2 * time.Minute
	defaultRate     = 600 // deposits per minute
	defaultAmount   = "1000000000000000000"
)

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	ID      int             `json:"id"`
}

type depositParams struct {
	Market string `json:"market"`
	From   string `json:"from"`
	Assets string `json:"assets"`
}

type latencyTracker struct {
	mu        sync.Mutex
	pending   map[string]time.Time
	latencies []time.Duration
}

func newLatencyTracker() *latencyTracker {
	return &latencyTracker{pending: make(map[string]time.Time)}
}

func (lt *latencyTracker) track(account string, at time.Time) {
	lt.mu.Lock()
	lt.pending[strings.ToLower(account)] = at
	lt.mu.Unlock()
}

func (lt *latencyTracker) finalize(account string, at time.Time) {
	key := strings.ToLower(account)
	lt.mu.Lock()
	start, ok := lt.pending[key]
	if ok {
		lt.latencies = append(lt.latencies, at.Sub(start))
		delete(lt.pending, key)
	}
	lt.mu.Unlock()
}

func (lt *latencyTracker) snapshot() (latencies []time.Duration, pending int) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	latencies = append([]time.Duration(nil), lt.latencies...)
	pending = len(lt.pending)
	return latencies, pending
}

func (lt *latencyTracker) waitForEmpty(ctx context.Context) bool {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		lt.mu.Lock()
		remaining := len(lt.pending)
		lt.mu.Unlock()
		if remaining == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func main() {
	var (
		rpcURL       string
		market       string
		amount       string
		depositRate  int
		durationFlag time.Duration
	)
	flag.StringVar(&rpcURL, "rpc", "http://127.0.0.1:8545", "RPC endpoint for submitting deposits")
	flag.StringVar(&market, "market", "usdc", "market to deposit into")
	flag.StringVar(&amount, "amount", defaultAmount, "assets per deposit in base units")
	flag.IntVar(&depositRate, "rate", defaultRate, "target rate of deposits per minute")
	flag.DurationVar(&durationFlag, "duration", defaultDuration, "load duration")
	flag.Parse()

	assets, ok := new(big.Int).SetString(strings.TrimSpace(amount), 10)
	if !ok || assets.Sign() <= 0 {
		log.Fatalf("amount must be a positive decimal, got %q", amount)
	}

	token := strings.TrimSpace(os.Getenv("TERMLEND_RPC_TOKEN"))

	parsed, err := url.Parse(rpcURL)
	if err != nil {
		log.Fatalf("parse rpc url: %v", err)
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "http"
	}

	if depositRate <= 0 {
		log.Fatalf("rate must be positive, got %d", depositRate)
	}
	if durationFlag <= 0 {
		durationFlag = defaultDuration
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	httpClient := &http.Client{Timeout: 10 * time.Second}
	tracker := newLatencyTracker()

	wsURL := *parsed
	switch strings.ToLower(parsed.Scheme) {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = "/ws"
	wsURL.RawQuery = ""

	wsCtx, wsCancel := context.WithTimeout(ctx, 5*time.Second)
	conn, _, err := websocket.Dial(wsCtx, wsURL.String(), nil)
	wsCancel()
	if err != nil {
		log.Fatalf("connect event stream: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "load complete")

	streamCtx, streamCancel := context.WithCancel(ctx)
	defer streamCancel()
	go consumeEvents(streamCtx, conn, tracker)

	interval := time.Minute / time.Duration(depositRate)
	if interval <= 0 {
		interval = time.Millisecond
	}

	// Each submission uses a fresh depositor address so the confirmation
	// event identifies exactly one pending deposit.
	base := new(big.Int).SetInt64(time.Now().UnixNano())
	base.Lsh(base, 32)

	deadline := time.Now().Add(durationFlag)
	var nonce uint64
	var submitted int
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			log.Printf("context cancelled: %v", ctx.Err())
			return
		default:
		}
		account, err := submitDeposit(ctx, httpClient, parsed, token, market, assets, base, nonce)
		if err != nil {
			log.Printf("submit deposit %d failed: %v", nonce, err)
		} else {
			tracker.track(account, time.Now())
			submitted++
		}
		nonce++
		time.Sleep(interval)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer waitCancel()
	if !tracker.waitForEmpty(waitCtx) {
		log.Printf("pending confirmations for %d deposits", trackerPending(tracker))
	}

	streamCancel()

	latencies, pending := tracker.snapshot()
	reportLoadSummary(latencies, pending, submitted)
}

func loaderAccount(base *big.Int, nonce uint64) common.Address {
	seed := new(big.Int).Add(base, new(big.Int).SetUint64(nonce))
	return common.BigToAddress(seed)
}

func submitDeposit(ctx context.Context, client *http.Client, rpcURL *url.URL, token, market string, assets *big.Int, base *big.Int, nonce uint64) (string, error) {
	account := loaderAccount(base, nonce)
	payload := rpcRequest{
		JSONRPC: "2.0",
		Method:  "term_deposit",
		Params: []interface{}{depositParams{
			Market: market,
			From:   account.Hex(),
			Assets: assets.String(),
		}},
		ID: 1,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rpcURL.String(), bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("rpc call: %w", err)
	}
	defer resp.Body.Close()

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("rpc error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}
	return account.Hex(), nil
}

func consumeEvents(ctx context.Context, conn *websocket.Conn, tracker *latencyTracker) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var update events.Update
		if err := json.Unmarshal(data, &update); err != nil {
			log.Printf("decode event update: %v", err)
			continue
		}
		if update.Type != events.TypeMarketDeposit {
			continue
		}
		tracker.finalize(update.Attributes["account"], time.Now())
	}
}

func trackerPending(t *latencyTracker) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func reportLoadSummary(latencies []time.Duration, pending int, submitted int) {
	var max time.Duration
	var total time.Duration
	for _, latency := range latencies {
		if latency > max {
			max = latency
		}
		total += latency
	}
	avg := time.Duration(0)
	if len(latencies) > 0 {
		avg = time.Duration(int64(total) / int64(len(latencies)))
	}
	log.Printf("Deposit loader submitted %d deposits", submitted)
	log.Printf("Confirmed %d deposits (pending: %d)", len(latencies), pending)
	log.Printf("Latency avg=%s max=%s", avg, max)
}
