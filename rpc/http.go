// Package rpc exposes the node over JSON-RPC 2.0: one POST endpoint
// for the term_* methods, a websocket event stream on /ws and the
// prometheus scrape surface on /metrics. Mutating methods sit behind
// bearer-token auth when a secret is configured; every client is rate
// limited.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"termlend/core"
	"termlend/core/events"
	"termlend/journal"
	"termlend/observability"
	"termlend/observability/logging"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	limiterStaleAfter = 10 * time.Minute
	limiterMaxEntries = 4096
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// ServerConfig carries the transport knobs the daemon reads from its
// configuration file. Zero timeouts leave the http.Server defaults in
// place; a zero rate disables throttling.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	TLSCertFile       string
	TLSKeyFile        string
	RatePerSecond     float64
	RateBurst         int
	Auth              AuthConfig
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Server routes JSON-RPC requests to the node, serves the journal and
// fans the event stream out over websockets.
type Server struct {
	node    *core.Node
	journal *journal.Store
	stream  *events.Stream
	auth    *Authenticator
	cfg     ServerConfig
	logger  *slog.Logger

	mu       sync.Mutex
	visitors map[string]*visitor

	serverMu   sync.Mutex
	httpServer *http.Server
}

// NewServer wires the RPC surface. The journal store and event stream
// are optional; the matching endpoints report unavailable when nil.
func NewServer(node *core.Node, store *journal.Store, stream *events.Stream, cfg ServerConfig) *Server {
	return &Server{
		node:     node,
		journal:  store,
		stream:   stream,
		auth:     NewAuthenticator(cfg.Auth),
		cfg:      cfg,
		logger:   slog.Default().With("component", "rpc"),
		visitors: make(map[string]*visitor),
	}
}

// Handler returns the full route set. The JSON-RPC endpoint and the
// websocket stream are traced; the scrape and health endpoints are
// not.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", otelhttp.NewHandler(http.HandlerFunc(s.handle), "termlend.rpc"))
	mux.Handle("/ws", otelhttp.NewHandler(http.HandlerFunc(s.handleEventsWS), "termlend.rpc.ws"))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	return mux
}

// Start serves until the listener fails or Shutdown is called. TLS is
// used when both certificate and key are configured.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}
	s.serverMu.Lock()
	s.httpServer = srv
	s.serverMu.Unlock()

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		s.logger.Info("serving JSON-RPC over TLS", "address", addr)
		return srv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}
	s.logger.Info("serving JSON-RPC", "address", addr)
	return srv.ListenAndServe()
}

// Shutdown drains in-flight requests until the context expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.serverMu.Lock()
	srv := s.httpServer
	s.serverMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"timestamp": s.node.Timestamp(),
	})
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	method := "invalid"
	if req := s.decodeRequest(rec, r); req != nil {
		method = req.Method
		s.route(rec, r, req)
	}
	observability.RPCMetrics().Observe(method, rec.status, time.Since(start))
}

// decodeRequest reads and validates the envelope. It writes the error
// response itself and returns nil when the request never reaches a
// method.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) *RPCRequest {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return nil
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return nil
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return nil
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return nil
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return nil
	}
	return req
}

// route dispatches one decoded request. Every request burns rate
// budget; mutating methods additionally pass the auth gate.
func (s *Server) route(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.allowSource(clientSource(r), time.Now()) {
		observability.RPCMetrics().RecordThrottle("client")
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "request rate limit exceeded", nil)
		return
	}

	switch req.Method {
	case "term_deposit":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleDeposit(w, r, req)
	case "term_mint":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleMint(w, r, req)
	case "term_withdraw":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleWithdraw(w, r, req)
	case "term_redeem":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleRedeem(w, r, req)
	case "term_borrow":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleBorrow(w, r, req)
	case "term_repay":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleRepay(w, r, req)
	case "term_refund":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleRefund(w, r, req)
	case "term_depositAtMaturity":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleDepositAtMaturity(w, r, req)
	case "term_borrowAtMaturity":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleBorrowAtMaturity(w, r, req)
	case "term_withdrawAtMaturity":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleWithdrawAtMaturity(w, r, req)
	case "term_repayAtMaturity":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleRepayAtMaturity(w, r, req)
	case "term_rollAtMaturity":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleRollAtMaturity(w, r, req)
	case "term_liquidate":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleLiquidate(w, r, req)
	case "term_enterMarket":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleEnterMarket(w, r, req)
	case "term_exitMarket":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleExitMarket(w, r, req)
	case "term_setPrice":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleSetPrice(w, r, req)
	case "term_pause":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handlePause(w, r, req)
	case "term_resume":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleResume(w, r, req)
	case "term_getMarket":
		s.handleGetMarket(w, r, req)
	case "term_getAccount":
		s.handleGetAccount(w, r, req)
	case "term_previewRates":
		s.handlePreviewRates(w, r, req)
	case "term_listMarkets":
		s.handleListMarkets(w, r, req)
	case "term_openMaturities":
		s.handleOpenMaturities(w, r, req)
	case "term_getJournal":
		s.handleGetJournal(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
	}
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.auth == nil {
		return nil
	}
	token := extractBearer(r.Header.Get("Authorization"))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if err := s.auth.Verify(token); err != nil {
		s.logger.Warn("token rejected", "error", err, logging.MaskField("token", token))
		return &RPCError{Code: codeUnauthorized, Message: "invalid bearer token"}
	}
	return nil
}

// allowSource burns one token from the client's limiter, creating it
// on first contact. Stale entries are dropped opportunistically and
// the map is capped so hostile clients cannot grow it without bound.
func (s *Server) allowSource(source string, now time.Time) bool {
	if s.cfg.RatePerSecond <= 0 {
		return true
	}
	source = strings.TrimSpace(source)
	if source == "" {
		source = "unknown"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.visitors[source]
	if !ok {
		s.evictLocked(now)
		burst := s.cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		entry = &visitor{limiter: rate.NewLimiter(rate.Limit(s.cfg.RatePerSecond), burst)}
		s.visitors[source] = entry
	}
	entry.lastSeen = now
	return entry.limiter.Allow()
}

// evictLocked clears idle limiters and, when the map is still full,
// the longest-idle one. Callers hold s.mu.
func (s *Server) evictLocked(now time.Time) {
	for source, entry := range s.visitors {
		if now.Sub(entry.lastSeen) > limiterStaleAfter {
			delete(s.visitors, source)
		}
	}
	if len(s.visitors) < limiterMaxEntries {
		return
	}
	oldest := ""
	var oldestSeen time.Time
	for source, entry := range s.visitors {
		if oldest == "" || entry.lastSeen.Before(oldestSeen) {
			oldest = source
			oldestSeen = entry.lastSeen
		}
	}
	if oldest != "" {
		delete(s.visitors, oldest)
	}
}

func clientSource(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return strings.TrimSpace(ip)
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			candidate := strings.TrimSpace(parts[0])
			if candidate != "" {
				return candidate
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
