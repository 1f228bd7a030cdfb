package rpc

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tolelom/rescuechain/core"
	"github.com/tolelom/rescuechain/leaderboard"
)

const maxBodyBytes = 1 * 1024 * 1024

// Server is the ledger's HTTP front end: JSON-RPC 2.0 on POST / plus
// read-only REST routes under /v1.
type Server struct {
	handler *Handler
	auth    *Authenticator
	addr    string
	srv     *http.Server
	ln      net.Listener
	log     log.Logger
}

// NewServer creates a Server on addr. Mutating RPC methods require a bearer
// token issued by auth.
func NewServer(addr string, handler *Handler, auth *Authenticator) *Server {
	s := &Server{handler: handler, auth: auth, addr: addr, log: log.New("module", "rpc")}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Routes builds the router. Exposed for tests.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.authenticate)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "height": s.handler.svc.JournalHeight()})
	})
	r.Post("/", s.serveRPC)

	r.Route("/v1", func(api chi.Router) {
		api.Post("/auth/login", s.login)
		api.Get("/missions/active", s.activeMissions)
		api.Get("/missions/{id}", s.mission)
		api.Get("/players/{address}/stats", s.playerStats)
		api.Get("/players/{address}/animals", s.playerAnimals)
		api.Get("/animals/{id}", s.animal)
		api.Get("/leaderboard/{board}", s.leaderboard)
	})
	return r
}

// Start binds the port synchronously (so callers know immediately if binding
// fails) then serves requests in a background goroutine.
func (s *Server) Start() error {
	return s.serve(nil)
}

// StartTLS is Start over TLS.
func (s *Server) StartTLS(cfg *tls.Config) error {
	return s.serve(cfg)
}

func (s *Server) serve(cfg *tls.Config) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	if cfg != nil {
		ln = tls.NewListener(ln, cfg)
	}
	s.ln = ln
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Server error", "err", err)
		}
	}()
	s.log.Info("RPC server listening", "addr", ln.Addr().String(), "tls", cfg != nil)
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the HTTP server, waiting up to 5 seconds for
// in-flight requests to complete.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// ---- middleware ----

type requestIDKey struct{}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = "req_" + uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// RequestIDFrom returns the request id assigned by the router.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// authenticate attaches the bearer's address to the request context. Requests
// without a token pass through anonymously; a bad token is refused.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := bearer(header)
		if !ok {
			WriteError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "malformed authorization header")
			return
		}
		caller, err := s.auth.Verify(token)
		if err != nil {
			WriteError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

// ---- JSON-RPC ----

func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSON(w, http.StatusOK, errResponse(nil, CodeParseError, err.Error()))
		return
	}
	if req.JSONRPC != "2.0" {
		WriteJSON(w, http.StatusOK, errResponse(req.ID, CodeInvalidRequest, "jsonrpc must be '2.0'"))
		return
	}

	resp := s.handler.Dispatch(r.Context(), req)
	if resp.Error != nil && resp.Error.Code == CodeInternalError {
		s.log.Error("RPC call failed", "method", req.Method, "request", RequestIDFrom(r.Context()), "err", resp.Error.Message)
	}
	WriteJSON(w, http.StatusOK, resp)
}

// ---- REST ----

type loginRequest struct {
	Address   common.Address `json:"address"`
	IssuedAt  int64          `json:"issued_at"`
	Signature hexutil.Bytes  `json:"signature"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "BAD_JSON", err.Error())
		return
	}
	token, err := s.auth.Login(req.Address, req.IssuedAt, req.Signature)
	if err != nil {
		WriteError(w, r, http.StatusUnauthorized, "LOGIN_FAILED", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"token": token, "address": req.Address.Hex()})
}

func (s *Server) activeMissions(w http.ResponseWriter, r *http.Request) {
	ms, err := s.handler.svc.ListActiveMissions()
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"missions": nonNil(ms)})
}

func (s *Server) mission(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	m, err := s.handler.svc.GetMission(id)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, m)
}

func (s *Server) playerStats(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	stats, err := s.handler.svc.GetPlayerStats(addr)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

func (s *Server) playerAnimals(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	animals, err := s.handler.svc.GetUserAssets(addr)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"animals": nonNil(animals)})
}

func (s *Server) animal(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	a, err := s.handler.svc.GetAnimal(id)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, a)
}

func (s *Server) leaderboard(w http.ResponseWriter, r *http.Request) {
	if s.handler.board == nil {
		WriteError(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", "leaderboard not configured")
		return
	}
	board, err := leaderboard.ParseBoard(chi.URLParam(r, "board"))
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	limit := int64(10)
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 || n > maxLeaderboardLimit {
			WriteError(w, r, http.StatusBadRequest, "BAD_REQUEST", "limit must be 1.."+strconv.Itoa(maxLeaderboardLimit))
			return
		}
		limit = n
	}
	entries, err := s.handler.board.Top(r.Context(), board, limit)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"board": board, "entries": nonNil(entries)})
}

func uintParam(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	v, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "BAD_REQUEST", name+" must be an unsigned integer")
		return 0, false
	}
	return v, true
}

func addressParam(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	v := chi.URLParam(r, "address")
	if !common.IsHexAddress(v) {
		WriteError(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid address")
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

// ---- response helpers ----

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the REST error envelope.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	WriteJSON(w, status, map[string]any{
		"request_id": RequestIDFrom(r.Context()),
		"error": map[string]any{
			"code": code, "message": message,
		},
	})
}

func writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		WriteError(w, r, http.StatusNotFound, core.Reason(err), err.Error())
	case core.IsRejection(err):
		WriteError(w, r, http.StatusUnprocessableEntity, core.Reason(err), err.Error())
	default:
		WriteError(w, r, http.StatusInternalServerError, "Internal", err.Error())
	}
}
