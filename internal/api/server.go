// Package api exposes the ledger operation surface over HTTP for the
// local gateway client and external auditors.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"wipeledger/internal/ledger"
	"wipeledger/internal/logger"
	"wipeledger/internal/proof"
	"wipeledger/internal/snapshot"
)

const (
	// maxBodySize is the maximum accepted request body size.
	maxBodySize = 64 << 10 // 64 KB
)

// Server is the HTTP surface over one ledger instance.
type Server struct {
	addr   string         // addr is the HTTP listen address
	ledger *ledger.Ledger // ledger is the backing record store
	server *http.Server   // server is the underlying HTTP server
}

// New creates a new ledger HTTP server.
func New(addr string, l *ledger.Ledger) *Server {
	return &Server{
		addr:   addr,
		ledger: l,
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /commit", s.handleCommit)
	mux.HandleFunc("GET /record/{device}", s.handleGetRecord)
	mux.HandleFunc("GET /verify", s.handleVerify)
	mux.HandleFunc("GET /processed/{device}", s.handleProcessed)
	mux.HandleFunc("POST /operators/authorize", s.handleAuthorize)
	mux.HandleFunc("POST /operators/revoke", s.handleRevoke)
	mux.HandleFunc("GET /operators/{operator}", s.handleIsAuthorized)
	mux.HandleFunc("POST /pause", s.handlePause)
	mux.HandleFunc("POST /unpause", s.handleUnpause)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /export", s.handleExport)
	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("ledger api started", "addr", s.addr)

		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// commitRequest is the body of POST /commit.
type commitRequest struct {
	DeviceID string `json:"device_id"`
	Digest   string `json:"digest"`
	Operator string `json:"operator"`
}

// recordResponse is the wire shape of a committed record.
type recordResponse struct {
	DeviceID  string `json:"device_id"`
	Digest    string `json:"digest"`
	Timestamp string `json:"timestamp"`
	Operator  string `json:"operator"`
	Sequence  uint64 `json:"sequence"`
	TxID      string `json:"tx_id"`
}

// toRecordResponse converts a ledger record for the wire.
func toRecordResponse(rec ledger.Record) recordResponse {
	return recordResponse{
		DeviceID:  rec.DeviceID,
		Digest:    rec.Digest.Hex(),
		Timestamp: rec.Timestamp.UTC().Format(time.RFC3339Nano),
		Operator:  rec.Operator.Hex(),
		Sequence:  rec.Sequence,
		TxID:      rec.TxID.Hex(),
	}
}

// handleCommit handles POST /commit requests.
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if !decodeBody(w, r, &req) {
		return
	}

	digest, err := proof.ParseDigest(req.Digest)
	if err != nil {
		writeLedgerError(w, ledger.ErrValidation)
		return
	}

	operator, ok := parseAddress(req.Operator)
	if !ok {
		writeLedgerError(w, ledger.ErrValidation)
		return
	}

	rec, err := s.ledger.Commit(req.DeviceID, digest, operator)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	logger.Info("record committed",
		"device_id", rec.DeviceID,
		"sequence", rec.Sequence,
		"ledger_tx", rec.TxID.Hex(),
	)

	writeJSON(w, http.StatusCreated, toRecordResponse(rec))
}

// handleGetRecord handles GET /record/{device} requests.
func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.ledger.Get(r.PathValue("device"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toRecordResponse(rec))
}

// handleVerify handles GET /verify?device=...&digest=... requests.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	device := r.URL.Query().Get("device")

	digest, err := proof.ParseDigest(r.URL.Query().Get("digest"))
	if err != nil {
		writeLedgerError(w, ledger.ErrValidation)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{
		"match": s.ledger.Verify(device, digest),
	})
}

// handleProcessed handles GET /processed/{device} requests.
func (s *Server) handleProcessed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{
		"processed": s.ledger.Processed(r.PathValue("device")),
	})
}

// registryRequest is the body of operator registry mutations.
type registryRequest struct {
	Operator string `json:"operator"`
	By       string `json:"by"`
}

// handleAuthorize handles POST /operators/authorize requests.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	s.handleRegistry(w, r, s.ledger.Authorize)
}

// handleRevoke handles POST /operators/revoke requests.
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	s.handleRegistry(w, r, s.ledger.Revoke)
}

// handleRegistry decodes a registry mutation and applies it.
func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request, apply func(op, by common.Address) error) {
	var req registryRequest
	if !decodeBody(w, r, &req) {
		return
	}

	operator, ok1 := parseAddress(req.Operator)
	by, ok2 := parseAddress(req.By)
	if !ok1 || !ok2 {
		writeLedgerError(w, ledger.ErrValidation)
		return
	}

	if err := apply(operator, by); err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleIsAuthorized handles GET /operators/{operator} requests.
func (s *Server) handleIsAuthorized(w http.ResponseWriter, r *http.Request) {
	operator, ok := parseAddress(r.PathValue("operator"))
	if !ok {
		writeLedgerError(w, ledger.ErrValidation)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{
		"authorized": s.ledger.IsAuthorized(operator),
	})
}

// pauseRequest is the body of pause/unpause requests.
type pauseRequest struct {
	By string `json:"by"`
}

// handlePause handles POST /pause requests.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.handlePauseState(w, r, s.ledger.Pause)
}

// handleUnpause handles POST /unpause requests.
func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	s.handlePauseState(w, r, s.ledger.Unpause)
}

// handlePauseState decodes a pause mutation and applies it.
func (s *Server) handlePauseState(w http.ResponseWriter, r *http.Request, apply func(by common.Address) error) {
	var req pauseRequest
	if !decodeBody(w, r, &req) {
		return
	}

	by, ok := parseAddress(req.By)
	if !ok {
		writeLedgerError(w, ledger.ErrValidation)
		return
	}

	if err := apply(by); err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus handles GET /status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	info := s.ledger.Info()

	writeJSON(w, http.StatusOK, map[string]any{
		"admin":   info.Admin.Hex(),
		"records": info.Records,
		"paused":  info.Paused,
	})
}

// handleExport handles GET /export requests, streaming a compressed
// ledger archive for external auditors.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	data, err := snapshot.Create(s.ledger)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	logger.Info("ledger exported", "records", s.ledger.Count(), "bytes", len(data))

	w.Header().Set("Content-Type", "application/zstd")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// decodeBody reads and decodes a JSON request body, writing a
// validation error on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil || len(body) == 0 {
		writeLedgerError(w, ledger.ErrValidation)
		return false
	}

	if err := json.Unmarshal(body, dst); err != nil {
		writeLedgerError(w, ledger.ErrValidation)
		return false
	}

	return true
}

// parseAddress parses a 0x-prefixed 20-byte hex address.
func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}

	return common.HexToAddress(s), true
}

// writeLedgerError maps a ledger error to an HTTP status and wire code.
func writeLedgerError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, ledger.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrAccessControl):
		status = http.StatusForbidden
	case errors.Is(err, ledger.ErrDuplicateRecord):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrPaused):
		status = http.StatusLocked
	case errors.Is(err, ledger.ErrNotFound):
		status = http.StatusNotFound
	}

	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  ledger.ErrorCode(err),
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
