// Package trigger exposes the report submitter over HTTP so an external
// scheduler or operator can push a NAV/PoR payload.
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"aura-oracle/internal/workflow"
)

const defaultMaxBody = 64 << 10

// Submitter is the workflow entry point the server drives.
type Submitter interface {
	Submit(ctx context.Context, raw []byte) (common.Hash, error)
}

// Options configure the listener.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxBodyBytes int64
}

// Server serves POST /trigger and GET /health.
type Server struct {
	opts      Options
	submitter Submitter
	server    *http.Server
	logger    zerolog.Logger
}

// New builds the trigger server.
func New(opts Options, submitter Submitter, logger zerolog.Logger) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 6 * time.Minute
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBody
	}

	s := &Server{
		opts:      opts,
		submitter: submitter,
		logger:    logger.With().Str("component", "trigger").Logger(),
	}

	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       opts.ReadTimeout,
		WriteTimeout:      opts.WriteTimeout,
	}
	return s
}

// Handler returns the routing mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/trigger", s.handleTrigger)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("starting trigger server")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info().Msg("trigger server stopped")
	return nil
}

type triggerResponse struct {
	TxHash string `json:"tx_hash,omitempty"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		s.respondJSON(w, http.StatusMethodNotAllowed, triggerResponse{Error: "method not allowed"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondJSON(w, http.StatusRequestEntityTooLarge, triggerResponse{Error: "payload too large"})
			return
		}
		s.respondJSON(w, http.StatusBadRequest, triggerResponse{Error: "read body: " + err.Error()})
		return
	}

	txHash, err := s.submitter.Submit(r.Context(), body)
	if err != nil {
		status, resp := classify(err, txHash)
		s.logger.Warn().Err(err).Int("status", status).Msg("trigger rejected")
		s.respondJSON(w, status, resp)
		return
	}

	s.respondJSON(w, http.StatusOK, triggerResponse{TxHash: txHash.Hex()})
}

func classify(err error, txHash common.Hash) (int, triggerResponse) {
	resp := triggerResponse{Error: err.Error()}
	var subErr *workflow.SubmissionError
	switch {
	case errors.Is(err, workflow.ErrValidation):
		return http.StatusBadRequest, resp
	case errors.Is(err, workflow.ErrConfiguration):
		return http.StatusInternalServerError, resp
	case errors.As(err, &subErr):
		resp.Status = string(subErr.Status)
		resp.TxHash = subErr.TxHash.Hex()
		return http.StatusBadGateway, resp
	default:
		if txHash != (common.Hash{}) {
			resp.TxHash = txHash.Hex()
		}
		return http.StatusBadGateway, resp
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}
