package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wilhg/persistor/examples/ledger"
	"github.com/wilhg/persistor/pkg/errmodel"
	"github.com/wilhg/persistor/pkg/persistence"
	"github.com/wilhg/persistor/pkg/runtime"
)

const askTimeout = 10 * time.Second

type server struct {
	sys           *runtime.System
	logger        *slog.Logger
	gatherer      prometheus.Gatherer
	snapshotEvery uint64
}

func newServer(sys *runtime.System, logger *slog.Logger, gatherer prometheus.Gatherer, snapshotEvery uint64) *server {
	return &server{sys: sys, logger: logger, gatherer: gatherer, snapshotEvery: snapshotEvery}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /v1/accounts/{id}", s.handleGet)
	mux.HandleFunc("POST /v1/accounts/{id}/commands", s.handleCommand)
	mux.HandleFunc("POST /v1/accounts/{id}/snapshot", s.handleSnapshot)
	return otelhttp.NewHandler(requestID(mux), "persistor")
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

type commandRequest struct {
	Type   string `json:"type"`
	Amount int64  `json:"amount"`
}

func (s *server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errmodel.WriteHTTP(w, r, errmodel.Validation("bad_json", err.Error(), nil))
		return
	}
	var cmd any
	switch req.Type {
	case "deposit":
		cmd = ledger.Deposit{Amount: req.Amount}
	case "withdraw":
		cmd = ledger.Withdraw{Amount: req.Amount}
	default:
		errmodel.WriteHTTP(w, r, errmodel.Validation("unknown_command", "type must be deposit or withdraw", map[string]any{"type": req.Type}))
		return
	}
	s.ask(w, r, cmd)
}

func (s *server) handleGet(w http.ResponseWriter, r *http.Request) {
	s.ask(w, r, ledger.GetBalance{})
}

func (s *server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	s.ask(w, r, ledger.TakeSnapshot{})
}

func (s *server) ask(w http.ResponseWriter, r *http.Request, cmd any) {
	id := r.PathValue("id")
	ctx, cancel := context.WithTimeout(r.Context(), askTimeout)
	defer cancel()

	v, err := s.askAccount(ctx, id, cmd)
	if err != nil {
		s.logger.WarnContext(ctx, "command failed", "persistence_id", id, "command", commandName(cmd), "err", err)
		errmodel.WriteHTTP(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// askAccount delivers cmd to the account, spawning it on first use. A unit
// that stopped between lookup and delivery is spawned again once.
func (s *server) askAccount(ctx context.Context, id string, cmd any) (any, error) {
	for attempt := 0; ; attempt++ {
		ref, err := s.account(ctx, id)
		if err != nil {
			return nil, err
		}
		v, err := ref.Ask(ctx, cmd)
		if errors.Is(err, persistence.ErrStopped) && attempt == 0 {
			<-ref.Done()
			continue
		}
		return v, err
	}
}

func (s *server) account(ctx context.Context, id string) (*runtime.Ref, error) {
	if ref, ok := s.sys.Lookup(id); ok {
		return ref, nil
	}
	ref, err := s.sys.Spawn(ctx, id, ledger.NewAccount(ledger.WithSnapshotEvery(s.snapshotEvery)))
	if errors.Is(err, runtime.ErrAlreadyRunning) {
		if ref, ok := s.sys.Lookup(id); ok {
			return ref, nil
		}
	}
	return ref, err
}

func commandName(cmd any) string {
	switch cmd.(type) {
	case ledger.Deposit:
		return "deposit"
	case ledger.Withdraw:
		return "withdraw"
	case ledger.GetBalance:
		return "get_balance"
	case ledger.TakeSnapshot:
		return "snapshot"
	}
	return "unknown"
}
