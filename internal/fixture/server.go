// Package fixture serves local HTTP endpoints with known latency and error
// profiles for the http workload.
package fixture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

type ServerConfig struct {
	// Addr is host:port; port 0 picks a free one.
	Addr string
	Seed int64
	// MaxDelay caps /delay/{ms}.
	MaxDelay time.Duration
}

type server struct {
	mu       sync.Mutex
	rng      *rand.Rand
	maxDelay time.Duration
}

// Router returns the fixture handler.
func Router(cfg ServerConfig) http.Handler {
	s := &server{rng: rand.New(rand.NewSource(cfg.Seed)), maxDelay: cfg.MaxDelay}
	if s.maxDelay <= 0 {
		s.maxDelay = 10 * time.Second
	}

	r := mux.NewRouter()

	// 10-50ms
	r.HandleFunc("/fast", s.jittered(10, 40, "Fast response")).Methods(http.MethodGet)
	// 100-300ms
	r.HandleFunc("/medium", s.jittered(100, 200, "Medium response")).Methods(http.MethodGet)
	// 1s-2s
	r.HandleFunc("/slow", s.jittered(1000, 1000, "Slow response")).Methods(http.MethodGet)
	r.HandleFunc("/spike", s.handleSpike).Methods(http.MethodGet)
	r.HandleFunc("/error", s.handleError).Methods(http.MethodGet)
	r.HandleFunc("/delay/{ms:[0-9]+}", s.handleDelay).Methods(http.MethodGet)
	r.HandleFunc("/status/{code:[1-5][0-9][0-9]}", handleStatus).Methods(http.MethodGet)

	return r
}

func (s *server) intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

func (s *server) float32() float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float32()
}

func (s *server) jittered(baseMs, spreadMs int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d := time.Duration(s.intn(spreadMs)+baseMs) * time.Millisecond
		if !sleep(r.Context(), d) {
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	}
}

// Usually fast, 5% of requests take 2s.
func (s *server) handleSpike(w http.ResponseWriter, r *http.Request) {
	d := 20 * time.Millisecond
	if s.float32() < 0.05 {
		d = 2 * time.Second
	}
	if !sleep(r.Context(), d) {
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Spikey response"))
}

func (s *server) handleError(w http.ResponseWriter, r *http.Request) {
	switch rnd := s.float32(); {
	case rnd < 0.2:
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("500 Internal Server Error"))
	case rnd < 0.4:
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("429 Too Many Requests"))
	default:
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}

func (s *server) handleDelay(w http.ResponseWriter, r *http.Request) {
	ms, err := strconv.Atoi(mux.Vars(r)["ms"])
	if err != nil {
		http.Error(w, "bad delay", http.StatusBadRequest)
		return
	}
	d := time.Duration(ms) * time.Millisecond
	if d > s.maxDelay {
		d = s.maxDelay
	}
	if !sleep(r.Context(), d) {
		return
	}
	fmt.Fprintf(w, "delayed %s", d)
}

func handleStatus(w http.ResponseWriter, r *http.Request) {
	code, _ := strconv.Atoi(mux.Vars(r)["code"])
	w.WriteHeader(code)
	fmt.Fprintf(w, "%d %s", code, http.StatusText(code))
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Start serves the fixture until ctx is done and returns the bound address.
func Start(ctx context.Context, cfg ServerConfig, logger *slog.Logger) (string, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("fixture listener: %w", err)
	}

	server := &http.Server{
		Handler:           Router(cfg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("fixture server failed", slog.String("error", err.Error()))
		}
	}()
	context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})

	logger.Info("fixture server running",
		slog.String("addr", ln.Addr().String()),
		slog.String("endpoints", "/fast /medium /slow /spike /error /delay/{ms} /status/{code}"),
	)
	return ln.Addr().String(), nil
}
