package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/negroni"
	"go.uber.org/zap"

	"github.com/SepehrImanian/ndsol/internal/core"
)

// Source is the resolver state the endpoint exposes.
type Source interface {
	Stats() core.Stats
	Table() []core.TableEntry
}

type tableEntryView struct {
	Addr       string  `json:"addr"`
	LinkAddr   string  `json:"link_addr,omitempty"`
	State      string  `json:"state"`
	Polling    bool    `json:"polling"`
	Queued     bool    `json:"queued"`
	AgeSeconds float64 `json:"age_seconds"`
}

type statsView struct {
	QueriesSent        uint64 `json:"queries_sent"`
	QueriesSuppressed  uint64 `json:"queries_suppressed"`
	PacketsKilled      uint64 `json:"packets_killed"`
	DecodeErrors       uint64 `json:"decode_errors"`
	Forwarded          uint64 `json:"forwarded"`
	AdvertisementsSent uint64 `json:"advertisements_sent"`
}

type handler struct {
	src Source
	log *zap.SugaredLogger
}

// NewHandler builds the introspection router. Metrics are registered on a
// private registry so several handlers can coexist in one process.
func NewHandler(src Source, log *zap.SugaredLogger) http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		&collector{src: src},
		collectors.NewGoCollector(),
	)

	h := &handler{src: src, log: log}

	router := mux.NewRouter()
	router.HandleFunc("/table", h.table).Methods(http.MethodGet)
	router.HandleFunc("/stats", h.stats).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	n := negroni.New()
	n.Use(negroni.NewRecovery())
	n.UseHandler(router)
	return n
}

func (h *handler) table(w http.ResponseWriter, r *http.Request) {
	entries := h.src.Table()
	out := make([]tableEntryView, 0, len(entries))
	for _, e := range entries {
		v := tableEntryView{
			Addr:       e.Addr.String(),
			State:      e.State.String(),
			Polling:    e.Polling,
			Queued:     e.Queued,
			AgeSeconds: e.Age.Seconds(),
		}
		if !e.LinkAddr.IsZero() {
			v.LinkAddr = e.LinkAddr.String()
		}
		out = append(out, v)
	}
	h.writeJSON(w, out)
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	s := h.src.Stats()
	h.writeJSON(w, statsView{
		QueriesSent:        s.QueriesSent,
		QueriesSuppressed:  s.QueriesSuppressed,
		PacketsKilled:      s.PacketsKilled,
		DecodeErrors:       s.DecodeErrors,
		Forwarded:          s.Forwarded,
		AdvertisementsSent: s.AdvertisementsSent,
	})
}

func (h *handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warnw("failed to write response", zap.Error(err))
	}
}

// Server serves the introspection handler until its context is canceled.
type Server struct {
	srv *http.Server
	log *zap.SugaredLogger
}

func NewServer(listen string, src Source, log *zap.SugaredLogger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              listen,
			Handler:           NewHandler(src, log),
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		log: log,
	}
}

func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.log.Infow("serving introspection endpoint", zap.Stringer("addr", ln.Addr()))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
