package dispatch

import (
	"fmt"
	"net/http"
	"strings"

	configpkg "github.com/drblury/mediator/internal/dispatch/config"
	"github.com/drblury/mediator/internal/dispatch/jsoncodec"
	"github.com/drblury/mediator/internal/dispatch/logging"
)

// Introspector serves the dispatcher's registry and per-handler stats as a
// JSON API, for dashboards and operational tooling.
type Introspector struct {
	dispatcher *Dispatcher
	cfg        *configpkg.Config
	logger     logging.ServiceLogger
}

// NewIntrospector builds an introspector over the dispatcher. cfg controls
// the port and CORS origins; nil uses defaults.
func NewIntrospector(dispatcher *Dispatcher, cfg *configpkg.Config, logger logging.ServiceLogger) *Introspector {
	if cfg == nil {
		cfg = &configpkg.Config{}
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Introspector{dispatcher: dispatcher, cfg: cfg, logger: logger}
}

// Handler returns the introspection routes: /api/handlers for stats and
// /api/registry for the descriptor set.
func (i *Introspector) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/handlers", i.handleGetHandlers)
	mux.HandleFunc("/api/registry", i.handleGetRegistry)
	return mux
}

// Server builds the HTTP server bound to the configured introspection port.
// Running it is the caller's responsibility.
func (i *Introspector) Server() *http.Server {
	port := i.cfg.IntrospectionPort
	if port == 0 {
		port = 8081
	}
	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: i.Handler(),
	}
}

func (i *Introspector) handleGetHandlers(w http.ResponseWriter, r *http.Request) {
	if i.writeCommonHeaders(w, r) {
		return
	}

	stats := i.dispatcher.Stats().Snapshot()
	if stats == nil {
		stats = []HandlerInfo{}
	}
	if err := jsoncodec.Encode(w, stats); err != nil {
		i.logger.Error("Failed to encode handler stats", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// descriptorSummary is the wire shape of one registered handler.
type descriptorSummary struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Target      string   `json:"target"`
	TargetKind  string   `json:"target_kind"`
	Lifetime    string   `json:"lifetime"`
	Order       int      `json:"order"`
	OrderBefore []string `json:"order_before,omitempty"`
	OrderAfter  []string `json:"order_after,omitempty"`
	Use         []string `json:"use,omitempty"`
}

func (i *Introspector) handleGetRegistry(w http.ResponseWriter, r *http.Request) {
	if i.writeCommonHeaders(w, r) {
		return
	}

	handlers := i.dispatcher.Registry().Handlers()
	summaries := make([]descriptorSummary, 0, len(handlers))
	for _, h := range handlers {
		summary := descriptorSummary{
			Name:        h.Name,
			Kind:        h.Kind.String(),
			Target:      typeName(h.Target.Type),
			TargetKind:  h.Target.Kind.String(),
			Lifetime:    h.Lifetime.String(),
			Order:       h.Order,
			OrderBefore: h.OrderBefore,
			OrderAfter:  h.OrderAfter,
		}
		for _, ref := range h.Use {
			summary.Use = append(summary.Use, ref.Name)
		}
		summaries = append(summaries, summary)
	}

	if err := jsoncodec.Encode(w, summaries); err != nil {
		i.logger.Error("Failed to encode registry", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// writeCommonHeaders sets content type and CORS headers and reports whether
// the request was already answered (preflight).
func (i *Introspector) writeCommonHeaders(w http.ResponseWriter, r *http.Request) bool {
	w.Header().Set("Content-Type", "application/json")

	if len(i.cfg.IntrospectionCORSAllowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		allowedOrigin := i.allowedCORSOrigin(origin)
		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return true
	}
	return false
}

// allowedCORSOrigin checks if the request origin is allowed and returns the
// appropriate Access-Control-Allow-Origin value.
func (i *Introspector) allowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range i.cfg.IntrospectionCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
