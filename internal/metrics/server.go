package metrics

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter serves the registry in Prometheus format, restricted to a list of
// networks when one is configured.
type Exporter struct {
	handler  http.Handler
	networks []*net.IPNet
	logger   *slog.Logger
}

// NewExporter creates the /metrics handler. Invalid entries in allowedIPs are
// logged and skipped.
func NewExporter(m *Metrics, allowedIPs []string, logger *slog.Logger) *Exporter {
	e := &Exporter{
		handler: promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}),
		networks: parseNetworks(allowedIPs, logger),
		logger:   logger,
	}
	if len(e.networks) > 0 {
		logger.Info("metrics IP filtering enabled", "allowed_networks", len(e.networks))
	}
	return e
}

func parseNetworks(entries []string, logger *slog.Logger) []*net.IPNet {
	var out []*net.IPNet
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				logger.Warn("invalid CIDR in allowed_ips", "cidr", entry, "error", err)
				continue
			}
			out = append(out, ipNet)
			continue
		}

		ip := net.ParseIP(entry)
		if ip == nil {
			logger.Warn("invalid IP in allowed_ips", "ip", entry)
			continue
		}
		bits := 128
		if ip.To4() != nil {
			bits = 32
		}
		out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return out
}

func (e *Exporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if len(e.networks) > 0 {
		ip := clientIP(r)
		if ip == nil || !e.allowed(ip) {
			e.logger.Warn("metrics access denied", "remote_addr", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}
	e.handler.ServeHTTP(w, r)
}

func (e *Exporter) allowed(ip net.IP) bool {
	for _, n := range e.networks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIP prefers X-Forwarded-For, then X-Real-IP, then RemoteAddr.
func clientIP(r *http.Request) net.IP {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if ip := net.ParseIP(strings.TrimSpace(xri)); ip != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return net.ParseIP(r.RemoteAddr)
	}
	return net.ParseIP(host)
}

// Server runs the exporter on its own listener.
type Server struct {
	httpServer *http.Server
	addr       string
	path       string
	logger     *slog.Logger
}

// NewServer creates a standalone metrics server
func NewServer(e *Exporter, addr, path string, logger *slog.Logger) *Server {
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, e)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		addr:   addr,
		path:   path,
		logger: logger,
	}
}

// ListenAndServe starts the metrics HTTP server
func (s *Server) ListenAndServe() error {
	s.logger.Info("starting metrics server", "addr", s.addr, "path", s.path)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the metrics server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down metrics server")
	return s.httpServer.Shutdown(ctx)
}
