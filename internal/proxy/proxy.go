// Package proxy forwards unmatched requests to the configured upstream.
package proxy

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"time"
)

const errorMessage = "An error occured in the proxy"

// Header values stamped onto every proxied response.
const (
	allowOrigin  = "*"
	allowMethods = "POST, GET, OPTIONS"
	allowHeaders = "Origin, X-Requested-With, Content-Type, Accept, Authorization"
)

// Config describes the upstream and how to reach it.
type Config struct {
	Target *url.URL
	// TLS is used for https upstreams. Nil means the platform defaults.
	TLS *tls.Config
	// Timeout bounds the wait for upstream response headers. Zero disables it.
	Timeout time.Duration
}

// Proxy is an http.Handler that relays requests to one upstream.
type Proxy struct {
	rp     *httputil.ReverseProxy
	logger *slog.Logger
}

// TLSConfig builds a client TLS config that trusts the system roots plus the
// PEM certificates in caFile. An empty caFile yields nil.
func TLSConfig(caFile string) (*tls.Config, error) {
	if caFile == "" {
		return nil, nil
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read ca file: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("ca file %s: no certificates found", caFile)
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// New creates a Proxy for cfg.
func New(cfg Config, logger *slog.Logger) (*Proxy, error) {
	if cfg.Target == nil || cfg.Target.Host == "" {
		return nil, fmt.Errorf("proxy target is required")
	}
	if cfg.Target.Scheme != "http" && cfg.Target.Scheme != "https" {
		return nil, fmt.Errorf("proxy target scheme %q is not supported", cfg.Target.Scheme)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLS != nil {
		transport.TLSClientConfig = cfg.TLS
	}
	transport.ResponseHeaderTimeout = cfg.Timeout

	target := cfg.Target
	p := &Proxy{logger: logger}
	p.rp = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.Host = target.Host
		},
		Transport: transport,
		ModifyResponse: func(resp *http.Response) error {
			resp.Header.Set("Access-Control-Allow-Origin", allowOrigin)
			resp.Header.Set("Access-Control-Allow-Methods", allowMethods)
			resp.Header.Set("Access-Control-Allow-Headers", allowHeaders)
			return nil
		},
		ErrorHandler: p.handleError,
	}
	return p, nil
}

// ServeHTTP implements http.Handler.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS headers come from the upstream response only.
	h := w.Header()
	h.Del("Access-Control-Allow-Origin")
	h.Del("Access-Control-Allow-Credentials")
	h.Del("Access-Control-Expose-Headers")
	h.Del("Vary")
	p.rp.ServeHTTP(w, r)
}

func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	p.logger.Error("proxy request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()))

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   err.Error(),
		"message": errorMessage,
	})
}
