// Package web serves the local JSON API the UI talks to.
package web

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/revolutedigital/igreja-betania/internal/adapters/connectivity"
	"github.com/revolutedigital/igreja-betania/internal/adapters/http/middleware"
	"github.com/revolutedigital/igreja-betania/internal/adapters/http/perf"
	"github.com/revolutedigital/igreja-betania/internal/adapters/storage/localstore"
	"github.com/revolutedigital/igreja-betania/internal/application/orchestrators"
)

// App holds the services the handlers use.
type App struct {
	Facade     *orchestrators.Facade
	Reconciler *orchestrators.Reconciler
	Local      *localstore.Local // nil when the offline cache could not be opened
	Monitor    *connectivity.Monitor
	Hub        *Hub // nil disables the status stream
}

// Options configures the middleware chain.
type Options struct {
	CSRFKey        []byte
	Secure         bool // set cookies with Secure; use in production behind TLS
	TrustedOrigins []string
	SlowRequest    time.Duration
}

// ErrInvalidCSRFKey is returned for a key that is not 64 hex characters.
var ErrInvalidCSRFKey = errors.New("csrf key must be 64 hex characters (32 bytes)")

// LoadCSRFKey decodes the configured key. Outside production an empty key
// yields a random one, so form sessions do not survive a restart.
// PRE: none
// POST: Returns a 32-byte key or an error
func LoadCSRFKey(keyHex string, production bool) ([]byte, error) {
	if keyHex != "" {
		key, err := hex.DecodeString(keyHex)
		if err != nil || len(key) != 32 {
			return nil, ErrInvalidCSRFKey
		}
		return key, nil
	}
	if production {
		return nil, errors.New("csrf key is required in production")
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	slog.Warn("csrf_key_generated", "hint", "set BETANIA_CSRF_KEY to keep form tokens across restarts")
	return key, nil
}

// Global app instance (set by NewMux)
var app *App

// Global perf collector (set by NewMux)
var perfCollector *perf.Collector

// RateLimitPerSecond controls the per-client rate limit. Tests can raise it.
var RateLimitPerSecond = 20

var limiter *middleware.RateLimiter

// NewMux wires the API routes and middleware.
// PRE: a.Facade, a.Reconciler and a.Monitor are set; opts.CSRFKey is 32 bytes
// POST: Returns the handler; call Shutdown when done
func NewMux(a *App, collector *perf.Collector, opts Options) http.Handler {
	app = a
	perfCollector = collector

	mux := http.NewServeMux()
	registerRoutes(mux)

	if limiter != nil {
		limiter.Close()
	}
	limiter = middleware.NewRateLimiter(RateLimitPerSecond, time.Second)

	// Timing -> SecurityHeaders -> CSRF -> RateLimit -> mux
	return middleware.Chain(mux,
		middleware.RateLimit(limiter),
		middleware.CSRF(opts.CSRFKey, opts.Secure, opts.TrustedOrigins),
		middleware.SecurityHeaders,
		middleware.Timing(collector, opts.SlowRequest),
	)
}

// Shutdown stops background work started by NewMux and disconnects stream clients.
func Shutdown() {
	if limiter != nil {
		limiter.Close()
		limiter = nil
	}
	if app != nil && app.Hub != nil {
		app.Hub.Close()
	}
}
