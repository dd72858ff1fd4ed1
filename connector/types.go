package connector

import (
	"context"
	"strconv"
	"time"

	"github.com/gobeaver/ingest/httpkit"
	"github.com/gobeaver/ingest/locker"
	"github.com/gobeaver/ingest/metrics"
	"github.com/gobeaver/ingest/normalize"
	"github.com/gobeaver/ingest/oauth"
	"github.com/gobeaver/ingest/tokenstore"
)

// Connector is the per-provider integration the SDK dispatches to.
// Implementations embed *BaseConnector for the OAuth and refresh
// choreography and add their provider's Fetch.
type Connector interface {
	Name() string
	RedirectURI() string
	Connect(ctx context.Context, userID string, opts *oauth.AuthURLOptions) (string, error)
	HandleCallback(ctx context.Context, userID string, params map[string]string) (*oauth.TokenSet, error)
	Disconnect(ctx context.Context, userID string) error
	Fetch(ctx context.Context, userID string, params map[string]string) ([]*normalize.Item, error)
}

// ConnectOptioner is implemented by connectors that inject extra
// authorization URL parameters (for example duration=permanent).
type ConnectOptioner interface {
	ConnectOptions() *oauth.AuthURLOptions
}

// Deps carries the shared services every connector builds on.
type Deps struct {
	Auth      *oauth.Service
	Tokens    *tokenstore.Store
	HTTP      *httpkit.Client
	Locks     *locker.Locker
	Collector metrics.Collector

	// PreRefreshMargin overrides DefaultPreRefreshMargin for every
	// connector built on these deps.
	PreRefreshMargin time.Duration
}

// intParam reads a positive integer fetch parameter, falling back to def
// when absent or unparseable and clamping to max when max > 0.
func intParam(params map[string]string, key string, def, max int) int {
	v := def
	if raw, ok := params[key]; ok {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			v = n
		}
	}
	if max > 0 && v > max {
		v = max
	}
	return v
}
