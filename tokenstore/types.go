package tokenstore

import (
	"context"
	"time"

	"github.com/gobeaver/ingest/oauth"
)

// StoredToken is the persisted record for one (user, provider) grant.
type StoredToken struct {
	UserID    string            `json:"user_id"`
	Provider  string            `json:"provider"`
	Token     oauth.TokenSet    `json:"token"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Backend is the storage driver interface. Values are opaque blobs keyed
// by (userID, provider); a missing key yields (nil, nil), never an error.
type Backend interface {
	// Get retrieves the blob for a key, or nil when absent.
	Get(ctx context.Context, userID, provider string) ([]byte, error)

	// Set stores a blob with a backend TTL.
	Set(ctx context.Context, userID, provider string, value []byte, ttl time.Duration) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, userID, provider string) error

	// List returns the providers stored for a user.
	List(ctx context.Context, userID string) ([]string, error)

	// Ping checks if the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error

	// Name identifies the driver in errors and health output.
	Name() string
}

// GetOptions alters Get behavior.
type GetOptions struct {
	// IncludeExpired returns tokens past their expiry, as long as they are
	// still inside the expiry buffer. Needed by refresh flows that trade
	// an expired access token for a new one.
	IncludeExpired bool
}
