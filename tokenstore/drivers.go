package tokenstore

import (
	"context"
	"fmt"

	"github.com/gobeaver/ingest/krypto"
	"github.com/gobeaver/ingest/tokenstore/driver/memory"
	"github.com/gobeaver/ingest/tokenstore/driver/redis"
	"github.com/gobeaver/ingest/tokenstore/driver/sql"
)

// Driver registration functions

func memoryRegister(_ Config) (Backend, error) {
	return memory.New(), nil
}

func redisRegister(ctx context.Context, cfg Config) (Backend, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: durable-kv backend requires a URL", ErrInvalidConfig)
	}

	enc, err := durableEncryptor(cfg)
	if err != nil {
		return nil, err
	}

	backend, err := redis.New(ctx, redis.Config{
		URL:       cfg.URL,
		KeyPrefix: cfg.KeyPrefix,
	})
	if err != nil {
		return nil, err
	}
	return NewEncryptedBackend(backend, enc), nil
}

func sqlRegister(ctx context.Context, cfg Config) (Backend, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: relational backend requires a URL", ErrInvalidConfig)
	}

	enc, err := durableEncryptor(cfg)
	if err != nil {
		return nil, err
	}

	backend, err := sql.New(ctx, sql.Config{
		Driver: cfg.SQLDriver,
		DSN:    cfg.URL,
	})
	if err != nil {
		return nil, err
	}
	return NewEncryptedBackend(backend, enc), nil
}

// durableEncryptor builds the at-rest encryptor. The key is mandatory for
// anything that outlives the process, and is validated before dialing.
func durableEncryptor(cfg Config) (krypto.Encryptor, error) {
	if cfg.EncryptionKey == "" {
		return nil, ErrMissingEncryptionKey
	}

	key, err := krypto.ParseKeyHex(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	enc, err := krypto.NewAESGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return enc, nil
}
