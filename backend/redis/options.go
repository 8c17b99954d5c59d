package redis

import (
	"time"

	"github.com/itixo/durabletask/backend"
)

type RedisOptions struct {
	backend.Options

	// BlockTimeout bounds a single blocking pop of the activity queue.
	BlockTimeout time.Duration

	KeyPrefix string
}

type RedisBackendOption func(*RedisOptions)

func WithBlockTimeout(timeout time.Duration) RedisBackendOption {
	return func(o *RedisOptions) {
		o.BlockTimeout = timeout
	}
}

func WithBackendOptions(opts ...backend.BackendOption) RedisBackendOption {
	return func(o *RedisOptions) {
		for _, opt := range opts {
			opt(&o.Options)
		}
	}
}

// WithKeyPrefix prefixes all keys, e.g. to share a database between deployments.
func WithKeyPrefix(keyPrefix string) RedisBackendOption {
	return func(o *RedisOptions) {
		o.KeyPrefix = keyPrefix
	}
}
