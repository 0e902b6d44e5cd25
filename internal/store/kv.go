package store

import (
	"fmt"

	"github.com/soyeahso/widgetchat/internal/logging"
)

// Backend names accepted by OpenKV.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

// KV is a string key/value store. Get reports ok=false for a missing key.
type KV interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Delete(key string) error
	Close() error
}

// OpenKV opens the named backend at path. The memory backend ignores path.
func OpenKV(backend, path string, log *logging.Logger) (KV, error) {
	switch backend {
	case BackendSQLite, "":
		db, err := Open(path, log)
		if err != nil {
			return nil, err
		}
		return NewSQLiteKV(db), nil
	case BackendBolt:
		return OpenBolt(path)
	case BackendMemory:
		return NewMemoryKV(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
