package storage

import "fmt"

// NewStore selects the session-table backend. An empty kind falls back to
// the in-memory table; sqlite requires a -tags sqlite build.
func NewStore(kind, sqlitePath string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return newSQLiteStore(sqlitePath)
	default:
		return nil, fmt.Errorf("unsupported session-table backend %q (memory|sqlite)", kind)
	}
}

// CloseIfSupported closes backends that hold a connection; the in-memory
// table has nothing to release.
func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
