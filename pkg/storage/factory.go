package storage

import "fmt"

// Open opens the configured backend at dataDir.
func Open(backend Backend, dataDir string) (Store, error) {
	switch backend {
	case BackendMemory:
		return NewMemStore(), nil
	case BackendLevelDB:
		return OpenLevelDBStore(DefaultLevelDBConfig(dataDir))
	case BackendBadger, "":
		return OpenBadgerStore(DefaultBadgerConfig(dataDir))
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", backend)
	}
}
