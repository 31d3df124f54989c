package state

import (
	"errors"
	"strings"
	"time"

	"autopost/pkg/logx"
)

var ErrDisabled = errors.New("state: sqlite driver not built in")

// Config configures the ledger backend.
//
// Driver values:
//   - "file": one JSON ledger pair per target under Dir (default)
//   - "sqlite": one SQLite database file under Dir (optional build tag)
type Config struct {
	Driver      string
	Dir         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store persists ledgers for any number of targets. Load methods return an
// empty normalized ledger when no state exists yet.
type Store interface {
	LoadPublish(target string) (*PublishState, error)
	SavePublish(target string, s *PublishState) error
	LoadEngage(target string) (*EngageState, error)
	SaveEngage(target string, s *EngageState) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("state: dir is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("state: unknown driver: " + cfg.Driver)
	}
}
