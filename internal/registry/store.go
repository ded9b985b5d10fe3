package registry

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	apperr "github.com/ggonzalez94/ethquery/internal/errors"
)

// Store persists discovered token metadata across server restarts so
// a token only has to be probed on chain once per machine. Token
// metadata is immutable, so entries never expire.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

// OpenStore opens (creating if needed) the sqlite-backed token cache.
// Writes are serialized across processes with a file lock.
func OpenStore(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, apperr.Wrap(apperr.CodeIO, "create cache directory", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, apperr.Wrap(apperr.CodeIO, "create lock directory", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeIO, "open token cache", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"CREATE TABLE IF NOT EXISTS tokens (address TEXT PRIMARY KEY, symbol TEXT NOT NULL, decimals INTEGER NOT NULL, created_at INTEGER NOT NULL);",
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			return nil, apperr.Wrap(apperr.CodeIO, "init token cache schema", err)
		}
	}

	return &Store{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put records one discovered token. An existing row is left alone so
// the cache matches the registry's first-insert-wins rule.
func (s *Store) Put(t Token) error {
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return apperr.Wrap(apperr.CodeIO, "lock token cache", err)
	}
	if !locked {
		return apperr.New(apperr.CodeIO, "lock token cache: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	_, err = s.db.Exec(`
		INSERT INTO tokens (address, symbol, decimals, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(address) DO NOTHING
	`, t.Address.Hex(), t.Symbol, int64(t.Decimals), time.Now().UTC().Unix())
	if err != nil {
		return apperr.Wrap(apperr.CodeIO, "token cache write", err)
	}
	return nil
}

// All loads every cached token.
func (s *Store) All() ([]Token, error) {
	rows, err := s.db.Query("SELECT address, symbol, decimals FROM tokens")
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeIO, "token cache read", err)
	}
	defer rows.Close()

	var tokens []Token
	for rows.Next() {
		var addr, symbol string
		var decimals int64
		if err := rows.Scan(&addr, &symbol, &decimals); err != nil {
			return nil, apperr.Wrap(apperr.CodeIO, "token cache scan", err)
		}
		tokens = append(tokens, Token{
			Address:  common.HexToAddress(addr),
			Symbol:   symbol,
			Decimals: uint8(decimals),
		})
	}
	return tokens, rows.Err()
}
