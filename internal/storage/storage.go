package storage

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/nacl/secretbox"

	"meetly/client/internal/models"
)

const currentUserKey = "current_user"

// Store is the device-local durable storage. It holds exactly one record
// of interest, the authenticated user's profile snapshot, sealed at rest
// so a copied database file does not leak the session.
type Store struct {
	db  *sql.DB
	key [32]byte
}

// Open opens (creating if needed) the sqlite database at path. secret
// keys the at-rest encryption; the same secret must be supplied to read
// records written earlier.
func Open(path, secret string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping storage: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS records (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init storage schema: %w", err)
	}
	return &Store{db: db, key: sha256.Sum256([]byte(secret))}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveUser persists the profile snapshot, replacing any previous one.
func (s *Store) SaveUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	plain, err := json.Marshal(user)
	if err != nil {
		return err
	}
	sealed, err := s.seal(plain)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		currentUserKey, sealed)
	return err
}

// LoadUser returns the persisted profile snapshot, or (nil, nil) when no
// session has ever been saved.
func (s *Store) LoadUser(ctx context.Context) (*models.User, error) {
	var sealed []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM records WHERE key = ?`, currentUserKey).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	plain, err := s.open(sealed)
	if err != nil {
		return nil, err
	}
	var user models.User
	if err := json.Unmarshal(plain, &user); err != nil {
		return nil, fmt.Errorf("decode stored user: %w", err)
	}
	return &user, nil
}

// Clear removes the persisted session.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE key = ?`, currentUserKey)
	return err
}

func (s *Store) seal(plain []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &s.key), nil
}

func (s *Store) open(sealed []byte) ([]byte, error) {
	if len(sealed) < 24 {
		return nil, errors.New("stored record too short")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plain, ok := secretbox.Open(nil, sealed[24:], &nonce, &s.key)
	if !ok {
		return nil, errors.New("stored record failed to decrypt")
	}
	return plain, nil
}
