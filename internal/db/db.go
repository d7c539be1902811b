package db

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// Metadata keys of the durable session record. Both must be present for a
// session to exist.
const (
	KeyAuthToken = "authToken"
	KeyUserData  = "userData"
)

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	conn.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return &DB{sql: conn}, nil
}

func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) Migrate() error {
	_, err := d.sql.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create metadata: %w", err)
	}
	return nil
}

func (d *DB) SetMeta(key, value string) error {
	_, err := d.sql.Exec("INSERT OR REPLACE INTO metadata (key, value) VALUES (?,?)", key, value)
	return err
}

// GetMeta returns "" for a missing key.
func (d *DB) GetMeta(key string) (string, error) {
	var value string
	err := d.sql.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (d *DB) DeleteMeta(key string) error {
	_, err := d.sql.Exec("DELETE FROM metadata WHERE key = ?", key)
	return err
}

// SaveCredentials writes the token and the serialized identity in one
// transaction so a reader never sees one without the other.
func (d *DB) SaveCredentials(token, userData string) error {
	tx, err := d.sql.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, kv := range [][2]string{{KeyAuthToken, token}, {KeyUserData, userData}} {
		if _, err := tx.Exec("INSERT OR REPLACE INTO metadata (key, value) VALUES (?,?)", kv[0], kv[1]); err != nil {
			return fmt.Errorf("save %s: %w", kv[0], err)
		}
	}
	return tx.Commit()
}

// LoadCredentials returns empty strings for whichever key is absent.
func (d *DB) LoadCredentials() (token, userData string, err error) {
	if token, err = d.GetMeta(KeyAuthToken); err != nil {
		return "", "", fmt.Errorf("load %s: %w", KeyAuthToken, err)
	}
	if userData, err = d.GetMeta(KeyUserData); err != nil {
		return "", "", fmt.Errorf("load %s: %w", KeyUserData, err)
	}
	return token, userData, nil
}

func (d *DB) ClearCredentials() error {
	_, err := d.sql.Exec("DELETE FROM metadata WHERE key IN (?, ?)", KeyAuthToken, KeyUserData)
	return err
}
