package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	// Registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"
)

const credentialsSchema = `
CREATE TABLE IF NOT EXISTS credentials (
	workspace_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	data BLOB NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (workspace_id, provider)
)`

// SQLiteBackend stores credentials in a SQLite database.
type SQLiteBackend struct {
	db    *sql.DB
	codec codec
	now   func() time.Time
}

// OpenSQLite opens, and creates if needed, the credential database at path.
// Credentials are encrypted at rest when passphrase is not empty.
func OpenSQLite(path, passphrase string) (*SQLiteBackend, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(credentialsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create credentials table: %w", err)
	}

	return &SQLiteBackend{db: db, codec: codec{passphrase: []byte(passphrase)}, now: time.Now}, nil
}

// Save upserts the credential of its workspace and provider.
func (b *SQLiteBackend) Save(ctx context.Context, c Credential) error {
	data, err := b.codec.marshal(c)
	if err != nil {
		return err
	}

	_, err = b.db.ExecContext(ctx, `
INSERT INTO credentials (workspace_id, provider, data, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(workspace_id, provider) DO UPDATE SET
	data = excluded.data,
	updated_at = excluded.updated_at
`, c.WorkspaceID, c.Provider, data, b.now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("put credential: %w", err)
	}
	return nil
}

// Load returns the credential of workspaceID for provider.
func (b *SQLiteBackend) Load(ctx context.Context, workspaceID, provider string) (Credential, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx, `
SELECT data FROM credentials WHERE workspace_id = ? AND provider = ?
`, workspaceID, provider).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return Credential{}, fmt.Errorf("%w for provider %q in workspace %q", ErrNoCredential, provider, workspaceID)
	}
	if err != nil {
		return Credential{}, fmt.Errorf("get credential: %w", err)
	}

	return b.codec.unmarshal(data)
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
