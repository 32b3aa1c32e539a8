package lock

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// AuditAction distinguishes trail entries.
type AuditAction string

const (
	// ActionAcquire records a successful lock grant.
	ActionAcquire AuditAction = "acquire"
	// ActionRelease records a lock release.
	ActionRelease AuditAction = "release"
)

// AuditEntry is one row of the lock audit trail.
type AuditEntry struct {
	// LockID is the granted lock's identifier.
	LockID string
	// Resource is the locked resource key.
	Resource string
	// Holder identifies the acquiring worker.
	Holder string
	// Mode is read or write.
	Mode Mode
	// Action is acquire or release.
	Action AuditAction
	// At is when the action happened.
	At time.Time
}

// AuditTrail persists lock activity to SQLite. Appends are asynchronous
// from the caller's perspective only in the sense that failures are
// logged and swallowed: auditing never fails a lock operation.
type AuditTrail struct {
	conn *sql.DB
	mu   sync.Mutex
}

// OpenAuditTrail opens (creating if needed) the audit database at path.
// WAL mode is enabled for concurrent reads.
func OpenAuditTrail(path string) (*AuditTrail, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	trail := &AuditTrail{conn: conn}
	if err := trail.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return trail, nil
}

// migrate applies the audit schema.
func (t *AuditTrail) migrate() error {
	_, err := t.conn.Exec(`
		CREATE TABLE IF NOT EXISTS lock_audit (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			lock_id TEXT NOT NULL,
			resource TEXT NOT NULL,
			holder TEXT NOT NULL,
			mode TEXT NOT NULL,
			action TEXT NOT NULL,
			at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_lock_audit_resource ON lock_audit(resource);
		CREATE INDEX IF NOT EXISTS idx_lock_audit_holder ON lock_audit(holder);
	`)
	if err != nil {
		return fmt.Errorf("create lock_audit table: %w", err)
	}
	return nil
}

// Append records a lock action. Errors are swallowed: the trail is an
// observer, never a gate.
func (t *AuditTrail) Append(l *Lock, action AuditAction) {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, _ = t.conn.Exec(`
		INSERT INTO lock_audit (lock_id, resource, holder, mode, action, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, l.ID, l.Resource, l.Holder, string(l.Mode), string(action), time.Now().UTC().Format(time.RFC3339Nano))
}

// Entries returns the trail for a resource in append order.
func (t *AuditTrail) Entries(resource string) ([]AuditEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rows, err := t.conn.Query(`
		SELECT lock_id, resource, holder, mode, action, at
		FROM lock_audit WHERE resource = ? ORDER BY seq
	`, resource)
	if err != nil {
		return nil, fmt.Errorf("query audit trail: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var mode, action, at string
		if err := rows.Scan(&e.LockID, &e.Resource, &e.Holder, &mode, &action, &at); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		e.Mode = Mode(mode)
		e.Action = AuditAction(action)
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the audit database.
func (t *AuditTrail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.Close()
}

// Dispose implements lifecycle.Disposable.
func (t *AuditTrail) Dispose() error { return t.Close() }
