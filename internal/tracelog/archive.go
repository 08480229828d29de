package tracelog

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/rmacdonaldsmith/pldm-agent-go/internal/logging"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/link"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/pldm"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/tracelog"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/transport"
)

//go:embed schema.sql
var schemaSQL string

// Archive keeps trace records in SQLite so they outlive the in-memory ring.
// Offsets restart with every agent run, so each Archive writes under its
// own session ID.
type Archive struct {
	db      *sql.DB
	session string
	logger  *logging.Logger
}

// OpenArchive creates or opens the archive database at path and starts a
// new session.
func OpenArchive(path string, logger *logging.Logger) (*Archive, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace archive: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to trace archive: %w", err)
	}

	// one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply trace archive schema: %w", err)
	}

	session := uuid.Must(uuid.NewV7()).String()
	return &Archive{
		db:      db,
		session: session,
		logger:  logging.OrNop(logger).WithComponent("trace-archive").With("session", session),
	}, nil
}

// Session returns the ID records of this run are stored under.
func (a *Archive) Session() string {
	return a.session
}

// Store writes records. Records already stored are ignored.
func (a *Archive) Store(ctx context.Context, records ...tracelog.Record) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store trace records: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO frames
		(session, seq, observed_at, direction, peer, instance_id, outcome, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("store trace records: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		payload := r.Payload
		if payload == nil {
			payload = []byte{}
		}
		if _, err := stmt.ExecContext(ctx,
			a.session,
			r.Offset,
			r.Timestamp.UTC().Format(time.RFC3339Nano),
			string(r.Direction),
			int(r.Peer),
			int(r.InstanceID),
			string(r.Outcome),
			payload,
		); err != nil {
			return fmt.Errorf("store trace record %d: %w", r.Offset, err)
		}
	}
	return tx.Commit()
}

// Read returns up to limit records of session starting at offset. An empty
// session reads the current one.
func (a *Archive) Read(ctx context.Context, session string, offset int64, limit int) ([]tracelog.Record, error) {
	if offset < 0 {
		return nil, ErrNegativeOffset
	}
	if limit < 0 {
		return nil, ErrNegativeLimit
	}
	if session == "" {
		session = a.session
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT seq, observed_at, direction, peer, instance_id, outcome, payload
		FROM frames
		WHERE session = ? AND seq >= ?
		ORDER BY seq
		LIMIT ?
	`, session, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("read trace archive: %w", err)
	}
	defer rows.Close()

	records := make([]tracelog.Record, 0)
	for rows.Next() {
		var (
			r          tracelog.Record
			observedAt string
			direction  string
			peer       int
			instanceID int
			outcome    string
		)
		if err := rows.Scan(&r.Offset, &observedAt, &direction, &peer, &instanceID, &outcome, &r.Payload); err != nil {
			return nil, fmt.Errorf("read trace archive: %w", err)
		}
		r.Timestamp, err = time.Parse(time.RFC3339Nano, observedAt)
		if err != nil {
			return nil, fmt.Errorf("record %d has a bad timestamp: %w", r.Offset, err)
		}
		r.Direction = transport.Direction(direction)
		r.Peer = link.EID(peer)
		r.InstanceID = pldm.InstanceID(instanceID)
		r.Outcome = transport.FrameOutcome(outcome)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Count returns how many records session holds. An empty session counts
// the current one.
func (a *Archive) Count(ctx context.Context, session string) (int64, error) {
	if session == "" {
		session = a.session
	}
	var n int64
	if err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM frames WHERE session = ?", session).Scan(&n); err != nil {
		return 0, fmt.Errorf("count trace archive: %w", err)
	}
	return n, nil
}

// Follow stores every record delivered on records until the channel is
// closed. Store failures are logged and the record is skipped.
func (a *Archive) Follow(records <-chan tracelog.Record) {
	for r := range records {
		if err := a.Store(context.Background(), r); err != nil {
			a.logger.Warn("failed to archive trace record", "offset", r.Offset, "error", err)
		}
	}
}

// Close closes the database.
func (a *Archive) Close() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}
