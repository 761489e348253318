// Package store persists orders, call sessions and transcripts to SQLite.
// It is written to as an observer of the session registry and is never read
// back during a live call.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/room4-2/ordercall/dialogue"
	"github.com/room4-2/ordercall/order"
)

const schemaVersion = 1

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("not found")

// Store is the SQLite call history
type Store struct {
	db *sql.DB
}

// SessionRecord is a persisted call session
type SessionRecord struct {
	SessionID    string
	OrderID      string
	Snapshot     dialogue.Snapshot
	StartedAt    time.Time
	EndedAt      *time.Time
	Active       bool
	MessageCount int
}

// Open opens (and migrates) the database at path
func Open(path string, opts Options) (*Store, error) {
	db, err := openDB(path, opts)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	var currentVersion int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL UNIQUE,
		customer_name TEXT NOT NULL,
		customer_cpr TEXT NOT NULL,
		customer_mobile TEXT,
		order_type TEXT NOT NULL,
		line_type TEXT,
		line_number TEXT,
		sub_number TEXT,
		device_name TEXT,
		device_variant TEXT,
		device_color TEXT,
		plan_name TEXT,
		plan_commitment TEXT,
		financial_type TEXT,
		monthly_fils INTEGER NOT NULL DEFAULT 0,
		advance_fils INTEGER NOT NULL DEFAULT 0,
		upfront_fils INTEGER NOT NULL DEFAULT 0,
		vat_fils INTEGER NOT NULL DEFAULT 0,
		total_fils INTEGER NOT NULL DEFAULT 0,
		accessories TEXT NOT NULL DEFAULT '[]',
		order_data TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT
	);

	CREATE TABLE IF NOT EXISTS agent_sessions (
		session_id TEXT PRIMARY KEY,
		order_ref TEXT NOT NULL REFERENCES orders(id),
		state TEXT NOT NULL DEFAULT 'INIT',
		language TEXT,
		customer_authenticated BOOLEAN NOT NULL DEFAULT 0,
		order_confirmed BOOLEAN NOT NULL DEFAULT 0,
		order_modified BOOLEAN NOT NULL DEFAULT 0,
		customer_name TEXT,
		started_at TEXT NOT NULL,
		ended_at TEXT,
		is_active BOOLEAN NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS conversation_messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES agent_sessions(session_id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		state TEXT NOT NULL,
		timestamp TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON conversation_messages(session_id, seq);
	`

	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// StartSession stores the order (replacing an earlier copy with the same
// order id) and opens a session row for it
func (s *Store) StartSession(ctx context.Context, sessionID string, rec *order.Record, startedAt time.Time) error {
	data, err := rec.Encode()
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	accessories, err := sonic.Marshal(rec.Accessories)
	if err != nil {
		return fmt.Errorf("encode accessories: %w", err)
	}

	var device order.Device
	if rec.Device != nil {
		device = *rec.Device
	}
	var plan order.Plan
	if rec.Plan != nil {
		plan = *rec.Plan
	}
	now := startedAt.UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
	INSERT INTO orders (id, order_id, customer_name, customer_cpr, customer_mobile, order_type,
		line_type, line_number, sub_number, device_name, device_variant, device_color,
		plan_name, plan_commitment, financial_type, monthly_fils, advance_fils, upfront_fils,
		vat_fils, total_fils, accessories, order_data, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(order_id) DO UPDATE SET
		customer_name = excluded.customer_name,
		customer_cpr = excluded.customer_cpr,
		customer_mobile = excluded.customer_mobile,
		order_type = excluded.order_type,
		line_type = excluded.line_type,
		line_number = excluded.line_number,
		sub_number = excluded.sub_number,
		device_name = excluded.device_name,
		device_variant = excluded.device_variant,
		device_color = excluded.device_color,
		plan_name = excluded.plan_name,
		plan_commitment = excluded.plan_commitment,
		financial_type = excluded.financial_type,
		monthly_fils = excluded.monthly_fils,
		advance_fils = excluded.advance_fils,
		upfront_fils = excluded.upfront_fils,
		vat_fils = excluded.vat_fils,
		total_fils = excluded.total_fils,
		accessories = excluded.accessories,
		order_data = excluded.order_data,
		updated_at = excluded.created_at
	`,
		uuid.NewString(), rec.ID, rec.Customer.Name, rec.Customer.NationalID, rec.Customer.Mobile, string(rec.Kind),
		string(rec.Line.Kind), rec.Line.Number, rec.Line.SubNumber, device.Name, device.Variant, device.Color,
		plan.Name, plan.Commitment, string(rec.Financial.Type), int64(rec.Financial.Monthly), int64(rec.Financial.Advance),
		int64(rec.Financial.Upfront), int64(rec.Financial.VAT), int64(rec.Financial.Total), string(accessories), string(data), now,
	)
	if err != nil {
		return fmt.Errorf("save order: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO agent_sessions (session_id, order_ref, state, started_at, is_active)
	SELECT ?, id, ?, ?, 1 FROM orders WHERE order_id = ?
	`, sessionID, string(dialogue.CheckpointInit), now, rec.ID)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	return tx.Commit()
}

// Record applies one dialogue event
func (s *Store) Record(ctx context.Context, ev dialogue.Event) error {
	switch ev.Kind {
	case dialogue.EventMessage:
		return s.appendMessage(ctx, ev.SessionID, ev.Message)
	case dialogue.EventSnapshot:
		return s.updateSession(ctx, ev.SessionID, ev.Snapshot)
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
}

func (s *Store) appendMessage(ctx context.Context, sessionID string, m dialogue.Message) error {
	res, err := s.db.ExecContext(ctx, `
	INSERT INTO conversation_messages (id, session_id, seq, role, content, state, timestamp)
	SELECT ?, session_id,
		(SELECT COALESCE(MAX(seq), 0) + 1 FROM conversation_messages WHERE session_id = ?),
		?, ?, ?, ?
	FROM agent_sessions WHERE session_id = ?
	`, uuid.NewString(), sessionID, string(m.Role), m.Text, string(m.Checkpoint),
		m.Timestamp.UTC().Format(time.RFC3339Nano), sessionID)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return requireRow(res, sessionID)
}

func (s *Store) updateSession(ctx context.Context, sessionID string, snap dialogue.Snapshot) error {
	res, err := s.db.ExecContext(ctx, `
	UPDATE agent_sessions SET state = ?, language = ?, customer_authenticated = ?,
		order_confirmed = ?, order_modified = ?, customer_name = ?
	WHERE session_id = ?
	`, string(snap.Checkpoint), string(snap.Language), snap.Authenticated,
		snap.OrderConfirmed, snap.OrderModified, snap.CustomerName, sessionID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return requireRow(res, sessionID)
}

// EndSession marks the session inactive. Ending twice keeps the first end time.
func (s *Store) EndSession(ctx context.Context, sessionID string, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
	UPDATE agent_sessions SET is_active = 0, ended_at = COALESCE(ended_at, ?)
	WHERE session_id = ?
	`, endedAt.UTC().Format(time.RFC3339Nano), sessionID)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return requireRow(res, sessionID)
}

// Session returns the persisted session row
func (s *Store) Session(ctx context.Context, sessionID string) (*SessionRecord, error) {
	var (
		rec       SessionRecord
		language  sql.NullString
		name      sql.NullString
		startedAt string
		endedAt   sql.NullString
		state     string
	)
	err := s.db.QueryRowContext(ctx, `
	SELECT s.session_id, o.order_id, s.state, s.language, s.customer_authenticated,
		s.order_confirmed, s.order_modified, s.customer_name, s.started_at, s.ended_at, s.is_active,
		(SELECT COUNT(*) FROM conversation_messages m WHERE m.session_id = s.session_id)
	FROM agent_sessions s JOIN orders o ON o.id = s.order_ref
	WHERE s.session_id = ?
	`, sessionID).Scan(
		&rec.SessionID, &rec.OrderID, &state, &language, &rec.Snapshot.Authenticated,
		&rec.Snapshot.OrderConfirmed, &rec.Snapshot.OrderModified, &name, &startedAt, &endedAt, &rec.Active,
		&rec.MessageCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rec.Snapshot.Checkpoint = dialogue.Checkpoint(state)
	rec.Snapshot.Language = dialogue.Language(language.String)
	rec.Snapshot.CustomerName = name.String
	rec.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if endedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, endedAt.String)
		rec.EndedAt = &t
	}
	return &rec, nil
}

// Messages returns a session transcript in the order it was recorded
func (s *Store) Messages(ctx context.Context, sessionID string) ([]dialogue.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT role, content, state, timestamp FROM conversation_messages
	WHERE session_id = ? ORDER BY seq
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []dialogue.Message
	for rows.Next() {
		var (
			m         dialogue.Message
			role      string
			state     string
			timestamp string
		)
		if err := rows.Scan(&role, &m.Text, &state, &timestamp); err != nil {
			return nil, err
		}
		m.Role = dialogue.Role(role)
		m.Checkpoint = dialogue.Checkpoint(state)
		m.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Order returns a stored order by its business id
func (s *Store) Order(ctx context.Context, orderID string) (*order.Record, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT order_data FROM orders WHERE order_id = ?`, orderID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return order.Decode([]byte(data))
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the pool
func (s *Store) Close() error {
	return s.db.Close()
}

func requireRow(res sql.Result, sessionID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}
