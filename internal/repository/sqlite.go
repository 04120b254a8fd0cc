package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"guesthouse-sms-agent/internal/domain"
)

// SQLiteStore persists conversations and configuration in a single SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens (or creates) the database at path and applies the schema.
func NewSQLite(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("repository: sqlite path must not be empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("repository: open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps in-memory
	// databases alive for the lifetime of the store.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("repository: %s: %w", pragma, err)
		}
	}

	o := buildOptions(opts)
	s := &SQLiteStore{db: db, now: o.now}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			direction TEXT NOT NULL,
			phone TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			intent TEXT,
			confidence REAL,
			flow_type TEXT,
			slots TEXT,
			end_flow INTEGER NOT NULL DEFAULT 0,
			guest_state TEXT NOT NULL DEFAULT '',
			handled_by TEXT NOT NULL DEFAULT '',
			need_followup INTEGER NOT NULL DEFAULT 0,
			resolved INTEGER NOT NULL DEFAULT 1,
			reply_to TEXT REFERENCES messages(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_phone_created ON messages(phone, created_at)`,
		`CREATE TABLE IF NOT EXISTS followups (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL REFERENCES messages(id),
			phone TEXT NOT NULL,
			status TEXT NOT NULL,
			reason TEXT NOT NULL,
			memo TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			resolved_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_followups_status ON followups(status, reason, created_at)`,
		`CREATE TABLE IF NOT EXISTS intents (
			name TEXT PRIMARY KEY,
			description TEXT NOT NULL DEFAULT '',
			is_action INTEGER NOT NULL DEFAULT 0,
			is_complaint INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS reply_templates (
			id TEXT PRIMARY KEY,
			intent TEXT NOT NULL,
			sub_intent TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL,
			sort_order INTEGER NOT NULL DEFAULT 0,
			active INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS knowledge_entries (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			category TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_knowledge_category ON knowledge_entries(category, updated_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("repository: init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Begin starts a unit of work whose writes land in one SQLite transaction.
func (s *SQLiteStore) Begin(_ context.Context) (UnitOfWork, error) {
	return newUnitOfWork(s, s.now), nil
}

// ListMessages returns up to limit messages for phone in chronological order.
func (s *SQLiteStore) ListMessages(ctx context.Context, phone string, limit int) ([]domain.Message, error) {
	msgs, err := s.recentMessages(ctx, phone, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: ListMessages: %w", err)
	}
	return msgs, nil
}

const messageColumns = `id, direction, phone, text, created_at, intent, confidence, flow_type, slots,
	end_flow, guest_state, handled_by, need_followup, resolved, reply_to`

func (s *SQLiteStore) recentMessages(ctx context.Context, phone string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	// Newest first so LIMIT keeps the latest context, then reversed.
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE phone = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		phone, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *SQLiteStore) commitBatch(ctx context.Context, b batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertMessage(ctx, tx, b.inbound); err != nil {
		return fmt.Errorf("insert inbound: %w", err)
	}
	if b.outbound != nil {
		if err := insertMessage(ctx, tx, *b.outbound); err != nil {
			return fmt.Errorf("insert outbound: %w", err)
		}
	}
	if b.followup != nil {
		if err := insertFollowup(ctx, tx, *b.followup); err != nil {
			return fmt.Errorf("insert followup: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, m domain.Message) error {
	slots, err := encodeSlots(m.Slots)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, string(m.Direction), m.Phone, m.Text, m.CreatedAt.UnixNano(),
		nullString(m.Intent), nullFloat(m.Confidence), nullString(m.FlowType), slots,
		boolInt(m.EndFlow), m.GuestState, string(m.HandledBy), boolInt(m.NeedFollowup), boolInt(m.Resolved),
		nullString(m.ReplyTo),
	)
	return translateSQLiteError(err)
}

func insertFollowup(ctx context.Context, tx *sql.Tx, f domain.FollowupEntry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO followups (id, message_id, phone, status, reason, memo, created_at, updated_at, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.MessageID, f.Phone, string(f.Status), string(f.Reason), f.Memo,
		f.CreatedAt.UnixNano(), f.UpdatedAt.UnixNano(), nullTime(f.ResolvedAt),
	)
	return translateSQLiteError(err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(r rowScanner) (domain.Message, error) {
	var (
		m                            domain.Message
		direction, handledBy         string
		createdAt                    int64
		intent, flowType, replyTo    sql.NullString
		slots                        sql.NullString
		confidence                   sql.NullFloat64
		endFlow, needFollow, resolvd int64
	)
	if err := r.Scan(&m.ID, &direction, &m.Phone, &m.Text, &createdAt, &intent, &confidence, &flowType, &slots,
		&endFlow, &m.GuestState, &handledBy, &needFollow, &resolvd, &replyTo); err != nil {
		return domain.Message{}, fmt.Errorf("scan message: %w", err)
	}
	decoded, err := decodeSlots(slots.String)
	if err != nil {
		return domain.Message{}, err
	}
	m.Direction = domain.Direction(direction)
	m.HandledBy = domain.HandledBy(handledBy)
	m.CreatedAt = time.Unix(0, createdAt).UTC()
	m.Intent = fromNullString(intent)
	m.FlowType = fromNullString(flowType)
	m.ReplyTo = fromNullString(replyTo)
	if confidence.Valid {
		v := confidence.Float64
		m.Confidence = &v
	}
	m.Slots = decoded
	m.EndFlow = endFlow != 0
	m.NeedFollowup = needFollow != 0
	m.Resolved = resolvd != 0
	return m, nil
}

func translateSQLiteError(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
