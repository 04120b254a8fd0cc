package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"guesthouse-sms-agent/internal/domain"
)

func (s *SQLiteStore) ListIntents(ctx context.Context) ([]domain.IntentDefinition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, description, is_action, is_complaint, created_at, updated_at FROM intents ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("repository: ListIntents: %w", err)
	}
	defer rows.Close()

	var out []domain.IntentDefinition
	for rows.Next() {
		var (
			in                domain.IntentDefinition
			action, complaint int64
			created, updated  int64
		)
		if err := rows.Scan(&in.Name, &in.Description, &action, &complaint, &created, &updated); err != nil {
			return nil, fmt.Errorf("repository: ListIntents scan: %w", err)
		}
		in.IsAction = action != 0
		in.IsComplaint = complaint != 0
		in.CreatedAt = time.Unix(0, created).UTC()
		in.UpdatedAt = time.Unix(0, updated).UTC()
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: ListIntents: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) CreateIntent(ctx context.Context, in domain.IntentDefinition) (domain.IntentDefinition, error) {
	now := s.now().UTC()
	in.CreatedAt, in.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO intents (name, description, is_action, is_complaint, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		in.Name, in.Description, boolInt(in.IsAction), boolInt(in.IsComplaint), now.UnixNano(), now.UnixNano())
	if err := translateSQLiteError(err); err != nil {
		return domain.IntentDefinition{}, fmt.Errorf("repository: CreateIntent: %w", err)
	}
	return in, nil
}

func (s *SQLiteStore) UpdateIntent(ctx context.Context, in domain.IntentDefinition) (domain.IntentDefinition, error) {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE intents SET description = ?, is_action = ?, is_complaint = ?, updated_at = ? WHERE name = ?`,
		in.Description, boolInt(in.IsAction), boolInt(in.IsComplaint), now.UnixNano(), in.Name)
	if err := requireAffected(res, err); err != nil {
		return domain.IntentDefinition{}, fmt.Errorf("repository: UpdateIntent: %w", err)
	}

	var created int64
	if err := s.db.QueryRowContext(ctx, `SELECT created_at FROM intents WHERE name = ?`, in.Name).Scan(&created); err != nil {
		return domain.IntentDefinition{}, fmt.Errorf("repository: UpdateIntent reload: %w", err)
	}
	in.CreatedAt = time.Unix(0, created).UTC()
	in.UpdatedAt = now
	return in, nil
}

func (s *SQLiteStore) DeleteIntent(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM intents WHERE name = ?`, name)
	if err := requireAffected(res, err); err != nil {
		return fmt.Errorf("repository: DeleteIntent: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListTemplates(ctx context.Context, activeOnly bool) ([]domain.ReplyTemplate, error) {
	query := `SELECT rowid, id, intent, sub_intent, text, sort_order, active, created_at, updated_at FROM reply_templates`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY intent, sort_order, rowid`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("repository: ListTemplates: %w", err)
	}
	defer rows.Close()

	var out []domain.ReplyTemplate
	for rows.Next() {
		var (
			t                domain.ReplyTemplate
			active           int64
			created, updated int64
		)
		if err := rows.Scan(&t.Seq, &t.ID, &t.Intent, &t.SubIntent, &t.Text, &t.SortOrder, &active, &created, &updated); err != nil {
			return nil, fmt.Errorf("repository: ListTemplates scan: %w", err)
		}
		t.Active = active != 0
		t.CreatedAt = time.Unix(0, created).UTC()
		t.UpdatedAt = time.Unix(0, updated).UTC()
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: ListTemplates: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) CreateTemplate(ctx context.Context, t domain.ReplyTemplate) (domain.ReplyTemplate, error) {
	now := s.now().UTC()
	t.ID = newUUID()
	t.CreatedAt, t.UpdatedAt = now, now
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reply_templates (id, intent, sub_intent, text, sort_order, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Intent, t.SubIntent, t.Text, t.SortOrder, boolInt(t.Active), now.UnixNano(), now.UnixNano())
	if err := translateSQLiteError(err); err != nil {
		return domain.ReplyTemplate{}, fmt.Errorf("repository: CreateTemplate: %w", err)
	}
	if seq, err := res.LastInsertId(); err == nil {
		t.Seq = seq
	}
	return t, nil
}

func (s *SQLiteStore) UpdateTemplate(ctx context.Context, t domain.ReplyTemplate) (domain.ReplyTemplate, error) {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE reply_templates SET intent = ?, sub_intent = ?, text = ?, sort_order = ?, active = ?, updated_at = ? WHERE id = ?`,
		t.Intent, t.SubIntent, t.Text, t.SortOrder, boolInt(t.Active), now.UnixNano(), t.ID)
	if err := requireAffected(res, err); err != nil {
		return domain.ReplyTemplate{}, fmt.Errorf("repository: UpdateTemplate: %w", err)
	}

	var created int64
	if err := s.db.QueryRowContext(ctx, `SELECT rowid, created_at FROM reply_templates WHERE id = ?`, t.ID).Scan(&t.Seq, &created); err != nil {
		return domain.ReplyTemplate{}, fmt.Errorf("repository: UpdateTemplate reload: %w", err)
	}
	t.CreatedAt = time.Unix(0, created).UTC()
	t.UpdatedAt = now
	return t, nil
}

func (s *SQLiteStore) DeleteTemplate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reply_templates WHERE id = ?`, id)
	if err := requireAffected(res, err); err != nil {
		return fmt.Errorf("repository: DeleteTemplate: %w", err)
	}
	return nil
}

// ListKnowledge returns entries in the given categories, most recently updated
// first. An empty category list matches every entry and limit <= 0 means no cap.
func (s *SQLiteStore) ListKnowledge(ctx context.Context, categories []string, limit int) ([]domain.KnowledgeEntry, error) {
	query := `SELECT id, title, category, content, created_at, updated_at FROM knowledge_entries`
	var args []any
	if len(categories) > 0 {
		placeholders := make([]string, len(categories))
		for i, c := range categories {
			placeholders[i] = "?"
			args = append(args, c)
		}
		query += ` WHERE category IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY updated_at DESC, id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: ListKnowledge: %w", err)
	}
	defer rows.Close()

	var out []domain.KnowledgeEntry
	for rows.Next() {
		var (
			e                domain.KnowledgeEntry
			created, updated int64
		)
		if err := rows.Scan(&e.ID, &e.Title, &e.Category, &e.Content, &created, &updated); err != nil {
			return nil, fmt.Errorf("repository: ListKnowledge scan: %w", err)
		}
		e.CreatedAt = time.Unix(0, created).UTC()
		e.UpdatedAt = time.Unix(0, updated).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: ListKnowledge: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) CreateKnowledge(ctx context.Context, e domain.KnowledgeEntry) (domain.KnowledgeEntry, error) {
	now := s.now().UTC()
	e.ID = newUUID()
	e.CreatedAt, e.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge_entries (id, title, category, content, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Title, e.Category, e.Content, now.UnixNano(), now.UnixNano())
	if err := translateSQLiteError(err); err != nil {
		return domain.KnowledgeEntry{}, fmt.Errorf("repository: CreateKnowledge: %w", err)
	}
	return e, nil
}

func (s *SQLiteStore) UpdateKnowledge(ctx context.Context, e domain.KnowledgeEntry) (domain.KnowledgeEntry, error) {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE knowledge_entries SET title = ?, category = ?, content = ?, updated_at = ? WHERE id = ?`,
		e.Title, e.Category, e.Content, now.UnixNano(), e.ID)
	if err := requireAffected(res, err); err != nil {
		return domain.KnowledgeEntry{}, fmt.Errorf("repository: UpdateKnowledge: %w", err)
	}

	var created int64
	if err := s.db.QueryRowContext(ctx, `SELECT created_at FROM knowledge_entries WHERE id = ?`, e.ID).Scan(&created); err != nil {
		return domain.KnowledgeEntry{}, fmt.Errorf("repository: UpdateKnowledge reload: %w", err)
	}
	e.CreatedAt = time.Unix(0, created).UTC()
	e.UpdatedAt = now
	return e, nil
}

func (s *SQLiteStore) DeleteKnowledge(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM knowledge_entries WHERE id = ?`, id)
	if err := requireAffected(res, err); err != nil {
		return fmt.Errorf("repository: DeleteKnowledge: %w", err)
	}
	return nil
}

const followupColumns = `id, message_id, phone, status, reason, memo, created_at, updated_at, resolved_at`

// ListFollowups returns matching entries oldest first, which is the order
// staff work the queue in.
func (s *SQLiteStore) ListFollowups(ctx context.Context, filter FollowupFilter) ([]domain.FollowupEntry, error) {
	query := `SELECT ` + followupColumns + ` FROM followups`
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Reason != "" {
		where = append(where, "reason = ?")
		args = append(args, string(filter.Reason))
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at, rowid LIMIT ?`
	args = append(args, followupLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: ListFollowups: %w", err)
	}
	defer rows.Close()

	var out []domain.FollowupEntry
	for rows.Next() {
		f, err := scanFollowup(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: ListFollowups: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: ListFollowups: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) GetFollowup(ctx context.Context, id string) (domain.FollowupEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+followupColumns+` FROM followups WHERE id = ?`, id)
	f, err := scanFollowup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FollowupEntry{}, fmt.Errorf("repository: GetFollowup: %w", ErrNotFound)
	}
	if err != nil {
		return domain.FollowupEntry{}, fmt.Errorf("repository: GetFollowup: %w", err)
	}
	return f, nil
}

func (s *SQLiteStore) UpdateFollowup(ctx context.Context, f domain.FollowupEntry) (domain.FollowupEntry, error) {
	f.UpdatedAt = s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE followups SET status = ?, memo = ?, updated_at = ?, resolved_at = ? WHERE id = ?`,
		string(f.Status), f.Memo, f.UpdatedAt.UnixNano(), nullTime(f.ResolvedAt), f.ID)
	if err := requireAffected(res, err); err != nil {
		return domain.FollowupEntry{}, fmt.Errorf("repository: UpdateFollowup: %w", err)
	}
	return s.GetFollowup(ctx, f.ID)
}

func scanFollowup(r rowScanner) (domain.FollowupEntry, error) {
	var (
		f                domain.FollowupEntry
		status, reason   string
		created, updated int64
		resolvedAt       sql.NullInt64
	)
	if err := r.Scan(&f.ID, &f.MessageID, &f.Phone, &status, &reason, &f.Memo, &created, &updated, &resolvedAt); err != nil {
		return domain.FollowupEntry{}, err
	}
	f.Status = domain.FollowupStatus(status)
	f.Reason = domain.FollowupReason(reason)
	f.CreatedAt = time.Unix(0, created).UTC()
	f.UpdatedAt = time.Unix(0, updated).UTC()
	if resolvedAt.Valid {
		t := time.Unix(0, resolvedAt.Int64).UTC()
		f.ResolvedAt = &t
	}
	return f, nil
}

func requireAffected(res sql.Result, err error) error {
	if err != nil {
		return translateSQLiteError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
