// Package postgres stores the audit log in PostgreSQL.
package postgres

import (
	"chat-relay/domain"
	relayerrors "chat-relay/errors"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const selectColumns = `id, room_id, sender_id, sender_role, content, flagged, matched_terms, severity, lang, created_at`

type AuditRepository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
	now  func() time.Time

	mu     sync.Mutex
	lastAt time.Time
}

func NewAuditRepository(pool *pgxpool.Pool, log *slog.Logger) *AuditRepository {
	return &AuditRepository{pool: pool, log: log, now: time.Now}
}

func (a *AuditRepository) Append(ctx context.Context, record domain.MessageRecord) (domain.MessageRecord, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	record.CreatedAt = a.nextTimestamp()

	terms := record.Classification.MatchedTerms
	if terms == nil {
		terms = []string{}
	}
	_, err := a.pool.Exec(ctx, `
		INSERT INTO audit_messages (`+selectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		record.ID, string(record.RoomID), record.Sender.UserID, string(record.Sender.Role), record.Content,
		record.Classification.Flagged, terms, int16(record.Classification.Severity),
		record.Classification.Lang, record.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.MessageRecord{}, fmt.Errorf("%w: %s", relayerrors.ErrDuplicateRecord, record.ID)
		}
		return domain.MessageRecord{}, fmt.Errorf("insert audit message: %w", err)
	}
	return record, nil
}

// nextTimestamp is strictly increasing at the microsecond precision of timestamptz.
func (a *AuditRepository) nextTimestamp() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	at := a.now().UTC().Truncate(time.Microsecond)
	if !at.After(a.lastAt) {
		at = a.lastAt.Add(time.Microsecond)
	}
	a.lastAt = at
	return at
}

func (a *AuditRepository) Get(ctx context.Context, ids []string) ([]domain.MessageRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := a.pool.Query(ctx,
		`SELECT `+selectColumns+` FROM audit_messages WHERE id = ANY($1) ORDER BY created_at DESC`, ids)
	if err != nil {
		return nil, fmt.Errorf("get audit messages: %w", err)
	}
	return collectRecords(rows)
}

func (a *AuditRepository) Count(ctx context.Context, filter domain.Filter) (int, error) {
	where, args := whereClause(filter)
	var count int
	if err := a.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_messages`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count audit messages: %w", err)
	}
	return count, nil
}

func (a *AuditRepository) CountSenders(ctx context.Context, filter domain.Filter) (int, error) {
	where, args := whereClause(filter)
	var count int
	if err := a.pool.QueryRow(ctx, `SELECT COUNT(DISTINCT sender_id) FROM audit_messages`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count audit senders: %w", err)
	}
	return count, nil
}

func (a *AuditRepository) List(ctx context.Context, filter domain.Filter, page domain.Page) ([]domain.MessageRecord, error) {
	where, args := whereClause(filter)
	query := `SELECT ` + selectColumns + ` FROM audit_messages` + where + ` ORDER BY created_at DESC, id DESC`
	if page.Limit > 0 {
		args = append(args, page.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if page.Offset > 0 {
		args = append(args, page.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := a.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit messages: %w", err)
	}
	return collectRecords(rows)
}

func (a *AuditRepository) GroupByDay(ctx context.Context, since, until time.Time) ([]domain.DayCount, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT date_trunc('day', created_at AT TIME ZONE 'UTC') AS day, COUNT(*)
		FROM audit_messages
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY day
		ORDER BY day`, since.UTC(), until.UTC())
	if err != nil {
		return nil, fmt.Errorf("group audit messages by day: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.DayCount, error) {
		var day time.Time
		var count int
		if err := row.Scan(&day, &count); err != nil {
			return domain.DayCount{}, err
		}
		y, m, d := day.Date()
		return domain.DayCount{Day: time.Date(y, m, d, 0, 0, 0, 0, time.UTC), Count: count}, nil
	})
}

func whereClause(filter domain.Filter) (string, []any) {
	var conditions []string
	var args []any
	add := func(condition string, arg any) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}
	if filter.RoomID != "" {
		add("room_id = $%d", string(filter.RoomID))
	}
	if filter.SenderID != "" {
		add("sender_id = $%d", filter.SenderID)
	}
	if filter.Flagged != nil {
		add("flagged = $%d", *filter.Flagged)
	}
	if !filter.Since.IsZero() {
		add("created_at >= $%d", filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		add("created_at < $%d", filter.Until.UTC())
	}
	for _, word := range strings.Fields(filter.Query) {
		add("content ILIKE '%%' || $%d || '%%'", word)
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func collectRecords(rows pgx.Rows) ([]domain.MessageRecord, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.MessageRecord, error) {
		var (
			r        domain.MessageRecord
			room     string
			role     string
			severity int16
		)
		err := row.Scan(&r.ID, &room, &r.Sender.UserID, &role, &r.Content,
			&r.Classification.Flagged, &r.Classification.MatchedTerms, &severity,
			&r.Classification.Lang, &r.CreatedAt)
		if err != nil {
			return r, err
		}
		r.RoomID = domain.RoomID(room)
		r.Sender.Role = domain.Role(role)
		r.Classification.Severity = domain.Severity(severity)
		r.CreatedAt = r.CreatedAt.UTC()
		if len(r.Classification.MatchedTerms) == 0 {
			r.Classification.MatchedTerms = nil
		}
		return r, nil
	})
}
