// Package harvests persists harvest sessions and their rows so runs can
// be inspected later and resumed from their last cursor.
package harvests

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"adharvest/lib/harvest"
	"adharvest/lib/paginate"
	"adharvest/lib/record"
	"adharvest/lib/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("adharvest.services.harvests")

type Service struct {
	db *sql.DB
}

func NewService(database *sql.DB) Service {
	return Service{db: database}
}

// StoredSession is a session row as persisted, without its harvested rows.
type StoredSession struct {
	Id         int64
	Source     string
	Status     paginate.Status
	Pages      int
	Distinct   int
	LastCursor paginate.Cursor
	StartedAt  time.Time
	FinishedAt time.Time
}

// SaveSession writes the session and all its rows in one transaction and
// returns the new session id. Partial sessions are saved like complete
// ones; their status records why the run stopped.
func (s Service) SaveSession(ctx context.Context, source string, session *harvest.Session) (int64, error) {
	ctx, span := tracer.Start(ctx, "SaveSession")
	defer span.End()

	span.SetAttributes(
		attribute.String("source", source),
		attribute.Int("rows", len(session.Rows)),
	)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(
		ctx,
		`INSERT INTO sessions
			(source, status, pages, distinct_rows, last_cursor, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		source,
		string(session.Status),
		session.Pages,
		session.Distinct,
		string(session.LastCursor),
		session.StartedAt.Unix(),
		session.FinishedAt.Unix(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	sessionId, err := res.LastInsertId()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	for i, row := range session.Rows {
		data, err := json.Marshal(row)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return 0, err
		}
		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO rows (session_id, position, data) VALUES (?, ?, ?)`,
			sessionId, i, string(data),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return 0, err
		}
	}

	err = tx.Commit()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	return sessionId, nil
}

func scanSession(row interface{ Scan(...any) error }) (StoredSession, error) {
	var out StoredSession
	var status, cursor string
	var startedAt, finishedAt int64
	err := row.Scan(
		&out.Id, &out.Source, &status, &out.Pages,
		&out.Distinct, &cursor, &startedAt, &finishedAt,
	)
	if err != nil {
		return StoredSession{}, err
	}
	out.Status = paginate.Status(status)
	out.LastCursor = paginate.Cursor(cursor)
	out.StartedAt = time.Unix(startedAt, 0)
	out.FinishedAt = time.Unix(finishedAt, 0)
	return out, nil
}

const sessionColumns = `id, source, status, pages, distinct_rows, last_cursor, started_at, finished_at`

func (s Service) GetSession(ctx context.Context, id int64) (StoredSession, error) {
	ctx, span := tracer.Start(ctx, "GetSession")
	defer span.End()

	out, err := scanSession(s.db.QueryRowContext(
		ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id,
	))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return StoredSession{}, err
	}
	return out, nil
}

// ListSessions returns sessions for one source, or all sessions when
// source is empty, newest first.
func (s Service) ListSessions(ctx context.Context, source string) ([]StoredSession, error) {
	ctx, span := tracer.Start(ctx, "ListSessions")
	defer span.End()

	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY started_at DESC`
	args := []any{}
	if source != "" {
		query = `SELECT ` + sessionColumns + ` FROM sessions WHERE source = ? ORDER BY started_at DESC`
		args = append(args, source)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer rows.Close()

	var out []StoredSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		out = append(out, session)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

// GetRows returns a session's harvested rows in harvest order.
func (s Service) GetRows(ctx context.Context, sessionId int64) ([]record.FlatRow, error) {
	ctx, span := tracer.Start(ctx, "GetRows")
	defer span.End()

	span.SetAttributes(attribute.Int64("session_id", sessionId))

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT data FROM rows WHERE session_id = ? ORDER BY position ASC`,
		sessionId,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer rows.Close()

	var out []record.FlatRow
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		var flat record.FlatRow
		if err := json.Unmarshal([]byte(data), &flat); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		out = append(out, flat)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}
