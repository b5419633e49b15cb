package db

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

type Queries struct {
	db DBTX
}

func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

// ThemeRecord is a row of theme_records.
type ThemeRecord struct {
	Name      string
	SourceURL string
	Payload   string
	Installed bool
	Timestamp int64
}

const upsertThemeRecord = `
INSERT INTO theme_records (name, source_url, payload, installed, timestamp)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (name) DO UPDATE SET
    source_url = excluded.source_url,
    payload = excluded.payload,
    installed = excluded.installed,
    timestamp = excluded.timestamp
`

func (q *Queries) UpsertThemeRecord(ctx context.Context, arg ThemeRecord) error {
	_, err := q.db.ExecContext(ctx, upsertThemeRecord,
		arg.Name,
		arg.SourceURL,
		arg.Payload,
		arg.Installed,
		arg.Timestamp,
	)
	return err
}

const getThemeRecord = `
SELECT name, source_url, payload, installed, timestamp
FROM theme_records
WHERE name = ?
`

func (q *Queries) GetThemeRecord(ctx context.Context, name string) (ThemeRecord, error) {
	row := q.db.QueryRowContext(ctx, getThemeRecord, name)
	var i ThemeRecord
	err := row.Scan(
		&i.Name,
		&i.SourceURL,
		&i.Payload,
		&i.Installed,
		&i.Timestamp,
	)
	return i, err
}

const listThemeRecords = `
SELECT name, source_url, payload, installed, timestamp
FROM theme_records
ORDER BY name
`

func (q *Queries) ListThemeRecords(ctx context.Context) ([]ThemeRecord, error) {
	rows, err := q.db.QueryContext(ctx, listThemeRecords)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ThemeRecord
	for rows.Next() {
		var i ThemeRecord
		if err := rows.Scan(
			&i.Name,
			&i.SourceURL,
			&i.Payload,
			&i.Installed,
			&i.Timestamp,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteThemeRecord = `
DELETE FROM theme_records
WHERE name = ?
`

func (q *Queries) DeleteThemeRecord(ctx context.Context, name string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteThemeRecord, name)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
