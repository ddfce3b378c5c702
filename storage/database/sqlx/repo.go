// Package sqlxrepos implements the repositories on Postgres with sqlx and squirrel.
package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/storage/database"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// base holds the executor shared by every repository.
type base struct {
	exec core.DBExecutor
}

func (b base) get(ctx context.Context, dest interface{}, query sq.Sqlizer) error {
	q, args, err := query.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	return sqlx.GetContext(ctx, b.exec, dest, q, args...)
}

func (b base) selectAll(ctx context.Context, dest interface{}, query sq.Sqlizer) error {
	q, args, err := query.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	return sqlx.SelectContext(ctx, b.exec, dest, q, args...)
}

// run executes a statement and returns the number of affected rows.
func (b base) run(ctx context.Context, query sq.Sqlizer) (int64, error) {
	q, args, err := query.ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "building query")
	}
	res, err := b.exec.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (b base) count(ctx context.Context, query sq.SelectBuilder) (int, error) {
	var n int
	err := b.get(ctx, &n, query)
	return n, err
}

func (b base) exists(ctx context.Context, query sq.SelectBuilder) (bool, error) {
	var ok bool
	err := b.get(ctx, &ok, query.Prefix("SELECT EXISTS (").Suffix(")"))
	return ok, err
}

// trapErr maps "no rows" to notFound and unique violations to core.ErrConflict.
func trapErr(err error, notFound error, msg string) error {
	switch {
	case err == nil:
		return nil
	case errors.Cause(err) == sql.ErrNoRows:
		return notFound
	case database.IsUniqueViolation(err):
		return core.ErrConflict
	}
	return errors.Wrap(err, msg)
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func validIDs(ids []string) []string {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if validID(id) {
			valid = append(valid, id)
		}
	}
	return valid
}

func orderBy(ords []core.DBOrdering) []string {
	clauses := make([]string, 0, len(ords))
	for _, ord := range ords {
		clauses = append(clauses, ord.String())
	}
	return clauses
}

func joinColumns(cols []string) string { return strings.Join(cols, ", ") }

func paginate(query sq.SelectBuilder, page core.Pagination) sq.SelectBuilder {
	if page.Limit > 0 {
		query = query.Limit(uint64(page.Limit)).Offset(uint64(page.Offset()))
	}
	return query
}

// nullable helpers

func nullString(s string) null.String { return null.NewString(s, s != "") }

func nullID(id string) null.String { return null.NewString(id, id != "") }

func nullBytes(b []byte) null.Bytes { return null.NewBytes(b, len(b) > 0) }

func nullInt64(n int64) null.Int64 { return null.NewInt64(n, n != 0) }

func nullIntPtr(n *int) null.Int { return null.IntFromPtr(n) }

func nullTime(t time.Time) null.Time { return null.NewTime(t.UTC(), !t.IsZero()) }

func timeOf(t null.Time) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}

func jsonMap(m map[string]interface{}) (null.JSON, error) {
	if m == nil {
		return null.JSON{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return null.JSON{}, errors.Wrap(err, "marshalling json")
	}
	return null.JSONFrom(b), nil
}

func mapOf(j null.JSON) map[string]interface{} {
	m := map[string]interface{}{}
	if j.Valid && len(j.JSON) > 0 {
		_ = json.Unmarshal(j.JSON, &m)
	}
	return m
}
