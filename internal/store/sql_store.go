package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"libradesk/internal/domain"
)

// Supported database/sql driver names.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// SQLStore implements Store on a relational database.
type SQLStore struct {
	db      *sqlx.DB
	dialect goqu.DialectWrapper
	clock   domain.Clock
	tracer  trace.Tracer
	log     *zap.Logger
}

// Option configures a SQLStore.
type Option func(*SQLStore)

// WithClock sets the clock used for created_at and updated_at.
func WithClock(c domain.Clock) Option {
	return func(s *SQLStore) { s.clock = c }
}

// WithLogger sets the store logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *SQLStore) { s.log = log }
}

// Open connects to dsn with the named driver.
func Open(driver, dsn string, opts ...Option) (*SQLStore, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// a single connection keeps sqlite writers from tripping over each other
		db.SetMaxOpenConns(1)
	}
	return New(db, opts...), nil
}

// SQLiteDSN builds a DSN for a sqlite file with foreign keys enforced.
func SQLiteDSN(path string) string {
	return fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
}

// New wraps an existing connection pool.
func New(db *sqlx.DB, opts ...Option) *SQLStore {
	s := &SQLStore{
		db:      db,
		dialect: goqu.Dialect(db.DriverName()),
		clock:   domain.SystemClock,
		tracer:  otel.Tracer("libradesk/store"),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping checks the connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) startSpan(ctx context.Context, name, table string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("db.system", s.db.DriverName()), attribute.String("db.table", table))
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (s *SQLStore) Find(ctx context.Context, table, id string) (Record, error) {
	ctx, span := s.startSpan(ctx, "store.find", table, attribute.String("record.id", id))
	defer span.End()

	query, args, err := s.dialect.From(table).Prepared(true).
		Where(goqu.C("id").Eq(id)).
		Limit(1).
		ToSQL()
	if err != nil {
		return nil, fail(span, fmt.Errorf("build find %s: %w", table, err))
	}

	records, err := s.selectRecords(ctx, query, args)
	if err != nil {
		return nil, fail(span, fmt.Errorf("find %s %s: %w", table, id, err))
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	return records[0], nil
}

func (s *SQLStore) Insert(ctx context.Context, table string, fields Record) (Record, error) {
	ctx, span := s.startSpan(ctx, "store.insert", table)
	defer span.End()

	rec := fields.clone()
	id, _ := rec["id"].(string)
	if id == "" {
		id = uuid.NewString()
		rec["id"] = id
	}
	now := s.clock.Now().UTC()
	if _, ok := rec["created_at"]; !ok {
		rec["created_at"] = now
	}
	rec["updated_at"] = now
	span.SetAttributes(attribute.String("record.id", id))

	query, args, err := s.dialect.Insert(table).Prepared(true).Rows(goqu.Record(rec)).ToSQL()
	if err != nil {
		return nil, fail(span, fmt.Errorf("build insert %s: %w", table, err))
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		err = classify(err)
		s.log.Debug("Insert failed", zap.String("table", table), zap.String("id", id), zap.Error(err))
		return nil, fail(span, fmt.Errorf("insert %s: %w", table, err))
	}
	return s.Find(ctx, table, id)
}

func (s *SQLStore) Update(ctx context.Context, table, id string, fields Record, guards ...Condition) (Record, error) {
	ctx, span := s.startSpan(ctx, "store.update", table,
		attribute.String("record.id", id),
		attribute.Int("guard.count", len(guards)),
	)
	defer span.End()

	rec := fields.clone()
	delete(rec, "id")
	for col, v := range rec {
		rec[col] = setValue(col, v)
	}
	rec["updated_at"] = s.clock.Now().UTC()

	where := []exp.Expression{goqu.C("id").Eq(id)}
	for _, g := range guards {
		where = append(where, g.expression(""))
	}
	query, args, err := s.dialect.Update(table).Prepared(true).
		Set(goqu.Record(rec)).
		Where(where...).
		ToSQL()
	if err != nil {
		return nil, fail(span, fmt.Errorf("build update %s: %w", table, err))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fail(span, fmt.Errorf("update %s %s: %w", table, id, classify(err)))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fail(span, fmt.Errorf("update %s %s: rows affected: %w", table, id, err))
	}
	if n == 0 {
		if _, err := s.Find(ctx, table, id); err != nil {
			return nil, err
		}
		span.SetAttributes(attribute.Bool("conflict.detected", true))
		return nil, fmt.Errorf("update %s %s: %w", table, id, ErrConflict)
	}
	return s.Find(ctx, table, id)
}

func (s *SQLStore) Delete(ctx context.Context, table, id string) error {
	ctx, span := s.startSpan(ctx, "store.delete", table, attribute.String("record.id", id))
	defer span.End()

	query, args, err := s.dialect.Delete(table).Prepared(true).Where(goqu.C("id").Eq(id)).ToSQL()
	if err != nil {
		return fail(span, fmt.Errorf("build delete %s: %w", table, err))
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fail(span, fmt.Errorf("delete %s %s: %w", table, id, classify(err)))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fail(span, fmt.Errorf("delete %s %s: rows affected: %w", table, id, err))
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	return nil
}

func (s *SQLStore) Query(ctx context.Context, table string, q Query) ([]Record, error) {
	ctx, span := s.startSpan(ctx, "store.query", table)
	defer span.End()

	ds := applyQuery(s.dialect.From(table).Prepared(true), q, "")
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fail(span, fmt.Errorf("build query %s: %w", table, err))
	}
	records, err := s.selectRecords(ctx, query, args)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query %s: %w", table, err))
	}
	span.SetAttributes(attribute.Int("records.loaded", len(records)))
	return records, nil
}

func (s *SQLStore) QueryJoined(ctx context.Context, table string, q Query, joins ...Join) ([]Record, error) {
	ctx, span := s.startSpan(ctx, "store.query_joined", table, attribute.Int("join.count", len(joins)))
	defer span.End()

	cols := []interface{}{goqu.T(table).All()}
	ds := s.dialect.From(table).Prepared(true)
	for _, j := range joins {
		ds = ds.LeftJoin(
			goqu.T(j.Table),
			goqu.On(goqu.T(j.Table).Col("id").Eq(goqu.T(table).Col(j.ForeignKey))),
		)
		for _, c := range j.Columns {
			cols = append(cols, goqu.T(j.Table).Col(c).As(j.Prefix+c))
		}
	}
	ds = applyQuery(ds.Select(cols...), q, table)

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fail(span, fmt.Errorf("build joined query %s: %w", table, err))
	}
	records, err := s.selectRecords(ctx, query, args)
	if err != nil {
		return nil, fail(span, fmt.Errorf("joined query %s: %w", table, err))
	}
	span.SetAttributes(attribute.Int("records.loaded", len(records)))
	return records, nil
}

func (s *SQLStore) Count(ctx context.Context, table string, q Query) (int, error) {
	ctx, span := s.startSpan(ctx, "store.count", table)
	defer span.End()

	ds := s.dialect.From(table).Prepared(true).Select(goqu.COUNT(goqu.Star()))
	ds = applyFilter(ds, q, "")
	query, args, err := ds.ToSQL()
	if err != nil {
		return 0, fail(span, fmt.Errorf("build count %s: %w", table, err))
	}
	var n int64
	if err := s.db.QueryRowxContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fail(span, fmt.Errorf("count %s: %w", table, err))
	}
	return int(n), nil
}

func (s *SQLStore) selectRecords(ctx context.Context, query string, args []interface{}) ([]Record, error) {
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		raw := make(map[string]interface{})
		if err := rows.MapScan(raw); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, normalize(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

func applyFilter(ds *goqu.SelectDataset, q Query, qualifier string) *goqu.SelectDataset {
	for _, c := range q.Where {
		ds = ds.Where(c.expression(qualifier))
	}
	if len(q.AnyOf) > 0 {
		alts := make([]exp.Expression, 0, len(q.AnyOf))
		for _, c := range q.AnyOf {
			alts = append(alts, c.expression(qualifier))
		}
		ds = ds.Where(goqu.Or(alts...))
	}
	return ds
}

func applyQuery(ds *goqu.SelectDataset, q Query, qualifier string) *goqu.SelectDataset {
	ds = applyFilter(ds, q, qualifier)
	if q.OrderBy != "" {
		col := ident(qualifier, q.OrderBy)
		if q.Desc {
			ds = ds.Order(col.Desc())
		} else {
			ds = ds.Order(col.Asc())
		}
	}
	if q.Limit > 0 {
		ds = ds.Limit(uint(q.Limit))
	}
	return ds
}

// classify maps driver constraint errors onto the store sentinels.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Message)
		case "23503":
			return fmt.Errorf("%w: %s", ErrReferenced, pqErr.Message)
		case "23514":
			return fmt.Errorf("%w: %s", ErrCheck, pqErr.Message)
		}
		return err
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %s", ErrDuplicate, strings.TrimSpace(liteErr.Error()))
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%w: %s", ErrReferenced, strings.TrimSpace(liteErr.Error()))
		case sqlite3.ErrConstraintCheck:
			return fmt.Errorf("%w: %s", ErrCheck, strings.TrimSpace(liteErr.Error()))
		}
	}
	return err
}
