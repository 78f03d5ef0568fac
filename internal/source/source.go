// Package source reads raw vehicle visits from the access-control database.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	_ "github.com/microsoft/go-mssqldb"
	"go.uber.org/zap"

	"github.com/jgoulah/trackusage/internal/config"
	"github.com/jgoulah/trackusage/internal/normalize"
	"github.com/jgoulah/trackusage/pkg/models"
)

// Source returns the raw visits whose stay falls in [start, end]
type Source interface {
	FetchVisits(ctx context.Context, start, end time.Time) ([]models.RawVisit, error)
}

// SQLSource runs the visit report query through database/sql.
// With the default configuration that is the sp_VehicleAccessReport stored
// procedure on SQL Server.
type SQLSource struct {
	db      *sql.DB
	query   string
	columns config.SourceColumns
	loc     *time.Location
	retries int
	log     *zap.Logger
}

// NewSQLSource opens the source database. The connection is established lazily.
func NewSQLSource(cfg config.SourceConfig, loc *time.Location, log *zap.Logger) (*SQLSource, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("source dsn is not configured")
	}

	db, err := sql.Open(cfg.GetDriver(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening source database: %w", err)
	}

	return NewSQLSourceFromDB(db, cfg, loc, log), nil
}

// NewSQLSourceFromDB wraps an existing connection pool
func NewSQLSourceFromDB(db *sql.DB, cfg config.SourceConfig, loc *time.Location, log *zap.Logger) *SQLSource {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SQLSource{
		db:      db,
		query:   cfg.GetQuery(),
		columns: cfg.Columns.WithDefaults(),
		loc:     loc,
		retries: cfg.GetRetries(),
		log:     log.Named("source"),
	}
}

// Close closes the source connection pool
func (s *SQLSource) Close() error {
	return s.db.Close()
}

// FetchVisits runs the report query, retrying transient failures with
// exponential backoff until ctx expires or the retries are used up.
func (s *SQLSource) FetchVisits(ctx context.Context, start, end time.Time) ([]models.RawVisit, error) {
	startStr := start.In(s.loc).Format("2006-01-02 15:04:05.000")
	endStr := end.In(s.loc).Format("2006-01-02 15:04:05.000")

	attempt := 0
	op := func() ([]models.RawVisit, error) {
		attempt++
		visits, err := s.fetch(ctx, startStr, endStr)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			s.log.Warn("visit query failed",
				zap.Int("attempt", attempt),
				zap.String("start", startStr),
				zap.String("end", endStr),
				zap.Error(err),
			)
			return nil, err
		}
		return visits, nil
	}

	visits, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(s.retries+1)),
	)
	if err != nil {
		return nil, err
	}

	s.log.Debug("fetched visits",
		zap.Int("count", len(visits)),
		zap.Int("attempts", attempt),
	)
	return visits, nil
}

func (s *SQLSource) fetch(ctx context.Context, start, end string) ([]models.RawVisit, error) {
	rows, err := s.db.QueryContext(ctx, s.query, start, end)
	if err != nil {
		return nil, fmt.Errorf("executing visit query: %w", err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}
	positions := make(map[string]int, len(names))
	for i, n := range names {
		positions[strings.ToLower(n)] = i
	}

	col := func(name string) (int, error) {
		i, ok := positions[strings.ToLower(name)]
		if !ok {
			return 0, fmt.Errorf("column %q missing from visit report", name)
		}
		return i, nil
	}

	var idx struct{ entity, code, duration, entry, exit int }
	for _, c := range []struct {
		name string
		dst  *int
	}{
		{s.columns.Entity, &idx.entity},
		{s.columns.Code, &idx.code},
		{s.columns.Duration, &idx.duration},
		{s.columns.Entry, &idx.entry},
		{s.columns.Exit, &idx.exit},
	} {
		i, err := col(c.name)
		if err != nil {
			return nil, err
		}
		*c.dst = i
	}

	var visits []models.RawVisit
	values := make([]any, len(names))
	ptrs := make([]any, len(names))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		visits = append(visits, models.RawVisit{
			EntityName:         asString(values[idx.entity]),
			ClassificationCode: values[idx.code],
			DurationText:       asString(values[idx.duration]),
			EntryTime:          s.asTime(values[idx.entry]),
			ExitTime:           s.asTime(values[idx.exit]),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading rows: %w", err)
	}
	return visits, nil
}

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

func (s *SQLSource) asTime(v any) *time.Time {
	switch x := v.(type) {
	case time.Time:
		if x.IsZero() {
			return nil
		}
		t := time.Date(x.Year(), x.Month(), x.Day(), x.Hour(), x.Minute(), x.Second(), x.Nanosecond(), s.loc)
		return &t
	case string:
		return normalize.ParseTimestamp(x, s.loc)
	case []byte:
		return normalize.ParseTimestamp(string(x), s.loc)
	default:
		return nil
	}
}
