// Package warehouse prepares the Snowflake side of the integration: the warehouse and database, the staged
// documents and their chunks, the Cortex Search service, and the OAuth integration the plugin signs in with.
package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/klothoplatform/cortexrag/pkg/logging"
	"github.com/snowflakedb/gosnowflake"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Settings struct {
	Account  string
	User     string
	Password string
	Role     string
}

func (s Settings) Validate() error {
	var errs error
	if s.Account == "" {
		errs = multierr.Append(errs, errors.New("snowflake account is required"))
	}
	if s.User == "" {
		errs = multierr.Append(errs, errors.New("snowflake user is required"))
	}
	if s.Password == "" {
		errs = multierr.Append(errs, errors.New("snowflake password is required"))
	}
	return errs
}

func (s Settings) Sanitize() map[string]any {
	return map[string]any{
		"account":  s.Account,
		"user":     s.User,
		"role":     s.Role,
		"password": s.Password != "",
	}
}

func (s Settings) driverConfig() gosnowflake.Config {
	return gosnowflake.Config{
		Account:     s.Account,
		User:        s.User,
		Password:    s.Password,
		Role:        s.Role,
		Application: "cortexrag",
		Tracing:     "error",
	}
}

// Session runs statements on a single pinned connection. USE DATABASE and USE WAREHOUSE are connection
// state, so every statement of a setup run must go through the same connection.
type Session struct {
	db   *sql.DB
	conn *sql.Conn
	log  *zap.Logger

	// PollAttempts and PollDelay bound the wait for the search service to become active.
	PollAttempts uint
	PollDelay    time.Duration
}

// Open connects to Snowflake with the given settings.
func Open(ctx context.Context, s Settings) (*Session, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	logging.GetLogger(ctx).Named("warehouse").Info("connecting", logging.Sanitized("settings", s))
	db := sql.OpenDB(gosnowflake.NewConnector(gosnowflake.SnowflakeDriver{}, s.driverConfig()))
	sess, err := NewSession(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return sess, nil
}

// NewSession pins a connection from db. The session owns db and closes it on Close.
func NewSession(ctx context.Context, db *sql.DB) (*Session, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not connect to snowflake: %w", err)
	}
	return &Session{
		db:           db,
		conn:         conn,
		log:          logging.GetLogger(ctx).Named("warehouse"),
		PollAttempts: 30,
		PollDelay:    10 * time.Second,
	}, nil
}

func (s *Session) Close() error {
	return multierr.Combine(s.conn.Close(), s.db.Close())
}

func (s *Session) exec(ctx context.Context, stmt string) error {
	s.log.Named("sql").Debug(firstLine(stmt))
	if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("%s: %w", firstLine(stmt), err)
	}
	return nil
}

func (s *Session) execAll(ctx context.Context, stmts ...string) error {
	for _, stmt := range stmts {
		if err := s.exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) count(ctx context.Context, table string) (int64, error) {
	stmt := "SELECT COUNT(*) FROM " + table
	var n int64
	if err := s.conn.QueryRowContext(ctx, stmt).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: %w", stmt, err)
	}
	return n, nil
}

// table is a query result with every value read as a string. SHOW and DESC results have many columns whose
// positions vary between Snowflake releases, so callers look values up by column name.
type table struct {
	columns []string
	rows    [][]string
}

func (s *Session) query(ctx context.Context, stmt string) (*table, error) {
	s.log.Named("sql").Debug(firstLine(stmt))
	rows, err := s.conn.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", firstLine(stmt), err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	t := &table{columns: cols}
	for rows.Next() {
		vals := make([]sql.NullString, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%s: %w", firstLine(stmt), err)
		}
		row := make([]string, len(cols))
		for i, v := range vals {
			row[i] = v.String
		}
		t.rows = append(t.rows, row)
	}
	return t, rows.Err()
}

// column returns the index of the first column named any of names, or fallback.
func (t *table) column(fallback int, names ...string) int {
	for i, c := range t.columns {
		for _, name := range names {
			if strings.EqualFold(c, name) {
				return i
			}
		}
	}
	return fallback
}

func (t *table) value(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}

func firstLine(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	line, _, _ := strings.Cut(stmt, "\n")
	return line
}

// quote renders s as a SQL string literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
