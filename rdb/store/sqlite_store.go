package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/hatlonely/simpcrm/rdb"
	"github.com/hatlonely/simpcrm/rdb/query"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

var pragmaValuePattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

// dsn 由 Database 和 BusyTimeout 拼出 go-sqlite3 的连接串
func dsn(options *Options) string {
	if options.DSN != "" {
		return options.DSN
	}
	if options.BusyTimeout <= 0 {
		return options.Database
	}
	sep := "?"
	if strings.Contains(options.Database, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_busy_timeout=%d", options.Database, sep, options.BusyTimeout.Milliseconds())
}

// pragmaStatements 按名称排序生成 PRAGMA 语句
func pragmaStatements(pragmas map[string]string) ([]string, error) {
	names := make([]string, 0, len(pragmas))
	for name := range pragmas {
		names = append(names, name)
	}
	sort.Strings(names)

	stmts := make([]string, 0, len(names))
	for _, name := range names {
		value := pragmas[name]
		if !query.ValidIdent(name) || !pragmaValuePattern.MatchString(value) {
			return nil, errors.Errorf("invalid pragma %s=%s", name, value)
		}
		stmts = append(stmts, fmt.Sprintf("PRAGMA %s = %s", name, value))
	}
	return stmts, nil
}

// SQLiteStore database/sql + go-sqlite3
// 连接池上限为 MaxConns，:memory: 必须为 1，否则每个连接各自是一个空库
type SQLiteStore struct {
	options Options

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStoreWithOptions(options *Options) *SQLiteStore {
	return &SQLiteStore{options: *options}
}

func (s *SQLiteStore) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	db, err := sql.Open(DriverSQLite3, dsn(&s.options))
	if err != nil {
		return rdb.NewStoreError("connect", "", err)
	}
	db.SetMaxOpenConns(s.options.MaxConns)
	db.SetMaxIdleConns(s.options.MaxConns)
	// 内存库在连接关闭后丢失
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return rdb.NewStoreError("connect", "", err)
	}

	stmts, err := pragmaStatements(s.options.Pragmas)
	if err != nil {
		_ = db.Close()
		return err
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return rdb.NewStoreError("connect", stmt, err)
		}
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return rdb.NewStoreError("disconnect", "", err)
}

func (s *SQLiteStore) executor() (*sqlExecutor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, rdb.NewStoreError("execute", "", errors.New("store is not connected"))
	}
	return &sqlExecutor{conn: s.db, db: s.db}, nil
}

func (s *SQLiteStore) Execute(ctx context.Context, sql string, params rdb.Params) (rdb.Result, error) {
	exec, err := s.executor()
	if err != nil {
		return rdb.Result{}, err
	}
	return exec.Execute(ctx, sql, params)
}

func (s *SQLiteStore) ExecuteBatch(ctx context.Context, sql string, params []rdb.Params) error {
	exec, err := s.executor()
	if err != nil {
		return err
	}
	return exec.ExecuteBatch(ctx, sql, params)
}

func (s *SQLiteStore) Query(ctx context.Context, sql string, params rdb.Params) ([]rdb.Row, error) {
	exec, err := s.executor()
	if err != nil {
		return nil, err
	}
	return exec.Query(ctx, sql, params)
}

func (s *SQLiteStore) IntrospectSchema(ctx context.Context, table string) (string, error) {
	return Schema(ctx, s, table)
}

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx Executor) error) error {
	exec, err := s.executor()
	if err != nil {
		return err
	}
	return exec.withTx(ctx, fn)
}

type sqlConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// sqlExecutor conn 为 *sql.DB 或 *sql.Tx，db 为 nil 表示已经在事务中
type sqlExecutor struct {
	conn sqlConn
	db   *sql.DB
}

func (e *sqlExecutor) Execute(ctx context.Context, sql string, params rdb.Params) (rdb.Result, error) {
	args, err := namedArgs(params)
	if err != nil {
		return rdb.Result{}, err
	}
	res, err := e.conn.ExecContext(ctx, sql, args...)
	if err != nil {
		return rdb.Result{}, rdb.NewStoreError("execute", sql, err)
	}
	var result rdb.Result
	// go-sqlite3 两者都不会失败
	result.LastInsertID, _ = res.LastInsertId()
	result.RowsAffected, _ = res.RowsAffected()
	return result, nil
}

func (e *sqlExecutor) ExecuteBatch(ctx context.Context, sql string, params []rdb.Params) error {
	if len(params) == 0 {
		return nil
	}
	if e.db != nil {
		return e.withTx(ctx, func(tx Executor) error {
			return tx.ExecuteBatch(ctx, sql, params)
		})
	}

	stmt, err := e.conn.PrepareContext(ctx, sql)
	if err != nil {
		return rdb.NewStoreError("execute_batch", sql, err)
	}
	defer stmt.Close()

	for i, p := range params {
		args, err := namedArgs(p)
		if err != nil {
			return errors.WithMessagef(err, "batch %d", i)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return rdb.NewStoreError("execute_batch", sql, errors.WithMessagef(err, "batch %d", i))
		}
	}
	return nil
}

func (e *sqlExecutor) Query(ctx context.Context, sql string, params rdb.Params) ([]rdb.Row, error) {
	args, err := namedArgs(params)
	if err != nil {
		return nil, err
	}
	rows, err := e.conn.QueryContext(ctx, sql, args...)
	if err != nil {
		return nil, rdb.NewStoreError("query", sql, err)
	}
	result, err := scanRows(rows)
	if err != nil {
		return nil, rdb.NewStoreError("query", sql, err)
	}
	return result, nil
}

func (e *sqlExecutor) withTx(ctx context.Context, fn func(tx Executor) error) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return rdb.NewStoreError("begin", "", err)
	}
	if err := fn(&sqlExecutor{conn: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return rdb.NewStoreError("commit", "", err)
	}
	return nil
}
