package store

import (
	"context"
	"strings"
	"sync"

	"github.com/hatlonely/simpcrm/rdb"
	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormStore 通过 gorm 执行同样的命名参数 SQL，底层仍是 go-sqlite3
type GormStore struct {
	options Options

	mu sync.RWMutex
	db *gorm.DB
}

func NewGormStoreWithOptions(options *Options) *GormStore {
	return &GormStore{options: *options}
}

func (s *GormStore) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	db, err := gorm.Open(sqlite.Open(dsn(&s.options)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return rdb.NewStoreError("connect", "", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return rdb.NewStoreError("connect", "", err)
	}
	sqlDB.SetMaxOpenConns(s.options.MaxConns)
	sqlDB.SetMaxIdleConns(s.options.MaxConns)
	sqlDB.SetConnMaxLifetime(0)
	sqlDB.SetConnMaxIdleTime(0)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return rdb.NewStoreError("connect", "", err)
	}

	stmts, err := pragmaStatements(s.options.Pragmas)
	if err != nil {
		_ = sqlDB.Close()
		return err
	}
	for _, stmt := range stmts {
		if err := db.WithContext(ctx).Exec(stmt).Error; err != nil {
			_ = sqlDB.Close()
			return rdb.NewStoreError("connect", stmt, err)
		}
	}

	s.db = db
	return nil
}

func (s *GormStore) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	s.db = nil
	if err != nil {
		return rdb.NewStoreError("disconnect", "", err)
	}
	return rdb.NewStoreError("disconnect", "", sqlDB.Close())
}

func (s *GormStore) executor() (*gormExecutor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, rdb.NewStoreError("execute", "", errors.New("store is not connected"))
	}
	return &gormExecutor{db: s.db}, nil
}

func (s *GormStore) Execute(ctx context.Context, sql string, params rdb.Params) (rdb.Result, error) {
	exec, err := s.executor()
	if err != nil {
		return rdb.Result{}, err
	}
	return exec.Execute(ctx, sql, params)
}

func (s *GormStore) ExecuteBatch(ctx context.Context, sql string, params []rdb.Params) error {
	exec, err := s.executor()
	if err != nil {
		return err
	}
	return exec.ExecuteBatch(ctx, sql, params)
}

func (s *GormStore) Query(ctx context.Context, sql string, params rdb.Params) ([]rdb.Row, error) {
	exec, err := s.executor()
	if err != nil {
		return nil, err
	}
	return exec.Query(ctx, sql, params)
}

func (s *GormStore) IntrospectSchema(ctx context.Context, table string) (string, error) {
	return Schema(ctx, s, table)
}

func (s *GormStore) WithTx(ctx context.Context, fn func(tx Executor) error) error {
	exec, err := s.executor()
	if err != nil {
		return err
	}
	return exec.withTx(ctx, fn)
}

// gormExecutor inTx 时 db 绑定在事务连接上
type gormExecutor struct {
	db   *gorm.DB
	inTx bool
}

func gormArgs(params rdb.Params) ([]any, error) {
	if len(params) == 0 {
		return nil, nil
	}
	m, err := namedMap(params)
	if err != nil {
		return nil, err
	}
	return []any{m}, nil
}

func (e *gormExecutor) Execute(ctx context.Context, sql string, params rdb.Params) (rdb.Result, error) {
	args, err := gormArgs(params)
	if err != nil {
		return rdb.Result{}, err
	}

	var result rdb.Result
	run := func(db *gorm.DB) error {
		tx := db.Exec(sql, args...)
		if tx.Error != nil {
			return tx.Error
		}
		result.RowsAffected = tx.RowsAffected
		if !isInsert(sql) {
			return nil
		}
		// gorm 不返回自增 id，在同一个连接上补查
		return db.Raw("SELECT last_insert_rowid()").Scan(&result.LastInsertID).Error
	}

	db := e.db.WithContext(ctx)
	if e.inTx {
		err = run(db)
	} else {
		err = db.Connection(run)
	}
	if err != nil {
		return rdb.Result{}, rdb.NewStoreError("execute", sql, err)
	}
	return result, nil
}

func (e *gormExecutor) ExecuteBatch(ctx context.Context, sql string, params []rdb.Params) error {
	if len(params) == 0 {
		return nil
	}
	if !e.inTx {
		return e.withTx(ctx, func(tx Executor) error {
			return tx.ExecuteBatch(ctx, sql, params)
		})
	}
	for i, p := range params {
		args, err := gormArgs(p)
		if err != nil {
			return errors.WithMessagef(err, "batch %d", i)
		}
		if err := e.db.WithContext(ctx).Exec(sql, args...).Error; err != nil {
			return rdb.NewStoreError("execute_batch", sql, errors.WithMessagef(err, "batch %d", i))
		}
	}
	return nil
}

func (e *gormExecutor) Query(ctx context.Context, sql string, params rdb.Params) ([]rdb.Row, error) {
	args, err := gormArgs(params)
	if err != nil {
		return nil, err
	}
	rows, err := e.db.WithContext(ctx).Raw(sql, args...).Rows()
	if err != nil {
		return nil, rdb.NewStoreError("query", sql, err)
	}
	result, err := scanRows(rows)
	if err != nil {
		return nil, rdb.NewStoreError("query", sql, err)
	}
	return result, nil
}

func (e *gormExecutor) withTx(ctx context.Context, fn func(tx Executor) error) error {
	var fnErr error
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(&gormExecutor{db: tx, inTx: true})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return rdb.NewStoreError("commit", "", err)
	}
	return nil
}

func isInsert(sql string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(sql)), "INSERT")
}
