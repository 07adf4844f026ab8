package store

import (
	"context"
	"time"

	"github.com/hatlonely/simpcrm/cfg"
	"github.com/hatlonely/simpcrm/rdb"
	"github.com/hatlonely/simpcrm/rdb/query"
	"github.com/hatlonely/simpcrm/ref"
	"github.com/pkg/errors"
)

const (
	DriverSQLite3 = "sqlite3"
	DriverGorm    = "gorm"
)

// Executor 执行已经生成好的 SQL，参数使用 @name 占位
type Executor interface {
	// Execute 执行写语句或 DDL
	Execute(ctx context.Context, sql string, params rdb.Params) (rdb.Result, error)
	// ExecuteBatch 同一条语句按多组参数执行，全部成功或全部失败
	ExecuteBatch(ctx context.Context, sql string, params []rdb.Params) error
	// Query 执行查询，结果集为空时返回空切片
	Query(ctx context.Context, sql string, params rdb.Params) ([]rdb.Row, error)
}

type Store interface {
	Executor
	Connect(ctx context.Context) error
	Disconnect() error
	// IntrospectSchema 返回表的建表语句，表不存在时返回空字符串
	IntrospectSchema(ctx context.Context, table string) (string, error)
	// WithTx 在事务中执行 fn，fn 返回错误时回滚
	WithTx(ctx context.Context, fn func(tx Executor) error) error
}

type Options struct {
	// Driver 驱动，sqlite3 直接使用 database/sql，gorm 通过 gorm 执行同样的 SQL
	Driver string `cfg:"driver" def:"sqlite3" validate:"required"`
	// Database 数据库文件路径，:memory: 表示内存库
	Database string `cfg:"database" validate:"required_without=DSN"`
	// DSN 完整的连接串，设置后忽略 Database 和 BusyTimeout
	DSN         string            `cfg:"dsn"`
	MaxConns    int               `cfg:"maxConns" def:"1" validate:"gte=1"`
	BusyTimeout time.Duration     `cfg:"busyTimeout" def:"5s"`
	Pragmas     map[string]string `cfg:"pragmas"`
}

var drivers = ref.NewRegistry[*Options, Store]("rdb.store")

func init() {
	drivers.MustRegister(DriverSQLite3, func(options *Options) (Store, error) {
		return NewSQLiteStoreWithOptions(options), nil
	})
	drivers.MustRegister(DriverGorm, func(options *Options) (Store, error) {
		return NewGormStoreWithOptions(options), nil
	})
}

// RegisterDriver 注册自定义驱动，options 已经填充默认值并校验
func RegisterDriver(name string, fn ref.Constructor[*Options, Store]) error {
	return drivers.Register(name, fn)
}

// Drivers 已注册的驱动名称
func Drivers() []string {
	return drivers.Names()
}

// NewStoreWithOptions 根据 Driver 创建存储，返回的存储尚未连接
func NewStoreWithOptions(options *Options) (Store, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	opts := *options
	if err := cfg.SetDefaults(&opts); err != nil {
		return nil, errors.WithMessage(err, "cfg.SetDefaults failed")
	}
	if err := cfg.Validate(&opts); err != nil {
		return nil, errors.Wrap(err, "invalid store options")
	}

	st, err := drivers.New(opts.Driver, &opts)
	if err != nil {
		return nil, errors.WithMessagef(err, "unsupported driver %q", opts.Driver)
	}
	return st, nil
}

// Schema 通过 exec 读取建表语句，事务内外都可以使用
func Schema(ctx context.Context, exec Executor, table string) (string, error) {
	sql, params, err := query.GetSchema(table)
	if err != nil {
		return "", err
	}
	rows, err := exec.Query(ctx, sql, params)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	ddl, _ := rows[0]["sql"].(string)
	return ddl, nil
}
