package entity

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/hatlonely/simpcrm/cfg"
	"github.com/hatlonely/simpcrm/log"
	"github.com/hatlonely/simpcrm/log/logger"
	"github.com/hatlonely/simpcrm/rdb"
	"github.com/hatlonely/simpcrm/rdb/field"
	"github.com/hatlonely/simpcrm/rdb/query"
	"github.com/hatlonely/simpcrm/rdb/store"
	"github.com/pkg/errors"
)

const DefaultRefreshInterval = 10 * time.Second

type SessionOptions struct {
	Store store.Options `cfg:"store"`

	// Logger 为空时使用 log.Default()
	Logger *logger.SLogOptions `cfg:"logger"`

	// RefreshInterval Item 后台刷新间隔
	RefreshInterval time.Duration `cfg:"refreshInterval" def:"10s"`

	Observe store.ObservableOptions `cfg:"observe"`
}

// Session 一个 store 上的所有 Entity、FieldSet 和 Item
type Session struct {
	store  store.Store
	logger logger.Logger
	fields *field.Registry

	// closers 由 Session 创建的资源，Close 时释放
	closers []func() error

	mu              sync.Mutex
	entities        map[string]*Entity
	refreshInterval time.Duration
}

type SessionOption func(*Session)

func WithLogger(l logger.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRefreshInterval 小于等于 0 时不启动后台刷新
func WithRefreshInterval(d time.Duration) SessionOption {
	return func(s *Session) {
		s.refreshInterval = d
	}
}

// NewSession st 需要已经连接
func NewSession(st store.Store, opts ...SessionOption) *Session {
	s := &Session{
		store:           st,
		logger:          log.Default(),
		entities:        map[string]*Entity{},
		refreshInterval: DefaultRefreshInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.fields = field.NewRegistry(s.logger)
	return s
}

// NewSessionWithOptions 创建并连接 store，Close 时断开
func NewSessionWithOptions(ctx context.Context, options *SessionOptions) (*Session, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	opts := *options
	if err := cfg.SetDefaults(&opts); err != nil {
		return nil, errors.WithMessage(err, "cfg.SetDefaults failed")
	}
	if options.Logger == nil {
		opts.Logger = nil
	}
	if err := cfg.Validate(&opts); err != nil {
		return nil, errors.Wrap(err, "invalid session options")
	}

	var closers []func() error
	l, err := log.NewLoggerWithOptions(opts.Logger)
	if err != nil {
		return nil, errors.WithMessage(err, "log.NewLoggerWithOptions failed")
	}
	if c, ok := l.(io.Closer); ok && opts.Logger != nil {
		closers = append(closers, c.Close)
	}
	release := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	st, err := store.NewStoreWithOptions(&opts.Store)
	if err != nil {
		release()
		return nil, errors.WithMessage(err, "store.NewStoreWithOptions failed")
	}
	if opts.Observe.Enabled() {
		obs, err := store.NewObservableStoreWithOptions(st, &opts.Observe, l, nil)
		if err != nil {
			release()
			return nil, errors.WithMessage(err, "store.NewObservableStoreWithOptions failed")
		}
		st = obs
	}
	if err := st.Connect(ctx); err != nil {
		release()
		return nil, errors.WithMessage(err, "connect store failed")
	}

	s := NewSession(st, WithLogger(l), WithRefreshInterval(opts.RefreshInterval))
	// store 先于日志释放
	s.closers = append([]func() error{st.Disconnect}, closers...)
	return s, nil
}

// NewSessionFromFile 从配置文件加载 SessionOptions
func NewSessionFromFile(ctx context.Context, filename string) (*Session, error) {
	var options SessionOptions
	if err := cfg.Load(filename, &options); err != nil {
		return nil, err
	}
	return NewSessionWithOptions(ctx, &options)
}

func (s *Session) Store() store.Store {
	return s.store
}

func (s *Session) Logger() logger.Logger {
	return s.logger
}

// Fields 该 session 的 FieldSet 注册表
func (s *Session) Fields() *field.Registry {
	return s.fields
}

// SetRefreshInterval 只影响之后创建的 Item
func (s *Session) SetRefreshInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshInterval = d
}

func (s *Session) RefreshInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshInterval
}

// Entity 按表名查找已注册的 Entity
func (s *Session) Entity(table string) (*Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[table]
	return e, ok
}

// Entities 已注册的 Entity，按表名排序
func (s *Session) Entities() []*Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	tables := make([]string, 0, len(s.entities))
	for table := range s.entities {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	out := make([]*Entity, 0, len(tables))
	for _, table := range tables {
		out = append(out, s.entities[table])
	}
	return out
}

func (s *Session) evict(e *Entity) {
	s.mu.Lock()
	if s.entities[e.table] == e {
		delete(s.entities, e.table)
	}
	s.mu.Unlock()
	s.fields.Evict(e.table)
}

// Select 直接查询任意表，返回普通的行，不经过 Entity
func (s *Session) Select(ctx context.Context, table string, filter rdb.Filter, fields ...string) ([]rdb.Row, error) {
	sql, params, err := query.Select(table, fields, filter)
	if err != nil {
		return nil, err
	}
	return s.store.Query(ctx, sql, params)
}

// Close 关闭所有 Entity 的 Item，并释放 NewSessionWithOptions 创建的资源
func (s *Session) Close() error {
	for _, e := range s.Entities() {
		e.Close()
	}

	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	if len(errs) > 0 {
		return errors.Wrapf(errs[0], "close session failed with %d errors", len(errs))
	}
	return nil
}
