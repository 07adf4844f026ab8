package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hatlonely/simpcrm/log/logger"
	"github.com/hatlonely/simpcrm/rdb"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type ObservableOptions struct {
	// EnableMetrics 是否启用指标收集
	EnableMetrics bool `cfg:"enableMetrics"`

	// EnableLogging 是否启用日志记录，成功的语句记为 debug，失败记为 error
	EnableLogging bool `cfg:"enableLogging"`

	// EnableTracing 是否启用分布式追踪
	EnableTracing bool `cfg:"enableTracing"`

	// Name 组件名称标识，用于所有观测维度
	// - Metrics: 作为指标名前缀
	// - Logging: 作为 component 字段值
	// - Tracing: 作为 span 的 component 属性
	Name string `cfg:"name" def:"rdb"`
}

// Enabled 任意一种观测打开
func (o *ObservableOptions) Enabled() bool {
	return o != nil && (o.EnableMetrics || o.EnableLogging || o.EnableTracing)
}

// ObservableMetrics 封装 prometheus 指标
type ObservableMetrics struct {
	operationCounter   *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec
	activeOperations   *prometheus.GaugeVec
	batchSizeHistogram *prometheus.HistogramVec
}

// NewObservableMetrics 创建指标并注册到 registerer，同名指标已注册时复用已有的
func NewObservableMetrics(name string, registerer prometheus.Registerer) (*ObservableMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	operationCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: name + "_operations_total",
			Help: "Total number of rdb store operations",
		},
		[]string{"operation", "statement", "status"},
	)
	operationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    name + "_operation_duration_seconds",
			Help:    "Duration of rdb store operations in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"operation", "statement"},
	)
	activeOperations := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: name + "_active_operations",
			Help: "Number of active rdb store operations",
		},
		[]string{"operation"},
	)
	batchSizeHistogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    name + "_batch_size",
			Help:    "Size of batch operations",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000},
		},
		[]string{"operation"},
	)

	metrics := &ObservableMetrics{}
	var err error
	if metrics.operationCounter, err = register(registerer, operationCounter); err != nil {
		return nil, err
	}
	if metrics.operationDuration, err = register(registerer, operationDuration); err != nil {
		return nil, err
	}
	if metrics.activeOperations, err = register(registerer, activeOperations); err != nil {
		return nil, err
	}
	if metrics.batchSizeHistogram, err = register(registerer, batchSizeHistogram); err != nil {
		return nil, err
	}
	return metrics, nil
}

func register[C prometheus.Collector](registerer prometheus.Registerer, c C) (C, error) {
	if err := registerer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, errors.Wrap(err, "prometheus register failed")
	}
	return c, nil
}

// observer 被 ObservableStore 和事务内的 executor 共用
type observer struct {
	logger  logger.Logger
	metrics *ObservableMetrics
	tracer  trace.Tracer
	name    string
}

// ObservableStore 装饰器，为任何 Store 添加观测能力
type ObservableStore struct {
	store Store
	obs   *observer
}

// NewObservableStoreWithOptions log 为 nil 时不记录日志，registerer 为 nil 时使用默认 registry
func NewObservableStoreWithOptions(store Store, options *ObservableOptions, log logger.Logger, registerer prometheus.Registerer) (*ObservableStore, error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if options == nil {
		options = &ObservableOptions{}
	}
	name := options.Name
	if name == "" {
		name = "rdb"
	}

	obs := &observer{name: name}
	if options.EnableLogging && log != nil {
		obs.logger = log.WithGroup("observableStore")
	}
	if options.EnableMetrics {
		metrics, err := NewObservableMetrics(name, registerer)
		if err != nil {
			return nil, errors.WithMessage(err, "failed to create metrics")
		}
		obs.metrics = metrics
	}
	if options.EnableTracing {
		obs.tracer = otel.Tracer(fmt.Sprintf("rdb.%s", name))
	}

	return &ObservableStore{store: store, obs: obs}, nil
}

// statement SQL 的第一个关键字，用作指标维度
func statement(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

// observe 统一的操作观测逻辑，batchSize > 0 时记录批量大小
func (obs *observer) observe(ctx context.Context, operation string, sql string, batchSize int, fn func(context.Context) error) error {
	start := time.Now()
	stmt := statement(sql)

	var span trace.Span
	if obs.tracer != nil {
		attrs := []attribute.KeyValue{
			attribute.String("component", obs.name),
			attribute.String("operation", operation),
			attribute.String("db.system", "sqlite"),
		}
		if sql != "" {
			attrs = append(attrs, attribute.String("db.statement", sql))
		}
		if batchSize > 0 {
			attrs = append(attrs, attribute.Int("batch_size", batchSize))
		}
		ctx, span = obs.tracer.Start(ctx, fmt.Sprintf("rdb.%s", operation), trace.WithAttributes(attrs...))
		defer span.End()
	}

	if obs.metrics != nil {
		if batchSize > 0 {
			obs.metrics.batchSizeHistogram.WithLabelValues(operation).Observe(float64(batchSize))
		}
		obs.metrics.activeOperations.WithLabelValues(operation).Inc()
		defer obs.metrics.activeOperations.WithLabelValues(operation).Dec()
	}

	err := fn(ctx)
	duration := time.Since(start)

	if span != nil {
		span.SetAttributes(attribute.Int64("duration_ms", duration.Milliseconds()))
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	if obs.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		obs.metrics.operationCounter.WithLabelValues(operation, stmt, status).Inc()
		obs.metrics.operationDuration.WithLabelValues(operation, stmt).Observe(duration.Seconds())
	}

	if obs.logger != nil {
		args := []any{
			"component", obs.name,
			"operation", operation,
			"duration_ms", duration.Milliseconds(),
		}
		if sql != "" {
			args = append(args, "sql", sql)
		}
		if batchSize > 0 {
			args = append(args, "batch_size", batchSize)
		}
		if err != nil {
			obs.logger.ErrorContext(ctx, "store operation failed", append(args, "error", err.Error())...)
		} else {
			obs.logger.DebugContext(ctx, "store operation completed", args...)
		}
	}

	return err
}

func (s *ObservableStore) Connect(ctx context.Context) error {
	return s.obs.observe(ctx, "connect", "", 0, func(ctx context.Context) error {
		return s.store.Connect(ctx)
	})
}

func (s *ObservableStore) Disconnect() error {
	return s.obs.observe(context.Background(), "disconnect", "", 0, func(ctx context.Context) error {
		return s.store.Disconnect()
	})
}

func (s *ObservableStore) Execute(ctx context.Context, sql string, params rdb.Params) (rdb.Result, error) {
	return observableExecutor{exec: s.store, obs: s.obs}.Execute(ctx, sql, params)
}

func (s *ObservableStore) ExecuteBatch(ctx context.Context, sql string, params []rdb.Params) error {
	return observableExecutor{exec: s.store, obs: s.obs}.ExecuteBatch(ctx, sql, params)
}

func (s *ObservableStore) Query(ctx context.Context, sql string, params rdb.Params) ([]rdb.Row, error) {
	return observableExecutor{exec: s.store, obs: s.obs}.Query(ctx, sql, params)
}

func (s *ObservableStore) IntrospectSchema(ctx context.Context, table string) (string, error) {
	var ddl string
	err := s.obs.observe(ctx, "introspect_schema", "", 0, func(ctx context.Context) error {
		var err error
		ddl, err = s.store.IntrospectSchema(ctx, table)
		return err
	})
	return ddl, err
}

func (s *ObservableStore) WithTx(ctx context.Context, fn func(tx Executor) error) error {
	return s.obs.observe(ctx, "tx", "", 0, func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(tx Executor) error {
			return fn(observableExecutor{exec: tx, obs: s.obs})
		})
	})
}

type observableExecutor struct {
	exec Executor
	obs  *observer
}

func (e observableExecutor) Execute(ctx context.Context, sql string, params rdb.Params) (rdb.Result, error) {
	var result rdb.Result
	err := e.obs.observe(ctx, "execute", sql, 0, func(ctx context.Context) error {
		var err error
		result, err = e.exec.Execute(ctx, sql, params)
		return err
	})
	return result, err
}

func (e observableExecutor) ExecuteBatch(ctx context.Context, sql string, params []rdb.Params) error {
	return e.obs.observe(ctx, "execute_batch", sql, len(params), func(ctx context.Context) error {
		return e.exec.ExecuteBatch(ctx, sql, params)
	})
}

func (e observableExecutor) Query(ctx context.Context, sql string, params rdb.Params) ([]rdb.Row, error) {
	var rows []rdb.Row
	err := e.obs.observe(ctx, "query", sql, 0, func(ctx context.Context) error {
		var err error
		rows, err = e.exec.Query(ctx, sql, params)
		return err
	})
	return rows, err
}
