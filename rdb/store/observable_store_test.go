package store

import (
	"bytes"
	"context"
	"testing"

	"github.com/hatlonely/simpcrm/log/logger"
	"github.com/hatlonely/simpcrm/rdb"
	"github.com/hatlonely/simpcrm/rdb/query"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/require"
)

func TestObservableStore(t *testing.T) {
	Convey("ObservableStore", t, func() {
		ctx := context.Background()
		registry := prometheus.NewRegistry()
		var buf bytes.Buffer
		log, err := logger.NewSLogWithWriter(&buf, &logger.SLogOptions{Level: "debug", Format: "json"})
		require.NoError(t, err)

		s, err := NewObservableStoreWithOptions(newTestStore(t, DriverSQLite3), &ObservableOptions{
			EnableMetrics: true,
			EnableLogging: true,
			EnableTracing: true,
			Name:          "crm",
		}, log, registry)
		So(err, ShouldBeNil)
		Reset(func() { _ = s.Disconnect() })
		createCustomers(ctx, s)

		Convey("记录指标和日志", func() {
			sql, params, _ := query.InsertRow("customers", rdb.Row{"name": "María"})
			_, err := s.Execute(ctx, sql, params)
			So(err, ShouldBeNil)
			_, err = s.Query(ctx, `SELECT * FROM "missing"`, nil)
			So(err, ShouldNotBeNil)

			So(testutil.ToFloat64(s.obs.metrics.operationCounter.WithLabelValues("execute", "INSERT", "success")), ShouldEqual, 1)
			So(testutil.ToFloat64(s.obs.metrics.operationCounter.WithLabelValues("execute", "CREATE", "success")), ShouldEqual, 1)
			So(testutil.ToFloat64(s.obs.metrics.operationCounter.WithLabelValues("query", "SELECT", "error")), ShouldEqual, 1)
			So(buf.String(), ShouldContainSubstring, `"component":"crm"`)
			So(buf.String(), ShouldContainSubstring, "store operation failed")
			So(buf.String(), ShouldContainSubstring, "store operation completed")
		})

		Convey("事务内的语句同样被观测", func() {
			err := s.WithTx(ctx, func(tx Executor) error {
				sql, params, _ := query.InsertMany("customers", []rdb.Row{{"name": "a"}, {"name": "b"}})
				return tx.ExecuteBatch(ctx, sql, params)
			})
			So(err, ShouldBeNil)
			So(testutil.ToFloat64(s.obs.metrics.operationCounter.WithLabelValues("tx", "", "success")), ShouldEqual, 1)
			So(testutil.ToFloat64(s.obs.metrics.operationCounter.WithLabelValues("execute_batch", "INSERT", "success")), ShouldEqual, 1)
		})

		Convey("同名指标重复注册时复用", func() {
			metrics, err := NewObservableMetrics("crm", registry)
			So(err, ShouldBeNil)
			So(metrics.operationCounter, ShouldEqual, s.obs.metrics.operationCounter)
		})
	})

	Convey("关闭观测时直接透传", t, func() {
		s, err := NewObservableStoreWithOptions(newTestStore(t, DriverSQLite3), nil, nil, nil)
		So(err, ShouldBeNil)
		defer s.Disconnect()
		So(s.obs.metrics, ShouldBeNil)
		So(s.obs.logger, ShouldBeNil)
		So(s.obs.tracer, ShouldBeNil)
		rows, err := s.Query(context.Background(), "SELECT 1 AS one", nil)
		So(err, ShouldBeNil)
		So(rows, ShouldResemble, []rdb.Row{{"one": int64(1)}})

		_, err = NewObservableStoreWithOptions(nil, nil, nil, nil)
		So(err, ShouldNotBeNil)
	})
}
