package entity

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hatlonely/simpcrm/log/logger"
	"github.com/hatlonely/simpcrm/rdb"
	"github.com/hatlonely/simpcrm/rdb/store"
	. "github.com/smartystreets/goconvey/convey"
)

func TestNewSessionWithOptions(t *testing.T) {
	Convey("NewSessionWithOptions", t, func() {
		ctx := context.Background()

		Convey("默认配置", func() {
			s, err := NewSessionWithOptions(ctx, &SessionOptions{
				Store: store.Options{Database: ":memory:"},
			})
			So(err, ShouldBeNil)
			So(s.RefreshInterval(), ShouldEqual, DefaultRefreshInterval)
			_, ok := s.Store().(*store.SQLiteStore)
			So(ok, ShouldBeTrue)

			customers := newCustomers(ctx, s)
			_, err = customers.Insert(ctx, rdb.Row{"name": "María", "age": 49})
			So(err, ShouldBeNil)
			So(s.Close(), ShouldBeNil)

			_, err = s.Store().Query(ctx, "SELECT 1", nil)
			So(err, ShouldNotBeNil)
		})

		Convey("gorm 和可观测存储", func() {
			s, err := NewSessionWithOptions(ctx, &SessionOptions{
				Store:           store.Options{Driver: store.DriverGorm, Database: ":memory:"},
				Logger:          &logger.SLogOptions{Level: "warn"},
				RefreshInterval: time.Second,
				Observe:         store.ObservableOptions{EnableLogging: true, EnableTracing: true, Name: "session_test"},
			})
			So(err, ShouldBeNil)
			defer s.Close()
			_, ok := s.Store().(*store.ObservableStore)
			So(ok, ShouldBeTrue)
			So(s.RefreshInterval(), ShouldEqual, time.Second)

			customers := newCustomers(ctx, s)
			_, err = customers.Insert(ctx, rdb.Row{"name": "María", "age": 49})
			So(err, ShouldBeNil)
			items, err := customers.Get(ctx, rdb.Filter{"name": "María"})
			So(err, ShouldBeNil)
			So(items, ShouldHaveLength, 1)
		})

		Convey("非法配置", func() {
			_, err := NewSessionWithOptions(ctx, nil)
			So(err, ShouldNotBeNil)
			_, err = NewSessionWithOptions(ctx, &SessionOptions{
				Store: store.Options{Driver: "mysql", Database: ":memory:"},
			})
			So(err, ShouldNotBeNil)
			_, err = NewSessionWithOptions(ctx, &SessionOptions{})
			So(err, ShouldNotBeNil)
		})
	})
}

func TestNewSessionFromFile(t *testing.T) {
	Convey("NewSessionFromFile", t, func() {
		ctx := context.Background()
		dir := t.TempDir()

		Convey("yaml", func() {
			filename := filepath.Join(dir, "session.yaml")
			So(os.WriteFile(filename, []byte(`
store:
  database: ":memory:"
  pragmas:
    foreign_keys: "ON"
refreshInterval: 50ms
logger:
  level: error
`), 0644), ShouldBeNil)

			s, err := NewSessionFromFile(ctx, filename)
			So(err, ShouldBeNil)
			defer s.Close()
			So(s.RefreshInterval(), ShouldEqual, 50*time.Millisecond)
			rows, err := s.Store().Query(ctx, "PRAGMA foreign_keys", nil)
			So(err, ShouldBeNil)
			So(rows[0]["foreign_keys"], ShouldEqual, int64(1))
		})

		Convey("ini", func() {
			filename := filepath.Join(dir, "session.ini")
			So(os.WriteFile(filename, []byte(`
refreshInterval = 0s

[store]
database = :memory:
maxConns = 1
`), 0644), ShouldBeNil)

			s, err := NewSessionFromFile(ctx, filename)
			So(err, ShouldBeNil)
			defer s.Close()
			// 0 被默认值覆盖
			So(s.RefreshInterval(), ShouldEqual, DefaultRefreshInterval)
		})

		Convey("文件不存在", func() {
			_, err := NewSessionFromFile(ctx, filepath.Join(dir, "missing.yaml"))
			So(err, ShouldNotBeNil)
		})
	})
}

func TestSession(t *testing.T) {
	Convey("Session", t, func() {
		ctx := context.Background()
		s := newTestSession(t)
		Reset(func() {
			_ = s.Close()
			_ = s.Store().Disconnect()
		})

		Convey("Entities 按表名排序", func() {
			_, _, err := s.GetOrCreate(Definition{Table: "orders"})
			So(err, ShouldBeNil)
			_, _, err = s.GetOrCreate(customersDefinition())
			So(err, ShouldBeNil)
			var tables []string
			for _, e := range s.Entities() {
				tables = append(tables, e.Table())
			}
			So(tables, ShouldResemble, []string{"customers", "orders"})
			So(s.Fields().Tables(), ShouldResemble, []string{"customers", "orders"})
		})

		Convey("SetRefreshInterval 影响之后创建的 Item", func() {
			s.SetRefreshInterval(time.Minute)
			So(s.RefreshInterval(), ShouldEqual, time.Minute)
		})

		Convey("Close 关闭所有 Item", func() {
			customers := newCustomers(ctx, s)
			_, err := customers.Insert(ctx, rdb.Row{"name": "María"})
			So(err, ShouldBeNil)
			item, err := customers.ByKey(ctx, 1)
			So(err, ShouldBeNil)
			So(s.Close(), ShouldBeNil)
			So(item.Closed(), ShouldBeTrue)
		})
	})
}
