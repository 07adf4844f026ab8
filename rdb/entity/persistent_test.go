package entity

import (
	"context"
	"testing"

	"github.com/hatlonely/simpcrm/log/logger"
	"github.com/hatlonely/simpcrm/rdb"
	"github.com/hatlonely/simpcrm/rdb/field"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func TestPersistency(t *testing.T) {
	Convey("记录表", t, func() {
		ctx := context.Background()
		s := newTestSession(t)
		Reset(func() {
			_ = s.Close()
			_ = s.Store().Disconnect()
		})
		So(s.InstallPersistency(ctx), ShouldBeNil)
		customers := newCustomers(ctx, s)

		Convey("Install 写入记录", func() {
			rows, err := s.Select(ctx, EntitiesTable, nil)
			So(err, ShouldBeNil)
			So(rows, ShouldResemble, []rdb.Row{{
				"name":         "customers",
				"table_name":   "customers",
				"description":  "客户",
				"parent":       "",
				"parent_field": "",
			}})

			rows, err = s.Select(ctx, FieldsTable, rdb.Filter{"table_name": "customers"}, "name", "definition")
			So(err, ShouldBeNil)
			So(rows, ShouldResemble, []rdb.Row{
				{"name": "id", "definition": "INTEGER PRIMARY KEY"},
				{"name": "age", "definition": "INTEGER"},
				{"name": "name", "definition": "TEXT"},
			})
		})

		Convey("重复 Install 不产生重复记录", func() {
			So(customers.Install(ctx), ShouldBeNil)
			rows, err := s.Select(ctx, FieldsTable, rdb.Filter{"table_name": "customers"})
			So(err, ShouldBeNil)
			So(rows, ShouldHaveLength, 3)
		})

		Convey("修改字段同步记录", func() {
			So(customers.ChangeFields(ctx,
				field.Op{Name: "age", Change: field.Rename{To: "years"}},
				field.Op{Name: "name", Change: field.Redescribe{Description: "姓名"}},
			), ShouldBeNil)
			rows, err := s.Select(ctx, FieldsTable, rdb.Filter{"table_name": "customers", "name": "years"})
			So(err, ShouldBeNil)
			So(rows, ShouldHaveLength, 1)
			rows, err = s.Select(ctx, FieldsTable, rdb.Filter{"table_name": "customers", "name": "name"}, "description")
			So(err, ShouldBeNil)
			So(rows[0]["description"], ShouldEqual, "姓名")
		})

		Convey("Uninstall 删除记录", func() {
			So(customers.Uninstall(ctx), ShouldBeNil)
			rows, err := s.Select(ctx, EntitiesTable, nil)
			So(err, ShouldBeNil)
			So(rows, ShouldBeEmpty)
			rows, err = s.Select(ctx, FieldsTable, nil)
			So(err, ShouldBeNil)
			So(rows, ShouldBeEmpty)
		})

		Convey("重启后重建", func() {
			orders, _, err := s.GetOrCreate(Definition{
				Table:  "customers:orders",
				Name:   "Orders",
				Fields: []field.Spec{{Name: "amount", Type: rdb.TypeReal, Description: "金额"}},
			})
			So(err, ShouldBeNil)
			So(orders.Install(ctx), ShouldBeNil)
			_, err = customers.Insert(ctx, rdb.Row{"name": "María", "age": 49})
			So(err, ShouldBeNil)

			restarted := NewSession(s.Store(), WithLogger(logger.Nop()), WithRefreshInterval(0))

			e, err := restarted.GetEntity(ctx, "orders")
			So(err, ShouldBeNil)
			So(e, ShouldNotPointTo, orders)
			So(e.Name(), ShouldEqual, "Orders")
			So(e.Installed(), ShouldBeTrue)
			So(e.ParentTable(), ShouldEqual, "customers")
			So(e.ParentField(), ShouldEqual, "customers_id")
			So(e.Fields().Names(), ShouldResemble, orders.Fields().Names())
			amount, _ := e.Fields().Get("amount")
			So(amount.Type, ShouldEqual, rdb.TypeReal)
			So(amount.Description, ShouldEqual, "金额")

			parent, ok := restarted.Entity("customers")
			So(ok, ShouldBeTrue)
			So(parent.Children(), ShouldHaveLength, 1)
			So(parent.Children()[0], ShouldPointTo, e)
			pk, err := parent.PrimaryKey(ctx)
			So(err, ShouldBeNil)
			So(pk, ShouldEqual, "id")

			item, err := parent.ByKey(ctx, 1)
			So(err, ShouldBeNil)
			So(item.Data()["name"], ShouldEqual, "María")

			// 已安装，修改字段直接执行 DDL
			So(parent.ChangeField(ctx, "email", field.NewType{Type: rdb.TypeText}), ShouldBeNil)
			ddl, err := restarted.Store().IntrospectSchema(ctx, "customers")
			So(err, ShouldBeNil)
			So(ddl, ShouldContainSubstring, `"email"`)
		})

		Convey("GetEntities 按名称索引", func() {
			restarted := NewSession(s.Store(), WithLogger(logger.Nop()), WithRefreshInterval(0))
			entities, err := restarted.GetEntities(ctx)
			So(err, ShouldBeNil)
			So(entities, ShouldHaveLength, 1)
			So(entities["customers"].Table(), ShouldEqual, "customers")
		})

		Convey("未记录的表", func() {
			_, err := s.GetEntity(ctx, "missing")
			So(errors.Is(err, rdb.ErrUnknownEntity), ShouldBeTrue)
		})

		Convey("已注册时直接返回", func() {
			e, err := s.GetEntity(ctx, "customers")
			So(err, ShouldBeNil)
			So(e, ShouldPointTo, customers)
		})
	})

	Convey("记录表未安装时不写入记录", t, func() {
		ctx := context.Background()
		s := newTestSession(t)
		Reset(func() {
			_ = s.Store().Disconnect()
		})
		_, _, err := s.Persistent(ctx)
		So(err, ShouldBeNil)
		newCustomers(ctx, s)

		ddl, err := s.Store().IntrospectSchema(ctx, EntitiesTable)
		So(err, ShouldBeNil)
		So(ddl, ShouldEqual, "")
	})
}
