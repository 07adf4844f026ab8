package query

import (
	"testing"

	"github.com/hatlonely/simpcrm/rdb"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func TestParseSchema(t *testing.T) {
	Convey("ParseSchema", t, func() {
		Convey("解析自己生成的建表语句", func() {
			columns := []ColumnDef{
				{Name: "id", Type: rdb.TypeInteger, PrimaryKey: true},
				{Name: "name", Type: rdb.TypeText},
				{Name: "age", Type: rdb.TypeInteger},
			}
			sql, _, err := CreateTable("customers", columns, true)
			So(err, ShouldBeNil)
			parsed, err := ParseSchema(sql)
			So(err, ShouldBeNil)
			So(parsed, ShouldResemble, columns)
			So(PrimaryKey(parsed), ShouldEqual, "id")
		})

		Convey("ADD COLUMN 之后的建表语句", func() {
			parsed, err := ParseSchema(`CREATE TABLE "t" ("id" INTEGER PRIMARY KEY, "a" TEXT, "kitty" REAL)`)
			So(err, ShouldBeNil)
			So(parsed, ShouldHaveLength, 3)
			So(parsed[2], ShouldResemble, ColumnDef{Name: "kitty", Type: rdb.TypeReal})
		})

		Convey("CREATE TABLE AS 生成的语句", func() {
			parsed, err := ParseSchema(`CREATE TABLE "copy"(id INT,name TEXT)`)
			So(err, ShouldBeNil)
			So(parsed, ShouldResemble, []ColumnDef{
				{Name: "id", Type: rdb.TypeInteger},
				{Name: "name", Type: rdb.TypeText},
			})
			So(PrimaryKey(parsed), ShouldEqual, "")
		})

		Convey("表级主键约束和带括号的类型", func() {
			parsed, err := ParseSchema("CREATE TABLE t (code varchar(10), price decimal(10,2), PRIMARY KEY (code))")
			So(err, ShouldBeNil)
			So(parsed, ShouldResemble, []ColumnDef{
				{Name: "code", Type: rdb.TypeText, PrimaryKey: true},
				{Name: "price", Type: rdb.TypeReal},
			})
		})

		Convey("没有类型的列", func() {
			parsed, err := ParseSchema("CREATE TABLE t (a, b)")
			So(err, ShouldBeNil)
			So(parsed, ShouldResemble, []ColumnDef{
				{Name: "a", Type: rdb.TypeText},
				{Name: "b", Type: rdb.TypeText},
			})
		})

		Convey("格式错误", func() {
			_, err := ParseSchema("CREATE TABLE t")
			So(errors.Is(err, rdb.ErrInvalidFieldSpec), ShouldBeTrue)
		})
	})
}
