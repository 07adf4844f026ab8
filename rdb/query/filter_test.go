package query

import (
	"testing"

	"github.com/hatlonely/simpcrm/rdb"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
)

func TestCompileFilter(t *testing.T) {
	Convey("CompileFilter", t, func() {
		Convey("空过滤条件生成空子句", func() {
			where, params, err := CompileFilter(rdb.Filter{})
			So(err, ShouldBeNil)
			So(where, ShouldEqual, "")
			So(params, ShouldBeEmpty)

			where, params, err = CompileFilter(nil)
			So(err, ShouldBeNil)
			So(where, ShouldEqual, "")
			So(params, ShouldBeEmpty)
		})

		Convey("裸值默认使用等号", func() {
			where, params, err := CompileFilter(rdb.Filter{"name": "María", "age": 26})
			So(err, ShouldBeNil)
			So(where, ShouldEqual, `WHERE "age" = @filteragevalue0 AND "name" = @filternamevalue0`)
			So(params, ShouldResemble, rdb.Params{"filteragevalue0": 26, "filternamevalue0": "María"})
		})

		Convey("同一字段多个谓词用 AND 连接", func() {
			where, params, err := CompileFilter(rdb.Filter{"age": []rdb.Cond{Gt(18), Le(65)}})
			So(err, ShouldBeNil)
			So(where, ShouldEqual, `WHERE "age" > @filteragevalue0 AND "age" <= @filteragevalue1`)
			So(params, ShouldResemble, rdb.Params{"filteragevalue0": 18, "filteragevalue1": 65})
		})

		Convey("IN 每个元素一个占位符", func() {
			where, params, err := CompileFilter(rdb.Filter{"id": In([]int{1, 2, 3})})
			So(err, ShouldBeNil)
			So(where, ShouldEqual, `WHERE "id" IN (@filteridvalue0_0, @filteridvalue0_1, @filteridvalue0_2)`)
			So(params, ShouldResemble, rdb.Params{"filteridvalue0_0": 1, "filteridvalue0_1": 2, "filteridvalue0_2": 3})
		})

		Convey("操作符大小写不敏感", func() {
			where, _, err := CompileFilter(rdb.Filter{"name": rdb.Cond{Op: "like", Value: "M%"}})
			So(err, ShouldBeNil)
			So(where, ShouldEqual, `WHERE "name" LIKE @filternamevalue0`)
		})

		Convey("不支持的操作符", func() {
			_, _, err := CompileFilter(rdb.Filter{"name": rdb.Cond{Op: "~", Value: "x"}})
			So(errors.Is(err, rdb.ErrUnsupportedOperator), ShouldBeTrue)
		})

		Convey("IN 的值不是列表", func() {
			_, _, err := CompileFilter(rdb.Filter{"id": In(1)})
			So(errors.Is(err, rdb.ErrArityMismatch), ShouldBeTrue)
		})

		Convey("非法字段名", func() {
			_, _, err := CompileFilter(rdb.Filter{"name; DROP TABLE x": 1})
			So(errors.Is(err, rdb.ErrInvalidFieldSpec), ShouldBeTrue)
		})
	})
}

func TestCompileFilterOperators(t *testing.T) {
	for _, tt := range []struct {
		cond rdb.Cond
		want string
	}{
		{Eq(1), `WHERE "x" = @filterxvalue0`},
		{Ne(1), `WHERE "x" != @filterxvalue0`},
		{Lt(1), `WHERE "x" < @filterxvalue0`},
		{Le(1), `WHERE "x" <= @filterxvalue0`},
		{Gt(1), `WHERE "x" > @filterxvalue0`},
		{Ge(1), `WHERE "x" >= @filterxvalue0`},
		{Like("a%"), `WHERE "x" LIKE @filterxvalue0`},
		{rdb.Cond{Value: 1}, `WHERE "x" = @filterxvalue0`},
	} {
		where, params, err := CompileFilter(rdb.Filter{"x": tt.cond})
		assert.NoError(t, err)
		assert.Equal(t, tt.want, where)
		assert.Equal(t, tt.cond.Value, params["filterxvalue0"])
	}
}
