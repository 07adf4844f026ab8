package query

import (
	"testing"
	"time"

	"github.com/hatlonely/simpcrm/rdb"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
)

func TestTypeOf(t *testing.T) {
	for _, tt := range []struct {
		value any
		want  rdb.FieldType
	}{
		{"x", rdb.TypeText},
		{1, rdb.TypeInteger},
		{int64(1), rdb.TypeInteger},
		{true, rdb.TypeInteger},
		{1.5, rdb.TypeReal},
		{[]byte("x"), rdb.TypeBlob},
		{map[string]int{}, rdb.TypeBlob},
		{time.Now(), rdb.TypeTimestamp},
		{rdb.Date(time.Now()), rdb.TypeDate},
		{nil, rdb.TypeNull},
		{rdb.TypePrimary, rdb.TypePrimary},
		{make(chan int), rdb.TypeText},
	} {
		assert.Equal(t, tt.want, TypeOf(tt.value), "%T", tt.value)
	}
}

func TestColumnType(t *testing.T) {
	Convey("ColumnType", t, func() {
		So(ColumnType(rdb.TypeText), ShouldEqual, "TEXT")
		So(ColumnType(rdb.TypePrimary), ShouldEqual, "INTEGER PRIMARY KEY")
		So(ColumnType(rdb.FieldType("whatever")), ShouldEqual, "TEXT")
	})

	Convey("TypeFromToken", t, func() {
		So(TypeFromToken("text"), ShouldEqual, rdb.TypeText)
		So(TypeFromToken("INTEGER"), ShouldEqual, rdb.TypeInteger)
		So(TypeFromToken("int"), ShouldEqual, rdb.TypeInteger)
		So(TypeFromToken("real"), ShouldEqual, rdb.TypeReal)
		So(TypeFromToken("blob"), ShouldEqual, rdb.TypeBlob)
		So(TypeFromToken("null"), ShouldEqual, rdb.TypeNull)
		So(TypeFromToken("primary key"), ShouldEqual, rdb.TypePrimary)
		So(TypeFromToken("varchar(255)"), ShouldEqual, rdb.TypeText)
		So(TypeFromToken("unknown"), ShouldEqual, rdb.TypeText)
	})

	Convey("Definition 往返", t, func() {
		for _, c := range []ColumnDef{
			{Name: "id", Type: rdb.TypeInteger, PrimaryKey: true},
			{Name: "name", Type: rdb.TypeText},
			{Name: "at", Type: rdb.TypeTimestamp},
		} {
			So(ParseDefinition(c.Name, c.Definition()), ShouldResemble, c)
		}
		So(ParseDefinition("id", "PRIMARY KEY"), ShouldResemble, ColumnDef{Name: "id", Type: rdb.TypeInteger, PrimaryKey: true})
	})
}
