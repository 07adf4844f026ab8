package query

import (
	"reflect"
	"strings"
	"time"

	"github.com/hatlonely/simpcrm/rdb"
)

var (
	timeType = reflect.TypeOf(time.Time{})
	dateType = reflect.TypeOf(rdb.Date{})
)

// TypeOf 根据 Go 值推断列类型，无法识别的类型默认为 TEXT
func TypeOf(v any) rdb.FieldType {
	if v == nil {
		return rdb.TypeNull
	}
	if ft, ok := v.(rdb.FieldType); ok {
		return ft
	}

	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	switch t {
	case timeType:
		return rdb.TypeTimestamp
	case dateType:
		return rdb.TypeDate
	}

	switch t.Kind() {
	case reflect.String:
		return rdb.TypeText
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rdb.TypeInteger
	case reflect.Float32, reflect.Float64:
		return rdb.TypeReal
	case reflect.Slice, reflect.Array, reflect.Struct, reflect.Map:
		return rdb.TypeBlob
	default:
		return rdb.TypeText
	}
}

// ColumnType 列类型对应的 DDL 片段
func ColumnType(t rdb.FieldType) string {
	switch t {
	case rdb.TypeText, rdb.TypeInteger, rdb.TypeReal, rdb.TypeBlob,
		rdb.TypeTimestamp, rdb.TypeDate, rdb.TypeNull:
		return string(t)
	case rdb.TypePrimary:
		return "INTEGER PRIMARY KEY"
	default:
		return string(rdb.TypeText)
	}
}

// TypeFromToken 把 DDL 中的类型关键字还原为列类型
func TypeFromToken(token string) rdb.FieldType {
	token = strings.ToLower(strings.TrimSpace(token))
	if i := strings.IndexByte(token, '('); i >= 0 {
		token = strings.TrimSpace(token[:i])
	}
	switch token {
	case "text", "varchar", "char", "clob", "string":
		return rdb.TypeText
	case "integer", "int", "bigint", "smallint", "tinyint", "boolean":
		return rdb.TypeInteger
	case "real", "float", "double", "numeric", "num", "decimal":
		return rdb.TypeReal
	case "blob":
		return rdb.TypeBlob
	case "timestamp", "datetime":
		return rdb.TypeTimestamp
	case "date":
		return rdb.TypeDate
	case "null":
		return rdb.TypeNull
	case "primary key":
		return rdb.TypePrimary
	default:
		return rdb.TypeText
	}
}

// ColumnDef 列定义
type ColumnDef struct {
	Name       string
	Type       rdb.FieldType
	PrimaryKey bool
}

// Definition 不含列名的列定义，如 "INTEGER PRIMARY KEY"
func (c ColumnDef) Definition() string {
	if c.Type == rdb.TypePrimary {
		return ColumnType(rdb.TypePrimary)
	}
	def := ColumnType(c.Type)
	if c.PrimaryKey {
		def += " PRIMARY KEY"
	}
	return def
}

// ParseDefinition 解析 Definition 生成的文本
func ParseDefinition(name string, def string) ColumnDef {
	lower := strings.ToLower(strings.TrimSpace(def))
	col := ColumnDef{Name: name}
	if strings.Contains(lower, "primary key") {
		col.PrimaryKey = true
		lower = strings.TrimSpace(strings.Replace(lower, "primary key", "", 1))
		if lower == "" {
			col.Type = rdb.TypeInteger
			return col
		}
	}
	fields := strings.Fields(lower)
	if len(fields) == 0 {
		col.Type = rdb.TypeText
		return col
	}
	col.Type = TypeFromToken(fields[0])
	return col
}
