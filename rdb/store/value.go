package store

import (
	"database/sql"
	"database/sql/driver"
	"math"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/hatlonely/simpcrm/rdb"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

const dateLayout = "2006-01-02"

// EncodeBlob 将复合类型编码为 BLOB 列的内容
func EncodeBlob(v any) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "msgpack.Marshal failed")
	}
	return b, nil
}

// DecodeBlob 将 EncodeBlob 写入的内容解码到 v
func DecodeBlob(b []byte, v any) error {
	if err := msgpack.Unmarshal(b, v); err != nil {
		return errors.Wrap(err, "msgpack.Unmarshal failed")
	}
	return nil
}

// bindUint sqlite 的整数是有符号 64 位，超出范围时报错
func bindUint(v uint64) (any, error) {
	if v > math.MaxInt64 {
		return nil, errors.Errorf("integer %d overflows int64", v)
	}
	return int64(v), nil
}

// bindValue 转换为驱动可以接受的值
func bindValue(v any) (any, error) {
	switch val := v.(type) {
	case nil, string, []byte, bool, int64, float64, time.Time:
		return val, nil
	case int:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case uint:
		return bindUint(uint64(val))
	case uint8:
		return int64(val), nil
	case uint16:
		return int64(val), nil
	case uint32:
		return int64(val), nil
	case uint64:
		return bindUint(val)
	case float32:
		return float64(val), nil
	case rdb.Date:
		return time.Time(val).Format(dateLayout), nil
	case rdb.FieldType:
		return string(val), nil
	case driver.Valuer:
		return val.Value()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return nil, nil
		}
		return bindValue(rv.Elem().Interface())
	case reflect.String:
		return rv.String(), nil
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Struct:
		return EncodeBlob(v)
	}
	return nil, errors.Errorf("unsupported parameter type %T", v)
}

// namedArgs 按名称排序，保证相同参数生成相同的参数列表
func namedArgs(params rdb.Params) ([]any, error) {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	args := make([]any, 0, len(params))
	for _, name := range names {
		v, err := bindValue(params[name])
		if err != nil {
			return nil, errors.WithMessagef(err, "param %s", name)
		}
		args = append(args, sql.Named(name, v))
	}
	return args, nil
}

// namedMap gorm 的命名参数需要 map[string]any
func namedMap(params rdb.Params) (map[string]any, error) {
	m := make(map[string]any, len(params))
	for name, value := range params {
		v, err := bindValue(value)
		if err != nil {
			return nil, errors.WithMessagef(err, "param %s", name)
		}
		m[name] = v
	}
	return m, nil
}

// scanRows 读取全部结果，BLOB 以外的 []byte 转为字符串
func scanRows(rows *sql.Rows) ([]rdb.Row, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "rows.Columns failed")
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, errors.Wrap(err, "rows.ColumnTypes failed")
	}

	result := []rdb.Row{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, "rows.Scan failed")
		}

		row := make(rdb.Row, len(columns))
		for i, column := range columns {
			row[column] = normalize(values[i], types[i].DatabaseTypeName())
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows.Err")
	}
	return result, nil
}

func normalize(v any, declType string) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	if strings.EqualFold(declType, string(rdb.TypeBlob)) {
		return b
	}
	return string(b)
}
