package cfg

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// SetDefaults 为结构体设置默认值，基于 def tag
// 只填充零值字段；nil 的结构体指针仅在内部有默认值时才分配
func SetDefaults(object any) error {
	if object == nil {
		return errors.New("object cannot be nil")
	}
	rv := reflect.ValueOf(object)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.New("object must be a non-nil pointer")
	}
	return setDefaults(rv.Elem())
}

func setDefaults(rv reflect.Value) error {
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			tmp := reflect.New(rv.Type().Elem())
			if err := setDefaults(tmp.Elem()); err != nil {
				return err
			}
			if !tmp.Elem().IsZero() {
				rv.Set(tmp)
			}
			return nil
		}
		return setDefaults(rv.Elem())
	}

	if rv.Kind() != reflect.Struct || rv.Type() == timeType {
		return nil
	}

	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		fieldValue := rv.Field(i)
		if !fieldValue.CanSet() {
			continue
		}

		// 嵌套结构体
		if fieldValue.Kind() == reflect.Struct ||
			(fieldValue.Kind() == reflect.Ptr && fieldValue.Type().Elem().Kind() == reflect.Struct) {
			if err := setDefaults(fieldValue); err != nil {
				return errors.WithMessagef(err, "field %s", field.Name)
			}
		}

		defTag := field.Tag.Get("def")
		if defTag == "" || !fieldValue.IsZero() {
			continue
		}

		if fieldValue.Kind() == reflect.Ptr {
			fieldValue.Set(reflect.New(fieldValue.Type().Elem()))
			fieldValue = fieldValue.Elem()
		}
		if err := setDefaultValue(fieldValue, defTag); err != nil {
			return errors.WithMessagef(err, "field %s", field.Name)
		}
	}
	return nil
}

func setDefaultValue(rv reflect.Value, defValue string) error {
	switch rv.Kind() {
	case reflect.String:
		rv.SetString(defValue)
		return nil

	case reflect.Bool:
		val, err := strconv.ParseBool(defValue)
		if err != nil {
			return errors.Errorf("invalid bool value %q", defValue)
		}
		rv.SetBool(val)
		return nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if rv.Type() == durationType {
			return setDurationDefault(rv, defValue)
		}
		val, err := strconv.ParseInt(defValue, 0, rv.Type().Bits())
		if err != nil {
			return errors.Errorf("invalid int value %q", defValue)
		}
		rv.SetInt(val)
		return nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		val, err := strconv.ParseUint(defValue, 0, rv.Type().Bits())
		if err != nil {
			return errors.Errorf("invalid uint value %q", defValue)
		}
		rv.SetUint(val)
		return nil

	case reflect.Float32, reflect.Float64:
		val, err := strconv.ParseFloat(defValue, rv.Type().Bits())
		if err != nil {
			return errors.Errorf("invalid float value %q", defValue)
		}
		rv.SetFloat(val)
		return nil

	case reflect.Struct:
		if rv.Type() == timeType {
			return setTimeDefault(rv, defValue)
		}

	case reflect.Slice:
		return setSliceDefault(rv, defValue)
	}

	return errors.Errorf("unsupported type %v", rv.Type())
}

func setDurationDefault(rv reflect.Value, defValue string) error {
	duration, err := time.ParseDuration(defValue)
	if err != nil {
		// 纯数字按纳秒处理
		val, numErr := strconv.ParseInt(defValue, 10, 64)
		if numErr != nil {
			return errors.Errorf("invalid duration value %q", defValue)
		}
		duration = time.Duration(val)
	}
	rv.SetInt(int64(duration))
	return nil
}

var timeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func setTimeDefault(rv reflect.Value, defValue string) error {
	for _, format := range timeFormats {
		if t, err := time.Parse(format, defValue); err == nil {
			rv.Set(reflect.ValueOf(t))
			return nil
		}
	}
	if timestamp, err := strconv.ParseInt(defValue, 10, 64); err == nil {
		rv.Set(reflect.ValueOf(time.Unix(timestamp, 0)))
		return nil
	}
	return errors.Errorf("invalid time value %q", defValue)
}

// setSliceDefault 逗号分隔
func setSliceDefault(rv reflect.Value, defValue string) error {
	parts := strings.Split(defValue, ",")
	slice := reflect.MakeSlice(rv.Type(), len(parts), len(parts))
	for i, part := range parts {
		if err := setDefaultValue(slice.Index(i), strings.TrimSpace(part)); err != nil {
			return errors.WithMessagef(err, "slice element %d", i)
		}
	}
	rv.Set(slice)
	return nil
}
