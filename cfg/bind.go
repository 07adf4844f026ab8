package cfg

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	durationType = reflect.TypeOf(time.Duration(0))
	timeType     = reflect.TypeOf(time.Time{})
)

// Bind 将解码后的数据写入 object，字段名优先取 cfg tag，匹配时忽略大小写
func Bind(data any, object any) error {
	rv := reflect.ValueOf(object)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.New("object must be a non-nil pointer")
	}
	return bindValue(data, rv.Elem(), "")
}

func bindValue(src any, dst reflect.Value, path string) error {
	if src == nil {
		return nil
	}

	if dst.Kind() == reflect.Ptr {
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		return bindValue(src, dst.Elem(), path)
	}

	if n, ok := src.(json.Number); ok {
		src = numberValue(n)
	}

	sv := reflect.ValueOf(src)
	switch dst.Type() {
	case durationType:
		return bindDuration(sv, dst, path)
	case timeType:
		return bindTime(sv, dst, path)
	}

	switch dst.Kind() {
	case reflect.Struct:
		return bindStruct(sv, dst, path)
	case reflect.Map:
		return bindMap(sv, dst, path)
	case reflect.Slice:
		return bindSlice(sv, dst, path)
	case reflect.Interface:
		if dst.NumMethod() == 0 {
			dst.Set(sv)
			return nil
		}
	case reflect.String:
		if sv.Kind() != reflect.String {
			dst.SetString(fmt.Sprint(src))
			return nil
		}
	case reflect.Bool:
		if sv.Kind() == reflect.String {
			b, err := strconv.ParseBool(sv.String())
			if err != nil {
				return errors.Wrapf(err, "field %s", path)
			}
			dst.SetBool(b)
			return nil
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		if sv.Kind() == reflect.String {
			return setDefaultValue(dst, sv.String())
		}
	}

	if sv.Type().AssignableTo(dst.Type()) {
		dst.Set(sv)
		return nil
	}
	if sv.Type().ConvertibleTo(dst.Type()) && sv.Kind() != reflect.String {
		dst.Set(sv.Convert(dst.Type()))
		return nil
	}
	return errors.Errorf("field %s: cannot convert %v to %v", path, sv.Type(), dst.Type())
}

func bindStruct(src reflect.Value, dst reflect.Value, path string) error {
	if src.Kind() != reflect.Map {
		return errors.Errorf("field %s: expect a map, got %v", path, src.Type())
	}

	keys := map[string]reflect.Value{}
	for _, key := range src.MapKeys() {
		keys[strings.ToLower(fmt.Sprint(key.Interface()))] = src.MapIndex(key)
	}

	rt := dst.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !dst.Field(i).CanSet() {
			continue
		}
		name := fieldName(field)
		if name == "-" {
			continue
		}
		value, ok := keys[strings.ToLower(name)]
		if !ok {
			continue
		}
		if err := bindValue(value.Interface(), dst.Field(i), join(path, name)); err != nil {
			return err
		}
	}
	return nil
}

func bindMap(src reflect.Value, dst reflect.Value, path string) error {
	if src.Kind() != reflect.Map {
		return errors.Errorf("field %s: expect a map, got %v", path, src.Type())
	}
	if dst.IsNil() {
		dst.Set(reflect.MakeMap(dst.Type()))
	}
	for _, key := range src.MapKeys() {
		name := fmt.Sprint(key.Interface())
		elem := reflect.New(dst.Type().Elem()).Elem()
		if err := bindValue(src.MapIndex(key).Interface(), elem, join(path, name)); err != nil {
			return err
		}
		k := reflect.New(dst.Type().Key()).Elem()
		if err := bindValue(name, k, path); err != nil {
			return err
		}
		dst.SetMapIndex(k, elem)
	}
	return nil
}

func bindSlice(src reflect.Value, dst reflect.Value, path string) error {
	if src.Kind() == reflect.String {
		// 逗号分隔的字符串，INI 里常见
		return setSliceDefault(dst, src.String())
	}
	if src.Kind() != reflect.Slice && src.Kind() != reflect.Array {
		return errors.Errorf("field %s: expect a list, got %v", path, src.Type())
	}
	slice := reflect.MakeSlice(dst.Type(), src.Len(), src.Len())
	for i := 0; i < src.Len(); i++ {
		if err := bindValue(src.Index(i).Interface(), slice.Index(i), fmt.Sprintf("%s[%d]", path, i)); err != nil {
			return err
		}
	}
	dst.Set(slice)
	return nil
}

func bindDuration(src reflect.Value, dst reflect.Value, path string) error {
	switch src.Kind() {
	case reflect.String:
		if err := setDurationDefault(dst, src.String()); err != nil {
			return errors.WithMessagef(err, "field %s", path)
		}
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		dst.SetInt(src.Int())
		return nil
	case reflect.Float32, reflect.Float64:
		// 浮点数按秒处理
		dst.SetInt(int64(src.Float() * float64(time.Second)))
		return nil
	}
	return errors.Errorf("field %s: cannot convert %v to time.Duration", path, src.Type())
}

func bindTime(src reflect.Value, dst reflect.Value, path string) error {
	switch {
	case src.Type() == timeType:
		dst.Set(src)
		return nil
	case src.Kind() == reflect.String:
		if err := setTimeDefault(dst, src.String()); err != nil {
			return errors.WithMessagef(err, "field %s", path)
		}
		return nil
	case src.CanInt():
		dst.Set(reflect.ValueOf(time.Unix(src.Int(), 0)))
		return nil
	}
	return errors.Errorf("field %s: cannot convert %v to time.Time", path, src.Type())
}

func fieldName(field reflect.StructField) string {
	if tag := field.Tag.Get("cfg"); tag != "" {
		return strings.Split(tag, ",")[0]
	}
	return field.Name
}

func numberValue(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
