package cfg

import (
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func instance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		// 错误信息里使用配置文件中的字段名
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := fieldName(field)
			if name == "-" {
				return ""
			}
			return strings.Split(name, ",")[0]
		})
	})
	return validate
}

// Validate 使用 validate tag 校验结构体，nil 指针和非结构体直接通过
func Validate(object any) error {
	rv := reflect.ValueOf(object)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct || rv.Type() == timeType {
		return nil
	}
	return instance().Struct(rv.Interface())
}
