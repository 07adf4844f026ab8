// Package cfg 从 json/yaml/toml/ini 文件加载 Options 结构体
//
// 字段通过 cfg tag 对应配置项，def tag 提供默认值，validate tag 校验取值：
//
//	type Options struct {
//		Database string        `cfg:"database" validate:"required"`
//		Timeout  time.Duration `cfg:"timeout" def:"5s"`
//	}
package cfg

import (
	"os"

	"github.com/pkg/errors"
)

// Load 读取配置文件，格式由扩展名决定
func Load(filename string, object any) error {
	format, err := FormatOf(filename)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrapf(err, "read config file %s failed", filename)
	}
	if err := LoadBytes(format, data, object); err != nil {
		return errors.WithMessagef(err, "load config file %s failed", filename)
	}
	return nil
}

// LoadBytes 解码、填充默认值并校验
func LoadBytes(format Format, data []byte, object any) error {
	m, err := Decode(format, data)
	if err != nil {
		return err
	}
	if err := Bind(m, object); err != nil {
		return errors.WithMessage(err, "bind config failed")
	}
	if err := SetDefaults(object); err != nil {
		return errors.WithMessage(err, "set defaults failed")
	}
	if err := Validate(object); err != nil {
		return errors.Wrap(err, "validate config failed")
	}
	return nil
}
