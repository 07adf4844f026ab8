package field

import (
	"sort"

	"github.com/hatlonely/simpcrm/rdb"
	"github.com/hatlonely/simpcrm/rdb/query"
	"github.com/pkg/errors"
)

// Field 列描述，同一个 (store, table, name) 在内存中只有一个实例
type Field struct {
	Table       string
	Name        string
	Type        rdb.FieldType
	PrimaryKey  bool
	Description string
}

// Spec 声明一个字段
type Spec struct {
	Name        string        `cfg:"name" validate:"required"`
	Type        rdb.FieldType `cfg:"type"`
	PrimaryKey  bool          `cfg:"primaryKey"`
	Description string        `cfg:"description"`
}

// Types 由 name -> type 生成 Spec，按名称排序
func Types(types map[string]rdb.FieldType) []Spec {
	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	sort.Strings(names)

	specs := make([]Spec, 0, len(types))
	for _, name := range names {
		specs = append(specs, Spec{Name: name, Type: types[name]})
	}
	return specs
}

// Column DDL 中的列定义
func (f *Field) Column() query.ColumnDef {
	return query.ColumnDef{Name: f.Name, Type: f.Type, PrimaryKey: f.PrimaryKey}
}

// Definition 写入 __fields 的定义文本，如 "INTEGER PRIMARY KEY"
func (f *Field) Definition() string {
	return f.Column().Definition()
}

// Spec 当前状态对应的声明
func (f *Field) Spec() Spec {
	return Spec{Name: f.Name, Type: f.Type, PrimaryKey: f.PrimaryKey, Description: f.Description}
}

// sameShape 类型和主键标记相同，描述不参与比较
func (f *Field) sameShape(spec Spec) bool {
	n, err := normalize(spec)
	if err != nil {
		return false
	}
	return f.Type == n.Type && f.PrimaryKey == n.PrimaryKey
}

// normalize 校验名称，PRIMARY KEY 标记转为 INTEGER 主键，未声明类型视为 TEXT
func normalize(spec Spec) (Spec, error) {
	if !query.ValidIdent(spec.Name) {
		return spec, errors.Wrapf(rdb.ErrInvalidFieldSpec, "invalid field name %q", spec.Name)
	}
	switch spec.Type {
	case rdb.TypePrimary:
		spec.Type = rdb.TypeInteger
		spec.PrimaryKey = true
	case "":
		spec.Type = rdb.TypeText
	}
	return spec, nil
}

func newField(table string, spec Spec) (*Field, error) {
	spec, err := normalize(spec)
	if err != nil {
		return nil, err
	}
	return &Field{
		Table:       table,
		Name:        spec.Name,
		Type:        spec.Type,
		PrimaryKey:  spec.PrimaryKey,
		Description: spec.Description,
	}, nil
}

// Change 对单个字段的修改，由调用方明确选择变体
type Change interface {
	change()
}

// NewType 新建字段或修改类型
type NewType struct {
	Type       rdb.FieldType
	PrimaryKey bool
}

// Rename 重命名
type Rename struct {
	To string
}

// Redescribe 只修改描述
type Redescribe struct {
	Description string
}

// Replace 整体替换为给定的描述
type Replace struct {
	Field Field
}

// Drop 删除字段
type Drop struct{}

func (NewType) change()    {}
func (Rename) change()     {}
func (Redescribe) change() {}
func (Replace) change()    {}
func (Drop) change()       {}

// Op 作用在名为 Name 的字段上的修改
type Op struct {
	Name   string
	Change Change
}
