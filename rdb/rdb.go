package rdb

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrRecordNotFound      = errors.New("record not found")
	ErrConflict            = errors.New("conflict")
	ErrUnsupportedOperator = errors.New("unsupported operator")
	ErrArityMismatch       = errors.New("arity mismatch")
	ErrInvalidFieldSpec    = errors.New("invalid field spec")
	ErrUnknownField        = errors.New("unknown field")
	ErrUnknownEntity       = errors.New("unknown entity")
	ErrNotInstalled        = errors.New("not installed")
	ErrStore               = errors.New("store error")
)

// FieldType 列类型
type FieldType string

const (
	TypeText      FieldType = "TEXT"
	TypeInteger   FieldType = "INTEGER"
	TypeReal      FieldType = "REAL"
	TypeBlob      FieldType = "BLOB"
	TypeTimestamp FieldType = "TIMESTAMP"
	TypeDate      FieldType = "DATE"
	TypeNull      FieldType = "NULL"
	// TypePrimary 主键标记，单独使用时等价于 INTEGER PRIMARY KEY
	TypePrimary FieldType = "PRIMARY KEY"
)

// Date 只有日期部分的时间，映射为 DATE 列
type Date time.Time

// Params 命名参数，键不带 @ 前缀
type Params map[string]any

// Row 一行数据，列名到值
type Row map[string]any

// Clone 浅拷贝
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Filter 过滤条件：field -> value | Cond | []Cond
type Filter map[string]any

// Cond 单个谓词
type Cond struct {
	Op    string
	Value any
}

// Result 写操作结果
type Result struct {
	LastInsertID int64
	RowsAffected int64
}

// StoreError 包装底层驱动错误
type StoreError struct {
	Op   string
	Step string
	SQL  string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("store %s failed at step %s: %v", e.Op, e.Step, e.Err)
	}
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

// NewStoreError 包装驱动错误，已经是 StoreError 时原样返回
func NewStoreError(op string, sql string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, SQL: sql, Err: err}
}
