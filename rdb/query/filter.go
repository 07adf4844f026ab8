package query

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/hatlonely/simpcrm/rdb"
	"github.com/pkg/errors"
)

const (
	OpEq   = "="
	OpNe   = "!="
	OpLt   = "<"
	OpLe   = "<="
	OpGt   = ">"
	OpGe   = ">="
	OpLike = "LIKE"
	OpIn   = "IN"
)

var supportedOps = map[string]bool{
	OpEq: true, OpNe: true, OpLt: true, OpLe: true, OpGt: true, OpGe: true, OpLike: true, OpIn: true,
}

// Eq 等便捷构造，生成 rdb.Cond
func Eq(v any) rdb.Cond   { return rdb.Cond{Op: OpEq, Value: v} }
func Ne(v any) rdb.Cond   { return rdb.Cond{Op: OpNe, Value: v} }
func Lt(v any) rdb.Cond   { return rdb.Cond{Op: OpLt, Value: v} }
func Le(v any) rdb.Cond   { return rdb.Cond{Op: OpLe, Value: v} }
func Gt(v any) rdb.Cond   { return rdb.Cond{Op: OpGt, Value: v} }
func Ge(v any) rdb.Cond   { return rdb.Cond{Op: OpGe, Value: v} }
func Like(v any) rdb.Cond { return rdb.Cond{Op: OpLike, Value: v} }
func In(v any) rdb.Cond   { return rdb.Cond{Op: OpIn, Value: v} }

// CompileFilter 把过滤条件编译为 WHERE 子句
//
// 谓词之间只用 AND 连接，不支持 OR。空过滤条件返回空子句，匹配所有行。
// 字段按名称排序，保证生成的 SQL 稳定。
func CompileFilter(filter rdb.Filter) (string, rdb.Params, error) {
	params := rdb.Params{}
	if len(filter) == 0 {
		return "", params, nil
	}

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var predicates []string
	for _, field := range keys {
		column, err := Quote(field)
		if err != nil {
			return "", nil, err
		}
		conds, err := normalizeConds(filter[field])
		if err != nil {
			return "", nil, errors.WithMessagef(err, "filter field %q", field)
		}
		for i, cond := range conds {
			name := fmt.Sprintf("filter%svalue%d", field, i)
			predicate, err := compilePredicate(column, name, cond, params)
			if err != nil {
				return "", nil, errors.WithMessagef(err, "filter field %q", field)
			}
			predicates = append(predicates, predicate)
		}
	}

	return "WHERE " + strings.Join(predicates, " AND "), params, nil
}

func normalizeConds(v any) ([]rdb.Cond, error) {
	switch c := v.(type) {
	case rdb.Cond:
		return []rdb.Cond{c}, nil
	case *rdb.Cond:
		if c == nil {
			return []rdb.Cond{{Op: OpEq, Value: nil}}, nil
		}
		return []rdb.Cond{*c}, nil
	case []rdb.Cond:
		if len(c) == 0 {
			return nil, errors.Wrap(rdb.ErrArityMismatch, "empty condition list")
		}
		return c, nil
	default:
		return []rdb.Cond{{Op: OpEq, Value: v}}, nil
	}
}

func compilePredicate(column string, name string, cond rdb.Cond, params rdb.Params) (string, error) {
	op := strings.ToUpper(strings.TrimSpace(cond.Op))
	if op == "" {
		op = OpEq
	}
	if !supportedOps[op] {
		return "", errors.Wrapf(rdb.ErrUnsupportedOperator, "operator %q", cond.Op)
	}

	if op != OpIn {
		params[name] = cond.Value
		return fmt.Sprintf("%s %s @%s", column, op, name), nil
	}

	rv := reflect.ValueOf(cond.Value)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return "", errors.Wrapf(rdb.ErrArityMismatch, "IN requires a list, got %T", cond.Value)
	}
	placeholders := make([]string, 0, rv.Len())
	for j := 0; j < rv.Len(); j++ {
		elem := fmt.Sprintf("%s_%d", name, j)
		params[elem] = rv.Index(j).Interface()
		placeholders = append(placeholders, "@"+elem)
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", ")), nil
}
