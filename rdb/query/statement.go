package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hatlonely/simpcrm/rdb"
	"github.com/pkg/errors"
)

// Operation 语句类型
type Operation string

const (
	OpSelect        Operation = "SELECT"
	OpInsert        Operation = "INSERT"
	OpUpdate        Operation = "UPDATE"
	OpDelete        Operation = "DELETE"
	OpCreateTable   Operation = "CREATE TABLE"
	OpCreateTableAs Operation = "CREATE TABLE AS ANOTHER"
	OpDropTable     Operation = "DROP TABLE"
	OpAddColumn     Operation = "ALTER TABLE ADD COLUMN"
	OpDropColumn    Operation = "ALTER TABLE DROP COLUMN"
	OpRenameColumn  Operation = "ALTER TABLE RENAME COLUMN"
	OpRenameTable   Operation = "ALTER TABLE RENAME TABLE"
	OpGetSchema     Operation = "GET SCHEMA"
	OpCopyRows      Operation = "COPY ROWS"
)

// SelectOptions 查询选项
type SelectOptions struct {
	OrderBy   string
	OrderDesc bool
	Limit     int
	Offset    int
}

type SelectOption func(*SelectOptions)

func WithOrderBy(field string, desc bool) SelectOption {
	return func(o *SelectOptions) {
		o.OrderBy = field
		o.OrderDesc = desc
	}
}

func WithLimit(limit, offset int) SelectOption {
	return func(o *SelectOptions) {
		o.Limit = limit
		o.Offset = offset
	}
}

// Select SELECT {fields} FROM {table} {where}，fields 为空时查询所有列
func Select(table string, fields []string, filter rdb.Filter, opts ...SelectOption) (string, rdb.Params, error) {
	options := &SelectOptions{}
	for _, opt := range opts {
		opt(options)
	}

	tbl, err := Quote(table)
	if err != nil {
		return "", nil, err
	}
	cols := "*"
	if len(fields) > 0 {
		if cols, err = quoteList(fields); err != nil {
			return "", nil, err
		}
	}
	where, params, err := CompileFilter(filter)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", cols, tbl)
	if where != "" {
		sb.WriteString(" ")
		sb.WriteString(where)
	}
	if options.OrderBy != "" {
		order, err := Quote(options.OrderBy)
		if err != nil {
			return "", nil, err
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(order)
		if options.OrderDesc {
			sb.WriteString(" DESC")
		}
	}
	if options.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", options.Limit)
		if options.Offset > 0 {
			fmt.Fprintf(&sb, " OFFSET %d", options.Offset)
		}
	}
	return sb.String(), params, nil
}

// Insert INSERT INTO {table} ({fields}) VALUES ({placeholders})
func Insert(table string, fields []string, values []any) (string, rdb.Params, error) {
	if len(fields) != len(values) {
		return "", nil, errors.Wrapf(rdb.ErrArityMismatch, "%d fields, %d values", len(fields), len(values))
	}
	sql, err := insertTemplate(table, fields)
	if err != nil {
		return "", nil, err
	}
	params := rdb.Params{}
	for i, field := range fields {
		params[field+"value"] = values[i]
	}
	return sql, params, nil
}

// InsertRow 单行插入，列按名称排序
func InsertRow(table string, row rdb.Row) (string, rdb.Params, error) {
	fields := sortedKeys(row)
	values := make([]any, 0, len(fields))
	for _, f := range fields {
		values = append(values, row[f])
	}
	return Insert(table, fields, values)
}

// InsertMany 批量插入，返回同一模板和每行的参数
// 所有行必须有相同的列集合
func InsertMany(table string, rows []rdb.Row) (string, []rdb.Params, error) {
	if len(rows) == 0 {
		return "", nil, errors.Wrap(rdb.ErrArityMismatch, "no rows to insert")
	}
	fields := sortedKeys(rows[0])
	sql, err := insertTemplate(table, fields)
	if err != nil {
		return "", nil, err
	}
	batch := make([]rdb.Params, 0, len(rows))
	for i, row := range rows {
		if len(row) != len(fields) {
			return "", nil, errors.Wrapf(rdb.ErrArityMismatch, "row %d has %d fields, want %d", i, len(row), len(fields))
		}
		params := rdb.Params{}
		for _, f := range fields {
			v, ok := row[f]
			if !ok {
				return "", nil, errors.Wrapf(rdb.ErrArityMismatch, "row %d misses field %q", i, f)
			}
			params[f+"value"] = v
		}
		batch = append(batch, params)
	}
	return sql, batch, nil
}

func insertTemplate(table string, fields []string) (string, error) {
	tbl, err := Quote(table)
	if err != nil {
		return "", err
	}
	if len(fields) == 0 {
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", tbl), nil
	}
	cols, err := quoteList(fields)
	if err != nil {
		return "", err
	}
	placeholders := make([]string, 0, len(fields))
	for _, f := range fields {
		placeholders = append(placeholders, "@"+f+"value")
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", tbl, cols, strings.Join(placeholders, ", ")), nil
}

// Update UPDATE {table} SET {pairs} {where}
func Update(table string, fields []string, values []any, filter rdb.Filter) (string, rdb.Params, error) {
	if len(fields) != len(values) {
		return "", nil, errors.Wrapf(rdb.ErrArityMismatch, "%d fields, %d values", len(fields), len(values))
	}
	if len(fields) == 0 {
		return "", nil, errors.Wrap(rdb.ErrArityMismatch, "no fields to update")
	}
	tbl, err := Quote(table)
	if err != nil {
		return "", nil, err
	}
	where, params, err := CompileFilter(filter)
	if err != nil {
		return "", nil, err
	}
	pairs := make([]string, 0, len(fields))
	for i, f := range fields {
		col, err := Quote(f)
		if err != nil {
			return "", nil, err
		}
		name := "set" + f + "value"
		pairs = append(pairs, fmt.Sprintf("%s = @%s", col, name))
		params[name] = values[i]
	}
	sql := fmt.Sprintf("UPDATE %s SET %s", tbl, strings.Join(pairs, ", "))
	if where != "" {
		sql += " " + where
	}
	return sql, params, nil
}

// UpdateRow 以 map 形式更新，列按名称排序
func UpdateRow(table string, data rdb.Row, filter rdb.Filter) (string, rdb.Params, error) {
	fields := sortedKeys(data)
	values := make([]any, 0, len(fields))
	for _, f := range fields {
		values = append(values, data[f])
	}
	return Update(table, fields, values, filter)
}

// Delete DELETE FROM {table} {where}
func Delete(table string, filter rdb.Filter) (string, rdb.Params, error) {
	tbl, err := Quote(table)
	if err != nil {
		return "", nil, err
	}
	where, params, err := CompileFilter(filter)
	if err != nil {
		return "", nil, err
	}
	sql := "DELETE FROM " + tbl
	if where != "" {
		sql += " " + where
	}
	return sql, params, nil
}

// CreateTable 类型关键字直接写入 SQL，不使用参数，也不生成默认值
func CreateTable(table string, columns []ColumnDef, ifNotExists bool) (string, rdb.Params, error) {
	if len(columns) == 0 {
		return "", nil, errors.Wrapf(rdb.ErrInvalidFieldSpec, "table %q has no columns", table)
	}
	tbl, err := Quote(table)
	if err != nil {
		return "", nil, err
	}
	defs := make([]string, 0, len(columns))
	for _, c := range columns {
		col, err := Quote(c.Name)
		if err != nil {
			return "", nil, err
		}
		defs = append(defs, col+" "+c.Definition())
	}
	exists := ""
	if ifNotExists {
		exists = "IF NOT EXISTS "
	}
	return fmt.Sprintf("CREATE TABLE %s%s (%s)", exists, tbl, strings.Join(defs, ", ")), rdb.Params{}, nil
}

// CreateTableAs CREATE TABLE {table} AS SELECT {fields} FROM {source} {where}
func CreateTableAs(table string, source string, fields []string, filter rdb.Filter, ifNotExists bool) (string, rdb.Params, error) {
	tbl, err := Quote(table)
	if err != nil {
		return "", nil, err
	}
	sel, params, err := Select(source, fields, filter)
	if err != nil {
		return "", nil, err
	}
	exists := ""
	if ifNotExists {
		exists = "IF NOT EXISTS "
	}
	return fmt.Sprintf("CREATE TABLE %s%s AS %s", exists, tbl, sel), params, nil
}

// DropTable DROP TABLE IF EXISTS {table}
func DropTable(table string) (string, rdb.Params, error) {
	tbl, err := Quote(table)
	if err != nil {
		return "", nil, err
	}
	return "DROP TABLE IF EXISTS " + tbl, rdb.Params{}, nil
}

// AddColumn ALTER TABLE {table} ADD COLUMN {column} {type}
func AddColumn(table string, column ColumnDef) (string, rdb.Params, error) {
	tbl, err := Quote(table)
	if err != nil {
		return "", nil, err
	}
	col, err := Quote(column.Name)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", tbl, col, column.Definition()), rdb.Params{}, nil
}

// DropColumn ALTER TABLE {table} DROP COLUMN {column}
// 目标引擎不可依赖此语句，字段删除走 copy-and-swap
func DropColumn(table string, column string) (string, rdb.Params, error) {
	tbl, err := Quote(table)
	if err != nil {
		return "", nil, err
	}
	col, err := Quote(column)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", tbl, col), rdb.Params{}, nil
}

// RenameColumn ALTER TABLE {table} RENAME COLUMN {from} TO {to}
func RenameColumn(table string, from string, to string) (string, rdb.Params, error) {
	tbl, err := Quote(table)
	if err != nil {
		return "", nil, err
	}
	f, err := Quote(from)
	if err != nil {
		return "", nil, err
	}
	t, err := Quote(to)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", tbl, f, t), rdb.Params{}, nil
}

// RenameTable ALTER TABLE {from} RENAME TO {to}
func RenameTable(from string, to string) (string, rdb.Params, error) {
	f, err := Quote(from)
	if err != nil {
		return "", nil, err
	}
	t, err := Quote(to)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", f, t), rdb.Params{}, nil
}

// GetSchema 读取建表语句
func GetSchema(table string) (string, rdb.Params, error) {
	if !ValidIdent(table) {
		return "", nil, errors.Wrapf(rdb.ErrInvalidFieldSpec, "invalid identifier %q", table)
	}
	return "SELECT sql FROM sqlite_master WHERE type = 'table' AND name = @table", rdb.Params{"table": table}, nil
}

// CopyRows INSERT INTO {dst} ({columns}) SELECT {columns} FROM {src}
func CopyRows(dst string, src string, columns []string) (string, rdb.Params, error) {
	d, err := Quote(dst)
	if err != nil {
		return "", nil, err
	}
	s, err := Quote(src)
	if err != nil {
		return "", nil, err
	}
	cols, err := quoteList(columns)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", d, cols, cols, s), rdb.Params{}, nil
}

func sortedKeys(row rdb.Row) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
