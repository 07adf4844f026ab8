package query

import (
	"strings"

	"github.com/hatlonely/simpcrm/rdb"
	"github.com/pkg/errors"
)

// ParseSchema 从建表语句中还原列定义
//
// 只识别列名、第一个类型关键字和 primary key 标记，表级 PRIMARY KEY(...) 约束会回填到对应列。
func ParseSchema(ddl string) ([]ColumnDef, error) {
	start := strings.IndexByte(ddl, '(')
	end := strings.LastIndexByte(ddl, ')')
	if start < 0 || end <= start {
		return nil, errors.Wrapf(rdb.ErrInvalidFieldSpec, "malformed table definition %q", ddl)
	}

	var columns []ColumnDef
	var tablePK []string
	for _, part := range splitTopLevel(ddl[start+1 : end]) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lower := strings.ToLower(part)
		switch {
		case strings.HasPrefix(lower, "primary key"):
			tablePK = append(tablePK, constraintColumns(part)...)
			continue
		case strings.HasPrefix(lower, "constraint"), strings.HasPrefix(lower, "unique"),
			strings.HasPrefix(lower, "check"), strings.HasPrefix(lower, "foreign key"):
			continue
		}

		name, rest := splitIdent(part)
		col := ParseDefinition(name, rest)
		if strings.TrimSpace(rest) == "" {
			// 没有声明类型的列
			col.Type = rdb.TypeText
		}
		columns = append(columns, col)
	}

	for _, pk := range tablePK {
		for i := range columns {
			if columns[i].Name == pk {
				columns[i].PrimaryKey = true
			}
		}
	}
	return columns, nil
}

// PrimaryKey 第一个主键列，没有时返回空串
func PrimaryKey(columns []ColumnDef) string {
	for _, c := range columns {
		if c.PrimaryKey || c.Type == rdb.TypePrimary {
			return c.Name
		}
	}
	return ""
}

func splitTopLevel(s string) []string {
	var parts []string
	depth := 0
	var quote byte
	last := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'' || c == '`':
			quote = c
		case c == '[':
			quote = ']'
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == ',' && depth == 0:
			parts = append(parts, s[last:i])
			last = i + 1
		}
	}
	return append(parts, s[last:])
}

func splitIdent(def string) (string, string) {
	if def == "" {
		return "", ""
	}
	var closing byte
	switch def[0] {
	case '"':
		closing = '"'
	case '`':
		closing = '`'
	case '[':
		closing = ']'
	}
	if closing != 0 {
		if i := strings.IndexByte(def[1:], closing); i >= 0 {
			return def[1 : i+1], def[i+2:]
		}
	}
	if i := strings.IndexAny(def, " \t\r\n"); i >= 0 {
		return def[:i], def[i+1:]
	}
	return def, ""
}

func constraintColumns(part string) []string {
	start := strings.IndexByte(part, '(')
	end := strings.LastIndexByte(part, ')')
	if start < 0 || end <= start {
		return nil
	}
	var names []string
	for _, n := range strings.Split(part[start+1:end], ",") {
		name, _ := splitIdent(strings.TrimSpace(n))
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}
