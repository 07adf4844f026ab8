package field

import (
	"context"

	"github.com/hatlonely/simpcrm/rdb"
	"github.com/hatlonely/simpcrm/rdb/query"
	"github.com/hatlonely/simpcrm/rdb/store"
	"github.com/pkg/errors"
)

// copy-and-swap 的步骤，失败时写入 StoreError.Step
const (
	StepReadSchema   = "read_schema"
	StepCreateTemp   = "create_temp"
	StepCopyRows     = "copy_rows"
	StepDropOriginal = "drop_original"
	StepRenameTemp   = "rename_temp"
)

// TempTable copy-and-swap 使用的临时表名，中途失败时该表会残留
func TempTable(table string) string {
	return "_temp_" + table
}

// ModifyColumn 以 column 替换同名列，其余列和数据保持不变
func ModifyColumn(ctx context.Context, exec store.Executor, table string, column query.ColumnDef) error {
	return swap(ctx, exec, "modify_column", table, func(cols []query.ColumnDef) ([]query.ColumnDef, error) {
		for i := range cols {
			if cols[i].Name == column.Name {
				cols[i] = column
				return cols, nil
			}
		}
		return nil, errors.Wrapf(rdb.ErrUnknownField, "column %q not in table %q", column.Name, table)
	})
}

// DropColumn 删除列，其余列的数据保持不变
func DropColumn(ctx context.Context, exec store.Executor, table string, column string) error {
	return swap(ctx, exec, "drop_column", table, func(cols []query.ColumnDef) ([]query.ColumnDef, error) {
		for i := range cols {
			if cols[i].Name == column {
				if len(cols) == 1 {
					return nil, errors.Wrapf(rdb.ErrInvalidFieldSpec, "cannot drop the only column of %q", table)
				}
				return append(cols[:i:i], cols[i+1:]...), nil
			}
		}
		return nil, errors.Wrapf(rdb.ErrUnknownField, "column %q not in table %q", column, table)
	})
}

// swap 读取线上表结构 -> 计算目标结构 -> 建临时表 -> 复制数据 -> 删除原表 -> 临时表改名
// 各步骤之间没有自动回滚，需要原子性时 exec 传入事务
func swap(ctx context.Context, exec store.Executor, op string, table string, desired func([]query.ColumnDef) ([]query.ColumnDef, error)) error {
	ddl, err := store.Schema(ctx, exec, table)
	if err != nil {
		return stepError(op, StepReadSchema, "", err)
	}
	if ddl == "" {
		return stepError(op, StepReadSchema, "", errors.Errorf("table %q does not exist", table))
	}
	current, err := query.ParseSchema(ddl)
	if err != nil {
		return stepError(op, StepReadSchema, ddl, err)
	}

	target, err := desired(append([]query.ColumnDef(nil), current...))
	if err != nil {
		return err
	}
	names := make([]string, 0, len(target))
	for _, c := range target {
		names = append(names, c.Name)
	}

	temp := TempTable(table)
	steps := []struct {
		name  string
		build func() (string, rdb.Params, error)
	}{
		{StepCreateTemp, func() (string, rdb.Params, error) { return query.CreateTable(temp, target, false) }},
		{StepCopyRows, func() (string, rdb.Params, error) { return query.CopyRows(temp, table, names) }},
		{StepDropOriginal, func() (string, rdb.Params, error) { return query.DropTable(table) }},
		{StepRenameTemp, func() (string, rdb.Params, error) { return query.RenameTable(temp, table) }},
	}
	for _, step := range steps {
		sql, params, err := step.build()
		if err != nil {
			return err
		}
		if _, err := exec.Execute(ctx, sql, params); err != nil {
			return stepError(op, step.name, sql, err)
		}
	}
	return nil
}

func stepError(op string, step string, sql string, err error) error {
	var se *rdb.StoreError
	if errors.As(err, &se) {
		err = se.Err
		if sql == "" {
			sql = se.SQL
		}
	}
	return &rdb.StoreError{Op: op, Step: step, SQL: sql, Err: err}
}
