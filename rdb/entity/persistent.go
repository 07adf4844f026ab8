package entity

import (
	"context"
	"fmt"

	"github.com/hatlonely/simpcrm/rdb"
	"github.com/hatlonely/simpcrm/rdb/field"
	"github.com/hatlonely/simpcrm/rdb/query"
	"github.com/pkg/errors"
)

// 记录 Entity 和字段定义的两张表，重启后据此重建 Entity
const (
	EntitiesTable = "__entities"
	FieldsTable   = "__fields"
)

func entitiesDefinition() Definition {
	return Definition{
		Table:       EntitiesTable,
		Name:        "Entities",
		Description: "registered entities",
		Fields: []field.Spec{
			{Name: "name", Type: rdb.TypeText},
			{Name: "table_name", Type: rdb.TypeText, PrimaryKey: true},
			{Name: "description", Type: rdb.TypeText},
			{Name: "parent", Type: rdb.TypeText},
			{Name: "parent_field", Type: rdb.TypeText},
		},
	}
}

func fieldsDefinition() Definition {
	return Definition{
		Table:       FieldsTable,
		Name:        "Fields",
		Description: "fields of registered entities",
		Fields: []field.Spec{
			{Name: "id", Type: rdb.TypePrimary},
			{Name: "name", Type: rdb.TypeText},
			{Name: "definition", Type: rdb.TypeText},
			{Name: "description", Type: rdb.TypeText},
			{Name: "table_name", Type: rdb.TypeText},
		},
		Parent:      EntitiesTable,
		ParentField: "table_name",
	}
}

// Persistent 注册 __entities 和 __fields，store 中已有这两张表时视为已安装
func (s *Session) Persistent(ctx context.Context) (*Entity, *Entity, error) {
	entities, err := s.persistent(ctx, entitiesDefinition())
	if err != nil {
		return nil, nil, err
	}
	fields, err := s.persistent(ctx, fieldsDefinition())
	if err != nil {
		return nil, nil, err
	}
	return entities, fields, nil
}

func (s *Session) persistent(ctx context.Context, def Definition) (*Entity, error) {
	e, existed, err := s.GetOrCreate(def)
	if err != nil {
		return nil, errors.WithMessagef(err, "register %s failed", def.Table)
	}
	if existed || e.Installed() {
		return e, nil
	}
	ddl, err := s.store.IntrospectSchema(ctx, def.Table)
	if err != nil {
		return nil, err
	}
	if ddl != "" {
		e.fields.MarkInstalled()
	}
	return e, nil
}

// InstallPersistency 注册并创建两张记录表，之后 Install 的 Entity 都会写入记录
func (s *Session) InstallPersistency(ctx context.Context) error {
	entities, fields, err := s.Persistent(ctx)
	if err != nil {
		return err
	}
	if err := entities.Install(ctx); err != nil {
		return err
	}
	return fields.Install(ctx)
}

// lockBookkeeping 两张记录表都已安装时按 __entities、__fields 的顺序加锁
func (s *Session) lockBookkeeping(e *Entity) (bool, func()) {
	noop := func() {}
	if e.table == EntitiesTable || e.table == FieldsTable {
		return false, noop
	}
	entities, ok := s.Entity(EntitiesTable)
	if !ok || !entities.Installed() {
		return false, noop
	}
	fields, ok := s.Entity(FieldsTable)
	if !ok || !fields.Installed() {
		return false, noop
	}

	unlockEntities := entities.lock()
	unlockFields := fields.lock()
	return true, func() {
		unlockFields()
		unlockEntities()
	}
}

// GetEntity 返回已注册的 Entity，未注册时从记录表重建，重建的 FieldSet 视为已安装
func (s *Session) GetEntity(ctx context.Context, table string) (*Entity, error) {
	return s.loadEntity(ctx, table, map[string]bool{})
}

func (s *Session) loadEntity(ctx context.Context, table string, visiting map[string]bool) (*Entity, error) {
	if e, ok := s.Entity(table); ok {
		return e, nil
	}
	if visiting[table] {
		return nil, errors.Wrapf(rdb.ErrConflict, "entity %q is its own ancestor", table)
	}
	visiting[table] = true

	entities, fields, err := s.Persistent(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := entities.Select(ctx, rdb.Filter{"table_name": table})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.Wrapf(rdb.ErrUnknownEntity, "table %q", table)
	}
	row := rows[0]

	parent := text(row["parent"])
	if parent != "" {
		if _, err := s.loadEntity(ctx, parent, visiting); err != nil {
			return nil, errors.WithMessagef(err, "load parent of %q", table)
		}
	}

	unlock := fields.lock()
	fieldRows, err := fields.selectLocked(ctx, rdb.Filter{"table_name": table}, nil, query.WithOrderBy("id", false))
	unlock()
	if err != nil {
		return nil, err
	}
	specs := make([]field.Spec, 0, len(fieldRows))
	for _, fr := range fieldRows {
		col := query.ParseDefinition(text(fr["name"]), text(fr["definition"]))
		specs = append(specs, field.Spec{
			Name:        col.Name,
			Type:        col.Type,
			PrimaryKey:  col.PrimaryKey,
			Description: text(fr["description"]),
		})
	}

	e, _, err := s.GetOrCreate(Definition{
		Table:       table,
		Name:        text(row["name"]),
		Description: text(row["description"]),
		Fields:      specs,
		Parent:      parent,
		ParentField: text(row["parent_field"]),
	})
	if err != nil {
		return nil, err
	}
	e.fields.MarkInstalled()
	s.logger.DebugContext(ctx, "load entity", "component", "session", "table", table, "fields", len(specs))
	return e, nil
}

// GetEntities 重建记录表中的所有 Entity，按名称索引
func (s *Session) GetEntities(ctx context.Context) (map[string]*Entity, error) {
	entities, _, err := s.Persistent(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := entities.Select(ctx, nil, "table_name")
	if err != nil {
		return nil, err
	}

	out := make(map[string]*Entity, len(rows))
	for _, row := range rows {
		e, err := s.GetEntity(ctx, text(row["table_name"]))
		if err != nil {
			return nil, err
		}
		out[e.Name()] = e
	}
	return out, nil
}

func text(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	}
	return fmt.Sprint(v)
}
