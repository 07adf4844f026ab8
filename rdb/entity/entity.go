package entity

import (
	"context"
	"strings"
	"sync"

	"github.com/hatlonely/simpcrm/log/logger"
	"github.com/hatlonely/simpcrm/rdb"
	"github.com/hatlonely/simpcrm/rdb/field"
	"github.com/hatlonely/simpcrm/rdb/query"
	"github.com/hatlonely/simpcrm/rdb/store"
	"github.com/pkg/errors"
)

// ParentSeparator "parent:child" 形式的表名在构造时拆分
const ParentSeparator = ":"

// Definition 声明一个 Entity
type Definition struct {
	Table       string       `cfg:"table" validate:"required"`
	Name        string       `cfg:"name"`
	Description string       `cfg:"description"`
	Fields      []field.Spec `cfg:"fields"`
	Parent      string       `cfg:"parent"`
	ParentField string       `cfg:"parentField"`
}

// Entity 一张表的句柄，同一个 Session 内每张表只有一个实例
//
// 表结构和行的修改都在 FieldSet 的表级锁内进行，Item 的 handler 在锁外回调。
type Entity struct {
	session     *Session
	table       string
	name        string
	description string
	fields      *field.FieldSet
	parent      *Entity
	parentField string
	logger      logger.Logger

	mu       sync.Mutex
	pk       string
	items    map[any]*Item
	children []*Entity
}

// GetOrCreate 表已注册时返回已有的 Entity；名称、父表或字段不一致时返回 ErrConflict
func (s *Session) GetOrCreate(def Definition) (*Entity, bool, error) {
	def, parent, err := s.resolve(def)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entities[def.Table]; ok {
		if err := e.conflicts(def); err != nil {
			return nil, true, err
		}
		return e, true, nil
	}

	fs, existed, err := s.fields.GetOrCreate(def.Table, def.Fields)
	if err != nil {
		return nil, false, err
	}
	if existed && !fs.Equal(def.Fields) {
		return nil, false, errors.Wrapf(rdb.ErrConflict, "table %q already has fields %v", def.Table, fs.Names())
	}

	e := &Entity{
		session:     s,
		table:       def.Table,
		name:        def.Name,
		description: def.Description,
		fields:      fs,
		parent:      parent,
		parentField: def.ParentField,
		logger:      s.logger.With("component", "entity", "table", def.Table),
		items:       map[any]*Item{},
	}
	if parent != nil {
		parent.addChild(e)
	}
	s.entities[def.Table] = e
	return e, false, nil
}

// resolve 拆分父表名，补齐父表字段和主键
func (s *Session) resolve(def Definition) (Definition, *Entity, error) {
	if idx := strings.Index(def.Table, ParentSeparator); idx >= 0 {
		parent, child := def.Table[:idx], def.Table[idx+len(ParentSeparator):]
		if def.Parent != "" && def.Parent != parent {
			return def, nil, errors.Wrapf(rdb.ErrConflict, "table %q declares parent %q", def.Table, def.Parent)
		}
		def.Parent, def.Table = parent, child
	}
	if !query.ValidIdent(def.Table) {
		return def, nil, errors.Wrapf(rdb.ErrInvalidFieldSpec, "invalid table name %q", def.Table)
	}
	if def.Name == "" {
		def.Name = def.Table
	}

	specs := append([]field.Spec(nil), def.Fields...)
	var parent *Entity
	if def.Parent != "" {
		p, ok := s.Entity(def.Parent)
		if !ok {
			return def, nil, errors.Wrapf(rdb.ErrUnknownEntity, "parent %q of table %q", def.Parent, def.Table)
		}
		parent = p
		if def.ParentField == "" {
			def.ParentField = def.Parent + "_id"
		}
		if !hasSpec(specs, def.ParentField) {
			specs = append(specs, field.Spec{Name: def.ParentField, Type: parent.keyType()})
		}
	} else if def.ParentField != "" {
		return def, nil, errors.Wrapf(rdb.ErrInvalidFieldSpec, "parent field %q without parent", def.ParentField)
	}

	if !hasPrimary(specs) {
		specs = append([]field.Spec{{Name: "id", Type: rdb.TypePrimary}}, specs...)
	}
	def.Fields = specs
	return def, parent, nil
}

func hasSpec(specs []field.Spec, name string) bool {
	for _, spec := range specs {
		if spec.Name == name {
			return true
		}
	}
	return false
}

func hasPrimary(specs []field.Spec) bool {
	for _, spec := range specs {
		if spec.PrimaryKey || spec.Type == rdb.TypePrimary {
			return true
		}
	}
	return false
}

func (e *Entity) conflicts(def Definition) error {
	if e.name != def.Name {
		return errors.Wrapf(rdb.ErrConflict, "table %q is registered as %q, not %q", e.table, e.name, def.Name)
	}
	if e.ParentTable() != def.Parent || e.parentField != def.ParentField {
		return errors.Wrapf(rdb.ErrConflict, "table %q has parent %q(%s)", e.table, e.ParentTable(), e.parentField)
	}
	if !e.fields.Equal(def.Fields) {
		return errors.Wrapf(rdb.ErrConflict, "table %q already has fields %v", e.table, e.fields.Names())
	}
	return nil
}

// keyType 子表外键的类型，与主键一致但不带主键标记
func (e *Entity) keyType() rdb.FieldType {
	e.mu.Lock()
	pk := e.pk
	e.mu.Unlock()
	if pk == "" {
		pk = e.fields.PrimaryKey()
	}
	if f, ok := e.fields.Get(pk); ok {
		return f.Type
	}
	return rdb.TypeInteger
}

func (e *Entity) addChild(child *Entity) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.children = append(e.children, child)
}

func (e *Entity) removeChild(child *Entity) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, c := range e.children {
		if c == child {
			e.children = append(e.children[:i:i], e.children[i+1:]...)
			return
		}
	}
}

func (e *Entity) Table() string {
	return e.table
}

func (e *Entity) Name() string {
	return e.name
}

func (e *Entity) Description() string {
	return e.description
}

func (e *Entity) Fields() *field.FieldSet {
	return e.fields
}

func (e *Entity) Parent() *Entity {
	return e.parent
}

// ParentTable 父表名，没有父表时为空
func (e *Entity) ParentTable() string {
	if e.parent == nil {
		return ""
	}
	return e.parent.table
}

func (e *Entity) ParentField() string {
	return e.parentField
}

func (e *Entity) Installed() bool {
	return e.fields.Installed()
}

// Children 以该 Entity 为父表注册的子表
func (e *Entity) Children() []*Entity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Entity(nil), e.children...)
}

func (e *Entity) lock() func() {
	l := e.fields.Locker()
	l.Lock()
	return l.Unlock
}

// PrimaryKey 已安装时以表结构为准，否则扫描字段描述，解析成功后缓存
func (e *Entity) PrimaryKey(ctx context.Context) (string, error) {
	e.mu.Lock()
	pk := e.pk
	e.mu.Unlock()
	if pk != "" {
		return pk, nil
	}

	pk = e.fields.PrimaryKey()
	if e.fields.Installed() {
		ddl, err := e.session.store.IntrospectSchema(ctx, e.table)
		if err != nil {
			return "", err
		}
		if ddl != "" {
			columns, err := query.ParseSchema(ddl)
			if err != nil {
				return "", err
			}
			if live := query.PrimaryKey(columns); live != "" {
				pk = live
			}
		}
	}
	if pk == "" {
		return "", errors.Wrapf(rdb.ErrInvalidFieldSpec, "table %q has no primary key", e.table)
	}

	e.mu.Lock()
	e.pk = pk
	e.mu.Unlock()
	return pk, nil
}

func (e *Entity) resetPrimaryKey() {
	e.mu.Lock()
	e.pk = ""
	e.mu.Unlock()
}

// checkFields 写入前校验字段名
func (e *Entity) checkFields(data rdb.Row) error {
	for name := range data {
		if !e.fields.Has(name) {
			return errors.Wrapf(rdb.ErrUnknownField, "field %q not in table %q", name, e.table)
		}
	}
	return nil
}

// Install 建表并写入 __entities 和 __fields，可重复调用
func (e *Entity) Install(ctx context.Context) error {
	unlock := e.lock()
	defer unlock()
	bookkeeping, unlockMeta := e.session.lockBookkeeping(e)
	defer unlockMeta()

	err := e.session.store.WithTx(ctx, func(tx store.Executor) error {
		sql, params, err := query.CreateTable(e.table, e.fields.Definitions(), true)
		if err != nil {
			return err
		}
		if _, err := tx.Execute(ctx, sql, params); err != nil {
			return err
		}
		if bookkeeping {
			return e.writeBookkeeping(ctx, tx)
		}
		return nil
	})
	if err != nil {
		return errors.WithMessagef(err, "install table %q", e.table)
	}

	e.fields.MarkInstalled()
	e.resetPrimaryKey()
	e.logger.InfoContext(ctx, "install entity", "name", e.name, "bookkeeping", bookkeeping)
	return nil
}

// Uninstall 删除表和记录，并从 Session 中移除
func (e *Entity) Uninstall(ctx context.Context) error {
	unlock := e.lock()
	bookkeeping, unlockMeta := e.session.lockBookkeeping(e)
	err := e.session.store.WithTx(ctx, func(tx store.Executor) error {
		if bookkeeping {
			if err := e.deleteBookkeeping(ctx, tx); err != nil {
				return err
			}
		}
		sql, params, err := query.DropTable(e.table)
		if err != nil {
			return err
		}
		_, err = tx.Execute(ctx, sql, params)
		return err
	})
	unlockMeta()
	unlock()
	if err != nil {
		return errors.WithMessagef(err, "uninstall table %q", e.table)
	}

	e.Close()
	if e.parent != nil {
		e.parent.removeChild(e)
	}
	e.session.evict(e)
	e.logger.InfoContext(ctx, "uninstall entity", "name", e.name)
	return nil
}

func (e *Entity) writeBookkeeping(ctx context.Context, tx store.Executor) error {
	if err := e.deleteBookkeeping(ctx, tx); err != nil {
		return err
	}

	sql, params, err := query.InsertRow(EntitiesTable, rdb.Row{
		"name":         e.name,
		"table_name":   e.table,
		"description":  e.description,
		"parent":       e.ParentTable(),
		"parent_field": e.parentField,
	})
	if err != nil {
		return err
	}
	if _, err := tx.Execute(ctx, sql, params); err != nil {
		return err
	}

	fields := e.fields.Fields()
	rows := make([]rdb.Row, 0, len(fields))
	for _, f := range fields {
		rows = append(rows, rdb.Row{
			"name":        f.Name,
			"definition":  f.Definition(),
			"description": f.Description,
			"table_name":  e.table,
		})
	}
	sql, batch, err := query.InsertMany(FieldsTable, rows)
	if err != nil {
		return err
	}
	return tx.ExecuteBatch(ctx, sql, batch)
}

func (e *Entity) deleteBookkeeping(ctx context.Context, tx store.Executor) error {
	for _, table := range []string{FieldsTable, EntitiesTable} {
		sql, params, err := query.Delete(table, rdb.Filter{"table_name": e.table})
		if err != nil {
			return err
		}
		if _, err := tx.Execute(ctx, sql, params); err != nil {
			return err
		}
	}
	return nil
}

func (e *Entity) Insert(ctx context.Context, data rdb.Row) (rdb.Result, error) {
	if err := e.checkFields(data); err != nil {
		return rdb.Result{}, err
	}
	sql, params, err := query.InsertRow(e.table, data)
	if err != nil {
		return rdb.Result{}, err
	}

	unlock := e.lock()
	defer unlock()
	return e.session.store.Execute(ctx, sql, params)
}

// InsertMany 所有行需要相同的列，作为一个批次执行
func (e *Entity) InsertMany(ctx context.Context, rows []rdb.Row) error {
	for _, row := range rows {
		if err := e.checkFields(row); err != nil {
			return err
		}
	}
	sql, batch, err := query.InsertMany(e.table, rows)
	if err != nil {
		return err
	}

	unlock := e.lock()
	defer unlock()
	return e.session.store.ExecuteBatch(ctx, sql, batch)
}

// Replace 更新匹配 filter 的行
func (e *Entity) Replace(ctx context.Context, filter rdb.Filter, data rdb.Row) (rdb.Result, error) {
	if err := e.checkFields(data); err != nil {
		return rdb.Result{}, err
	}
	unlock := e.lock()
	defer unlock()
	return e.replaceLocked(ctx, filter, data)
}

func (e *Entity) replaceLocked(ctx context.Context, filter rdb.Filter, data rdb.Row) (rdb.Result, error) {
	sql, params, err := query.UpdateRow(e.table, data, filter)
	if err != nil {
		return rdb.Result{}, err
	}
	return e.session.store.Execute(ctx, sql, params)
}

func (e *Entity) Delete(ctx context.Context, filter rdb.Filter) (rdb.Result, error) {
	sql, params, err := query.Delete(e.table, filter)
	if err != nil {
		return rdb.Result{}, err
	}
	unlock := e.lock()
	defer unlock()
	return e.session.store.Execute(ctx, sql, params)
}

// Select 返回普通的行，不创建 Item
func (e *Entity) Select(ctx context.Context, filter rdb.Filter, fields ...string) ([]rdb.Row, error) {
	unlock := e.lock()
	defer unlock()
	return e.selectLocked(ctx, filter, fields)
}

func (e *Entity) selectLocked(ctx context.Context, filter rdb.Filter, fields []string, opts ...query.SelectOption) ([]rdb.Row, error) {
	sql, params, err := query.Select(e.table, fields, filter, opts...)
	if err != nil {
		return nil, err
	}
	return e.session.store.Query(ctx, sql, params)
}

// Get 查询并把每一行包装为 Item，已存在的 Item 合并新数据后复用
func (e *Entity) Get(ctx context.Context, filter rdb.Filter) ([]*Item, error) {
	return e.get(ctx, filter)
}

func (e *Entity) get(ctx context.Context, filter rdb.Filter, opts ...query.SelectOption) ([]*Item, error) {
	pk, err := e.PrimaryKey(ctx)
	if err != nil {
		return nil, err
	}

	unlock := e.lock()
	rows, err := e.selectLocked(ctx, filter, nil, opts...)
	if err != nil {
		unlock()
		return nil, err
	}
	items, pending, err := e.wrapLocked(pk, rows)
	unlock()

	for _, dispatch := range pending {
		dispatch()
	}
	return items, err
}

func (e *Entity) wrapLocked(pk string, rows []rdb.Row) ([]*Item, []func(), error) {
	interval := e.session.RefreshInterval()
	items := make([]*Item, 0, len(rows))
	var pending []func()
	for _, row := range rows {
		value, ok := row[pk]
		if !ok {
			return items, pending, errors.Wrapf(rdb.ErrInvalidFieldSpec, "row of table %q has no primary key %q", e.table, pk)
		}
		key := itemKey(value)

		e.mu.Lock()
		it, existed := e.items[key]
		if !existed {
			it = newItem(e, key, row)
			e.items[key] = it
		}
		e.mu.Unlock()

		if existed {
			if dispatch := it.merge(row); dispatch != nil {
				pending = append(pending, dispatch)
			}
		} else {
			it.start(interval)
		}
		items = append(items, it)
	}
	return items, pending, nil
}

// ByKey 按主键取单个 Item
func (e *Entity) ByKey(ctx context.Context, key any) (*Item, error) {
	pk, err := e.PrimaryKey(ctx)
	if err != nil {
		return nil, err
	}
	items, err := e.get(ctx, rdb.Filter{pk: key})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errors.Wrapf(rdb.ErrRecordNotFound, "%s = %v in table %q", pk, key, e.table)
	}
	return items[0], nil
}

// Range 主键在 [from, to] 内的 Item，按主键升序
func (e *Entity) Range(ctx context.Context, from any, to any) ([]*Item, error) {
	pk, err := e.PrimaryKey(ctx)
	if err != nil {
		return nil, err
	}
	return e.get(ctx, rdb.Filter{pk: []rdb.Cond{query.Ge(from), query.Le(to)}}, query.WithOrderBy(pk, false))
}

// CreateCopy 用 CREATE TABLE AS 复制部分列到新表，fields 为空时复制所有列
func (e *Entity) CreateCopy(ctx context.Context, table string, fields ...string) error {
	for _, name := range fields {
		if !e.fields.Has(name) {
			return errors.Wrapf(rdb.ErrUnknownField, "field %q not in table %q", name, e.table)
		}
	}
	sql, params, err := query.CreateTableAs(table, e.table, fields, nil, false)
	if err != nil {
		return err
	}

	unlock := e.lock()
	defer unlock()
	if _, err := e.session.store.Execute(ctx, sql, params); err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "create table as another", "target", table, "fields", fields)
	return nil
}

func (e *Entity) ChangeField(ctx context.Context, name string, change field.Change) error {
	return e.ChangeFields(ctx, field.Op{Name: name, Change: change})
}

func (e *Entity) DeleteField(ctx context.Context, name string) error {
	return e.ChangeFields(ctx, field.Op{Name: name, Change: field.Drop{}})
}

// ChangeFields 在一个事务内修改字段并重写 __fields，任一步失败时表结构和内存状态都不变
func (e *Entity) ChangeFields(ctx context.Context, ops ...field.Op) error {
	unlock := e.lock()
	defer unlock()

	if !e.fields.Installed() {
		if _, err := e.fields.ApplyLocked(ctx, nil, ops...); err != nil {
			return err
		}
		e.resetPrimaryKey()
		return nil
	}

	bookkeeping, unlockMeta := e.session.lockBookkeeping(e)
	defer unlockMeta()

	undo := func() {}
	err := e.session.store.WithTx(ctx, func(tx store.Executor) error {
		var err error
		if undo, err = e.fields.ApplyLocked(ctx, tx, ops...); err != nil {
			return err
		}
		if bookkeeping {
			return e.writeBookkeeping(ctx, tx)
		}
		return nil
	})
	if err != nil {
		undo()
		return errors.WithMessagef(err, "change fields of table %q", e.table)
	}

	e.resetPrimaryKey()
	e.applyToItems(ops)
	return nil
}

// applyToItems 同步 Item 中的列名
func (e *Entity) applyToItems(ops []field.Op) {
	e.mu.Lock()
	items := make([]*Item, 0, len(e.items))
	for _, it := range e.items {
		items = append(items, it)
	}
	e.mu.Unlock()

	for _, op := range ops {
		switch c := op.Change.(type) {
		case field.Rename:
			for _, it := range items {
				it.renameField(op.Name, c.To)
			}
		case field.Drop:
			for _, it := range items {
				it.renameField(op.Name, "")
			}
		}
	}
}

// Items 当前存活的 Item 数量
func (e *Entity) Items() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.items)
}

func (e *Entity) forget(it *Item) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.items[it.key] == it {
		delete(e.items, it.key)
	}
}

// Close 停止所有 Item 的后台刷新
func (e *Entity) Close() {
	e.mu.Lock()
	items := e.items
	e.items = map[any]*Item{}
	e.mu.Unlock()

	for _, it := range items {
		it.Close()
	}
}
