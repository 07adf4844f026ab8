package field

import (
	"context"
	"sync"

	"github.com/hatlonely/simpcrm/log/logger"
	"github.com/hatlonely/simpcrm/rdb"
	"github.com/hatlonely/simpcrm/rdb/query"
	"github.com/hatlonely/simpcrm/rdb/store"
	"github.com/pkg/errors"
)

// FieldSet 一张表的有序字段集合
//
// 未安装时修改只影响内存；安装后每次修改同时对 store 执行 DDL。
// 表级锁 Locker() 与所属 Entity 共用，持有该锁时只能调用 *Locked 方法。
type FieldSet struct {
	table  string
	logger logger.Logger

	tableMu sync.Mutex

	mu        sync.RWMutex
	names     []string
	fields    map[string]*Field
	installed bool
}

func newFieldSet(table string, log logger.Logger) *FieldSet {
	return &FieldSet{
		table:  table,
		logger: log,
		fields: map[string]*Field{},
	}
}

func (fs *FieldSet) Table() string {
	return fs.table
}

// Locker 表级锁，所有对该表结构和行的修改都在锁内进行
func (fs *FieldSet) Locker() sync.Locker {
	return &fs.tableMu
}

func (fs *FieldSet) Installed() bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.installed
}

// MarkInstalled 单向切换，之后的修改都会执行 DDL
func (fs *FieldSet) MarkInstalled() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.installed = true
}

func (fs *FieldSet) Names() []string {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return append([]string(nil), fs.names...)
}

func (fs *FieldSet) Len() int {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return len(fs.names)
}

func (fs *FieldSet) Has(name string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	_, ok := fs.fields[name]
	return ok
}

// Get 返回字段描述。Rename 会原地修改同一个实例
// Get 返回字段的副本
func (fs *FieldSet) Get(name string) (Field, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	f, ok := fs.fields[name]
	if !ok {
		return Field{}, false
	}
	return *f, true
}

// lookup 返回共享的字段，读写其内容需要持有 fs.mu
func (fs *FieldSet) lookup(name string) (*Field, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	f, ok := fs.fields[name]
	return f, ok
}

// Fields 按声明顺序返回字段的副本
func (fs *FieldSet) Fields() []Field {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	out := make([]Field, 0, len(fs.names))
	for _, name := range fs.names {
		out = append(out, *fs.fields[name])
	}
	return out
}

// Definitions 建表用的列定义
func (fs *FieldSet) Definitions() []query.ColumnDef {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	out := make([]query.ColumnDef, 0, len(fs.names))
	for _, name := range fs.names {
		out = append(out, fs.fields[name].Column())
	}
	return out
}

// PrimaryKey 扫描字段描述中的主键标记，没有时返回空字符串
func (fs *FieldSet) PrimaryKey() string {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	for _, name := range fs.names {
		if fs.fields[name].PrimaryKey {
			return name
		}
	}
	return ""
}

// Equal 字段名、顺序无关，类型和主键标记一致
func (fs *FieldSet) Equal(specs []Spec) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if len(specs) != len(fs.fields) {
		return false
	}
	for _, spec := range specs {
		f, ok := fs.fields[spec.Name]
		if !ok || !f.sameShape(spec) {
			return false
		}
	}
	return true
}

// conflicts specs 中任意字段与已有字段类型不同或不存在
func (fs *FieldSet) conflicts(specs []Spec) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	for _, spec := range specs {
		f, ok := fs.fields[spec.Name]
		if !ok {
			return errors.Wrapf(rdb.ErrConflict, "field %q is not declared on table %q", spec.Name, fs.table)
		}
		if !f.sameShape(spec) {
			return errors.Wrapf(rdb.ErrConflict, "field %q on table %q is %s, not %s", spec.Name, fs.table, f.Definition(), spec.Type)
		}
	}
	return nil
}

// add 未安装状态下追加字段，用于构造
func (fs *FieldSet) add(spec Spec) error {
	f, err := newField(fs.table, spec)
	if err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.fields[f.Name]; ok {
		return errors.Wrapf(rdb.ErrConflict, "field %q declared twice on table %q", f.Name, fs.table)
	}
	fs.names = append(fs.names, f.Name)
	fs.fields[f.Name] = f
	return nil
}

// Set 修改单个字段，已安装时通过 exec 执行 DDL
func (fs *FieldSet) Set(ctx context.Context, exec store.Executor, name string, change Change) error {
	_, err := fs.Apply(ctx, exec, Op{Name: name, Change: change})
	return err
}

// Delete 删除字段，已安装时先删除列
func (fs *FieldSet) Delete(ctx context.Context, exec store.Executor, name string) error {
	return fs.Set(ctx, exec, name, Drop{})
}

// Apply 在一次加锁内依次执行多个修改，返回的 undo 将内存状态恢复到调用前
// 已经执行的 DDL 不会被 undo 撤销，需要撤销时 exec 传入事务并回滚
func (fs *FieldSet) Apply(ctx context.Context, exec store.Executor, ops ...Op) (func(), error) {
	fs.tableMu.Lock()
	defer fs.tableMu.Unlock()
	return fs.ApplyLocked(ctx, exec, ops...)
}

// ApplyLocked 同 Apply，调用方已持有 Locker()
func (fs *FieldSet) ApplyLocked(ctx context.Context, exec store.Executor, ops ...Op) (func(), error) {
	undo := fs.snapshot()
	for _, op := range ops {
		if err := fs.apply(ctx, exec, op); err != nil {
			undo()
			return func() {}, err
		}
	}
	return undo, nil
}

func (fs *FieldSet) snapshot() func() {
	fs.mu.RLock()
	names := append([]string(nil), fs.names...)
	ptrs := make([]*Field, 0, len(names))
	values := make([]Field, 0, len(names))
	for _, name := range names {
		ptrs = append(ptrs, fs.fields[name])
		values = append(values, *fs.fields[name])
	}
	fs.mu.RUnlock()

	return func() {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		fs.names = append([]string(nil), names...)
		fs.fields = make(map[string]*Field, len(names))
		for i, p := range ptrs {
			*p = values[i]
			fs.fields[names[i]] = p
		}
	}
}

func (fs *FieldSet) apply(ctx context.Context, exec store.Executor, op Op) error {
	installed := fs.Installed()
	if installed && exec == nil {
		return errors.New("executor is nil")
	}

	switch c := op.Change.(type) {
	case NewType:
		return fs.setSpec(ctx, exec, installed, Spec{Name: op.Name, Type: c.Type, PrimaryKey: c.PrimaryKey}, false)
	case Replace:
		spec := c.Field.Spec()
		if spec.Name == "" {
			spec.Name = op.Name
		}
		if spec.Name != op.Name {
			return errors.Wrapf(rdb.ErrInvalidFieldSpec, "replace %q with field named %q", op.Name, spec.Name)
		}
		return fs.setSpec(ctx, exec, installed, spec, true)
	case Rename:
		return fs.rename(ctx, exec, installed, op.Name, c.To)
	case Drop:
		return fs.drop(ctx, exec, installed, op.Name)
	case Redescribe:
		f, ok := fs.lookup(op.Name)
		if !ok {
			return errors.Wrapf(rdb.ErrUnknownField, "field %q not in table %q", op.Name, fs.table)
		}
		fs.mu.Lock()
		f.Description = c.Description
		fs.mu.Unlock()
		return nil
	}
	return errors.Wrapf(rdb.ErrInvalidFieldSpec, "unsupported change %T for field %q", op.Change, op.Name)
}

// setSpec 新字段追加列，已有字段类型变化时走 copy-and-swap
func (fs *FieldSet) setSpec(ctx context.Context, exec store.Executor, installed bool, spec Spec, replaceDescription bool) error {
	nf, err := newField(fs.table, spec)
	if err != nil {
		return err
	}

	f, exists := fs.lookup(nf.Name)
	if !exists {
		if installed {
			sql, params, err := query.AddColumn(fs.table, nf.Column())
			if err != nil {
				return err
			}
			if _, err := exec.Execute(ctx, sql, params); err != nil {
				return err
			}
			fs.logger.InfoContext(ctx, "add column", "table", fs.table, "field", nf.Name, "definition", nf.Definition())
		}
		fs.mu.Lock()
		fs.names = append(fs.names, nf.Name)
		fs.fields[nf.Name] = nf
		fs.mu.Unlock()
		return nil
	}

	fs.mu.RLock()
	changed := f.Type != nf.Type || f.PrimaryKey != nf.PrimaryKey
	fs.mu.RUnlock()
	if changed && installed {
		if err := ModifyColumn(ctx, exec, fs.table, nf.Column()); err != nil {
			return err
		}
		fs.logger.InfoContext(ctx, "modify column", "table", fs.table, "field", nf.Name, "definition", nf.Definition())
	}

	fs.mu.Lock()
	f.Type = nf.Type
	f.PrimaryKey = nf.PrimaryKey
	if replaceDescription {
		f.Description = nf.Description
	}
	fs.mu.Unlock()
	return nil
}

func (fs *FieldSet) rename(ctx context.Context, exec store.Executor, installed bool, from string, to string) error {
	f, ok := fs.lookup(from)
	if !ok {
		return errors.Wrapf(rdb.ErrUnknownField, "field %q not in table %q", from, fs.table)
	}
	if from == to {
		return nil
	}
	if !query.ValidIdent(to) {
		return errors.Wrapf(rdb.ErrInvalidFieldSpec, "invalid field name %q", to)
	}
	if fs.Has(to) {
		return errors.Wrapf(rdb.ErrConflict, "field %q already exists on table %q", to, fs.table)
	}

	if installed {
		sql, params, err := query.RenameColumn(fs.table, from, to)
		if err != nil {
			return err
		}
		if _, err := exec.Execute(ctx, sql, params); err != nil {
			return err
		}
		fs.logger.InfoContext(ctx, "rename column", "table", fs.table, "from", from, "to", to)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	f.Name = to
	delete(fs.fields, from)
	fs.fields[to] = f
	for i, n := range fs.names {
		if n == from {
			fs.names[i] = to
			break
		}
	}
	return nil
}

func (fs *FieldSet) drop(ctx context.Context, exec store.Executor, installed bool, name string) error {
	if !fs.Has(name) {
		return errors.Wrapf(rdb.ErrUnknownField, "field %q not in table %q", name, fs.table)
	}
	if installed {
		if err := DropColumn(ctx, exec, fs.table, name); err != nil {
			return err
		}
		fs.logger.InfoContext(ctx, "drop column", "table", fs.table, "field", name)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.fields, name)
	for i, n := range fs.names {
		if n == name {
			fs.names = append(fs.names[:i:i], fs.names[i+1:]...)
			break
		}
	}
	return nil
}
