package field

import (
	"sort"
	"sync"

	"github.com/hatlonely/simpcrm/log/logger"
	"github.com/hatlonely/simpcrm/rdb"
	"github.com/hatlonely/simpcrm/rdb/query"
	"github.com/pkg/errors"
)

// Registry 一个 store 下 table -> FieldSet，保证每张表只有一个 FieldSet
type Registry struct {
	logger logger.Logger

	mu   sync.Mutex
	sets map[string]*FieldSet
}

func NewRegistry(log logger.Logger) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{
		logger: log.With("component", "field"),
		sets:   map[string]*FieldSet{},
	}
}

// GetOrCreate 表已注册时返回已有的 FieldSet，specs 为空视为查询；
// specs 中字段未声明或类型不同返回 ErrConflict，且不修改已有状态
func (r *Registry) GetOrCreate(table string, specs []Spec) (*FieldSet, bool, error) {
	if !query.ValidIdent(table) {
		return nil, false, errors.Wrapf(rdb.ErrInvalidFieldSpec, "invalid table name %q", table)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if fs, ok := r.sets[table]; ok {
		if err := fs.conflicts(specs); err != nil {
			return nil, true, err
		}
		return fs, true, nil
	}

	fs := newFieldSet(table, r.logger)
	for _, spec := range specs {
		if err := fs.add(spec); err != nil {
			return nil, false, err
		}
	}
	r.sets[table] = fs
	return fs, false, nil
}

func (r *Registry) Get(table string) (*FieldSet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fs, ok := r.sets[table]
	return fs, ok
}

// Evict 卸载表之后丢弃对应的 FieldSet
func (r *Registry) Evict(table string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sets, table)
}

func (r *Registry) Tables() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	tables := make([]string, 0, len(r.sets))
	for table := range r.sets {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	return tables
}
