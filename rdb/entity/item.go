package entity

import (
	"context"
	"math"
	"reflect"
	"sync"
	"time"

	"github.com/hatlonely/simpcrm/log/logger"
	"github.com/hatlonely/simpcrm/rdb"
	"github.com/pkg/errors"
)

// Handler 从 store 合并数据时回调
type Handler func(value any)

type HandlerID uint64

type handlerEntry struct {
	id HandlerID
	fn Handler
}

// Item 一行数据的缓存，同一个 Entity 内每个主键只有一个实例
//
// 写操作直接写入 store；后台按固定间隔重新读取该行，并以最新值回调对应字段的 handler。
type Item struct {
	entity *Entity
	key    any
	logger logger.Logger

	mu        sync.Mutex
	data      rdb.Row
	lastEvent time.Time
	lastSync  time.Time
	handlers  map[string][]handlerEntry
	nextID    HandlerID
	closed    bool

	// dispatchMu 保证同一个 Item 的回调按顺序执行
	dispatchMu sync.Mutex
	done       chan struct{}
	closeOnce  sync.Once
}

func newItem(e *Entity, key any, row rdb.Row) *Item {
	now := time.Now()
	return &Item{
		entity:    e,
		key:       key,
		logger:    e.session.logger.With("component", "item", "table", e.table, "key", key),
		data:      row.Clone(),
		lastEvent: now,
		lastSync:  now,
		handlers:  map[string][]handlerEntry{},
		done:      make(chan struct{}),
	}
}

// start interval 小于等于 0 时不刷新
func (i *Item) start(interval time.Duration) {
	if interval <= 0 {
		return
	}
	go i.run(interval)
}

func (i *Item) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-i.done:
			return
		case <-ticker.C:
			i.tick()
		}
	}
}

func (i *Item) tick() {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("item refresh panic", "panic", r)
		}
	}()
	// 行被删除后继续刷新，不会关闭自己
	if err := i.Refresh(context.Background()); err != nil {
		i.logger.Warn("refresh item failed", "error", err)
	}
}

func (i *Item) Entity() *Entity {
	return i.entity
}

// Key 主键值，整数统一为 int64
func (i *Item) Key() any {
	return i.key
}

// Data 当前数据的副本
func (i *Item) Data() rdb.Row {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.data.Clone()
}

func (i *Item) Get(field string) (any, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	v, ok := i.data[field]
	return v, ok
}

// LastEvent 最近一次本地写入的时间
func (i *Item) LastEvent() time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastEvent
}

// LastSync 最近一次从 store 合并数据的时间
func (i *Item) LastSync() time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastSync
}

func (i *Item) Closed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closed
}

// Set 写入单个字段，不触发 handler
func (i *Item) Set(ctx context.Context, field string, value any) error {
	e := i.entity
	if !e.fields.Has(field) {
		return errors.Wrapf(rdb.ErrUnknownField, "field %q not in table %q", field, e.table)
	}
	pk, err := e.PrimaryKey(ctx)
	if err != nil {
		return err
	}
	if field == pk && !sameValue(itemKey(value), i.key) {
		return errors.Wrapf(rdb.ErrInvalidFieldSpec, "primary key %q of item %v is immutable", pk, i.key)
	}

	unlock := e.lock()
	defer unlock()
	if _, err := e.replaceLocked(ctx, rdb.Filter{pk: i.key}, rdb.Row{field: value}); err != nil {
		return err
	}

	i.mu.Lock()
	i.data[field] = value
	i.lastEvent = time.Now()
	i.mu.Unlock()
	return nil
}

// ChangedHandler 返回绑定到字段的 setter，用于界面控件的回写
func (i *Item) ChangedHandler(field string) func(value any) error {
	return func(value any) error {
		return i.Set(context.Background(), field, value)
	}
}

// Refresh 立即重新读取该行，行不存在时保留当前数据
func (i *Item) Refresh(ctx context.Context) error {
	e := i.entity
	pk, err := e.PrimaryKey(ctx)
	if err != nil {
		return err
	}

	unlock := e.lock()
	rows, err := e.selectLocked(ctx, rdb.Filter{pk: i.key}, nil)
	if err != nil {
		unlock()
		return err
	}
	var dispatch func()
	if len(rows) > 0 {
		dispatch = i.merge(rows[0])
	}
	unlock()

	if dispatch != nil {
		dispatch()
	}
	return nil
}

type call struct {
	fn    Handler
	value any
}

// merge 合并数据并返回需要在锁外执行的回调，已关闭时丢弃数据
func (i *Item) merge(row rdb.Row) func() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	for name, value := range row {
		i.data[name] = value
	}
	// 按字段声明顺序回调，行中存在且注册了 handler 的字段每次合并都会回调
	var calls []call
	for _, name := range i.entity.fields.Names() {
		value, ok := row[name]
		if !ok {
			continue
		}
		for _, h := range i.handlers[name] {
			calls = append(calls, call{fn: h.fn, value: value})
		}
	}
	i.lastSync = time.Now()
	i.mu.Unlock()

	if len(calls) == 0 {
		return nil
	}
	return func() {
		i.dispatchMu.Lock()
		defer i.dispatchMu.Unlock()
		for _, c := range calls {
			c.fn(c.value)
		}
	}
}

// renameField to 为空时删除该列
func (i *Item) renameField(from string, to string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	v, ok := i.data[from]
	if !ok {
		return
	}
	delete(i.data, from)
	if to != "" {
		i.data[to] = v
	}
	if hs, ok := i.handlers[from]; ok {
		delete(i.handlers, from)
		if to != "" {
			i.handlers[to] = append(i.handlers[to], hs...)
		}
	}
}

// SetHandler 注册回调，同一个函数可以注册多次；fn 为 nil 时不注册，返回 0
func (i *Item) SetHandler(field string, fn Handler) HandlerID {
	if fn == nil {
		return 0
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.nextID++
	i.handlers[field] = append(i.handlers[field], handlerEntry{id: i.nextID, fn: fn})
	return i.nextID
}

func (i *Item) RemoveHandler(field string, id HandlerID) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	hs := i.handlers[field]
	for n, h := range hs {
		if h.id == id {
			i.handlers[field] = append(hs[:n:n], hs[n+1:]...)
			if len(i.handlers[field]) == 0 {
				delete(i.handlers, field)
			}
			return true
		}
	}
	return false
}

// Close 停止后台刷新，可重复调用
func (i *Item) Close() {
	i.closeOnce.Do(func() {
		i.mu.Lock()
		i.closed = true
		i.mu.Unlock()
		close(i.done)
		i.entity.forget(i)
	})
}

// itemKey 统一整数类型，保证同一行只对应一个 Item
func itemKey(v any) any {
	switch k := v.(type) {
	case int:
		return int64(k)
	case int8:
		return int64(k)
	case int16:
		return int64(k)
	case int32:
		return int64(k)
	case uint:
		return uintKey(uint64(k))
	case uint8:
		return int64(k)
	case uint16:
		return int64(k)
	case uint32:
		return int64(k)
	case uint64:
		return uintKey(k)
	case float32:
		return float64(k)
	case []byte:
		return string(k)
	}
	return v
}

// uintKey 超出 int64 范围时保留 uint64
func uintKey(k uint64) any {
	if k > math.MaxInt64 {
		return k
	}
	return int64(k)
}

func sameValue(a any, b any) bool {
	a, b = itemKey(a), itemKey(b)
	if af, ok := a.(float64); ok {
		if bi, ok := b.(int64); ok {
			return af == float64(bi)
		}
	}
	if ai, ok := a.(int64); ok {
		if bf, ok := b.(float64); ok {
			return float64(ai) == bf
		}
	}
	return reflect.DeepEqual(a, b)
}
