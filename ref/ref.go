// Package ref 按名称注册和查找构造函数
//
//	drivers := ref.NewRegistry[*Options, Store]("store")
//	drivers.MustRegister("sqlite3", NewSQLite)
//	s, err := drivers.New("sqlite3", options)
package ref

import (
	"reflect"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("constructor not found")

// Constructor 由配置创建对象
type Constructor[O any, T any] func(options O) (T, error)

// Registry 同一个 namespace 下名称到构造函数的映射
type Registry[O any, T any] struct {
	namespace string

	mu           sync.RWMutex
	constructors map[string]Constructor[O, T]
}

func NewRegistry[O any, T any](namespace string) *Registry[O, T] {
	return &Registry[O, T]{
		namespace:    namespace,
		constructors: map[string]Constructor[O, T]{},
	}
}

func (r *Registry[O, T]) Namespace() string {
	return r.namespace
}

// Register 同一个函数重复注册时忽略，不同函数注册同一个名称返回错误
func (r *Registry[O, T]) Register(name string, fn Constructor[O, T]) error {
	if fn == nil {
		return errors.Errorf("constructor for %s:%s is nil", r.namespace, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.constructors[name]; ok {
		if sameFunc(existing, fn) {
			return nil
		}
		return errors.Errorf("constructor for %s:%s already registered with different function", r.namespace, name)
	}
	r.constructors[name] = fn
	return nil
}

func (r *Registry[O, T]) MustRegister(name string, fn Constructor[O, T]) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

func (r *Registry[O, T]) New(name string, options O) (T, error) {
	r.mu.RLock()
	fn, ok := r.constructors[name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, errors.Wrapf(ErrNotFound, "%s:%s", r.namespace, name)
	}
	return fn(options)
}

// Names 已注册的名称，按字典序
func (r *Registry[O, T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sameFunc(f1, f2 any) bool {
	return reflect.ValueOf(f1).Pointer() == reflect.ValueOf(f2).Pointer()
}
