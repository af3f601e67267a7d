// Package pool provides a typed object pool with lifecycle callbacks, backed
// by go-commons-pool.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	commons "github.com/jolestar/go-commons-pool/v2"
)

var (
	// ErrAlreadyReleased is returned by Release when CollectionCheck is on and
	// the item is already in the pool.
	ErrAlreadyReleased = errors.New("pool: item already released")
	// ErrUnknownItem is returned by Release for an item this pool never
	// created, or one it has since destroyed.
	ErrUnknownItem = errors.New("pool: item does not belong to this pool")
	// ErrNoCreate is returned by New when Config.Create is nil.
	ErrNoCreate = errors.New("pool: create function is required")
)

const defaultMaxSize = 10000

// Config describes how a Pool creates and recycles items. Items are tracked
// by identity, so T should be a pointer or another type whose values are
// distinct per item.
type Config[T comparable] struct {
	Create    func() T
	OnGet     func(T)
	OnRelease func(T)
	OnDestroy func(T)

	// DefaultCapacity items are created up front.
	DefaultCapacity int
	// MaxSize bounds the number of inactive items kept; extras are destroyed.
	MaxSize int
	// CollectionCheck reports releasing an item that is already pooled. Without
	// it the duplicate release is ignored.
	CollectionCheck bool
}

// Pool hands out recycled items, most recently released first. It is safe
// for concurrent use.
type Pool[T comparable] struct {
	cfg     Config[T]
	ctx     context.Context
	objects *commons.ObjectPool

	mu    sync.Mutex
	owned map[T]struct{}
}

// New creates a pool and pre-fills it with DefaultCapacity items.
func New[T comparable](cfg Config[T]) (*Pool[T], error) {
	if cfg.Create == nil {
		return nil, ErrNoCreate
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaultMaxSize
	}
	if cfg.DefaultCapacity > cfg.MaxSize {
		cfg.DefaultCapacity = cfg.MaxSize
	}

	p := &Pool[T]{
		cfg:   cfg,
		ctx:   context.Background(),
		owned: make(map[T]struct{}, cfg.DefaultCapacity),
	}

	poolCfg := commons.NewDefaultPoolConfig()
	poolCfg.LIFO = true
	poolCfg.MaxTotal = -1
	poolCfg.MaxIdle = cfg.MaxSize
	poolCfg.MinIdle = 0
	poolCfg.TimeBetweenEvictionRuns = 0
	p.objects = commons.NewObjectPool(p.ctx, factory[T]{pool: p}, poolCfg)

	for i := 0; i < cfg.DefaultCapacity; i++ {
		if err := p.objects.AddObject(p.ctx); err != nil {
			return nil, fmt.Errorf("pool: prefill: %w", err)
		}
	}
	return p, nil
}

// Get returns the most recently released item, or a new one.
func (p *Pool[T]) Get() (T, error) {
	obj, err := p.objects.BorrowObject(p.ctx)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("pool: get: %w", err)
	}
	return obj.(T), nil
}

// Release returns item to the pool. When the pool already holds MaxSize
// inactive items the item is destroyed instead.
func (p *Pool[T]) Release(item T) error {
	if !p.owns(item) {
		return ErrUnknownItem
	}
	if err := p.objects.ReturnObject(p.ctx, item); err != nil {
		if p.cfg.CollectionCheck {
			return fmt.Errorf("%w: %v", ErrAlreadyReleased, err)
		}
	}
	return nil
}

// Clear destroys every inactive item. Active items stay counted until they
// are released.
func (p *Pool[T]) Clear() {
	p.objects.Clear(p.ctx)
}

// CountAll returns the number of items created and not yet destroyed.
func (p *Pool[T]) CountAll() int {
	return p.objects.GetNumActive() + p.objects.GetNumIdle()
}

// CountInactive returns the number of items waiting in the pool.
func (p *Pool[T]) CountInactive() int {
	return p.objects.GetNumIdle()
}

// CountActive returns the number of items handed out.
func (p *Pool[T]) CountActive() int {
	return p.objects.GetNumActive()
}

func (p *Pool[T]) owns(item T) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.owned[item]
	return ok
}

// factory adapts Config callbacks to the commons lifecycle.
type factory[T comparable] struct {
	pool *Pool[T]
}

func (f factory[T]) MakeObject(context.Context) (*commons.PooledObject, error) {
	item := f.pool.cfg.Create()
	f.pool.mu.Lock()
	f.pool.owned[item] = struct{}{}
	f.pool.mu.Unlock()
	return commons.NewPooledObject(item), nil
}

func (f factory[T]) DestroyObject(_ context.Context, obj *commons.PooledObject) error {
	item := obj.Object.(T)
	f.pool.mu.Lock()
	delete(f.pool.owned, item)
	f.pool.mu.Unlock()
	if f.pool.cfg.OnDestroy != nil {
		f.pool.cfg.OnDestroy(item)
	}
	return nil
}

func (f factory[T]) ValidateObject(context.Context, *commons.PooledObject) bool {
	return true
}

func (f factory[T]) ActivateObject(_ context.Context, obj *commons.PooledObject) error {
	if f.pool.cfg.OnGet != nil {
		f.pool.cfg.OnGet(obj.Object.(T))
	}
	return nil
}

func (f factory[T]) PassivateObject(_ context.Context, obj *commons.PooledObject) error {
	if f.pool.cfg.OnRelease != nil {
		f.pool.cfg.OnRelease(obj.Object.(T))
	}
	return nil
}
