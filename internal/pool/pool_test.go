package pool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type projectile struct {
	id     int
	active bool
}

func newProjectilePool(t *testing.T, capacity, max int, check bool) (*Pool[*projectile], *int) {
	t.Helper()
	created, destroyed := 0, 0
	p, err := New(Config[*projectile]{
		Create: func() *projectile {
			created++
			return &projectile{id: created}
		},
		OnGet:           func(pr *projectile) { pr.active = true },
		OnRelease:       func(pr *projectile) { pr.active = false },
		OnDestroy:       func(*projectile) { destroyed++ },
		DefaultCapacity: capacity,
		MaxSize:         max,
		CollectionCheck: check,
	})
	require.NoError(t, err)
	return p, &destroyed
}

func get(t *testing.T, p *Pool[*projectile]) *projectile {
	t.Helper()
	item, err := p.Get()
	require.NoError(t, err)
	return item
}

func TestNewRequiresCreate(t *testing.T) {
	_, err := New(Config[*projectile]{})
	assert.ErrorIs(t, err, ErrNoCreate)
}

func TestPrefillAndReuse(t *testing.T) {
	p, _ := newProjectilePool(t, 2, 5, false)
	assert.Equal(t, 2, p.CountAll())
	assert.Equal(t, 2, p.CountInactive())

	a := get(t, p)
	assert.True(t, a.active)
	assert.Equal(t, 1, p.CountActive())

	require.NoError(t, p.Release(a))
	assert.False(t, a.active)

	b := get(t, p)
	assert.Same(t, a, b, "most recently released item is reused")
	assert.Equal(t, 2, p.CountAll())
}

func TestGetCreatesWhenEmpty(t *testing.T) {
	p, _ := newProjectilePool(t, 0, 5, false)
	a := get(t, p)
	b := get(t, p)
	assert.NotSame(t, a, b)
	assert.Equal(t, 2, p.CountAll())
	assert.Equal(t, 2, p.CountActive())
	assert.Equal(t, 0, p.CountInactive())
}

func TestReleaseBeyondMaxSizeDestroys(t *testing.T) {
	p, destroyed := newProjectilePool(t, 0, 1, false)
	a, b := get(t, p), get(t, p)

	require.NoError(t, p.Release(a))
	require.NoError(t, p.Release(b))

	assert.Equal(t, 1, *destroyed)
	assert.Equal(t, 1, p.CountInactive())
	assert.Equal(t, 1, p.CountAll())
}

func TestCollectionCheck(t *testing.T) {
	p, _ := newProjectilePool(t, 0, 5, true)
	a := get(t, p)
	require.NoError(t, p.Release(a))
	assert.ErrorIs(t, p.Release(a), ErrAlreadyReleased)
	assert.Equal(t, 1, p.CountInactive())

	again := get(t, p)
	require.NoError(t, p.Release(again), "item handed out again may be released again")
}

func TestReleaseRejectsForeignItems(t *testing.T) {
	tests := []struct {
		name  string
		check bool
	}{
		{"with collection check", true},
		{"without collection check", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newProjectilePool(t, 1, 5, tt.check)

			assert.ErrorIs(t, p.Release(&projectile{id: 99}), ErrUnknownItem)
			assert.Equal(t, 0, p.CountActive())
			assert.Equal(t, 1, p.CountInactive())
			assert.Equal(t, 1, p.CountAll())
		})
	}
}

func TestReleaseAfterDestroyIsRejected(t *testing.T) {
	p, destroyed := newProjectilePool(t, 0, 1, false)
	a, b := get(t, p), get(t, p)
	require.NoError(t, p.Release(a))
	require.NoError(t, p.Release(b))
	require.Equal(t, 1, *destroyed)

	assert.ErrorIs(t, p.Release(b), ErrUnknownItem)
	assert.Equal(t, 0, p.CountActive())
	assert.Equal(t, 1, p.CountAll())
}

func TestClear(t *testing.T) {
	p, destroyed := newProjectilePool(t, 3, 5, true)
	held := get(t, p)

	p.Clear()
	assert.Equal(t, 2, *destroyed)
	assert.Equal(t, 0, p.CountInactive())
	assert.Equal(t, 1, p.CountAll())

	require.NoError(t, p.Release(held))
	assert.Equal(t, 1, p.CountInactive())
}

func TestConcurrentUse(t *testing.T) {
	var mu sync.Mutex
	next := 0
	p, err := New(Config[*projectile]{
		Create: func() *projectile {
			mu.Lock()
			defer mu.Unlock()
			next++
			return &projectile{id: next}
		},
		MaxSize:         64,
		CollectionCheck: true,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				item, err := p.Get()
				if !assert.NoError(t, err) {
					return
				}
				assert.NoError(t, p.Release(item))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, p.CountActive())
	assert.LessOrEqual(t, p.CountInactive(), 16)
}
