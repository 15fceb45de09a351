package field

import (
	"errors"
	"sort"
	"sync"
)

var (
	// ErrAlreadyInPool is returned by Enter for an object that is already a
	// member. Duplicate admission is a logic bug upstream, so it is rejected
	// rather than ignored.
	ErrAlreadyInPool = errors.New("field: object already in pool")
	// ErrNotInPool is returned by Leave for an object that is not a member.
	// Leave races with teardown, so callers treat this as non-fatal.
	ErrNotInPool = errors.New("field: object not in pool")
)

// ObjectPool holds the live membership set of one object kind within a field.
// Safe for concurrent mutation and iteration: Snapshot returns a copy that
// later Enter/Leave calls never touch.
type ObjectPool struct {
	mu      sync.RWMutex
	objects map[int64]FieldObj
}

func NewObjectPool() *ObjectPool {
	return &ObjectPool{objects: make(map[int64]FieldObj)}
}

func (p *ObjectPool) Enter(obj FieldObj) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.objects[obj.ID()]; ok {
		return ErrAlreadyInPool
	}
	p.objects[obj.ID()] = obj
	return nil
}

func (p *ObjectPool) Leave(obj FieldObj) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.objects[obj.ID()]; !ok {
		return ErrNotInPool
	}
	delete(p.objects, obj.ID())
	return nil
}

func (p *ObjectPool) Get(id int64) (FieldObj, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	obj, ok := p.objects[id]
	return obj, ok
}

func (p *ObjectPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.objects)
}

// Snapshot returns a point-in-time member list, ordered by id for stable
// iteration.
func (p *ObjectPool) Snapshot() []FieldObj {
	p.mu.RLock()
	out := make([]FieldObj, 0, len(p.objects))
	for _, obj := range p.objects {
		out = append(out, obj)
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
