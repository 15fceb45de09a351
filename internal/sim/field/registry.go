package field

import (
	"fmt"
	"log"
	"sync"
)

// Registry looks fields up by template id, constructing each field lazily
// from its immutable template on first use.
type Registry struct {
	templates map[int32]*Template
	log       *log.Logger

	mu     sync.RWMutex
	fields map[int32]*Field
}

func NewRegistry(templates map[int32]*Template, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{
		templates: templates,
		log:       logger,
		fields:    make(map[int32]*Field),
	}
}

func (r *Registry) Field(id int32) (*Field, error) {
	r.mu.RLock()
	f, ok := r.fields[id]
	r.mu.RUnlock()
	if ok {
		return f, nil
	}

	tpl, ok := r.templates[id]
	if !ok {
		return nil, fmt.Errorf("field: unknown field id %d", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.fields[id]; ok {
		return f, nil
	}
	f = New(tpl, r.log)
	r.fields[id] = f
	return f, nil
}

// Template returns the immutable template for id without constructing the
// field.
func (r *Registry) Template(id int32) (*Template, bool) {
	tpl, ok := r.templates[id]
	return tpl, ok
}
