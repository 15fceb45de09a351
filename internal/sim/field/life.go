package field

import "sync"

// Controlled is implemented by AI-driven objects whose behavior is delegated
// to one connected user session.
type Controlled interface {
	FieldObj
	Controller() *User
	SetController(*User)
}

// ControlledLife is a mob-like entity eligible for delegated authority. The
// controller reference is a non-owning liveness link, recomputed whenever
// field population changes.
type ControlledLife struct {
	*Obj

	templateID int32

	mu         sync.RWMutex
	controller *User
}

func NewControlledLife(id int64, typ ObjType, templateID int32) *ControlledLife {
	return &ControlledLife{Obj: NewObj(id, typ), templateID: templateID}
}

func (l *ControlledLife) TemplateID() int32 { return l.templateID }

func (l *ControlledLife) Controller() *User {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.controller
}

func (l *ControlledLife) SetController(u *User) {
	l.mu.Lock()
	l.controller = u
	l.mu.Unlock()
}
