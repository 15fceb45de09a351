package field

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
)

// ErrNoSpawnLocation is a configuration error: the template cannot place the
// entering user. The enter attempt is rejected without admitting the object.
var ErrNoSpawnLocation = errors.New("field: no resolvable spawn location")

// PortalRef selects the spawn portal for an Enter. The zero value means
// "resolve from character bookkeeping, falling back to the spawn portal".
type PortalRef struct {
	kind portalRefKind
	id   byte
	name string
}

type portalRefKind int

const (
	refDefault portalRefKind = iota
	refID
	refName
)

func PortalByID(id byte) PortalRef { return PortalRef{kind: refID, id: id} }

func PortalByName(name string) PortalRef { return PortalRef{kind: refName, name: name} }

// Field is one spatial instance: a set of per-kind object pools coordinated
// for membership, visibility, and delegated authority. There is no field-wide
// lock; each pool guards its own membership and broadcasts fan out over
// snapshots.
type Field struct {
	template *Template
	log      *log.Logger

	mu    sync.RWMutex
	pools map[ObjType]*ObjectPool
}

func New(template *Template, logger *log.Logger) *Field {
	if logger == nil {
		logger = log.Default()
	}
	return &Field{
		template: template,
		log:      logger,
		pools:    make(map[ObjType]*ObjectPool),
	}
}

func (f *Field) ID() int32           { return f.template.ID }
func (f *Field) Template() *Template { return f.template }

// Pool returns the pool for one object kind, creating it on first use.
func (f *Field) Pool(typ ObjType) *ObjectPool {
	f.mu.RLock()
	p, ok := f.pools[typ]
	f.mu.RUnlock()
	if ok {
		return p
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.pools[typ]; ok {
		return p
	}
	p = NewObjectPool()
	f.pools[typ] = p
	return p
}

// Objects returns a point-in-time snapshot across all pools.
func (f *Field) Objects() []FieldObj {
	f.mu.RLock()
	pools := make([]*ObjectPool, 0, len(f.pools))
	for _, p := range f.pools {
		pools = append(pools, p)
	}
	f.mu.RUnlock()

	var out []FieldObj
	for _, p := range pools {
		out = append(out, p.Snapshot()...)
	}
	return out
}

// Object looks one object up by id across all pools.
func (f *Field) Object(id int64) (FieldObj, bool) {
	for _, obj := range f.Objects() {
		if obj.ID() == id {
			return obj, true
		}
	}
	return nil, false
}

// Users returns a snapshot of the connected user sessions in the field.
func (f *Field) Users() []*User {
	snap := f.Pool(ObjUser).Snapshot()
	out := make([]*User, 0, len(snap))
	for _, obj := range snap {
		if u, ok := obj.(*User); ok {
			out = append(out, u)
		}
	}
	return out
}

// Enter admits obj with default spawn resolution and the object's default
// enter packet.
func (f *Field) Enter(obj FieldObj) error {
	return f.EnterAt(obj, PortalRef{}, nil)
}

// EnterAt admits obj into this field. If obj currently resides in another
// field it leaves there first; relocation is one logical operation for the
// caller. For users the spawn portal is resolved before anything is mutated,
// so a configuration error rejects the attempt without partial admission.
func (f *Field) EnterAt(obj FieldObj, at PortalRef, enterPacket func() []byte) error {
	user, isUser := obj.(*User)

	var portal Portal
	var foothold int16
	if isUser {
		var err error
		portal, err = f.resolveSpawnPortal(user, at)
		if err != nil {
			return err
		}
		foothold, err = f.resolveFoothold(portal)
		if err != nil {
			return err
		}
	}

	if old := obj.Field(); old != nil {
		if err := old.Leave(obj); err != nil && !errors.Is(err, ErrNotInPool) {
			return err
		}
	}

	obj.setField(f)
	if err := f.Pool(obj.Type()).Enter(obj); err != nil {
		obj.setField(nil)
		return err
	}

	if isUser {
		user.SetPosition(Point{X: portal.X, Y: portal.Y})
		user.SetFoothold(foothold)
		user.character.FieldID = f.ID()

		if err := user.SendPacket(user.SetFieldPacket()); err != nil {
			f.log.Printf("field %d: set-field send to user %d: %v", f.ID(), user.ID(), err)
		}

		pkt := user.EnterFieldPacket()
		if enterPacket != nil {
			pkt = enterPacket()
		}
		f.broadcast(pkt, user)

		user.markInstantiated()

		// Catch-up snapshot: the new user sees every pre-existing object once.
		for _, o := range f.Objects() {
			if o == FieldObj(user) {
				continue
			}
			if err := user.SendPacket(o.EnterFieldPacket()); err != nil {
				f.log.Printf("field %d: catch-up send to user %d: %v", f.ID(), user.ID(), err)
				break
			}
		}
	} else {
		pkt := obj.EnterFieldPacket()
		if enterPacket != nil {
			pkt = enterPacket()
		}
		f.broadcast(pkt, nil)
	}

	f.UpdateControlledObjects()
	return nil
}

// Leave removes obj with the object's default leave packet.
func (f *Field) Leave(obj FieldObj) error {
	return f.LeaveWith(obj, nil)
}

// LeaveWith removes obj from the field. Leaving an object that is not a
// member returns ErrNotInPool, which callers treat as non-fatal because
// leave races with teardown.
func (f *Field) LeaveWith(obj FieldObj, leavePacket func() []byte) error {
	if user, ok := obj.(*User); ok {
		user.Dispose()
		f.broadcast(user.LeaveFieldPacket(), user)
	} else {
		pkt := obj.LeaveFieldPacket()
		if leavePacket != nil {
			pkt = leavePacket()
		}
		f.broadcast(pkt, nil)
	}

	err := f.Pool(obj.Type()).Leave(obj)
	obj.setField(nil)
	f.UpdateControlledObjects()
	return err
}

// BroadcastPacket delivers p to every connected user in the field.
func (f *Field) BroadcastPacket(p []byte) {
	f.broadcast(p, nil)
}

// BroadcastPacketFrom delivers p to every connected user except source.
func (f *Field) BroadcastPacketFrom(source FieldObj, p []byte) {
	f.broadcast(p, source)
}

// broadcast fans out concurrently; each recipient's send is independent and
// a failure on one never blocks or fails the rest.
func (f *Field) broadcast(p []byte, exclude FieldObj) {
	users := f.Users()
	var wg sync.WaitGroup
	for _, u := range users {
		if exclude != nil && FieldObj(u) == exclude {
			continue
		}
		wg.Add(1)
		go func(u *User) {
			defer wg.Done()
			if err := u.SendPacket(p); err != nil {
				f.log.Printf("field %d: broadcast to user %d: %v", f.ID(), u.ID(), err)
			}
		}(u)
	}
	wg.Wait()
}

// UpdateControlledObjects reassigns delegated authority. Every controlled
// object whose controller is gone (or was never set) gets the first entry of
// a shuffled candidate list, or nil when the field has no users. Pure
// liveness maintenance: valid controllers are never migrated away.
func (f *Field) UpdateControlledObjects() {
	users := f.Users()
	rand.Shuffle(len(users), func(i, j int) {
		users[i], users[j] = users[j], users[i]
	})

	connected := make(map[*User]bool, len(users))
	for _, u := range users {
		connected[u] = true
	}

	var next *User
	if len(users) > 0 {
		next = users[0]
	}

	for _, obj := range f.Objects() {
		c, ok := obj.(Controlled)
		if !ok {
			continue
		}
		if cur := c.Controller(); cur == nil || !connected[cur] {
			c.SetController(next)
		}
	}
}

func (f *Field) resolveSpawnPortal(user *User, at PortalRef) (Portal, error) {
	switch at.kind {
	case refID:
		p, ok := f.template.Portal(at.id)
		if !ok {
			return Portal{}, fmt.Errorf("%w: field %d has no portal id %d", ErrNoSpawnLocation, f.ID(), at.id)
		}
		return p, nil
	case refName:
		p, ok := f.template.PortalByName(at.name)
		if !ok {
			return Portal{}, fmt.Errorf("%w: field %d has no portal named %q", ErrNoSpawnLocation, f.ID(), at.name)
		}
		return p, nil
	}
	if p, ok := f.template.Portal(user.character.FieldPortal); ok {
		return p, nil
	}
	if p, ok := f.template.SpawnPortal(); ok {
		return p, nil
	}
	return Portal{}, fmt.Errorf("%w: field %d has no spawn portal", ErrNoSpawnLocation, f.ID())
}

func (f *Field) resolveFoothold(portal Portal) (int16, error) {
	if portal.Type == PortalSpawn {
		return 0, nil
	}
	fh, ok := f.template.FootholdUnder(portal.X)
	if !ok {
		return 0, fmt.Errorf("%w: field %d has no foothold under portal %d (x=%d)",
			ErrNoSpawnLocation, f.ID(), portal.ID, portal.X)
	}
	return fh.ID, nil
}
