package field

import (
	"errors"
	"sync"

	"arcfield.gg/internal/protocol"
)

// Transport delivers one encoded packet to one connected client. Failures
// are per-recipient; a broken transport never affects other sessions.
type Transport interface {
	SendPacket(p []byte) error
}

// ErrNoTransport is returned when sending to a user whose session is gone.
var ErrNoTransport = errors.New("field: user has no transport")

// User is a connected client session placed in a field, linked to exactly
// one character.
type User struct {
	*Obj

	character *Character

	mu           sync.Mutex
	transport    Transport
	instantiated bool
	disposers    []func()
}

func NewUser(char *Character, transport Transport) *User {
	return &User{
		Obj:       NewObj(char.ID, ObjUser),
		character: char,
		transport: transport,
	}
}

func (u *User) Character() *Character { return u.character }

func (u *User) SendPacket(p []byte) error {
	u.mu.Lock()
	t := u.transport
	u.mu.Unlock()
	if t == nil {
		return ErrNoTransport
	}
	return t.SendPacket(p)
}

// Instantiated reports whether the user has completed first field entry.
func (u *User) Instantiated() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.instantiated
}

// markInstantiated runs at most once per user; re-entries do not repeat
// one-time instantiation side effects.
func (u *User) markInstantiated() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.instantiated {
		return false
	}
	u.instantiated = true
	return true
}

// OnDispose registers session-scoped cleanup run when the user leaves a
// field or the session tears down.
func (u *User) OnDispose(fn func()) {
	u.mu.Lock()
	u.disposers = append(u.disposers, fn)
	u.mu.Unlock()
}

// Dispose releases resources tied to field membership. Idempotent: each
// registered cleanup runs once.
func (u *User) Dispose() {
	u.mu.Lock()
	fns := u.disposers
	u.disposers = nil
	u.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// SetFieldPacket builds the private "initialize/set-field" payload sent only
// to this user.
func (u *User) SetFieldPacket() []byte {
	pos := u.Position()
	return protocol.NewWriter(protocol.OpSetField).
		Int32(u.character.FieldID).
		Int64(u.ID()).
		Uint16(uint16(pos.X)).
		Uint16(uint16(pos.Y)).
		Uint16(uint16(u.Foothold())).
		Bytes()
}
