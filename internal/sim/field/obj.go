package field

import (
	"sync"

	"arcfield.gg/internal/protocol"
)

// ObjType partitions field objects into pools.
type ObjType int

const (
	ObjUser ObjType = iota
	ObjNPC
	ObjMob
	ObjDrop
	ObjReactor
)

func (t ObjType) String() string {
	switch t {
	case ObjUser:
		return "user"
	case ObjNPC:
		return "npc"
	case ObjMob:
		return "mob"
	case ObjDrop:
		return "drop"
	case ObjReactor:
		return "reactor"
	}
	return "unknown"
}

// Point is a field-local position.
type Point struct {
	X, Y int16
}

// FieldObj is anything placed in a field: a user session, an AI-driven life,
// or a passive object. The field back-reference is a liveness link only; the
// field owns the object's membership, never the reverse.
type FieldObj interface {
	ID() int64
	Type() ObjType
	Position() Point
	SetPosition(Point)
	Foothold() int16
	SetFoothold(int16)
	Field() *Field
	setField(*Field)
	EnterFieldPacket() []byte
	LeaveFieldPacket() []byte
}

// Obj is the embeddable base for all field object kinds.
type Obj struct {
	id  int64
	typ ObjType

	mu    sync.RWMutex
	pos   Point
	fh    int16
	field *Field
}

func NewObj(id int64, typ ObjType) *Obj {
	return &Obj{id: id, typ: typ}
}

func (o *Obj) ID() int64     { return o.id }
func (o *Obj) Type() ObjType { return o.typ }

func (o *Obj) Position() Point {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.pos
}

func (o *Obj) SetPosition(p Point) {
	o.mu.Lock()
	o.pos = p
	o.mu.Unlock()
}

func (o *Obj) Foothold() int16 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.fh
}

func (o *Obj) SetFoothold(fh int16) {
	o.mu.Lock()
	o.fh = fh
	o.mu.Unlock()
}

func (o *Obj) Field() *Field {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.field
}

func (o *Obj) setField(f *Field) {
	o.mu.Lock()
	o.field = f
	o.mu.Unlock()
}

// EnterFieldPacket builds the default "object entered" payload.
func (o *Obj) EnterFieldPacket() []byte {
	pos := o.Position()
	return protocol.NewWriter(protocol.OpObjEnterField).
		Byte(byte(o.typ)).
		Int64(o.id).
		Uint16(uint16(pos.X)).
		Uint16(uint16(pos.Y)).
		Uint16(uint16(o.Foothold())).
		Bytes()
}

// LeaveFieldPacket builds the default "left field" payload.
func (o *Obj) LeaveFieldPacket() []byte {
	return protocol.NewWriter(protocol.OpObjLeaveField).
		Byte(byte(o.typ)).
		Int64(o.id).
		Bytes()
}
