package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// In-game packets are opaque byte payloads; the first byte is the opcode.
// Multi-byte integers are big-endian, fixed by the transport convention.
type Opcode byte

const (
	// server -> client
	OpSetField       Opcode = 0x10
	OpObjEnterField  Opcode = 0x11
	OpObjLeaveField  Opcode = 0x12
	OpMigrateCommand Opcode = 0x13

	// client -> server
	OpUserMove       Opcode = 0x30
	OpTransferField  Opcode = 0x31
	OpMigrateRequest Opcode = 0x32
)

var ErrShortPacket = errors.New("protocol: short packet")

// Writer builds an outbound payload.
type Writer struct {
	buf []byte
}

func NewWriter(op Opcode) *Writer {
	return &Writer{buf: []byte{byte(op)}}
}

func (w *Writer) Byte(v byte) *Writer {
	w.buf = append(w.buf, v)
	return w
}

func (w *Writer) Bool(v bool) *Writer {
	b := byte(0)
	if v {
		b = 1
	}
	return w.Byte(b)
}

func (w *Writer) Uint16(v uint16) *Writer {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
	return w
}

func (w *Writer) Int32(v int32) *Writer {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(v))
	return w
}

func (w *Writer) Int64(v int64) *Writer {
	w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v))
	return w
}

func (w *Writer) String(s string) *Writer {
	w.Uint16(uint16(len(s)))
	w.buf = append(w.buf, s...)
	return w
}

func (w *Writer) Bytes() []byte { return w.buf }

// Reader decodes an inbound payload.
type Reader struct {
	buf []byte
	off int
}

func NewReader(b []byte) *Reader { return &Reader{buf: b} }

func (r *Reader) remaining() int { return len(r.buf) - r.off }

func (r *Reader) Opcode() (Opcode, error) {
	b, err := r.Byte()
	return Opcode(b), err
}

func (r *Reader) Byte() (byte, error) {
	if r.remaining() < 1 {
		return 0, ErrShortPacket
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *Reader) Uint16() (uint16, error) {
	if r.remaining() < 2 {
		return 0, ErrShortPacket
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *Reader) Int32() (int32, error) {
	if r.remaining() < 4 {
		return 0, ErrShortPacket
	}
	v := int32(binary.BigEndian.Uint32(r.buf[r.off:]))
	r.off += 4
	return v, nil
}

func (r *Reader) Int64() (int64, error) {
	if r.remaining() < 8 {
		return 0, ErrShortPacket
	}
	v := int64(binary.BigEndian.Uint64(r.buf[r.off:]))
	r.off += 8
	return v, nil
}

func (r *Reader) String() (string, error) {
	n, err := r.Uint16()
	if err != nil {
		return "", err
	}
	if r.remaining() < int(n) {
		return "", fmt.Errorf("%w: string of %d bytes", ErrShortPacket, n)
	}
	s := string(r.buf[r.off : r.off+int(n)])
	r.off += int(n)
	return s, nil
}
