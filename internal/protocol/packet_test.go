package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestWriterReader_RoundTrip(t *testing.T) {
	p := NewWriter(OpTransferField).
		Int32(100000001).
		String("east_gate").
		Bool(true).
		Int64(42).
		Bytes()

	r := NewReader(p)
	op, err := r.Opcode()
	if err != nil || op != OpTransferField {
		t.Fatalf("opcode: %v %v", op, err)
	}
	id, err := r.Int32()
	if err != nil || id != 100000001 {
		t.Fatalf("int32: %v %v", id, err)
	}
	s, err := r.String()
	if err != nil || s != "east_gate" {
		t.Fatalf("string: %q %v", s, err)
	}
	b, err := r.Byte()
	if err != nil || b != 1 {
		t.Fatalf("bool byte: %v %v", b, err)
	}
	v, err := r.Int64()
	if err != nil || v != 42 {
		t.Fatalf("int64: %v %v", v, err)
	}
}

func TestReader_ShortPacket(t *testing.T) {
	r := NewReader([]byte{0x30, 0x01})
	if _, err := r.Opcode(); err != nil {
		t.Fatalf("opcode: %v", err)
	}
	if _, err := r.Int32(); !errors.Is(err, ErrShortPacket) {
		t.Fatalf("want ErrShortPacket, got %v", err)
	}
}

func TestMigrateCommand_ByteLayout(t *testing.T) {
	got, err := MigrateCommand("10.0.0.2", 8080)
	if err != nil {
		t.Fatalf("migrate command: %v", err)
	}
	want := []byte{1, 10, 0, 0, 2, 0x1F, 0x90}
	if !bytes.Equal(got, want) {
		t.Fatalf("payload = %v, want %v", got, want)
	}
}

func TestMigrateCommand_RejectsNonIPv4(t *testing.T) {
	if _, err := MigrateCommand("::1", 8080); err == nil {
		t.Fatalf("expected error for IPv6 host")
	}
}
