// Package log writes compressed JSONL operational logs: packet traffic and
// migration audit entries, one file per hour.
package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := time.Now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// TrafficEntry records one packet sent to or received from a session.
type TrafficEntry struct {
	Time      time.Time `json:"time"`
	Session   string    `json:"session"`
	Character int64     `json:"character,omitempty"`
	Dir       string    `json:"dir"` // "in" or "out"
	Opcode    byte      `json:"opcode"`
	Size      int       `json:"size"`
}

// TrafficLogger writes one JSONL entry per packet (compressed).
type TrafficLogger struct{ w *JSONLZstdWriter }

func NewTrafficLogger(dataDir string) *TrafficLogger {
	return &TrafficLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "traffic"), "packets")}
}

func (l *TrafficLogger) WritePacket(e TrafficEntry) error { return l.w.Write(e) }
func (l *TrafficLogger) Close() error                     { return l.w.Close() }

// MigrationEntry records one migration protocol transition for audit.
type MigrationEntry struct {
	Time        time.Time `json:"time"`
	CharacterID int64     `json:"character_id"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Op          string    `json:"op"` // "initiate" or "complete"
	OK          bool      `json:"ok"`
}

// MigrationLogger writes migration audit JSONL entries (compressed).
type MigrationLogger struct{ w *JSONLZstdWriter }

func NewMigrationLogger(dataDir string) *MigrationLogger {
	return &MigrationLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "audit"), "migration")}
}

func (l *MigrationLogger) WriteMigration(e MigrationEntry) error { return l.w.Write(e) }
func (l *MigrationLogger) Close() error                          { return l.w.Close() }
