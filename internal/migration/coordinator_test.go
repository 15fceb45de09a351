package migration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"arcfield.gg/internal/cache"
	"arcfield.gg/internal/sim/field"
)

type fakeTransport struct {
	mu      sync.Mutex
	packets [][]byte
}

func (t *fakeTransport) SendPacket(p []byte) error {
	t.mu.Lock()
	t.packets = append(t.packets, p)
	t.mu.Unlock()
	return nil
}

type fakeStore struct {
	mu        sync.Mutex
	byService map[string][]int64
	saved     []*field.Account
}

func (s *fakeStore) AccountIDsByLatestService(_ context.Context, service string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byService[service], nil
}

func (s *fakeStore) SaveAccount(_ context.Context, acc *field.Account) error {
	s.mu.Lock()
	s.saved = append(s.saved, acc)
	s.mu.Unlock()
	return nil
}

type errClient struct{}

func (errClient) Exists(context.Context, string) (bool, error) {
	return false, fmt.Errorf("cache unreachable")
}
func (errClient) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, fmt.Errorf("cache unreachable")
}
func (errClient) Set(context.Context, string, []byte, time.Duration) error {
	return fmt.Errorf("cache unreachable")
}
func (errClient) Remove(context.Context, string) error { return fmt.Errorf("cache unreachable") }
func (errClient) RemoveAll(context.Context, []string) error {
	return fmt.Errorf("cache unreachable")
}

func testChar() *field.Character {
	return &field.Character{
		ID:        7,
		AccountID: 3,
		Account:   &field.Account{ID: 3, Name: "alice"},
		Name:      "Mira",
	}
}

func testRig(now *time.Time) (*Coordinator, *cache.Memory, *fakeStore) {
	c := cache.NewMemoryWithClock(func() time.Time { return *now })
	store := &fakeStore{byService: map[string][]int64{}}
	coord := NewCoordinator(
		ServiceInfo{Name: "game-1", Host: "10.0.0.1", Port: 8080},
		c, store, 15*time.Second, log.New(io.Discard, "", 0),
	)
	return coord, c, store
}

func TestMigration_EndToEnd(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(5000, 0)
	coord, mem, _ := testRig(&now)
	char := testChar()
	sess := &fakeTransport{}
	target := ServiceInfo{Name: "game-2", Host: "10.0.0.2", Port: 8080}

	ok, err := coord.InitiateMigration(ctx, sess, char, target, nil)
	if err != nil || !ok {
		t.Fatalf("initiate: ok=%v err=%v", ok, err)
	}

	// Soft lock + pending record.
	if raw, found, _ := mem.Get(ctx, accountStateKey(3)); !found || AccountState(raw) != StateMigratingIn {
		t.Fatalf("account state = %q found=%v, want MIGRATING_IN", raw, found)
	}
	raw, found, _ := mem.Get(ctx, migrationKey(7))
	if !found {
		t.Fatalf("migration record missing")
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec.FromService != "game-1" || rec.ToService != "game-2" {
		t.Fatalf("record = %+v", rec)
	}

	// Client got the default migrate command.
	want := []byte{1, 10, 0, 0, 2, 0x1F, 0x90}
	if len(sess.packets) != 1 || !bytes.Equal(sess.packets[0], want) {
		t.Fatalf("migrate command = %v, want %v", sess.packets, want)
	}
	if char.Account.LatestConnectedService != "game-2" ||
		char.Account.PreviousConnectedService != "game-1" {
		t.Fatalf("bookkeeping = %+v", char.Account)
	}

	// Completion at the target instance.
	target2 := NewCoordinator(target, mem, nil, 15*time.Second, log.New(io.Discard, "", 0))
	ok, err = target2.CompleteMigration(ctx, char, target)
	if err != nil || !ok {
		t.Fatalf("complete: ok=%v err=%v", ok, err)
	}
	if raw, found, _ := mem.Get(ctx, accountStateKey(3)); !found || AccountState(raw) != StateLoggedIn {
		t.Fatalf("account state after completion = %q found=%v", raw, found)
	}
	if found, _ := mem.Exists(ctx, migrationKey(7)); found {
		t.Fatalf("migration record not consumed")
	}
	if char.Account.PreviousConnectedService != "game-1" ||
		char.Account.LatestConnectedService != "game-2" {
		t.Fatalf("bookkeeping after completion = %+v", char.Account)
	}
}

func TestInitiateMigration_SecondCallRejected(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(5000, 0)
	coord, mem, _ := testRig(&now)
	char := testChar()
	sess := &fakeTransport{}
	target := ServiceInfo{Name: "game-2", Host: "10.0.0.2", Port: 8080}

	if ok, err := coord.InitiateMigration(ctx, sess, char, target, nil); !ok || err != nil {
		t.Fatalf("first initiate: ok=%v err=%v", ok, err)
	}
	before, _, _ := mem.Get(ctx, migrationKey(7))

	other := ServiceInfo{Name: "shop-1", Host: "10.0.0.9", Port: 9000}
	ok, err := coord.InitiateMigration(ctx, sess, char, other, nil)
	if err != nil {
		t.Fatalf("second initiate: %v", err)
	}
	if ok {
		t.Fatalf("second initiate should be rejected while a record is pending")
	}

	// First call's state is untouched.
	after, _, _ := mem.Get(ctx, migrationKey(7))
	if !bytes.Equal(before, after) {
		t.Fatalf("pending record changed: %s -> %s", before, after)
	}
	if raw, _, _ := mem.Get(ctx, accountStateKey(3)); AccountState(raw) != StateMigratingIn {
		t.Fatalf("account state changed: %q", raw)
	}
	if len(sess.packets) != 1 {
		t.Fatalf("client received %d migrate commands, want 1", len(sess.packets))
	}
}

func TestCompleteMigration_WrongTargetRejected(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(5000, 0)
	coord, mem, _ := testRig(&now)
	char := testChar()
	target := ServiceInfo{Name: "game-2", Host: "10.0.0.2", Port: 8080}

	if ok, _ := coord.InitiateMigration(ctx, &fakeTransport{}, char, target, nil); !ok {
		t.Fatalf("initiate failed")
	}

	wrong := NewCoordinator(ServiceInfo{Name: "game-3"}, mem, nil, 15*time.Second, log.New(io.Discard, "", 0))
	ok, err := wrong.CompleteMigration(ctx, char, wrong.Info())
	if err != nil {
		t.Fatalf("complete at wrong target: %v", err)
	}
	if ok {
		t.Fatalf("record redeemed at the wrong instance")
	}
	if found, _ := mem.Exists(ctx, migrationKey(7)); !found {
		t.Fatalf("record deleted by failed completion")
	}
	if raw, _, _ := mem.Get(ctx, accountStateKey(3)); AccountState(raw) != StateMigratingIn {
		t.Fatalf("account state altered by failed completion: %q", raw)
	}
}

func TestCompleteMigration_NoRecord(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(5000, 0)
	coord, _, _ := testRig(&now)

	ok, err := coord.CompleteMigration(ctx, testChar(), coord.Info())
	if err != nil {
		t.Fatalf("complete with no record: %v", err)
	}
	if ok {
		t.Fatalf("completion succeeded without a pending record")
	}
}

func TestMigration_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(5000, 0)
	coord, mem, _ := testRig(&now)
	char := testChar()
	target := ServiceInfo{Name: "game-2", Host: "10.0.0.2", Port: 8080}

	if ok, _ := coord.InitiateMigration(ctx, &fakeTransport{}, char, target, nil); !ok {
		t.Fatalf("initiate failed")
	}

	now = now.Add(16 * time.Second)

	if found, _ := mem.Exists(ctx, migrationKey(7)); found {
		t.Fatalf("record survived past TTL")
	}
	if found, _ := mem.Exists(ctx, accountStateKey(3)); found {
		t.Fatalf("account state survived past TTL")
	}

	target2 := NewCoordinator(target, mem, nil, 15*time.Second, log.New(io.Discard, "", 0))
	if ok, _ := target2.CompleteMigration(ctx, char, target); ok {
		t.Fatalf("expired migration completed")
	}

	// Abandonment recovered: a fresh initiation is allowed again.
	if ok, err := coord.InitiateMigration(ctx, &fakeTransport{}, char, target, nil); !ok || err != nil {
		t.Fatalf("re-initiate after expiry: ok=%v err=%v", ok, err)
	}
}

func TestMigration_CacheDownFailsClosed(t *testing.T) {
	ctx := context.Background()
	coord := NewCoordinator(ServiceInfo{Name: "game-1"}, errClient{}, nil, 0, log.New(io.Discard, "", 0))
	char := testChar()

	ok, err := coord.InitiateMigration(ctx, &fakeTransport{}, char, ServiceInfo{Name: "game-2"}, nil)
	if ok || err == nil {
		t.Fatalf("initiate with cache down: ok=%v err=%v, want deny", ok, err)
	}
	ok, err = coord.CompleteMigration(ctx, char, coord.Info())
	if ok || err == nil {
		t.Fatalf("complete with cache down: ok=%v err=%v, want deny", ok, err)
	}
}

func TestInitiateMigration_CustomCommandBuilder(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(5000, 0)
	coord, _, _ := testRig(&now)
	sess := &fakeTransport{}

	custom := []byte{0xAB, 0xCD}
	ok, err := coord.InitiateMigration(ctx, sess, testChar(),
		ServiceInfo{Name: "game-2", Host: "10.0.0.2", Port: 8080},
		func(ServiceInfo) ([]byte, error) { return custom, nil })
	if !ok || err != nil {
		t.Fatalf("initiate: ok=%v err=%v", ok, err)
	}
	if len(sess.packets) != 1 || !bytes.Equal(sess.packets[0], custom) {
		t.Fatalf("custom payload not sent: %v", sess.packets)
	}
}

func TestRecoverAccountStates(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(5000, 0)
	coord, mem, store := testRig(&now)

	store.byService["game-1"] = []int64{3, 4}
	_ = mem.Set(ctx, accountStateKey(3), []byte(StateMigratingIn), 0)
	_ = mem.Set(ctx, accountStateKey(4), []byte(StateLoggedIn), 0)
	_ = mem.Set(ctx, accountStateKey(9), []byte(StateLoggedIn), 0) // other service

	if err := coord.RecoverAccountStates(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if found, _ := mem.Exists(ctx, accountStateKey(3)); found {
		t.Fatalf("orphaned state 3 not cleared")
	}
	if found, _ := mem.Exists(ctx, accountStateKey(4)); found {
		t.Fatalf("orphaned state 4 not cleared")
	}
	if found, _ := mem.Exists(ctx, accountStateKey(9)); !found {
		t.Fatalf("state of account on another service was cleared")
	}
}

func TestRecoverAccountStates_StoreError(t *testing.T) {
	ctx := context.Background()
	coord := NewCoordinator(ServiceInfo{Name: "game-1"}, cache.NewMemory(),
		failingStore{}, 0, log.New(io.Discard, "", 0))
	if err := coord.RecoverAccountStates(ctx); err == nil {
		t.Fatalf("expected error from failing store")
	}
}

type failingStore struct{}

func (failingStore) AccountIDsByLatestService(context.Context, string) ([]int64, error) {
	return nil, errors.New("db down")
}
func (failingStore) SaveAccount(context.Context, *field.Account) error {
	return errors.New("db down")
}
