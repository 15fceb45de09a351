package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"arcfield.gg/internal/cache"
	"arcfield.gg/internal/protocol"
	"arcfield.gg/internal/sim/field"
)

// DefaultTimeout bounds the lifetime of both migration guard keys. The two
// keys must expire together, so one timeout governs both.
const DefaultTimeout = 15 * time.Second

// Store is the persistence surface the coordinator needs: bookkeeping writes
// and the startup sweep query.
type Store interface {
	AccountIDsByLatestService(ctx context.Context, service string) ([]int64, error)
	SaveAccount(ctx context.Context, acc *field.Account) error
}

// Coordinator drives the migration protocol for one service instance.
type Coordinator struct {
	info    ServiceInfo
	cache   cache.Client
	store   Store
	timeout time.Duration
	log     *log.Logger
}

func NewCoordinator(info ServiceInfo, c cache.Client, store Store, timeout time.Duration, logger *log.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{
		info:    info,
		cache:   c,
		store:   store,
		timeout: timeout,
		log:     logger,
	}
}

func (c *Coordinator) Info() ServiceInfo { return c.info }

// InitiateMigration starts a transfer of char's session to the target
// service. It returns (false, nil) when a migration is already pending for
// the character and (false, err) when the cache cannot confirm the writes;
// correctness depends on the cache, so errors deny rather than proceed.
//
// On success the client has been sent a migrate command (the default payload
// is [flag=1][IPv4][port]; buildCommand may substitute any payload) and both
// guard keys are live with the shared TTL.
func (c *Coordinator) InitiateMigration(
	ctx context.Context,
	sess field.Transport,
	char *field.Character,
	to ServiceInfo,
	buildCommand func(ServiceInfo) ([]byte, error),
) (bool, error) {
	exists, err := c.cache.Exists(ctx, migrationKey(char.ID))
	if err != nil {
		return false, fmt.Errorf("migration: check pending record: %w", err)
	}
	if exists {
		return false, nil
	}

	if err := c.cache.Set(ctx, accountStateKey(char.AccountID), []byte(StateMigratingIn), c.timeout); err != nil {
		return false, fmt.Errorf("migration: set account state: %w", err)
	}

	rec, err := json.Marshal(Record{
		CharacterID: char.ID,
		FromService: c.info.Name,
		ToService:   to.Name,
	})
	if err != nil {
		return false, err
	}
	if err := c.cache.Set(ctx, migrationKey(char.ID), rec, c.timeout); err != nil {
		return false, fmt.Errorf("migration: set record: %w", err)
	}

	char.Account.LatestConnectedService = to.Name
	char.Account.PreviousConnectedService = c.info.Name
	if c.store != nil {
		if err := c.store.SaveAccount(ctx, char.Account); err != nil {
			// Bookkeeping write lost; the cache record still expires within
			// the timeout, so log and continue.
			c.log.Printf("migration: save account %d: %v", char.AccountID, err)
		}
	}

	if buildCommand == nil {
		buildCommand = func(info ServiceInfo) ([]byte, error) {
			return protocol.MigrateCommand(info.Host, info.Port)
		}
	}
	cmd, err := buildCommand(to)
	if err != nil {
		return false, fmt.Errorf("migration: build command: %w", err)
	}
	if err := sess.SendPacket(cmd); err != nil {
		return false, fmt.Errorf("migration: send command: %w", err)
	}
	return true, nil
}

// CompleteMigration redeems the pending record for char at the service named
// by current. A missing record and a record targeting a different instance
// are reported identically as (false, nil); the caller falls through to
// ordinary login validation.
func (c *Coordinator) CompleteMigration(ctx context.Context, char *field.Character, current ServiceInfo) (bool, error) {
	raw, ok, err := c.cache.Get(ctx, migrationKey(char.ID))
	if err != nil {
		return false, fmt.Errorf("migration: get record: %w", err)
	}
	if !ok {
		return false, nil
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return false, fmt.Errorf("migration: decode record: %w", err)
	}
	if rec.ToService != current.Name {
		return false, nil
	}

	char.Account.LatestConnectedService = rec.ToService
	char.Account.PreviousConnectedService = rec.FromService
	if err := c.cache.Set(ctx, accountStateKey(char.AccountID), []byte(StateLoggedIn), 0); err != nil {
		return false, fmt.Errorf("migration: set account state: %w", err)
	}
	if err := c.cache.Remove(ctx, migrationKey(char.ID)); err != nil {
		return false, fmt.Errorf("migration: consume record: %w", err)
	}
	if c.store != nil {
		if err := c.store.SaveAccount(ctx, char.Account); err != nil {
			c.log.Printf("migration: save account %d: %v", char.AccountID, err)
		}
	}
	return true, nil
}

// AccountState returns the cached state for an account, if any.
func (c *Coordinator) AccountState(ctx context.Context, accountID int64) (AccountState, bool, error) {
	raw, ok, err := c.cache.Get(ctx, accountStateKey(accountID))
	if err != nil || !ok {
		return "", false, err
	}
	return AccountState(raw), true, nil
}

// MarkLoggedIn records an ordinary (non-migration) login.
func (c *Coordinator) MarkLoggedIn(ctx context.Context, accountID int64) error {
	return c.cache.Set(ctx, accountStateKey(accountID), []byte(StateLoggedIn), 0)
}

// ClearAccountState removes the account's cached state on clean disconnect.
func (c *Coordinator) ClearAccountState(ctx context.Context, accountID int64) error {
	return c.cache.Remove(ctx, accountStateKey(accountID))
}

// RecoverAccountStates runs once per process start: it force-clears the
// cached state of every account whose persisted latest service is this
// instance, removing markers orphaned by an unclean shutdown that would
// otherwise lock the accounts out until operator intervention.
func (c *Coordinator) RecoverAccountStates(ctx context.Context) error {
	ids, err := c.store.AccountIDsByLatestService(ctx, c.info.Name)
	if err != nil {
		return fmt.Errorf("migration: list accounts for %s: %w", c.info.Name, err)
	}
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = accountStateKey(id)
	}
	if err := c.cache.RemoveAll(ctx, keys); err != nil {
		return fmt.Errorf("migration: reset account states: %w", err)
	}
	c.log.Printf("forcibly reset %d account state(s) previously connected to %s", len(ids), c.info.Name)
	return nil
}
