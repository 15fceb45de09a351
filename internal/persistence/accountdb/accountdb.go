// Package accountdb persists accounts and characters in sqlite. The
// migration protocol reads and writes only the connected-service bookkeeping
// columns; everything else about account data lives outside this core.
package accountdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"arcfield.gg/internal/sim/field"
)

var ErrNotFound = errors.New("accountdb: not found")

type DB struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	latest_connected_service TEXT NOT NULL DEFAULT '',
	previous_connected_service TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS characters (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id INTEGER NOT NULL REFERENCES accounts(id),
	name TEXT NOT NULL UNIQUE,
	field_id INTEGER NOT NULL DEFAULT 0,
	field_portal INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_accounts_latest_service
	ON accounts(latest_connected_service);
CREATE INDEX IF NOT EXISTS idx_characters_account
	ON characters(account_id);
`

// Open opens (creating if needed) the store at path. Use ":memory:" for an
// ephemeral store.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// modernc sqlite: keep one connection so in-memory stores see one schema.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("accountdb: init schema: %w", err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error { return d.db.Close() }

func (d *DB) CreateAccount(ctx context.Context, name string) (*field.Account, error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO accounts (name) VALUES (?)`, name)
	if err != nil {
		return nil, fmt.Errorf("accountdb: create account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &field.Account{ID: id, Name: name}, nil
}

func (d *DB) AccountByName(ctx context.Context, name string) (*field.Account, error) {
	acc := &field.Account{}
	err := d.db.QueryRowContext(ctx,
		`SELECT id, name, latest_connected_service, previous_connected_service
		 FROM accounts WHERE name = ?`, name).
		Scan(&acc.ID, &acc.Name, &acc.LatestConnectedService, &acc.PreviousConnectedService)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("accountdb: account %q: %w", name, err)
	}
	return acc, nil
}

func (d *DB) SaveAccount(ctx context.Context, acc *field.Account) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE accounts
		 SET latest_connected_service = ?, previous_connected_service = ?
		 WHERE id = ?`,
		acc.LatestConnectedService, acc.PreviousConnectedService, acc.ID)
	if err != nil {
		return fmt.Errorf("accountdb: save account %d: %w", acc.ID, err)
	}
	return nil
}

// AccountIDsByLatestService lists accounts whose latest connected service is
// the given instance; the startup recovery sweep clears their cached states.
func (d *DB) AccountIDsByLatestService(ctx context.Context, service string) ([]int64, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id FROM accounts WHERE latest_connected_service = ?`, service)
	if err != nil {
		return nil, fmt.Errorf("accountdb: accounts by service %q: %w", service, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (d *DB) CreateCharacter(ctx context.Context, accountID int64, name string, fieldID int32) (*field.Character, error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO characters (account_id, name, field_id) VALUES (?, ?, ?)`,
		accountID, name, fieldID)
	if err != nil {
		return nil, fmt.Errorf("accountdb: create character: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &field.Character{ID: id, AccountID: accountID, Name: name, FieldID: fieldID}, nil
}

// CharacterByID loads a character together with its account.
func (d *DB) CharacterByID(ctx context.Context, id int64) (*field.Character, error) {
	char := &field.Character{Account: &field.Account{}}
	err := d.db.QueryRowContext(ctx,
		`SELECT c.id, c.account_id, c.name, c.field_id, c.field_portal,
		        a.id, a.name, a.latest_connected_service, a.previous_connected_service
		 FROM characters c JOIN accounts a ON a.id = c.account_id
		 WHERE c.id = ?`, id).
		Scan(&char.ID, &char.AccountID, &char.Name, &char.FieldID, &char.FieldPortal,
			&char.Account.ID, &char.Account.Name,
			&char.Account.LatestConnectedService, &char.Account.PreviousConnectedService)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("accountdb: character %d: %w", id, err)
	}
	return char, nil
}

func (d *DB) SaveCharacter(ctx context.Context, char *field.Character) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE characters SET field_id = ?, field_portal = ? WHERE id = ?`,
		char.FieldID, char.FieldPortal, char.ID)
	if err != nil {
		return fmt.Errorf("accountdb: save character %d: %w", char.ID, err)
	}
	return nil
}
