// Package migration implements the cross-service migration protocol: a
// cache-backed, TTL-bounded state machine that hands a connected session's
// authority from one service instance to another.
//
// Per character the externalized state walks
// NoMigration -> Pending -> {Completed, Expired}; both terminal states
// collapse back to NoMigration (record removed or TTL-expired). The
// individual cache writes are not transactional: a crash between them leaves
// partial state whose lifetime is bounded by the shared timeout, and expiry
// is the accepted recovery mechanism.
package migration

import "strconv"

// AccountState is the cached soft lock communicating to every service
// instance whether an account is logged in or mid-transfer.
type AccountState string

const (
	StateLoggedIn    AccountState = "LOGGED_IN"
	StateMigratingIn AccountState = "MIGRATING_IN"
)

// Record is the single-use, TTL-bounded token for one pending migration. At
// most one exists per character at any time.
type Record struct {
	CharacterID int64  `json:"character_id"`
	FromService string `json:"from_service"`
	ToService   string `json:"to_service"`
}

// ServiceInfo addresses one reachable service instance. It is a value; this
// core never mutates it.
type ServiceInfo struct {
	Name string `yaml:"name"`
	Host string `yaml:"host"`
	Port uint16 `yaml:"port"`
}

func accountStateKey(accountID int64) string {
	return "account:state:" + strconv.FormatInt(accountID, 10)
}

func migrationKey(characterID int64) string {
	return "migration:" + strconv.FormatInt(characterID, 10)
}
