package field

// Account is the persisted account row this core reads and writes during
// migration and ordinary connect/disconnect.
type Account struct {
	ID                       int64
	Name                     string
	LatestConnectedService   string
	PreviousConnectedService string
}

// Character is the persisted character row. FieldID and FieldPortal record
// where the character last stood; Enter updates FieldID on every successful
// field entry.
type Character struct {
	ID          int64
	AccountID   int64
	Account     *Account
	Name        string
	FieldID     int32
	FieldPortal byte
}
