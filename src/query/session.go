package query

import (
	"toposdb/src/helpers"
	"toposdb/src/kgerr"
)

// SessionType selects what a session may change.
type SessionType int

const (
	SessionSchema SessionType = iota
	SessionData
)

func (t SessionType) IsSchema() bool { return t == SessionSchema }
func (t SessionType) IsData() bool   { return t == SessionData }

// TransactionType selects whether writes are allowed.
type TransactionType int

const (
	TransactionRead TransactionType = iota
	TransactionWrite
)

func (t TransactionType) IsRead() bool  { return t == TransactionRead }
func (t TransactionType) IsWrite() bool { return t == TransactionWrite }

// Session owns transactions of one kind against a database.
type Session struct {
	ID   string
	Type SessionType
	db   *Database
}

// Transaction opens a transaction in the session.
func (s *Session) Transaction(typ TransactionType) *Transaction {
	return &Transaction{
		ID:      helpers.GenerateUUID(),
		Type:    typ,
		session: s,
		open:    true,
	}
}

// Transaction is the unit of isolation. Queries run through its
// dispatcher; a failing query aborts only itself.
type Transaction struct {
	ID      string
	Type    TransactionType
	session *Session
	open    bool
}

// Query returns the dispatcher bound to this transaction.
func (t *Transaction) Query() *Dispatcher {
	return &Dispatcher{txn: t, db: t.session.db}
}

// Commit finishes the transaction. Writes are already durable per
// operation; commit closes the transaction for further queries.
func (t *Transaction) Commit() error {
	if !t.open {
		return kgerr.ErrTransactionClosed
	}
	t.open = false
	return nil
}

// Close abandons the transaction.
func (t *Transaction) Close() {
	t.open = false
}

func (t *Transaction) checkOpen() error {
	if !t.open {
		return kgerr.ErrTransactionClosed
	}
	return nil
}

func (t *Transaction) checkDataWrite() error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if t.session.Type.IsSchema() {
		return kgerr.ErrSessionSchemaViolation
	}
	if t.Type.IsRead() {
		return kgerr.ErrTransactionReadViolation
	}
	return nil
}

func (t *Transaction) checkSchemaWrite() error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if t.session.Type.IsData() {
		return kgerr.ErrSessionDataViolation
	}
	if t.Type.IsRead() {
		return kgerr.ErrTransactionSchemaReadViolation
	}
	return nil
}
