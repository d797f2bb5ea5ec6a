package kgerr

import (
	"errors"
	"fmt"
)

// Error is a failure with a stable numeric code. Codes are persisted across
// the wire boundary, so they must never be renumbered.
type Error struct {
	Code    int
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches on code so wrapped and formatted variants of the same error
// compare equal under errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

func newError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Of returns a copy of base with formatted detail appended to its message.
func Of(base *Error, format string, args ...interface{}) *Error {
	return &Error{Code: base.Code, Message: base.Message + ": " + fmt.Sprintf(format, args...)}
}

// Wrap returns a copy of base carrying cause for errors.Unwrap.
func Wrap(base *Error, cause error) *Error {
	return &Error{Code: base.Code, Message: base.Message, cause: cause}
}

// Schema errors (1xx)
var (
	ErrTypeNotFound         = newError(101, "the type does not exist")
	ErrSubCycle             = newError(102, "subtyping this type would create a cycle")
	ErrOwnsIncompatible     = newError(103, "the attribute type cannot be owned by this type")
	ErrPlaysIncompatible    = newError(104, "the role type cannot be played by this type")
	ErrIllegalRuleHead      = newError(105, "the rule head must be a single isa, has or relation constraint")
	ErrRuleNotFound         = newError(106, "the rule does not exist")
	ErrOverriddenTypeInUse  = newError(107, "an overridden type cannot be used in a traversal")
	ErrRootTypeModification = newError(108, "root types cannot be modified")
)

// Write errors (2xx)
var (
	ErrThingIsaMissing            = newError(201, "the variable to insert has no isa constraint")
	ErrThingIsaTooMany            = newError(202, "the variable to insert has more than one isa constraint")
	ErrAttributeValueMissing      = newError(203, "the attribute to insert has no value")
	ErrAttributeValueTooMany      = newError(204, "the attribute to insert has more than one value")
	ErrThingIIDNotInsertable      = newError(205, "an iid constraint is not insertable")
	ErrIllegalAbstractWrite       = newError(206, "instances of an abstract type cannot be created")
	ErrRelationConstraintMissing  = newError(207, "a relation insert requires role players")
	ErrRelationConstraintTooMany  = newError(208, "a relation insert accepts exactly one relation constraint")
	ErrIllegalTypeVariableInWrite = newError(209, "type variables in writes must be labelled")
	ErrVertexHasLiveEdges         = newError(210, "the vertex still has edges and cannot be deleted")
	ErrValueTooLong               = newError(211, "the string value exceeds the maximum encodable length")
	ErrThingIsaReinsertion        = newError(212, "the matched instance already has a different type")
)

// Transaction errors (3xx)
var (
	ErrSessionSchemaViolation         = newError(301, "data writes are not allowed in a schema session")
	ErrSessionDataViolation           = newError(302, "schema writes are not allowed in a data session")
	ErrTransactionReadViolation       = newError(303, "writes are not allowed in a read transaction")
	ErrTransactionClosed              = newError(304, "the transaction has been closed")
	ErrTransactionSchemaReadViolation = newError(305, "schema definitions are not allowed in a read transaction")
)

// Planning errors (4xx)
var (
	ErrUnexpectedPlanningError = newError(401, "the traversal planner failed unexpectedly")
)

// Reasoning errors (5xx)
var (
	ErrReasoningBudgetExceeded = newError(501, "the reasoning iteration budget was exceeded")
	ErrUnifierConstruction     = newError(502, "a unifier could not be constructed")
)

// Internal errors (9xx). These indicate broken invariants and are fatal.
var (
	ErrIllegalState      = newError(901, "illegal internal state")
	ErrUnrecognisedValue = newError(902, "unrecognised value")
	ErrEncodingViolation = newError(903, "encoding invariant violated")
)
