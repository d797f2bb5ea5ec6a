// Package pattern holds the normalised query form the core consumes: a
// conjunction of typed variables carrying constraints. Patterns are
// per-query immutable values once built.
package pattern

import "fmt"

// RefKind discriminates how a variable was named.
type RefKind int

const (
	// RefName is a user-named variable ($x).
	RefName RefKind = iota
	// RefAnonymous is a user-written anonymous variable ($_).
	RefAnonymous
	// RefLabel is a type variable standing for a concrete label.
	RefLabel
	// RefSystem is a variable generated during normalisation or rule
	// expansion.
	RefSystem
)

// Reference identifies a variable inside one conjunction.
type Reference struct {
	kind RefKind
	name string
}

func NewNameReference(name string) Reference {
	return Reference{kind: RefName, name: name}
}

func NewAnonymousReference(id int) Reference {
	return Reference{kind: RefAnonymous, name: fmt.Sprintf("_%d", id)}
}

func NewLabelReference(label string) Reference {
	return Reference{kind: RefLabel, name: label}
}

func NewSystemReference(name string) Reference {
	return Reference{kind: RefSystem, name: name}
}

func (r Reference) Kind() RefKind { return r.kind }
func (r Reference) Name() string  { return r.name }

// IsName reports whether the reference is user-named; only named variables
// appear in answers.
func (r Reference) IsName() bool      { return r.kind == RefName }
func (r Reference) IsAnonymous() bool { return r.kind == RefAnonymous }
func (r Reference) IsLabel() bool     { return r.kind == RefLabel }
func (r Reference) IsSystem() bool    { return r.kind == RefSystem }

// Key renders the reference as a map key unique within a conjunction.
func (r Reference) Key() string {
	switch r.kind {
	case RefName:
		return "$" + r.name
	case RefAnonymous:
		return "$" + r.name
	case RefLabel:
		return "#" + r.name
	default:
		return "%" + r.name
	}
}

func (r Reference) String() string { return r.Key() }
