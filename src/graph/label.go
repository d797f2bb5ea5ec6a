package graph

// Label names a type. Role types are scoped by their owning relation type,
// every other type has an empty scope.
type Label struct {
	Name  string
	Scope string
}

// NewLabel builds an unscoped label.
func NewLabel(name string) Label { return Label{Name: name} }

// NewScopedLabel builds a role-type label scoped by its relation type.
func NewScopedLabel(scope, name string) Label { return Label{Name: name, Scope: scope} }

// Scoped renders the label in its canonical "scope:name" form.
func (l Label) Scoped() string {
	if l.Scope == "" {
		return l.Name
	}
	return l.Scope + ":" + l.Name
}

// IsScoped reports whether the label names a role type.
func (l Label) IsScoped() bool { return l.Scope != "" }

func (l Label) String() string { return l.Scoped() }
