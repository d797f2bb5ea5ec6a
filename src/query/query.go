package query

import (
	"toposdb/src/encoding"
	"toposdb/src/pattern"
)

// Options tune query execution.
type Options struct {
	Infer        bool
	Explain      bool
	Parallel     bool
	BatchSize    int
	TraceEnabled bool
}

// MatchQuery is a parsed match: a pattern plus an optional projection onto
// named variables.
type MatchQuery struct {
	Pattern *pattern.Conjunction
	Filter  []string // named variables to keep; empty keeps all named
}

// AggregateMethod selects the aggregation over a matched variable.
type AggregateMethod int

const (
	AggregateCount AggregateMethod = iota
	AggregateSum
	AggregateMax
	AggregateMin
	AggregateMean
)

// AggregateQuery is match.aggregate.
type AggregateQuery struct {
	Match    MatchQuery
	Method   AggregateMethod
	Variable string // unused for count
}

// GroupQuery is match.group: answers bucketed by one named variable.
type GroupQuery struct {
	Match MatchQuery
	By    string
}

// InsertQuery materialises thing variables, once per match answer when a
// when-clause is present.
type InsertQuery struct {
	Match     *MatchQuery
	Variables []*pattern.ThingVariable
}

// DeleteQuery removes matched things.
type DeleteQuery struct {
	Match     MatchQuery
	Variables []*pattern.ThingVariable
}

// UpdateQuery is delete-then-insert per matched answer.
type UpdateQuery struct {
	Match   MatchQuery
	Deletes []*pattern.ThingVariable
	Inserts []*pattern.ThingVariable
}

// TypeDefKind selects the partition of a defined type.
type TypeDefKind int

const (
	DefEntityType TypeDefKind = iota
	DefRelationType
	DefAttributeType
)

// TypeDef is one type declaration of a define query.
type TypeDef struct {
	Kind      TypeDefKind
	Label     string
	ValueKind encoding.ValueKind // attribute types only
	Sub       string             // optional parent label
	Owns      []OwnsDef
	Plays     []string // scoped role labels
	Relates   []string // role names, relation types only
	Abstract  bool
}

// OwnsDef is one ownership declaration.
type OwnsDef struct {
	Attribute string
	IsKey     bool
}

// RuleDef is one rule declaration of a define query.
type RuleDef struct {
	Label string
	When  *pattern.Conjunction
	Then  *pattern.ThingVariable
}

// DefineQuery declares types and rules.
type DefineQuery struct {
	Types []TypeDef
	Rules []RuleDef
}

// UndefineQuery removes rules and leaf types without instances.
type UndefineQuery struct {
	Rules []string
	Types []string
}
