package graph

import (
	"sync"
	"sync/atomic"

	"toposdb/src/encoding"
)

// Statistics carries the counts the traversal planner costs edges with.
// Writers (the DataGraph and schema mutations) bump the snapshot counter on
// every statistic-affecting change; planners compare snapshots to decide
// whether a cached plan may be stale.
type Statistics struct {
	snapshot atomic.Uint64

	mu            sync.RWMutex
	instanceCount map[string]int64 // type IID -> direct instance count
	hasEdgeCount  map[string]int64 // owner IID + attr IID -> edge count
}

func newStatistics() *Statistics {
	return &Statistics{
		instanceCount: make(map[string]int64),
		hasEdgeCount:  make(map[string]int64),
	}
}

// Snapshot returns the current statistics version. It advances on any
// statistic-affecting write.
func (s *Statistics) Snapshot() uint64 { return s.snapshot.Load() }

func (s *Statistics) bump() { s.snapshot.Add(1) }

func (s *Statistics) recordInstance(t *TypeVertex, delta int64) {
	s.mu.Lock()
	s.instanceCount[string(t.iid)] += delta
	s.mu.Unlock()
	s.bump()
}

func (s *Statistics) recordHasEdge(owner, attr *TypeVertex, delta int64) {
	s.mu.Lock()
	s.hasEdgeCount[string(owner.iid)+string(attr.iid)] += delta
	s.mu.Unlock()
	s.bump()
}

// InstancesCount returns the direct instance count of a type.
func (s *Statistics) InstancesCount(t *TypeVertex) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.instanceCount[string(t.iid)]
}

// InstancesTransitive returns the instance count of a type's whole subtree.
func (s *Statistics) InstancesTransitive(t *TypeVertex) int64 {
	var total int64
	for _, sub := range t.Subtypes() {
		total += s.InstancesCount(sub)
	}
	return total
}

// InstancesSum sums direct counts over a set of types.
func (s *Statistics) InstancesSum(types []*TypeVertex) int64 {
	var total int64
	for _, t := range types {
		total += s.InstancesCount(t)
	}
	return total
}

// InstancesMax returns the largest direct count in a set of types.
func (s *Statistics) InstancesMax(types []*TypeVertex) int64 {
	var max int64
	for _, t := range types {
		if c := s.InstancesCount(t); c > max {
			max = c
		}
	}
	return max
}

// InstancesTransitiveMax returns the largest transitive count in a set.
func (s *Statistics) InstancesTransitiveMax(types []*TypeVertex) int64 {
	var max int64
	for _, t := range types {
		if c := s.InstancesTransitive(t); c > max {
			max = c
		}
	}
	return max
}

// CountHasEdges counts has-edges from any owner in owners to any attribute
// type in attrs.
func (s *Statistics) CountHasEdges(owners, attrs []*TypeVertex) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, o := range owners {
		for _, a := range attrs {
			total += s.hasEdgeCount[string(o.iid)+string(a.iid)]
		}
	}
	return total
}

// SubTypesDepth returns the maximum subtype depth over a set of types.
func (s *Statistics) SubTypesDepth(types []*TypeVertex) int64 {
	var max int64
	for _, t := range types {
		if d := t.SubtypeDepth(); d > max {
			max = d
		}
	}
	return max
}

// SubTypesSum sums subtype counts over a set of types. Transitive counts
// include the whole subtree, direct counts only immediate children.
func (s *Statistics) SubTypesSum(types []*TypeVertex, transitive bool) int64 {
	var total int64
	for _, t := range types {
		if transitive {
			total += int64(len(t.Subtypes()))
		} else {
			total += int64(len(t.Children()))
		}
	}
	return total
}

// SubTypesMean averages subtype counts over a set of types.
func (s *Statistics) SubTypesMean(types []*TypeVertex, transitive bool) float64 {
	if len(types) == 0 {
		return 0
	}
	return float64(s.SubTypesSum(types, transitive)) / float64(len(types))
}

// AttTypesWithValueKindComparableTo counts attribute types whose value kind
// is comparable to the value kind of any type in the set.
func (s *Statistics) AttTypesWithValueKindComparableTo(g *SchemaGraph, types []*TypeVertex) int64 {
	kinds := map[encoding.ValueKind]bool{}
	for _, t := range types {
		if t.IsAttributeType() && !t.IsRoot() {
			kinds[t.ValueKind()] = true
		}
	}
	var count int64
	for _, a := range g.AttributeTypes() {
		if a.IsRoot() {
			continue
		}
		for k := range kinds {
			if a.ValueKind().Comparable(k) {
				count++
				break
			}
		}
	}
	return count
}

// AttributeTypeCount counts the non-root attribute types.
func (s *Statistics) AttributeTypeCount(g *SchemaGraph) int64 {
	return int64(len(g.AttributeTypes()) - 1)
}

// OutOwnsMean averages, over a set of owner types, the number of attribute
// types owned (inherited included), optionally keys only.
func (s *Statistics) OutOwnsMean(types []*TypeVertex, isKey bool) float64 {
	if len(types) == 0 {
		return 0
	}
	var total int64
	for _, t := range types {
		if isKey {
			for _, attr := range t.Owns() {
				if t.OwnsKey(attr) {
					total++
				}
			}
		} else {
			total += int64(len(t.Owns()))
		}
	}
	return float64(total) / float64(len(types))
}

// InOwnsMean averages, over a set of attribute types, the number of types
// owning them.
func (s *Statistics) InOwnsMean(g *SchemaGraph, types []*TypeVertex, isKey bool) float64 {
	if len(types) == 0 {
		return 0
	}
	var total int64
	for _, attr := range types {
		for _, owner := range g.OwnersOfAttributeType(attr) {
			if !isKey || owner.OwnsKey(attr) {
				total++
			}
		}
	}
	return float64(total) / float64(len(types))
}

// OutPlaysMean averages the number of playable role types over a set.
func (s *Statistics) OutPlaysMean(types []*TypeVertex) float64 {
	if len(types) == 0 {
		return 0
	}
	var total int64
	for _, t := range types {
		total += int64(len(t.Plays()))
	}
	return float64(total) / float64(len(types))
}

// InPlaysMean averages, over a set of role types, the number of types that
// play them.
func (s *Statistics) InPlaysMean(g *SchemaGraph, types []*TypeVertex) float64 {
	if len(types) == 0 {
		return 0
	}
	var total int64
	for _, role := range types {
		for _, t := range g.ThingTypes() {
			for _, played := range t.Plays() {
				if played == role {
					total++
					break
				}
			}
		}
	}
	return float64(total) / float64(len(types))
}

// OutRelates sums the number of declared roles over a set of relation
// types.
func (s *Statistics) OutRelates(types []*TypeVertex) float64 {
	var total int64
	for _, t := range types {
		total += int64(len(t.Relates()))
	}
	return float64(total)
}
