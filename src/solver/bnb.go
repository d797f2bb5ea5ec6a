package solver

import (
	"math"
	"sort"
	"time"
)

// Solve runs branch-and-bound over the model's integer variables within
// the time limit. It returns Optimal when the search space was exhausted,
// Feasible when the limit expired with an incumbent in hand, Infeasible
// when exhaustion found no solution, and Abnormal when the limit expired
// before any solution was found.
func (m *Model) Solve(timeLimit time.Duration) Status {
	s := &search{
		model:    m,
		deadline: time.Now().Add(timeLimit),
		values:   make([]int, len(m.vars)),
		assigned: make([]bool, len(m.vars)),
		best:     math.Inf(1),
	}
	s.prepare()

	hint := s.hintAssignment()
	if hint != nil && s.feasible(hint) {
		s.incumbent = hint
		s.best = s.objectiveOf(hint)
	}

	exhausted := s.branch(0)

	if s.incumbent == nil {
		if exhausted {
			return Infeasible
		}
		return Abnormal
	}
	m.solution = s.incumbent
	m.objValue = s.best
	if exhausted {
		return Optimal
	}
	return Feasible
}

type search struct {
	model    *Model
	deadline time.Time

	order     []VarID // branching order: hinted variables first
	hintValue map[VarID]int

	values   []int
	assigned []bool

	// Per-constraint activity bounds over the current partial assignment.
	minAct []float64
	maxAct []float64

	incumbent []int
	best      float64
	steps     int
}

func (s *search) prepare() {
	m := s.model
	s.hintValue = make(map[VarID]int, len(m.hintVars))
	for i, v := range m.hintVars {
		s.hintValue[v] = int(math.Round(m.hintVals[i]))
	}

	hinted := make([]VarID, 0, len(m.hintVars))
	rest := make([]VarID, 0, len(m.vars))
	seen := make(map[VarID]bool)
	for _, v := range m.hintVars {
		if !seen[v] {
			seen[v] = true
			hinted = append(hinted, v)
		}
	}
	for i := range m.vars {
		if !seen[VarID(i)] {
			rest = append(rest, VarID(i))
		}
	}
	// Branch on objective-heavy free variables first for tighter bounds.
	sort.SliceStable(rest, func(i, j int) bool {
		return math.Abs(m.objective[rest[i]]) > math.Abs(m.objective[rest[j]])
	})
	s.order = append(hinted, rest...)

	s.minAct = make([]float64, len(m.constraints))
	s.maxAct = make([]float64, len(m.constraints))
	for ci, c := range m.constraints {
		for i, v := range c.vars {
			coef := c.coefs[i]
			lo, hi := float64(m.vars[v].lo), float64(m.vars[v].hi)
			if coef >= 0 {
				s.minAct[ci] += coef * lo
				s.maxAct[ci] += coef * hi
			} else {
				s.minAct[ci] += coef * hi
				s.maxAct[ci] += coef * lo
			}
		}
	}
}

func (s *search) hintAssignment() []int {
	if len(s.hintValue) != len(s.model.vars) {
		return nil
	}
	assignment := make([]int, len(s.model.vars))
	for v, val := range s.hintValue {
		if val < s.model.vars[v].lo || val > s.model.vars[v].hi {
			return nil
		}
		assignment[v] = val
	}
	return assignment
}

func (s *search) feasible(assignment []int) bool {
	for _, c := range s.model.constraints {
		sum := 0.0
		for i, v := range c.vars {
			sum += c.coefs[i] * float64(assignment[v])
		}
		if sum < c.lo-1e-9 || sum > c.hi+1e-9 {
			return false
		}
	}
	return true
}

func (s *search) objectiveOf(assignment []int) float64 {
	total := 0.0
	for v, coef := range s.model.objective {
		total += coef * float64(assignment[v])
	}
	return total
}

// timeUp is checked periodically rather than on every node.
func (s *search) timeUp() bool {
	s.steps++
	if s.steps%256 != 0 {
		return false
	}
	return time.Now().After(s.deadline)
}

// branch explores assignments of s.order[depth:]. Returns true when the
// subtree was fully explored within the deadline.
func (s *search) branch(depth int) bool {
	if s.timeUp() {
		return false
	}
	if depth == len(s.order) {
		assignment := make([]int, len(s.values))
		copy(assignment, s.values)
		obj := s.objectiveOf(assignment)
		if obj < s.best {
			s.best = obj
			s.incumbent = assignment
		}
		return true
	}

	v := s.order[depth]
	lo, hi := s.model.vars[v].lo, s.model.vars[v].hi

	// Try the hinted value first so the warm start shapes the search.
	candidates := make([]int, 0, hi-lo+1)
	if hv, ok := s.hintValue[v]; ok && hv >= lo && hv <= hi {
		candidates = append(candidates, hv)
	}
	for val := lo; val <= hi; val++ {
		if len(candidates) > 0 && val == candidates[0] {
			continue
		}
		candidates = append(candidates, val)
	}

	exhausted := true
	for _, val := range candidates {
		if !s.assign(v, val) {
			continue
		}
		if s.boundAllows() {
			if !s.branch(depth + 1) {
				exhausted = false
			}
		}
		s.unassign(v, val)
		if !exhausted && time.Now().After(s.deadline) {
			return false
		}
	}
	return exhausted
}

// assign fixes v to val, updating activity bounds; returns false and
// leaves state unchanged when a constraint becomes unsatisfiable.
func (s *search) assign(v VarID, val int) bool {
	s.values[v] = val
	s.assigned[v] = true
	ok := true
	for ci, c := range s.model.constraints {
		for i, cv := range c.vars {
			if cv != v {
				continue
			}
			coef := c.coefs[i]
			lo, hi := float64(s.model.vars[v].lo), float64(s.model.vars[v].hi)
			if coef >= 0 {
				s.minAct[ci] += coef * (float64(val) - lo)
				s.maxAct[ci] += coef * (float64(val) - hi)
			} else {
				s.minAct[ci] += coef * (float64(val) - hi)
				s.maxAct[ci] += coef * (float64(val) - lo)
			}
		}
		if s.minAct[ci] > c.hi+1e-9 || s.maxAct[ci] < c.lo-1e-9 {
			ok = false
		}
	}
	if !ok {
		s.unassign(v, val)
		s.values[v] = 0
		return false
	}
	return true
}

func (s *search) unassign(v VarID, val int) {
	s.assigned[v] = false
	for ci, c := range s.model.constraints {
		for i, cv := range c.vars {
			if cv != v {
				continue
			}
			coef := c.coefs[i]
			lo, hi := float64(s.model.vars[v].lo), float64(s.model.vars[v].hi)
			if coef >= 0 {
				s.minAct[ci] -= coef * (float64(val) - lo)
				s.maxAct[ci] -= coef * (float64(val) - hi)
			} else {
				s.minAct[ci] -= coef * (float64(val) - hi)
				s.maxAct[ci] -= coef * (float64(val) - lo)
			}
		}
	}
}

// boundAllows prunes on the objective: the cost already committed plus the
// cheapest completion must undercut the incumbent.
func (s *search) boundAllows() bool {
	if math.IsInf(s.best, 1) {
		return true
	}
	bound := 0.0
	for v, coef := range s.model.objective {
		if s.assigned[v] {
			bound += coef * float64(s.values[v])
		} else if coef >= 0 {
			bound += coef * float64(s.model.vars[v].lo)
		} else {
			bound += coef * float64(s.model.vars[v].hi)
		}
	}
	return bound < s.best-1e-9
}
