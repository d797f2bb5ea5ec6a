package procedure

import (
	"context"

	"toposdb/src/graph"
)

// Answer maps variable reference keys to the concepts bound to them.
type Answer map[string]graph.Concept

// Copy returns an independent copy of the answer.
func (a Answer) Copy() Answer {
	c := make(Answer, len(a))
	for k, v := range a {
		c[k] = v
	}
	return c
}

// AnswerIterator is a pull-based answer stream. Callers must Close it on
// every exit path; Next after Close returns done.
type AnswerIterator interface {
	// Next yields the next answer. done is true when the stream is
	// exhausted or the iterator is closed.
	Next() (answer Answer, done bool, err error)
	Close()
}

// sliceIterator serves pre-materialised answers.
type sliceIterator struct {
	answers []Answer
	pos     int
	closed  bool
}

// NewSliceIterator wraps materialised answers in the iterator contract.
func NewSliceIterator(answers []Answer) AnswerIterator {
	return &sliceIterator{answers: answers}
}

func (it *sliceIterator) Next() (Answer, bool, error) {
	if it.closed || it.pos >= len(it.answers) {
		return nil, true, nil
	}
	a := it.answers[it.pos]
	it.pos++
	return a, false, nil
}

func (it *sliceIterator) Close() { it.closed = true }

// errorIterator fails on first pull.
type errorIterator struct{ err error }

// NewErrorIterator propagates a failure to the caller on its next pull.
func NewErrorIterator(err error) AnswerIterator { return &errorIterator{err: err} }

func (it *errorIterator) Next() (Answer, bool, error) { return nil, true, it.err }
func (it *errorIterator) Close()                      {}

// Collect drains an iterator into a slice, closing it afterwards.
func Collect(it AnswerIterator) ([]Answer, error) {
	defer it.Close()
	var out []Answer
	for {
		a, done, err := it.Next()
		if err != nil {
			return out, err
		}
		if done {
			return out, nil
		}
		out = append(out, a)
	}
}

// concatIterator chains iterators, used to merge component and
// disjunction streams.
type concatIterator struct {
	iterators []AnswerIterator
	pos       int
	closed    bool
}

// NewConcatIterator chains the given iterators in order.
func NewConcatIterator(iterators ...AnswerIterator) AnswerIterator {
	return &concatIterator{iterators: iterators}
}

func (it *concatIterator) Next() (Answer, bool, error) {
	for !it.closed && it.pos < len(it.iterators) {
		a, done, err := it.iterators[it.pos].Next()
		if err != nil {
			return nil, true, err
		}
		if !done {
			return a, false, nil
		}
		it.iterators[it.pos].Close()
		it.pos++
	}
	return nil, true, nil
}

func (it *concatIterator) Close() {
	it.closed = true
	for ; it.pos < len(it.iterators); it.pos++ {
		it.iterators[it.pos].Close()
	}
}

// mergedIterator merges answers produced concurrently by parallel
// producers; no ordering is promised.
type mergedIterator struct {
	ch     <-chan MergedItem
	cancel context.CancelFunc
	closed bool
}

// MergedItem is one element of a parallel producer channel.
type MergedItem struct {
	Answer Answer
	Err    error
}

// NewMergedIterator exposes a producer channel as an iterator; cancel is
// invoked on Close to stop the producers.
func NewMergedIterator(ch <-chan MergedItem, cancel context.CancelFunc) AnswerIterator {
	return &mergedIterator{ch: ch, cancel: cancel}
}

func (it *mergedIterator) Next() (Answer, bool, error) {
	if it.closed {
		return nil, true, nil
	}
	item, ok := <-it.ch
	if !ok {
		return nil, true, nil
	}
	if item.Err != nil {
		return nil, true, item.Err
	}
	return item.Answer, false, nil
}

func (it *mergedIterator) Close() {
	if it.closed {
		return
	}
	it.closed = true
	it.cancel()
	// Drain so producers blocked on send can exit.
	go func() {
		for range it.ch {
		}
	}()
}
