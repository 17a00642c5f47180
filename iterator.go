package merger

import (
	"fmt"
	"iter"
	"sync"
)

// GenFunc is one step of an external producer. It receives the fixed param
// and the current state and returns the new state followed by the produced
// values. Returning no values, or a nil state, ends the iteration.
type GenFunc func(param, state any) ([]any, error)

// Iterator is a handle to an external producer: a gen function with its
// param and running state. An Iterator is owned by exactly one source,
// which closes it when the source is closed.
type Iterator struct {
	gen     GenFunc
	param   any
	state   any
	done    bool
	closed  bool
	release func()
}

func NewIterator(gen GenFunc, param, state any) *Iterator {
	if gen == nil {
		panic("nil gen")
	}
	return &Iterator{gen: gen, param: param, state: state}
}

// SliceIterator yields the items one by one.
func SliceIterator[T any](items []T) *Iterator {
	return NewIterator(func(param, state any) ([]any, error) {
		items, i := param.([]T), state.(int)
		if i >= len(items) {
			return nil, nil
		}
		return []any{i + 1, items[i]}, nil
	}, items, 0)
}

// SeqIterator yields the values of seq. The sequence is stopped when the
// iterator is closed.
func SeqIterator[T any](seq iter.Seq[T]) *Iterator {
	next, stop := iter.Pull(seq)
	it := NewIterator(func(param, state any) ([]any, error) {
		v, ok := next()
		if !ok {
			return nil, nil
		}
		return []any{true, v}, nil
	}, nil, nil)
	it.release = stop
	return it
}

// FuncIterator calls f for every value; f returns false when there are no
// more values.
func FuncIterator(f func() (any, bool, error)) *Iterator {
	return NewIterator(func(param, state any) ([]any, error) {
		v, ok, err := f()
		if err != nil || !ok {
			return nil, err
		}
		return []any{true, v}, nil
	}, nil, nil)
}

// callFrame scopes a single call into a producer. The values the producer
// returned are only reachable through the frame, and the frame is wiped
// when the call completes.
type callFrame struct {
	results []any
}

var callFramePool = sync.Pool{
	New: func() any { return new(callFrame) },
}

func acquireFrame() *callFrame {
	return callFramePool.Get().(*callFrame)
}

func (f *callFrame) release() {
	f.results = nil
	callFramePool.Put(f)
}

func (f *callFrame) call(it *Iterator, src string) (err error) {
	defer func() {
		if e := recover(); e != nil {
			err = sourceErrf(src, ErrProducer, fmt.Errorf("panic: %v", e), "")
		}
	}()
	f.results, err = it.gen(it.param, it.state)
	if err != nil {
		return sourceErrf(src, ErrProducer, err, "")
	}
	return nil
}

// pull calls the producer once. If it produced something, fn is invoked
// with all returned values (state first) and pull returns true. The values
// must not be retained past fn. After the end of iteration has been seen,
// pull returns false without calling the producer.
func (it *Iterator) pull(src string, fn func(vals []any) error) (bool, error) {
	if it.closed {
		panic("iterator is closed")
	}
	if it.done {
		return false, nil
	}

	frame := acquireFrame()
	defer frame.release()

	if err := frame.call(it, src); err != nil {
		return false, err
	}
	vals := frame.results
	if len(vals) == 0 || vals[0] == nil {
		it.done, it.state = true, nil
		return false, nil
	}
	it.state = vals[0]
	return true, fn(vals)
}

// Close releases the producer. It is safe to call more than once.
func (it *Iterator) Close() {
	if it.closed {
		return
	}
	it.closed = true
	it.state, it.param = nil, nil
	if it.release != nil {
		it.release()
		it.release = nil
	}
}
