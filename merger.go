package merger

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
)

// linearScanLimit is the largest number of children that are selected from
// by a linear scan; larger mergers keep their children in a heap.
const linearScanLimit = 8

const debugLogMerge = false

type MergerState int

const (
	MergerIdle MergerState = iota
	MergerActive
	MergerExhausted
	MergerClosed
)

var mergerStateNames = [...]string{
	MergerIdle:      "idle",
	MergerActive:    "active",
	MergerExhausted: "exhausted",
	MergerClosed:    "closed",
}

func (s MergerState) String() string {
	return mergerStateNames[s]
}

type MergerOptions struct {
	// Reverse makes the merger produce tuples in descending order. Every
	// child must then be sorted in descending order too.
	Reverse bool

	// Format is the format children are asked for. Defaults to the
	// comparator's format if it has one, DefaultFormat otherwise.
	Format *Format

	// Logger receives Debug records about child failures. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Merger merges children sorted by the same comparator into a single
// sorted stream. When children have equal tuples, the one listed earlier
// wins. Merger is a Source, so mergers can be nested.
type Merger struct {
	cmp      Comparator
	reverse  bool
	format   *Format
	logger   *slog.Logger
	children []*mergeChild
	heap     mergeHeap
	taken    *mergeChild
	state    MergerState
}

var _ Source = (*Merger)(nil)

type mergeChild struct {
	src     Source
	idx     int
	pending *Tuple
}

// NewMerger creates a merger that owns the given sources. If NewMerger
// fails, the sources remain owned by the caller.
func NewMerger(cmp Comparator, sources []Source, opt MergerOptions) (*Merger, error) {
	if cmp == nil {
		return nil, fmt.Errorf("merger: nil comparator")
	}
	for i, src := range sources {
		if src == nil {
			return nil, fmt.Errorf("merger: source %d is nil", i+1)
		}
		if !reflect.TypeOf(src).Comparable() {
			continue
		}
		for j := range i {
			if reflect.TypeOf(sources[j]).Comparable() && sources[j] == src {
				return nil, fmt.Errorf("merger: source %d is the same as source %d", i+1, j+1)
			}
		}
	}

	m := &Merger{
		cmp:     cmp,
		reverse: opt.Reverse,
		format:  opt.Format,
		logger:  opt.Logger,
	}
	if m.format == nil {
		if f, ok := cmp.(formatter); ok {
			m.format = f.Format()
		} else {
			m.format = DefaultFormat
		}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.children = make([]*mergeChild, len(sources))
	for i, src := range sources {
		m.children[i] = &mergeChild{src: src, idx: i}
	}
	if len(m.children) > linearScanLimit {
		m.heap = mergeHeap{m: m, items: make([]*mergeChild, 0, len(m.children))}
	}
	return m, nil
}

func (m *Merger) State() MergerState {
	return m.state
}

func (m *Merger) useHeap() bool {
	return len(m.children) > linearScanLimit
}

// before reports whether a's pending tuple goes out before b's.
func (m *Merger) before(a, b *mergeChild) bool {
	c := m.cmp.Compare(a.pending, b.pending)
	if m.reverse {
		c = -c
	}
	if c != 0 {
		return c < 0
	}
	return a.idx < b.idx
}

func (m *Merger) refill(c *mergeChild) error {
	t, err := c.src.Next(m.format)
	if err != nil {
		m.logger.LogAttrs(context.Background(), slog.LevelDebug, "merger: child failed", slog.Int("child", c.idx), slog.Any("err", err))
		return err
	}
	c.pending = t
	if t != nil && m.useHeap() {
		heap.Push(&m.heap, c)
	}
	return nil
}

func (m *Merger) Next(format *Format) (*Tuple, error) {
	switch m.state {
	case MergerClosed:
		panic("merger is closed")
	case MergerExhausted:
		return nil, nil
	case MergerIdle:
		for _, c := range m.children {
			if err := m.refill(c); err != nil {
				return nil, err
			}
		}
		m.state = MergerActive
	}

	if c := m.taken; c != nil {
		m.taken = nil
		if err := m.refill(c); err != nil {
			return nil, err
		}
	}

	var best *mergeChild
	if m.useHeap() {
		if m.heap.Len() > 0 {
			best = heap.Pop(&m.heap).(*mergeChild)
		}
	} else {
		for _, c := range m.children {
			if c.pending != nil && (best == nil || m.before(c, best)) {
				best = c
			}
		}
	}
	if best == nil {
		m.state = MergerExhausted
		if debugLogMerge {
			m.logger.LogAttrs(context.Background(), slog.LevelDebug, "merger exhausted", slog.Int("children", len(m.children)))
		}
		return nil, nil
	}

	t := best.pending
	best.pending = nil
	m.taken = best
	if debugLogMerge {
		m.logger.LogAttrs(context.Background(), slog.LevelDebug, "merger picked", slog.Int("child", best.idx), slog.String("tuple", t.String()))
	}
	if err := format.Check(t); err != nil {
		return nil, err
	}
	return t, nil
}

// Close closes every child exactly once and returns their errors joined.
func (m *Merger) Close() error {
	if m.state == MergerClosed {
		panic("merger closed twice")
	}
	m.state = MergerClosed
	var errs []error
	for _, c := range m.children {
		if err := c.src.Close(); err != nil {
			errs = append(errs, err)
		}
		c.pending = nil
	}
	m.heap.items = nil
	m.taken = nil
	return errors.Join(errs...)
}

type mergeHeap struct {
	m     *Merger
	items []*mergeChild
}

func (h *mergeHeap) Len() int           { return len(h.items) }
func (h *mergeHeap) Less(i, j int) bool { return h.m.before(h.items[i], h.items[j]) }
func (h *mergeHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *mergeHeap) Push(x any) {
	h.items = append(h.items, x.(*mergeChild))
}

func (h *mergeHeap) Pop() any {
	n := len(h.items)
	c := h.items[n-1]
	h.items[n-1] = nil
	h.items = h.items[:n-1]
	return c
}
