package merger

// SingleSource pulls tuples one at a time. The producer yields
// (state, value) where value is a *Tuple or a plain value that MakeTuple
// accepts.
type SingleSource struct {
	sourceBase
}

var _ Source = (*SingleSource)(nil)

func NewSingleSource(it *Iterator) *SingleSource {
	return &SingleSource{sourceBase{name: "tuple source", it: it}}
}

func (s *SingleSource) Next(format *Format) (*Tuple, error) {
	s.ensureOpen()
	var t *Tuple
	ok, err := s.it.pull(s.name, func(vals []any) error {
		if err := s.checkArity(vals, "tuple"); err != nil {
			return err
		}
		var err error
		t, err = s.materialize(format, vals[1])
		return err
	})
	if !ok || err != nil {
		return nil, err
	}
	return t, nil
}

func (s *SingleSource) Close() error {
	s.close()
	return nil
}
