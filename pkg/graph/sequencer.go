package graph

// Sequencer hands out proxy ids. Ids must increase monotonically; a
// transaction records Current at begin and Resets to it on rollback.
type Sequencer interface {
	Init() uint64
	Next() uint64
	Current() uint64
	Reset(id uint64)
	// Update raises the current value to id if it is lower and returns the result.
	Update(id uint64) uint64
}

// MemorySequencer is the default in-process Sequencer.
type MemorySequencer struct {
	current uint64
}

// NewMemorySequencer returns a sequencer starting at zero.
func NewMemorySequencer() *MemorySequencer { return &MemorySequencer{} }

func (s *MemorySequencer) Init() uint64 {
	s.current = 0
	return s.current
}

func (s *MemorySequencer) Next() uint64 {
	s.current++
	return s.current
}

func (s *MemorySequencer) Current() uint64 { return s.current }

func (s *MemorySequencer) Reset(id uint64) { s.current = id }

func (s *MemorySequencer) Update(id uint64) uint64 {
	if id > s.current {
		s.current = id
	}
	return s.current
}
