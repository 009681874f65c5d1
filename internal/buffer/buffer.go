// Package buffer implements the chunked byte store that holds serialized
// object snapshots while a transaction is active.
//
// Bytes are appended at the tail and released from the head (FIFO). Retained
// bytes can also be read at their logical offset, which is how a transaction
// revisits a snapshot out of order during rollback.
package buffer

import (
	"errors"
	"fmt"
	"io"
)

// DefaultChunkSize is the allocation unit used when no chunk size is configured.
const DefaultChunkSize = 1024

var (
	// ErrCapacity is returned when an append would grow the buffer beyond its limit.
	ErrCapacity = errors.New("buffer: capacity exceeded")
	// ErrReleased is returned when reading a range that was already released.
	ErrReleased = errors.New("buffer: range already released")
)

// Span addresses a run of bytes by logical offset.
type Span struct {
	Offset int64
	Len    int
}

// End returns the logical offset just past the span.
func (s Span) End() int64 { return s.Offset + int64(s.Len) }

// Option configures a Buffer.
type Option func(*Buffer)

// WithChunkSize sets the size of each backing chunk. Values <= 0 are ignored.
func WithChunkSize(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.chunkSize = n
		}
	}
}

// WithLimit caps the number of unreleased bytes. Zero means unlimited.
func WithLimit(n int) Option {
	return func(b *Buffer) {
		if n >= 0 {
			b.limit = n
		}
	}
}

// Buffer is a chunked FIFO byte store. The zero value is not usable; call New.
// A Buffer is not safe for concurrent use.
type Buffer struct {
	chunkSize int
	limit     int
	chunks    [][]byte
	base      int64 // logical offset of chunks[0][0]
	head      int64 // next byte to release
	tail      int64 // next byte to write
}

// New constructs an empty buffer.
func New(opts ...Option) *Buffer {
	b := &Buffer{chunkSize: DefaultChunkSize}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ChunkSize reports the configured chunk size.
func (b *Buffer) ChunkSize() int { return b.chunkSize }

// Limit reports the configured capacity limit (0 = unlimited).
func (b *Buffer) Limit() int { return b.limit }

// Len returns the number of unreleased bytes.
func (b *Buffer) Len() int { return int(b.tail - b.head) }

// Chunks returns the number of chunks currently allocated.
func (b *Buffer) Chunks() int { return len(b.chunks) }

// Offset returns the logical offset the next Append will write at.
func (b *Buffer) Offset() int64 { return b.tail }

// Append copies p to the tail of the buffer and returns the span it occupies.
// When the limit would be exceeded nothing is written and ErrCapacity is returned.
func (b *Buffer) Append(p []byte) (Span, error) {
	span := Span{Offset: b.tail, Len: len(p)}
	if b.limit > 0 && b.Len()+len(p) > b.limit {
		return Span{}, fmt.Errorf("%w: %d bytes retained, %d requested, limit %d", ErrCapacity, b.Len(), len(p), b.limit)
	}
	for len(p) > 0 {
		last := len(b.chunks) - 1
		if last < 0 || len(b.chunks[last]) == b.chunkSize {
			b.chunks = append(b.chunks, make([]byte, 0, b.chunkSize))
			last++
		}
		free := b.chunkSize - len(b.chunks[last])
		n := min(free, len(p))
		b.chunks[last] = append(b.chunks[last], p[:n]...)
		p = p[n:]
		b.tail += int64(n)
	}
	return span, nil
}

// Write implements io.Writer on top of Append.
func (b *Buffer) Write(p []byte) (int, error) {
	if _, err := b.Append(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Read releases up to len(p) bytes from the head of the buffer. Chunks that
// become fully released are dropped.
func (b *Buffer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if b.head == b.tail {
		return 0, io.EOF
	}
	n, err := b.ReadAt(p, b.head)
	b.head += int64(n)
	b.compact()
	if errors.Is(err, io.EOF) && n > 0 {
		err = nil
	}
	return n, err
}

// Release discards n bytes from the head without copying them out.
func (b *Buffer) Release(n int) error {
	if n < 0 || n > b.Len() {
		return fmt.Errorf("buffer: release %d of %d bytes: %w", n, b.Len(), io.ErrUnexpectedEOF)
	}
	b.head += int64(n)
	b.compact()
	return nil
}

// ReadAt reads retained bytes starting at the logical offset off.
func (b *Buffer) ReadAt(p []byte, off int64) (int, error) {
	if off < b.head {
		return 0, fmt.Errorf("%w: offset %d, head %d", ErrReleased, off, b.head)
	}
	if off >= b.tail {
		return 0, io.EOF
	}
	read := 0
	for read < len(p) && off < b.tail {
		rel := off - b.base
		idx := int(rel / int64(b.chunkSize))
		pos := int(rel % int64(b.chunkSize))
		n := copy(p[read:], b.chunks[idx][pos:])
		read += n
		off += int64(n)
	}
	if read < len(p) {
		return read, io.EOF
	}
	return read, nil
}

// Reader returns a reader over the bytes of span.
func (b *Buffer) Reader(span Span) io.Reader {
	return io.NewSectionReader(b, span.Offset, int64(span.Len))
}

// Bytes copies the bytes of span out of the buffer.
func (b *Buffer) Bytes(span Span) ([]byte, error) {
	out := make([]byte, span.Len)
	if span.Len == 0 {
		return out, nil
	}
	if _, err := b.ReadAt(out, span.Offset); err != nil {
		return nil, err
	}
	return out, nil
}

// Clear drops all content and resets logical offsets to zero. Spans handed out
// before Clear are no longer valid.
func (b *Buffer) Clear() {
	b.chunks = nil
	b.base, b.head, b.tail = 0, 0, 0
}

func (b *Buffer) compact() {
	for len(b.chunks) > 0 && b.head-b.base >= int64(len(b.chunks[0])) && len(b.chunks[0]) == b.chunkSize {
		b.chunks[0] = nil
		b.chunks = b.chunks[1:]
		b.base += int64(b.chunkSize)
	}
	if b.head == b.tail {
		b.chunks = nil
		b.base = b.head
	}
}
