package graph

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"graphstore/internal/buffer"
	"graphstore/pkg/identifier"
)

// Serializer snapshots an object's field values into a byte buffer and
// restores them later. Relations are written as (id, type name) and
// re-resolved through the store on restore, creating placeholders for ids
// that are not live.
//
// Snapshots are process-local: the layout is the field order of the
// object's Serialize method and carries no field names.
type Serializer struct {
	store *Store
}

// NewSerializer returns a serializer resolving relations through s.
func NewSerializer(s *Store) *Serializer { return &Serializer{store: s} }

// Encode returns the snapshot bytes of obj.
func (s *Serializer) Encode(obj Object) ([]byte, error) {
	e := &encoder{}
	if err := obj.Serialize(e); err != nil {
		return nil, fmt.Errorf("encode %T: %w", obj, err)
	}
	return e.b, nil
}

// Backup appends the snapshot of obj to buf. Nothing is appended on error.
func (s *Serializer) Backup(buf *buffer.Buffer, obj Object) (buffer.Span, error) {
	data, err := s.Encode(obj)
	if err != nil {
		return buffer.Span{}, err
	}
	return buf.Append(data)
}

// Decode restores obj from snapshot bytes. The snapshot must be consumed exactly.
func (s *Serializer) Decode(data []byte, obj Object) error {
	d := &decoder{b: data, store: s.store}
	if err := obj.Serialize(d); err != nil {
		return fmt.Errorf("decode %T: %w", obj, err)
	}
	if len(d.b) != 0 {
		return fmt.Errorf("decode %T: %d trailing bytes", obj, len(d.b))
	}
	return nil
}

// Restore reads the snapshot at span from buf into obj.
func (s *Serializer) Restore(buf *buffer.Buffer, span buffer.Span, obj Object) error {
	data, err := buf.Bytes(span)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	return s.Decode(data, obj)
}

type encoder struct {
	b []byte
}

func (e *encoder) uvarint(v uint64) { e.b = binary.AppendUvarint(e.b, v) }

func (e *encoder) str(v string) {
	e.uvarint(uint64(len(v)))
	e.b = append(e.b, v...)
}

func (e *encoder) ref(p *Proxy) {
	if p == nil || p.id == 0 {
		e.uvarint(0)
		return
	}
	e.uvarint(p.id)
	e.str(p.TypeName())
}

func (e *encoder) OnPrimaryKey(_ string, id *identifier.Identifier) error { return id.Serialize(e) }

func (e *encoder) OnBool(_ string, v *bool) error {
	if *v {
		e.b = append(e.b, 1)
	} else {
		e.b = append(e.b, 0)
	}
	return nil
}

func (e *encoder) OnInt(_ string, v *int64) error {
	e.b = binary.LittleEndian.AppendUint64(e.b, uint64(*v))
	return nil
}

func (e *encoder) OnUint(_ string, v *uint64) error {
	e.b = binary.LittleEndian.AppendUint64(e.b, *v)
	return nil
}

func (e *encoder) OnFloat(_ string, v *float64) error {
	e.b = binary.LittleEndian.AppendUint64(e.b, math.Float64bits(*v))
	return nil
}

func (e *encoder) OnString(_ string, v *string) error {
	e.str(*v)
	return nil
}

func (e *encoder) OnTime(name string, v *time.Time) error {
	data, err := v.MarshalBinary()
	if err != nil {
		return fmt.Errorf("field %q: %w", name, err)
	}
	e.uvarint(uint64(len(data)))
	e.b = append(e.b, data...)
	return nil
}

func (e *encoder) OnBytes(_ string, v *[]byte) error {
	if *v == nil {
		e.uvarint(0)
		return nil
	}
	e.uvarint(uint64(len(*v)) + 1)
	e.b = append(e.b, *v...)
	return nil
}

func (e *encoder) OnHasOne(_ string, h *Holder, _ Cascade) error {
	e.ref(h.proxy)
	return nil
}

func (e *encoder) OnBelongsTo(_ string, h *Holder, _ Cascade) error {
	e.ref(h.proxy)
	return nil
}

func (e *encoder) OnHasMany(_ string, c *Collection, _ Cascade) error {
	items := c.Proxies()
	e.uvarint(uint64(len(items)))
	for _, p := range items {
		e.ref(p)
	}
	return nil
}

func (e *encoder) SerializeKind(v *identifier.Kind) error {
	e.b = append(e.b, byte(*v))
	return nil
}
func (e *encoder) SerializeInt8(v *int8) error { e.b = append(e.b, byte(*v)); return nil }
func (e *encoder) SerializeInt16(v *int16) error {
	e.b = binary.LittleEndian.AppendUint16(e.b, uint16(*v))
	return nil
}
func (e *encoder) SerializeInt32(v *int32) error {
	e.b = binary.LittleEndian.AppendUint32(e.b, uint32(*v))
	return nil
}
func (e *encoder) SerializeInt64(v *int64) error {
	e.b = binary.LittleEndian.AppendUint64(e.b, uint64(*v))
	return nil
}
func (e *encoder) SerializeUint8(v *uint8) error { e.b = append(e.b, *v); return nil }
func (e *encoder) SerializeUint16(v *uint16) error {
	e.b = binary.LittleEndian.AppendUint16(e.b, *v)
	return nil
}
func (e *encoder) SerializeUint32(v *uint32) error {
	e.b = binary.LittleEndian.AppendUint32(e.b, *v)
	return nil
}
func (e *encoder) SerializeUint64(v *uint64) error {
	e.b = binary.LittleEndian.AppendUint64(e.b, *v)
	return nil
}
func (e *encoder) SerializeString(v *string) error { e.str(*v); return nil }

var errVarint = errors.New("malformed varint")

type decoder struct {
	b     []byte
	store *Store
}

func (d *decoder) take(n int) ([]byte, error) {
	if n < 0 || len(d.b) < n {
		return nil, io.ErrUnexpectedEOF
	}
	out := d.b[:n]
	d.b = d.b[n:]
	return out, nil
}

func (d *decoder) uvarint() (uint64, error) {
	v, n := binary.Uvarint(d.b)
	switch {
	case n == 0:
		return 0, io.ErrUnexpectedEOF
	case n < 0:
		return 0, errVarint
	}
	d.b = d.b[n:]
	return v, nil
}

func (d *decoder) u64() (uint64, error) {
	raw, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(raw), nil
}

func (d *decoder) str() (string, error) {
	n, err := d.uvarint()
	if err != nil {
		return "", err
	}
	if n > uint64(len(d.b)) {
		return "", io.ErrUnexpectedEOF
	}
	raw, err := d.take(int(n))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (d *decoder) ref() (*Proxy, error) {
	id, err := d.uvarint()
	if err != nil || id == 0 {
		return nil, err
	}
	name, err := d.str()
	if err != nil {
		return nil, err
	}
	return d.store.Resolve(name, id)
}

func field(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("field %q: %w", name, err)
}

func (d *decoder) OnPrimaryKey(name string, id *identifier.Identifier) error {
	return field(name, id.Serialize(d))
}

func (d *decoder) OnBool(name string, v *bool) error {
	raw, err := d.take(1)
	if err != nil {
		return field(name, err)
	}
	*v = raw[0] != 0
	return nil
}

func (d *decoder) OnInt(name string, v *int64) error {
	u, err := d.u64()
	if err != nil {
		return field(name, err)
	}
	*v = int64(u)
	return nil
}

func (d *decoder) OnUint(name string, v *uint64) error {
	u, err := d.u64()
	if err != nil {
		return field(name, err)
	}
	*v = u
	return nil
}

func (d *decoder) OnFloat(name string, v *float64) error {
	u, err := d.u64()
	if err != nil {
		return field(name, err)
	}
	*v = math.Float64frombits(u)
	return nil
}

func (d *decoder) OnString(name string, v *string) error {
	s, err := d.str()
	if err != nil {
		return field(name, err)
	}
	*v = s
	return nil
}

func (d *decoder) OnTime(name string, v *time.Time) error {
	s, err := d.str()
	if err != nil {
		return field(name, err)
	}
	return field(name, v.UnmarshalBinary([]byte(s)))
}

func (d *decoder) OnBytes(name string, v *[]byte) error {
	n, err := d.uvarint()
	if err != nil {
		return field(name, err)
	}
	if n == 0 {
		*v = nil
		return nil
	}
	if n-1 > uint64(len(d.b)) {
		return field(name, io.ErrUnexpectedEOF)
	}
	raw, err := d.take(int(n - 1))
	if err != nil {
		return field(name, err)
	}
	*v = append([]byte{}, raw...)
	return nil
}

func (d *decoder) OnHasOne(name string, h *Holder, _ Cascade) error {
	p, err := d.ref()
	if err != nil {
		return field(name, err)
	}
	h.Reset(p)
	return nil
}

func (d *decoder) OnBelongsTo(name string, h *Holder, _ Cascade) error {
	return d.OnHasOne(name, h, CascadeNone)
}

func (d *decoder) OnHasMany(name string, c *Collection, _ Cascade) error {
	n, err := d.uvarint()
	if err != nil {
		return field(name, err)
	}
	if n > uint64(len(d.b)) {
		return field(name, io.ErrUnexpectedEOF)
	}
	ps := make([]*Proxy, 0, n)
	for range n {
		p, err := d.ref()
		if err != nil {
			return field(name, err)
		}
		ps = append(ps, p)
	}
	c.Reset(ps)
	return nil
}

func (d *decoder) SerializeKind(v *identifier.Kind) error {
	raw, err := d.take(1)
	if err != nil {
		return err
	}
	*v = identifier.Kind(raw[0])
	return nil
}

func (d *decoder) SerializeInt8(v *int8) error {
	raw, err := d.take(1)
	if err != nil {
		return err
	}
	*v = int8(raw[0])
	return nil
}

func (d *decoder) SerializeInt16(v *int16) error {
	raw, err := d.take(2)
	if err != nil {
		return err
	}
	*v = int16(binary.LittleEndian.Uint16(raw))
	return nil
}

func (d *decoder) SerializeInt32(v *int32) error {
	raw, err := d.take(4)
	if err != nil {
		return err
	}
	*v = int32(binary.LittleEndian.Uint32(raw))
	return nil
}

func (d *decoder) SerializeInt64(v *int64) error {
	u, err := d.u64()
	*v = int64(u)
	return err
}

func (d *decoder) SerializeUint8(v *uint8) error {
	raw, err := d.take(1)
	if err != nil {
		return err
	}
	*v = raw[0]
	return nil
}

func (d *decoder) SerializeUint16(v *uint16) error {
	raw, err := d.take(2)
	if err != nil {
		return err
	}
	*v = binary.LittleEndian.Uint16(raw)
	return nil
}

func (d *decoder) SerializeUint32(v *uint32) error {
	raw, err := d.take(4)
	if err != nil {
		return err
	}
	*v = binary.LittleEndian.Uint32(raw)
	return nil
}

func (d *decoder) SerializeUint64(v *uint64) error {
	u, err := d.u64()
	*v = u
	return err
}

func (d *decoder) SerializeString(v *string) error {
	s, err := d.str()
	*v = s
	return err
}
