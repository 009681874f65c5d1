package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"graphstore/pkg/graph"
	"graphstore/pkg/identifier"
)

// ErrPayload reports a stored payload that does not fit the target type.
var ErrPayload = errors.New("persistence: malformed payload")

// ref is the stored form of a relation target.
type ref struct {
	Type string `json:"type"`
	ID   uint64 `json:"id"`
}

// jsonKey is the stored form of a primary key. Integral values travel as
// decimal strings so 64-bit values survive JSON number handling.
type jsonKey struct {
	Kind  string `json:"kind"`
	Value string `json:"value,omitempty"`
}

// EncodePayload renders the fields of obj as a JSON document keyed by field name.
func EncodePayload(obj graph.Object) ([]byte, error) {
	e := &payloadEncoder{fields: make(map[string]any)}
	if err := obj.Serialize(e); err != nil {
		return nil, err
	}
	return json.Marshal(e.fields)
}

// DecodePayload fills obj from a document written by EncodePayload. Relation
// targets are resolved in s, creating placeholders for ids not loaded yet.
// Fields missing from the document keep their zero value.
func DecodePayload(s *graph.Store, data []byte, obj graph.Object) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("%w: %v", ErrPayload, err)
	}
	return obj.Serialize(&payloadDecoder{store: s, fields: fields})
}

// EncodeKey renders id in its stored form.
func EncodeKey(id identifier.Identifier) ([]byte, error) {
	w := &keyWriter{}
	if err := id.Serialize(w); err != nil {
		return nil, err
	}
	return json.Marshal(w.out)
}

// DecodeKey parses a key written by EncodeKey.
func DecodeKey(data []byte) (identifier.Identifier, error) {
	var k jsonKey
	if err := json.Unmarshal(data, &k); err != nil {
		return identifier.Identifier{}, fmt.Errorf("%w: %v", ErrPayload, err)
	}
	var id identifier.Identifier
	if err := id.Serialize(&keyReader{in: k}); err != nil {
		return identifier.Identifier{}, err
	}
	return id, nil
}

type payloadEncoder struct {
	fields map[string]any
}

func target(h *graph.Holder) any {
	if h.ID() == 0 {
		return nil
	}
	return ref{Type: h.Proxy().TypeName(), ID: h.ID()}
}

func (e *payloadEncoder) OnPrimaryKey(name string, id *identifier.Identifier) error {
	w := &keyWriter{}
	if err := id.Serialize(w); err != nil {
		return err
	}
	e.fields[name] = w.out
	return nil
}

func (e *payloadEncoder) OnBool(name string, v *bool) error      { e.fields[name] = *v; return nil }
func (e *payloadEncoder) OnInt(name string, v *int64) error      { e.fields[name] = *v; return nil }
func (e *payloadEncoder) OnUint(name string, v *uint64) error    { e.fields[name] = *v; return nil }
func (e *payloadEncoder) OnFloat(name string, v *float64) error  { e.fields[name] = *v; return nil }
func (e *payloadEncoder) OnString(name string, v *string) error  { e.fields[name] = *v; return nil }
func (e *payloadEncoder) OnTime(name string, v *time.Time) error { e.fields[name] = *v; return nil }
func (e *payloadEncoder) OnBytes(name string, v *[]byte) error   { e.fields[name] = *v; return nil }

func (e *payloadEncoder) OnHasOne(name string, h *graph.Holder, _ graph.Cascade) error {
	e.fields[name] = target(h)
	return nil
}

func (e *payloadEncoder) OnBelongsTo(name string, h *graph.Holder, _ graph.Cascade) error {
	e.fields[name] = target(h)
	return nil
}

func (e *payloadEncoder) OnHasMany(name string, c *graph.Collection, _ graph.Cascade) error {
	items := make([]any, 0, c.Len())
	for _, h := range c.Holders() {
		if !h.IsNil() {
			items = append(items, target(h))
		}
	}
	e.fields[name] = items
	return nil
}

type payloadDecoder struct {
	store  *graph.Store
	fields map[string]json.RawMessage
}

func (d *payloadDecoder) into(name string, v any) error {
	raw, ok := d.fields[name]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: field %q: %v", ErrPayload, name, err)
	}
	return nil
}

func (d *payloadDecoder) resolve(r *ref) (*graph.Proxy, error) {
	if r == nil || r.ID == 0 {
		return nil, nil
	}
	return d.store.Resolve(r.Type, r.ID)
}

func (d *payloadDecoder) OnPrimaryKey(name string, id *identifier.Identifier) error {
	raw, ok := d.fields[name]
	if !ok {
		return nil
	}
	var k jsonKey
	if err := json.Unmarshal(raw, &k); err != nil {
		return fmt.Errorf("%w: field %q: %v", ErrPayload, name, err)
	}
	if err := id.Serialize(&keyReader{in: k}); err != nil {
		return fmt.Errorf("field %q: %w", name, err)
	}
	return nil
}

func (d *payloadDecoder) OnBool(name string, v *bool) error      { return d.into(name, v) }
func (d *payloadDecoder) OnInt(name string, v *int64) error      { return d.into(name, v) }
func (d *payloadDecoder) OnUint(name string, v *uint64) error    { return d.into(name, v) }
func (d *payloadDecoder) OnFloat(name string, v *float64) error  { return d.into(name, v) }
func (d *payloadDecoder) OnString(name string, v *string) error  { return d.into(name, v) }
func (d *payloadDecoder) OnTime(name string, v *time.Time) error { return d.into(name, v) }
func (d *payloadDecoder) OnBytes(name string, v *[]byte) error   { return d.into(name, v) }

func (d *payloadDecoder) OnHasOne(name string, h *graph.Holder, _ graph.Cascade) error {
	if _, ok := d.fields[name]; !ok {
		return nil
	}
	var r *ref
	if err := d.into(name, &r); err != nil {
		return err
	}
	p, err := d.resolve(r)
	if err != nil {
		return fmt.Errorf("field %q: %w", name, err)
	}
	h.Reset(p)
	return nil
}

func (d *payloadDecoder) OnBelongsTo(name string, h *graph.Holder, c graph.Cascade) error {
	return d.OnHasOne(name, h, c)
}

func (d *payloadDecoder) OnHasMany(name string, c *graph.Collection, _ graph.Cascade) error {
	if _, ok := d.fields[name]; !ok {
		return nil
	}
	var refs []*ref
	if err := d.into(name, &refs); err != nil {
		return err
	}
	ps := make([]*graph.Proxy, 0, len(refs))
	for _, r := range refs {
		p, err := d.resolve(r)
		if err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
		if p != nil {
			ps = append(ps, p)
		}
	}
	c.Reset(ps)
	return nil
}

// keyWriter captures an identifier into its stored form.
type keyWriter struct {
	out jsonKey
}

func (w *keyWriter) SerializeKind(v *identifier.Kind) error { w.out.Kind = v.String(); return nil }
func (w *keyWriter) signed(v int64) error                   { w.out.Value = strconv.FormatInt(v, 10); return nil }
func (w *keyWriter) unsigned(v uint64) error                { w.out.Value = strconv.FormatUint(v, 10); return nil }

func (w *keyWriter) SerializeInt8(v *int8) error     { return w.signed(int64(*v)) }
func (w *keyWriter) SerializeInt16(v *int16) error   { return w.signed(int64(*v)) }
func (w *keyWriter) SerializeInt32(v *int32) error   { return w.signed(int64(*v)) }
func (w *keyWriter) SerializeInt64(v *int64) error   { return w.signed(*v) }
func (w *keyWriter) SerializeUint8(v *uint8) error   { return w.unsigned(uint64(*v)) }
func (w *keyWriter) SerializeUint16(v *uint16) error { return w.unsigned(uint64(*v)) }
func (w *keyWriter) SerializeUint32(v *uint32) error { return w.unsigned(uint64(*v)) }
func (w *keyWriter) SerializeUint64(v *uint64) error { return w.unsigned(*v) }
func (w *keyWriter) SerializeString(v *string) error { w.out.Value = *v; return nil }

// keyReader restores an identifier from its stored form.
type keyReader struct {
	in jsonKey
}

func (r *keyReader) SerializeKind(v *identifier.Kind) error {
	if r.in.Kind == "" {
		*v = identifier.KindNull
		return nil
	}
	k, ok := identifier.ParseKind(r.in.Kind)
	if !ok {
		return fmt.Errorf("%w: unknown key kind %q", ErrPayload, r.in.Kind)
	}
	*v = k
	return nil
}

func (r *keyReader) signed(bits int) (int64, error) {
	n, err := strconv.ParseInt(r.in.Value, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("%w: key value: %v", ErrPayload, err)
	}
	return n, nil
}

func (r *keyReader) unsigned(bits int) (uint64, error) {
	n, err := strconv.ParseUint(r.in.Value, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("%w: key value: %v", ErrPayload, err)
	}
	return n, nil
}

func (r *keyReader) SerializeInt8(v *int8) error {
	n, err := r.signed(8)
	*v = int8(n)
	return err
}

func (r *keyReader) SerializeInt16(v *int16) error {
	n, err := r.signed(16)
	*v = int16(n)
	return err
}

func (r *keyReader) SerializeInt32(v *int32) error {
	n, err := r.signed(32)
	*v = int32(n)
	return err
}

func (r *keyReader) SerializeInt64(v *int64) error {
	n, err := r.signed(64)
	*v = n
	return err
}

func (r *keyReader) SerializeUint8(v *uint8) error {
	n, err := r.unsigned(8)
	*v = uint8(n)
	return err
}

func (r *keyReader) SerializeUint16(v *uint16) error {
	n, err := r.unsigned(16)
	*v = uint16(n)
	return err
}

func (r *keyReader) SerializeUint32(v *uint32) error {
	n, err := r.unsigned(32)
	*v = uint32(n)
	return err
}

func (r *keyReader) SerializeUint64(v *uint64) error {
	n, err := r.unsigned(64)
	*v = n
	return err
}

func (r *keyReader) SerializeString(v *string) error { *v = r.in.Value; return nil }
