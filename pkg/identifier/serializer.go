package identifier

import "fmt"

// Serializer moves identifier values to or from a destination the identifier
// knows nothing about (a byte buffer, a SQL parameter list, ...). Each method
// receives a pointer: writers read from it, readers store into it.
type Serializer interface {
	SerializeKind(v *Kind) error
	SerializeInt8(v *int8) error
	SerializeInt16(v *int16) error
	SerializeInt32(v *int32) error
	SerializeInt64(v *int64) error
	SerializeUint8(v *uint8) error
	SerializeUint16(v *uint16) error
	SerializeUint32(v *uint32) error
	SerializeUint64(v *uint64) error
	SerializeString(v *string) error
}

// Serialize walks id through s. The kind travels first so a reader can
// restore into a null identifier. Restoring a different kind into a typed
// identifier fails with ErrTypeMismatch.
func (id *Identifier) Serialize(s Serializer) error {
	t := id.target()
	k := t.kind
	if err := s.SerializeKind(&k); err != nil {
		return fmt.Errorf("identifier kind: %w", err)
	}
	if t.kind != KindNull && k != KindNull && t.kind != k {
		return fmt.Errorf("%w: stream holds %s, identifier is %s", ErrTypeMismatch, k, t.kind)
	}
	var err error
	switch k {
	case KindNull:
		*t = Identifier{}
		return nil
	case KindInt8:
		v := int8(t.i)
		err = s.SerializeInt8(&v)
		t.i = int64(v)
	case KindInt16:
		v := int16(t.i)
		err = s.SerializeInt16(&v)
		t.i = int64(v)
	case KindInt32:
		v := int32(t.i)
		err = s.SerializeInt32(&v)
		t.i = int64(v)
	case KindInt64:
		err = s.SerializeInt64(&t.i)
	case KindUint8:
		v := uint8(t.u)
		err = s.SerializeUint8(&v)
		t.u = uint64(v)
	case KindUint16:
		v := uint16(t.u)
		err = s.SerializeUint16(&v)
		t.u = uint64(v)
	case KindUint32:
		v := uint32(t.u)
		err = s.SerializeUint32(&v)
		t.u = uint64(v)
	case KindUint64:
		err = s.SerializeUint64(&t.u)
	case KindString:
		err = s.SerializeString(&t.s)
	default:
		return fmt.Errorf("identifier: unknown kind %d", k)
	}
	if err != nil {
		return fmt.Errorf("identifier %s value: %w", k, err)
	}
	t.kind = k
	return nil
}
