// Package identifier provides the type-erased primary key value used as object
// identity and as foreign-key payload.
//
// An Identifier holds an integral or string value whose kind is fixed once set.
// Comparing identifiers of different kinds is a programming error and panics
// with ErrTypeMismatch. Copying an Identifier copies its value; storage is only
// ever aliased through an explicit call to Share, and Isolate undoes it.
package identifier

import (
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// ErrTypeMismatch reports an operation mixing identifiers of different kinds.
var ErrTypeMismatch = errors.New("identifier: type mismatch")

// Kind enumerates the underlying value types an Identifier can hold.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindUint8
	KindUint16
	KindUint32
	KindUint64
	KindString
)

var kindNames = [...]string{
	KindNull:   "null",
	KindInt8:   "int8",
	KindInt16:  "int16",
	KindInt32:  "int32",
	KindInt64:  "int64",
	KindUint8:  "uint8",
	KindUint16: "uint16",
	KindUint32: "uint32",
	KindUint64: "uint64",
	KindString: "string",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// ParseKind returns the kind named name, as produced by Kind.String.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return Kind(k), true
		}
	}
	return KindNull, false
}

// Signed reports whether k is a signed integral kind.
func (k Kind) Signed() bool { return k >= KindInt8 && k <= KindInt64 }

// Unsigned reports whether k is an unsigned integral kind.
func (k Kind) Unsigned() bool { return k >= KindUint8 && k <= KindUint64 }

// Integral reports whether k is any integral kind.
func (k Kind) Integral() bool { return k.Signed() || k.Unsigned() }

// Value constrains the Go types an Identifier can be built from.
type Value interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~string
}

// Identifier is a primary key value. The zero value is the null identifier.
type Identifier struct {
	kind   Kind
	i      int64
	u      uint64
	s      string
	shared *Identifier
}

// Key is a comparable projection of an Identifier, usable as a map key.
type Key struct {
	Kind Kind
	I    int64
	U    uint64
	S    string
}

var null Identifier

// Null returns the null identifier, representing "no identity yet".
func Null() Identifier { return null }

// New builds an identifier holding v.
func New[T Value](v T) Identifier {
	var id Identifier
	Set(&id, v)
	return id
}

func kindOf(rv reflect.Value) Kind {
	switch rv.Kind() {
	case reflect.Int8:
		return KindInt8
	case reflect.Int16:
		return KindInt16
	case reflect.Int32:
		return KindInt32
	case reflect.Int, reflect.Int64:
		return KindInt64
	case reflect.Uint8:
		return KindUint8
	case reflect.Uint16:
		return KindUint16
	case reflect.Uint32:
		return KindUint32
	case reflect.Uint, reflect.Uint64:
		return KindUint64
	case reflect.String:
		return KindString
	}
	return KindNull
}

// Set writes v into id (through shared storage, if any). A null identifier
// adopts the kind of v; any other kind must match or Set panics.
func Set[T Value](id *Identifier, v T) {
	rv := reflect.ValueOf(v)
	t := id.target()
	k := kindOf(rv)
	t.adopt(k)
	switch {
	case k.Signed():
		t.i = rv.Int()
	case k.Unsigned():
		t.u = rv.Uint()
	default:
		t.s = rv.String()
	}
}

func (id *Identifier) adopt(k Kind) {
	if id.kind != KindNull && id.kind != k {
		panic(fmt.Errorf("%w: cannot assign %s to %s identifier", ErrTypeMismatch, k, id.kind))
	}
	id.kind = k
}

func (id *Identifier) target() *Identifier {
	t := id
	for t.shared != nil {
		t = t.shared
	}
	return t
}

func (id Identifier) resolved() Identifier {
	if id.shared == nil {
		return id
	}
	t := id.shared.target()
	return Identifier{kind: t.kind, i: t.i, u: t.u, s: t.s}
}

// Kind returns the underlying kind.
func (id Identifier) Kind() Kind { return id.resolved().kind }

// IsNull reports whether id has no kind yet.
func (id Identifier) IsNull() bool { return id.Kind() == KindNull }

// IsValid reports whether id holds a non-zero, non-empty value.
func (id Identifier) IsValid() bool {
	r := id.resolved()
	switch {
	case r.kind.Signed():
		return r.i != 0
	case r.kind.Unsigned():
		return r.u != 0
	case r.kind == KindString:
		return r.s != ""
	}
	return false
}

// IsShared reports whether id reads and writes through another identifier.
func (id Identifier) IsShared() bool { return id.shared != nil }

// Share makes id alias the storage of other until Isolate is called.
func (id *Identifier) Share(other *Identifier) {
	if other == nil {
		panic("identifier: share with nil identifier")
	}
	t := other.target()
	if t == id {
		return
	}
	own, theirs := id.resolved().kind, t.kind
	if own != KindNull && theirs != KindNull && own != theirs {
		panic(fmt.Errorf("%w: cannot share %s identifier with %s", ErrTypeMismatch, own, theirs))
	}
	*id = Identifier{shared: t}
}

// Isolate copies the shared value into id and breaks the alias.
func (id *Identifier) Isolate() {
	*id = id.resolved()
}

// Clone returns an independent copy of id.
func (id Identifier) Clone() Identifier { return id.resolved() }

// Key returns the comparable projection of id.
func (id Identifier) Key() Key {
	r := id.resolved()
	return Key{Kind: r.kind, I: r.i, U: r.u, S: r.s}
}

// Int64 returns the value of a signed identifier.
func (id Identifier) Int64() (int64, bool) {
	r := id.resolved()
	return r.i, r.kind.Signed()
}

// Uint64 returns the value of an unsigned identifier.
func (id Identifier) Uint64() (uint64, bool) {
	r := id.resolved()
	return r.u, r.kind.Unsigned()
}

// Str returns the value of a string identifier.
func (id Identifier) Str() (string, bool) {
	r := id.resolved()
	return r.s, r.kind == KindString
}

func (id Identifier) String() string {
	r := id.resolved()
	switch {
	case r.kind.Signed():
		return strconv.FormatInt(r.i, 10)
	case r.kind.Unsigned():
		return strconv.FormatUint(r.u, 10)
	case r.kind == KindString:
		return r.s
	}
	return "null"
}

func mustMatch(a, b Identifier) {
	if a.kind != b.kind {
		panic(fmt.Errorf("%w: %s vs %s", ErrTypeMismatch, a.kind, b.kind))
	}
}

// Compare orders two identifiers of the same kind. The null identifier
// sorts before every other value and equals only itself.
func (id Identifier) Compare(other Identifier) int {
	a, b := id.resolved(), other.resolved()
	if a.kind == KindNull || b.kind == KindNull {
		switch {
		case a.kind == b.kind:
			return 0
		case a.kind == KindNull:
			return -1
		default:
			return 1
		}
	}
	mustMatch(a, b)
	switch {
	case a.kind.Signed():
		return cmpOrdered(a.i, b.i)
	case a.kind.Unsigned():
		return cmpOrdered(a.u, b.u)
	default:
		return cmpOrdered(a.s, b.s)
	}
}

func cmpOrdered[T int64 | uint64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Equal reports whether both identifiers hold the same kind and value.
func (id Identifier) Equal(other Identifier) bool { return id.Compare(other) == 0 }

// Less reports whether id orders before other.
func (id Identifier) Less(other Identifier) bool { return id.Compare(other) < 0 }

// Hash returns a 64-bit hash over the kind and value.
func (id Identifier) Hash() uint64 {
	r := id.resolved()
	d := xxhash.New()
	var scratch [9]byte
	scratch[0] = byte(r.kind)
	switch {
	case r.kind.Signed():
		binary.LittleEndian.PutUint64(scratch[1:], uint64(r.i))
		_, _ = d.Write(scratch[:])
	case r.kind.Unsigned():
		binary.LittleEndian.PutUint64(scratch[1:], r.u)
		_, _ = d.Write(scratch[:])
	default:
		_, _ = d.Write(scratch[:1])
		_, _ = d.WriteString(r.s)
	}
	return d.Sum64()
}

// SetIntegral stores v into an integral identifier, keeping its kind and
// truncating to its width. It reports false for string and null identifiers.
func (id *Identifier) SetIntegral(v uint64) bool {
	t := id.target()
	switch {
	case t.kind.Signed():
		switch t.kind {
		case KindInt8:
			t.i = int64(int8(v))
		case KindInt16:
			t.i = int64(int16(v))
		case KindInt32:
			t.i = int64(int32(v))
		default:
			t.i = int64(v)
		}
	case t.kind.Unsigned():
		switch t.kind {
		case KindUint8:
			t.u = uint64(uint8(v))
		case KindUint16:
			t.u = uint64(uint16(v))
		case KindUint32:
			t.u = uint64(uint32(v))
		default:
			t.u = v
		}
	default:
		return false
	}
	return true
}
