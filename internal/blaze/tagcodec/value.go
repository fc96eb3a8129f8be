package tagcodec

// Type tag bytes identify the wire representation of a field's value.
// These are written immediately after a field's packed Tag (or, inside
// a List/Map, once for the whole homogeneous collection).
const (
	TypeVarInt  byte = 0x00
	TypeString  byte = 0x01
	TypeBlob    byte = 0x02
	TypeGroup   byte = 0x03
	TypeList    byte = 0x04
	TypeMap     byte = 0x05
	TypeUnion   byte = 0x06
	TypePair    byte = 0x07
	TypeTriple  byte = 0x08
	TypeGeneric byte = 0x09
)

// UnionUnset is the discriminator value for a Union with no payload.
const UnionUnset byte = 0x7F

// Value is any one of the tagged-value model's variants.
type Value interface {
	typeTag() byte
}

// VarInt is a variable-length signed integer.
type VarInt int64

func (VarInt) typeTag() byte { return TypeVarInt }

// Str is a length-prefixed, NUL-terminated string.
type Str string

func (Str) typeTag() byte { return TypeString }

// Blob is a length-prefixed byte blob.
type Blob []byte

func (Blob) typeTag() byte { return TypeBlob }

// Field is one tagged entry inside a Group.
type Field struct {
	Tag   Tag
	Type  byte
	Value Value
}

// Group is a nested object: an ordered set of tagged fields terminated
// by ZeroTag on the wire.
type Group struct {
	Fields []Field
}

func (*Group) typeTag() byte { return TypeGroup }

// Set appends or replaces the field named by tag with v, inferring the
// wire type tag from v's concrete type.
func (g *Group) Set(tag Tag, v Value) {
	for i := range g.Fields {
		if g.Fields[i].Tag == tag {
			g.Fields[i].Value = v
			g.Fields[i].Type = v.typeTag()
			return
		}
	}
	g.Fields = append(g.Fields, Field{Tag: tag, Type: v.typeTag(), Value: v})
}

// Get returns the field named by tag, if present.
func (g *Group) Get(tag Tag) (Value, bool) {
	for _, f := range g.Fields {
		if f.Tag == tag {
			return f.Value, true
		}
	}
	return nil, false
}

// List is a homogeneous sequence of values.
type List struct {
	ElemType byte
	Elems    []Value
}

func (List) typeTag() byte { return TypeList }

// MapEntry is one key/value pair inside a Map.
type MapEntry struct {
	Key   Value
	Value Value
}

// Map is a homogeneous-keyed, homogeneous-valued association list
// (wire form: key-type, value-type, count, then interleaved keys and
// values).
type Map struct {
	KeyType   byte
	ValueType byte
	Entries   []MapEntry
}

func (Map) typeTag() byte { return TypeMap }

// Pair is a fixed-size tuple of 2 integers.
type Pair [2]int64

func (Pair) typeTag() byte { return TypePair }

// Triple is a fixed-size tuple of 3 integers.
type Triple [3]int64

func (Triple) typeTag() byte { return TypeTriple }

// Union is the discriminated-union variant: a one-byte discriminator
// plus an optional payload. A discriminator of UnionUnset carries no
// payload.
type Union struct {
	Discriminator byte
	Payload       Value // nil when Discriminator == UnionUnset
}

func (Union) typeTag() byte { return TypeUnion }

// Generic wraps another Group with a Tag identifying its kind — the
// "generic typed object" variant used when a field's concrete object
// shape is chosen dynamically (e.g. per-game-mode attribute blocks).
type Generic struct {
	Kind   Tag
	Object *Group
}

func (Generic) typeTag() byte { return TypeGeneric }
