package tagcodec

// Encode serializes a top-level Group. Encoding is infallible for
// well-formed values (spec.md §4.1): the Value interface is closed and
// every concrete type in this package round-trips cleanly.
func Encode(g *Group) []byte {
	return appendGroupBody(nil, g)
}

// appendGroupBody writes each field as (tag:3 bytes, type:1 byte,
// value) followed by the ZeroTag terminator, without a leading type
// byte of its own (a nested Group's type byte is written by the
// enclosing field loop below, before appendValue writes its body).
func appendGroupBody(buf []byte, g *Group) []byte {
	for _, f := range g.Fields {
		buf = appendTag(buf, f.Tag)
		buf = append(buf, f.Type)
		buf = appendValue(buf, f.Value)
	}
	return appendTag(buf, ZeroTag)
}

func appendTag(buf []byte, t Tag) []byte {
	return append(buf, byte(t>>16), byte(t>>8), byte(t))
}

func appendLengthPrefixed(buf []byte, data []byte) []byte {
	buf = encodeVarint(buf, int64(len(data)))
	return append(buf, data...)
}

func appendValue(buf []byte, v Value) []byte {
	switch val := v.(type) {
	case VarInt:
		return encodeVarint(buf, int64(val))
	case Str:
		b := append([]byte(val), 0)
		return appendLengthPrefixed(buf, b)
	case Blob:
		return appendLengthPrefixed(buf, val)
	case *Group:
		return appendGroupBody(buf, val)
	case List:
		buf = append(buf, val.ElemType)
		buf = encodeVarint(buf, int64(len(val.Elems)))
		for _, e := range val.Elems {
			buf = appendValue(buf, e)
		}
		return buf
	case Map:
		buf = append(buf, val.KeyType, val.ValueType)
		buf = encodeVarint(buf, int64(len(val.Entries)))
		for _, e := range val.Entries {
			buf = appendValue(buf, e.Key)
			buf = appendValue(buf, e.Value)
		}
		return buf
	case Pair:
		buf = encodeVarint(buf, val[0])
		return encodeVarint(buf, val[1])
	case Triple:
		buf = encodeVarint(buf, val[0])
		buf = encodeVarint(buf, val[1])
		return encodeVarint(buf, val[2])
	case Union:
		buf = append(buf, val.Discriminator)
		if val.Discriminator == UnionUnset || val.Payload == nil {
			return buf
		}
		buf = append(buf, val.Payload.typeTag())
		return appendValue(buf, val.Payload)
	case Generic:
		buf = appendTag(buf, val.Kind)
		return appendGroupBody(buf, val.Object)
	default:
		// Value is a closed interface; every implementation is handled
		// above. Reaching here indicates a new Value variant was added
		// without updating appendValue.
		panic("tagcodec: unhandled Value type in appendValue")
	}
}
