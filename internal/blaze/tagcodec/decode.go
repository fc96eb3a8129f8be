package tagcodec

// Decode parses a complete top-level Group from buf. It fails with
// *MalformedPacket when a length is impossible, a field's type tag is
// unrecognized, or trailing bytes remain after the object closes.
// Decoders never allocate more than len(buf) worth of derived data,
// since every length they trust is itself bounds-checked against buf
// before use.
func Decode(buf []byte) (*Group, error) {
	g, next, err := decodeGroupBody(buf, 0)
	if err != nil {
		return nil, err
	}
	if next != len(buf) {
		return nil, malformed(next, "%d trailing bytes after object close", len(buf)-next)
	}
	return g, nil
}

// decodeGroupBody reads fields until ZeroTag, leaving buf[next:] for
// the caller. A field whose Tag the caller doesn't recognize is simply
// appended to the returned Group like any other (property: unknown
// tags never block decoding of the fields around them, spec.md §8
// property 2).
func decodeGroupBody(buf []byte, off int) (*Group, int, error) {
	g := &Group{}
	for {
		if off+3 > len(buf) {
			return nil, off, malformed(off, "truncated tag header")
		}
		tag := Tag(uint32(buf[off])<<16 | uint32(buf[off+1])<<8 | uint32(buf[off+2]))
		off += 3
		if tag == ZeroTag {
			return g, off, nil
		}
		if off+1 > len(buf) {
			return nil, off, malformed(off, "truncated type byte for tag %s", tag)
		}
		typ := buf[off]
		off++

		val, next, err := decodeValue(buf, off, typ)
		if err != nil {
			return nil, off, err
		}
		off = next
		g.Fields = append(g.Fields, Field{Tag: tag, Type: typ, Value: val})
	}
}

func decodeValue(buf []byte, off int, typ byte) (Value, int, error) {
	switch typ {
	case TypeVarInt:
		v, next, ok := decodeVarint(buf, off)
		if !ok {
			return nil, off, malformed(off, "truncated varint")
		}
		return VarInt(v), next, nil

	case TypeString:
		data, next, err := decodeLengthPrefixed(buf, off)
		if err != nil {
			return nil, off, err
		}
		if len(data) == 0 || data[len(data)-1] != 0 {
			return nil, off, malformed(off, "string missing NUL terminator")
		}
		return Str(data[:len(data)-1]), next, nil

	case TypeBlob:
		data, next, err := decodeLengthPrefixed(buf, off)
		if err != nil {
			return nil, off, err
		}
		return Blob(data), next, nil

	case TypeGroup:
		g, next, err := decodeGroupBody(buf, off)
		if err != nil {
			return nil, off, err
		}
		return g, next, nil

	case TypeList:
		if off+1 > len(buf) {
			return nil, off, malformed(off, "truncated list element type")
		}
		elemType := buf[off]
		off++
		count, next, ok := decodeVarint(buf, off)
		if !ok || count < 0 {
			return nil, off, malformed(off, "invalid list count")
		}
		off = next
		if int(count) > len(buf)-off {
			return nil, off, malformed(off, "list count %d exceeds remaining buffer", count)
		}
		elems := make([]Value, 0, count)
		for i := int64(0); i < count; i++ {
			v, n, err := decodeValue(buf, off, elemType)
			if err != nil {
				return nil, off, err
			}
			off = n
			elems = append(elems, v)
		}
		return List{ElemType: elemType, Elems: elems}, off, nil

	case TypeMap:
		if off+2 > len(buf) {
			return nil, off, malformed(off, "truncated map key/value type")
		}
		keyType, valType := buf[off], buf[off+1]
		off += 2
		count, next, ok := decodeVarint(buf, off)
		if !ok || count < 0 {
			return nil, off, malformed(off, "invalid map count")
		}
		off = next
		if int(count) > len(buf)-off {
			return nil, off, malformed(off, "map count %d exceeds remaining buffer", count)
		}
		entries := make([]MapEntry, 0, count)
		for i := int64(0); i < count; i++ {
			k, n, err := decodeValue(buf, off, keyType)
			if err != nil {
				return nil, off, err
			}
			off = n
			v, n2, err := decodeValue(buf, off, valType)
			if err != nil {
				return nil, off, err
			}
			off = n2
			entries = append(entries, MapEntry{Key: k, Value: v})
		}
		return Map{KeyType: keyType, ValueType: valType, Entries: entries}, off, nil

	case TypePair:
		a, next, ok := decodeVarint(buf, off)
		if !ok {
			return nil, off, malformed(off, "truncated pair")
		}
		b, next2, ok := decodeVarint(buf, next)
		if !ok {
			return nil, next, malformed(next, "truncated pair")
		}
		return Pair{a, b}, next2, nil

	case TypeTriple:
		a, next, ok := decodeVarint(buf, off)
		if !ok {
			return nil, off, malformed(off, "truncated triple")
		}
		b, next2, ok := decodeVarint(buf, next)
		if !ok {
			return nil, next, malformed(next, "truncated triple")
		}
		c, next3, ok := decodeVarint(buf, next2)
		if !ok {
			return nil, next2, malformed(next2, "truncated triple")
		}
		return Triple{a, b, c}, next3, nil

	case TypeUnion:
		if off+1 > len(buf) {
			return nil, off, malformed(off, "truncated union discriminator")
		}
		disc := buf[off]
		off++
		if disc == UnionUnset {
			return Union{Discriminator: disc}, off, nil
		}
		if off+1 > len(buf) {
			return nil, off, malformed(off, "truncated union payload type")
		}
		payloadType := buf[off]
		off++
		payload, next, err := decodeValue(buf, off, payloadType)
		if err != nil {
			return nil, off, err
		}
		return Union{Discriminator: disc, Payload: payload}, next, nil

	case TypeGeneric:
		if off+3 > len(buf) {
			return nil, off, malformed(off, "truncated generic kind tag")
		}
		kind := Tag(uint32(buf[off])<<16 | uint32(buf[off+1])<<8 | uint32(buf[off+2]))
		off += 3
		obj, next, err := decodeGroupBody(buf, off)
		if err != nil {
			return nil, off, err
		}
		return Generic{Kind: kind, Object: obj}, next, nil

	default:
		return nil, off, malformed(off, "unrecognized type tag 0x%02x", typ)
	}
}

// decodeLengthPrefixed reads a varint length followed by exactly that
// many bytes, bounding allocation by the remaining buffer length.
func decodeLengthPrefixed(buf []byte, off int) ([]byte, int, error) {
	length, next, ok := decodeVarint(buf, off)
	if !ok || length < 0 {
		return nil, off, malformed(off, "invalid length prefix")
	}
	if int(length) > len(buf)-next {
		return nil, off, malformed(off, "length %d exceeds remaining buffer", length)
	}
	data := make([]byte, length)
	copy(data, buf[next:next+int(length)])
	return data, next + int(length), nil
}
