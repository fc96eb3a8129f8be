package packet

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePacket(bodyLen int) *Packet {
	body := make([]byte, bodyLen)
	for i := range body {
		body[i] = byte(i)
	}
	return &Packet{
		Header: Header{
			Component: 0x0019,
			Command:   0x0001,
			Error:     0,
			Type:      TypeRequest,
			MessageID: 42,
		},
		Body: body,
	}
}

func TestAppend_ShortFormRoundTrip(t *testing.T) {
	pkt := samplePacket(64)
	buf, err := Append(nil, pkt)
	require.NoError(t, err)

	r := NewReader()
	r.Feed(buf)
	got, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, pkt, got)
	assert.Equal(t, 0, r.Pending())
}

func TestAppend_ExtendedFormAtBoundary(t *testing.T) {
	// Body large enough to push the total frame size past the short
	// length limit, forcing the extended 4-byte length form.
	pkt := samplePacket(shortLengthLimit)
	buf, err := Append(nil, pkt)
	require.NoError(t, err)
	assert.Equal(t, uint16(extendedLengthFlag), (uint16(buf[0])<<8)|uint16(buf[1]))

	r := NewReader()
	r.Feed(buf)
	got, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, pkt.Body, got.Body)
}

func TestAppend_NotifyOmitsMessageID(t *testing.T) {
	pkt := samplePacket(8)
	pkt.Header.Type = TypeNotify
	pkt.Header.MessageID = 0

	buf, err := Append(nil, pkt)
	require.NoError(t, err)

	r := NewReader()
	r.Feed(buf)
	got, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, TypeNotify, got.Header.Type)
	assert.Equal(t, uint32(0), got.Header.MessageID)
}

func TestReader_Restartable_ArbitrarySplits(t *testing.T) {
	var whole bytes.Buffer
	var want []*Packet
	for _, size := range []int{0, 1, 300, shortLengthLimit, 10} {
		pkt := samplePacket(size)
		buf, err := Append(nil, pkt)
		require.NoError(t, err)
		whole.Write(buf)
		want = append(want, pkt)
	}
	data := whole.Bytes()

	// Feed the whole stream split at every 7th byte offset from
	// 1..len(data)-1 in turn and confirm the packet sequence recovered is identical
	// regardless of where the chunk boundaries fall.
	for split := 1; split < len(data); split += 7 {
		r := NewReader()
		r.Feed(data[:split])
		var got []*Packet
		for {
			pkt, err := r.Next()
			if err == ErrIncomplete {
				break
			}
			require.NoError(t, err)
			got = append(got, pkt)
		}
		r.Feed(data[split:])
		for {
			pkt, err := r.Next()
			if err == ErrIncomplete {
				break
			}
			require.NoError(t, err)
			got = append(got, pkt)
		}
		require.Len(t, got, len(want))
		for i := range want {
			assert.Equal(t, want[i].Header, got[i].Header)
			assert.Equal(t, want[i].Body, got[i].Body)
		}
	}
}

func TestReader_Next_OneByteAtATime(t *testing.T) {
	pkt := samplePacket(50)
	buf, err := Append(nil, pkt)
	require.NoError(t, err)

	r := NewReader()
	var got *Packet
	for i, b := range buf {
		r.Feed([]byte{b})
		pkt, err := r.Next()
		if err == ErrIncomplete {
			continue
		}
		require.NoError(t, err)
		require.Equal(t, len(buf)-1, i, "packet should only complete on the final byte")
		got = pkt
	}
	require.NotNil(t, got)
	assert.Equal(t, pkt.Body, got.Body)
}

func TestReader_UnknownLengthFlagIsMalformed(t *testing.T) {
	buf := []byte{0x90, 0x01, 0, 0, 0, 0, 0, 0, 0, 0}
	r := NewReader()
	r.Feed(buf)
	_, err := r.Next()
	require.Error(t, err)
	var mp *MalformedPacket
	require.ErrorAs(t, err, &mp)
}

func TestReader_OversizedPacketRejected(t *testing.T) {
	buf := make([]byte, 6)
	buf[0], buf[1] = 0x80, 0x00
	oversize := uint32(MaxPacketSize + 1)
	buf[2] = byte(oversize >> 24)
	buf[3] = byte(oversize >> 16)
	buf[4] = byte(oversize >> 8)
	buf[5] = byte(oversize)

	r := NewReader()
	r.Feed(buf)
	_, err := r.Next()
	require.Error(t, err)
	var op *OversizedPacket
	require.ErrorAs(t, err, &op)
	assert.Equal(t, MaxPacketSize, op.Limit)
}

func TestAppend_OversizedBodyRejected(t *testing.T) {
	pkt := samplePacket(MaxPacketSize + 1)
	_, err := Append(nil, pkt)
	require.Error(t, err)
	var op *OversizedPacket
	require.ErrorAs(t, err, &op)
}
