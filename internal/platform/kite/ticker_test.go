package kite

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// frame assembles a binary quote frame from raw packets.
func frame(packets ...[]byte) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(len(packets)))
	for _, p := range packets {
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(p)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, p...)
	}
	return buf
}

// ltpPacket builds an 8-byte LTP packet with the price already in wire units.
func ltpPacket(token uint32, raw uint32) []byte {
	p := make([]byte, 8)
	binary.BigEndian.PutUint32(p[0:4], token)
	binary.BigEndian.PutUint32(p[4:8], raw)
	return p
}

func TestParseBinaryLTPFrame(t *testing.T) {
	// NIFTY 50 index at 22150.45 and an NFO option at 102.50
	data := frame(
		ltpPacket(256265, 2215045),
		ltpPacket(111001, 10250),
	)

	ticks := ParseBinary(data)

	require.Len(t, ticks, 2)
	assert.Equal(t, uint32(256265), ticks[0].InstrumentToken)
	assert.InDelta(t, 22150.45, ticks[0].LastPrice, 1e-9)
	assert.Equal(t, uint32(111001), ticks[1].InstrumentToken)
	assert.InDelta(t, 102.50, ticks[1].LastPrice, 1e-9)
}

func TestParseBinaryCurrencyDivisors(t *testing.T) {
	cdsToken := uint32(0x0100 | segmentCDS)
	bcdToken := uint32(0x0100 | segmentBCD)
	data := frame(
		ltpPacket(cdsToken, 834551250),
		ltpPacket(bcdToken, 834551),
	)

	ticks := ParseBinary(data)

	require.Len(t, ticks, 2)
	assert.InDelta(t, 83.4551250, ticks[0].LastPrice, 1e-9)
	assert.InDelta(t, 83.4551, ticks[1].LastPrice, 1e-9)
}

func TestParseBinaryLongerModesUseLeadingFields(t *testing.T) {
	// quote-mode packets are 44 bytes; the token and LTP stay in front
	p := make([]byte, 44)
	binary.BigEndian.PutUint32(p[0:4], 111001)
	binary.BigEndian.PutUint32(p[4:8], 10250)
	binary.BigEndian.PutUint32(p[8:12], 9999999)

	ticks := ParseBinary(frame(p))

	require.Len(t, ticks, 1)
	assert.Equal(t, uint32(111001), ticks[0].InstrumentToken)
	assert.InDelta(t, 102.50, ticks[0].LastPrice, 1e-9)
}

func TestParseBinaryHeartbeatAndEmpty(t *testing.T) {
	assert.Nil(t, ParseBinary([]byte{0x00}))
	assert.Nil(t, ParseBinary(nil))
	assert.Empty(t, ParseBinary(frame()))
}

func TestParseBinaryTruncatedFrame(t *testing.T) {
	good := ltpPacket(111001, 10250)
	data := frame(good, ltpPacket(111002, 20500))
	// chop the second packet mid-way
	data = data[:len(data)-3]

	ticks := ParseBinary(data)

	require.Len(t, ticks, 1)
	assert.Equal(t, uint32(111001), ticks[0].InstrumentToken)
}

func TestParseBinarySkipsShortPackets(t *testing.T) {
	// a 4-byte packet has a token but no price; it must be skipped without
	// derailing the ones after it
	short := make([]byte, 4)
	binary.BigEndian.PutUint32(short, 111003)
	data := frame(short, ltpPacket(111001, 10250))

	ticks := ParseBinary(data)

	require.Len(t, ticks, 1)
	assert.Equal(t, uint32(111001), ticks[0].InstrumentToken)
}

func TestSendCommandRequiresConnection(t *testing.T) {
	tk := NewTicker("", "key", "token")

	err := tk.Subscribe([]uint32{256265})
	assert.Error(t, err)

	err = tk.SetModeLTP([]uint32{256265})
	assert.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	tk := NewTicker("", "key", "token")

	require.NoError(t, tk.Close())
	require.NoError(t, tk.Close())
}
