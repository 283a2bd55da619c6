package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersionResponse(t *testing.T) {
	tests := []struct {
		name      string
		payload   []byte
		wantMb    int
		wantHw    string
		wantFw12  bool
		wantMini  bool
		wantErr   bool
	}{
		{
			name:     "v1.2 mini with 4Mb flash",
			payload:  append([]byte{0x04}, []byte("v1.2_mini")...),
			wantMb:   4,
			wantHw:   "v1.2_mini",
			wantFw12: true,
			wantMini: true,
		},
		{
			name:     "v1.1 standard",
			payload:  append([]byte{0x08}, []byte("v1.1")...),
			wantMb:   8,
			wantHw:   "v1.1",
			wantFw12: false,
			wantMini: false,
		},
		{
			name:     "unversioned emulator string",
			payload:  append([]byte{0x01}, []byte("emul")...),
			wantMb:   1,
			wantHw:   "emul",
			wantFw12: false,
			wantMini: false,
		},
		{
			name:    "truncated payload",
			payload: []byte{0x04},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := ParseVersionResponse(tt.payload)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMb, info.FlashMb)
			assert.Equal(t, tt.wantHw, info.HwVersion)
			assert.Equal(t, tt.wantFw12, info.IsFw12)
			assert.Equal(t, tt.wantMini, info.IsMini)
		})
	}
}

func TestKnockSensitivityMapping(t *testing.T) {
	tests := []struct {
		raw  byte
		want KnockSensitivity
	}{
		{11, KnockLow},
		{8, KnockMedium},
		{5, KnockHigh},
		{42, KnockMedium}, // unknown threshold falls back to medium
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, KnockSensitivityFromRaw(tt.raw), "raw %d", tt.raw)
	}

	assert.Equal(t, byte(11), KnockSensitivityToRaw(KnockLow))
	assert.Equal(t, byte(8), KnockSensitivityToRaw(KnockMedium))
	assert.Equal(t, byte(5), KnockSensitivityToRaw(KnockHigh))
}

func TestParseSerialResponse(t *testing.T) {
	serial, err := ParseSerialResponse([]byte{0x00, 0x01, 0x02, 0x03})
	require.NoError(t, err)
	assert.Equal(t, uint32(0x00010203), serial)

	_, err = ParseSerialResponse([]byte{0x01})
	require.Error(t, err)
}

func TestParseChangeNumbersResponse(t *testing.T) {
	nb, err := ParseChangeNumbersResponse([]byte{1, 7, 9})
	require.NoError(t, err)
	assert.Equal(t, uint8(7), nb.Credentials)
	assert.Equal(t, uint8(9), nb.Data)

	_, err = ParseChangeNumbersResponse([]byte{0, 0, 0})
	require.Error(t, err)
	assert.True(t, IsDeviceRefused(err))
}

func TestParseUIDResponse(t *testing.T) {
	uid, err := ParseUIDResponse([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06})
	require.NoError(t, err)
	assert.Equal(t, uint64(0x010203040506), uid)

	_, err = ParseUIDResponse(nil)
	require.Error(t, err)
}

func TestEncodeDate(t *testing.T) {
	d := EncodeDate(time.Date(2016, time.March, 5, 0, 0, 0, 0, time.UTC))
	// (2016-2010)<<9 | 3<<5 | 5 = 0x0C65, little-endian on the wire.
	assert.Equal(t, []byte{0x65, 0x0C}, d)
}
