package sd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCID(t *testing.T) {
	cid := ParseCID([]byte{
		0x03, 'S', 'D', 'S', 'U', '0', '2', 'G',
		0x80, 0x01, 0x02, 0x03, 0x04, 0x00, 0xa6, 0x01,
	})
	require.Equal(t, byte(0x03), cid.MID)
	require.Equal(t, "SD", cid.OID)
	require.Equal(t, "SU02G", cid.PNM)
	require.Equal(t, uint32(0x01020304), cid.PSN)
	major, minor := cid.Revision()
	require.Equal(t, 8, major)
	require.Equal(t, 0, minor)
	year, month := cid.Manufactured()
	require.Equal(t, 2010, year)
	require.Equal(t, 6, month)
	require.Equal(t, "03 SD SU02G 8.0 01020304 2010/6", cid.String())
}

func TestParseCSD(t *testing.T) {
	testCases := []struct {
		name      string
		csd       []byte
		structure int
		blocks    uint32
		err       error
	}{
		{
			name: "v1 1024 byte blocks",
			csd: []byte{
				0x00, 0x2e, 0x00, 0x32, 0x5a, 0x5a, 0x83, 0xc3,
				0xc0, 0x03, 0x80, 0x00, 0x00, 0x00, 0x00, 0x01,
			},
			structure: 1,
			blocks:    3856 * 1024,
		},
		{
			name: "v2",
			csd: []byte{
				0x40, 0x0e, 0x00, 0x32, 0x5b, 0x59, 0x00, 0x00,
				0x3b, 0x37, 0x7f, 0x80, 0x0a, 0x40, 0x40, 0xaf,
			},
			structure: 2,
			blocks:    15160 * 1024,
		},
		{
			name: "v1 block length too large",
			csd: []byte{
				0x00, 0x2e, 0x00, 0x32, 0x5a, 0x5c, 0x83, 0xc3,
				0xc0, 0x03, 0x80, 0x00, 0x00, 0x00, 0x00, 0x01,
			},
			structure: 1,
			err:       ErrBlockLen,
		},
		{
			name:      "unknown structure",
			csd:       []byte{0x80, 0, 0, 0x32, 0, 0x59, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
			structure: 0,
			err:       ErrCSDStructure,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			csd, err := ParseCSD(tc.csd)
			require.Equal(t, tc.structure, csd.Structure)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.blocks, csd.Blocks)
			require.Equal(t, uint64(tc.blocks)*512, csd.Capacity())
		})
	}
}

func TestClockRate(t *testing.T) {
	testCases := []struct {
		tranSpeed byte
		hz        uint32
	}{
		{0x32, 25000000},
		{0x5a, 50000000},
		{0x0b, 100000000},
		{0x2a, 20000000},
		{0x48, 400000},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.hz, CSD{TranSpeed: tc.tranSpeed}.ClockRate(), "0x%02x", tc.tranSpeed)
	}
}
