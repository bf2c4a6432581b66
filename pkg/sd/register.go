package sd

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// CID is the card identification register.
type CID struct {
	MID byte
	OID string
	PNM string
	PRV byte
	PSN uint32
	MDT uint16
}

// ParseCID decodes a 16 byte CID register.
func ParseCID(b []byte) CID {
	return CID{
		MID: b[0],
		OID: string(b[1:3]),
		PNM: string(b[3:8]),
		PRV: b[8],
		PSN: binary.BigEndian.Uint32(b[9:13]),
		MDT: binary.BigEndian.Uint16(b[13:15]) & 0x0fff,
	}
}

// Revision splits PRV into major and minor.
func (c CID) Revision() (major, minor int) {
	return int(c.PRV >> 4), int(c.PRV & 0xf)
}

// Manufactured returns the manufacture year and month.
func (c CID) Manufactured() (year, month int) {
	return int((c.MDT>>4)&0xff) + 2000, int(c.MDT & 0xf)
}

// String implements fmt.Stringer.
func (c CID) String() string {
	major, minor := c.Revision()
	year, month := c.Manufactured()
	return fmt.Sprintf("%02x %s %s %d.%d %08x %d/%d",
		c.MID, printable(c.OID), printable(c.PNM), major, minor, c.PSN, year, month)
}

func printable(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e {
			return '?'
		}
		return r
	}, s)
}

// CSD is the decoded subset of the card specific data register.
type CSD struct {
	// Structure is the CSD structure version, 1 or 2.
	Structure int
	TranSpeed byte
	// ReadBlockLen is log2 of the maximum read block length.
	ReadBlockLen uint
	CSize        uint32
	CSizeMult    uint
	// Blocks is the capacity in 512 byte blocks.
	Blocks uint32
}

var tranSpeedValues = [16]uint32{0, 10, 12, 13, 15, 20, 25, 30, 35, 40, 45, 50, 55, 60, 70, 80}

var tranSpeedUnits = [8]uint32{100000, 1000000, 10000000, 100000000}

// ParseCSD decodes a 16 byte CSD register.
func ParseCSD(b []byte) (CSD, error) {
	csd := CSD{TranSpeed: b[3], ReadBlockLen: uint(b[5] & 0xf)}
	switch b[0] >> 6 {
	case 0:
		csd.Structure = 1
		csd.CSize = uint32(b[6]&0x3)<<10 | uint32(b[7])<<2 | uint32(b[8])>>6
		csd.CSizeMult = uint(b[9]&0x3)<<1 | uint(b[10])>>7
		if csd.ReadBlockLen < 9 || csd.ReadBlockLen > 11 {
			return csd, fmt.Errorf("%w: READ_BL_LEN %d", ErrBlockLen, csd.ReadBlockLen)
		}
		blocks := uint64(csd.CSize+1) << (csd.CSizeMult + 2)
		csd.Blocks = uint32(blocks << csd.ReadBlockLen / defaultBlockSize)
	case 1:
		csd.Structure = 2
		csd.CSize = uint32(b[7]&0x3f)<<16 | uint32(b[8])<<8 | uint32(b[9])
		csd.Blocks = (csd.CSize + 1) << 10
	default:
		return csd, fmt.Errorf("%w: 0x%02x", ErrCSDStructure, b[0])
	}
	return csd, nil
}

// ClockRate converts TRAN_SPEED to a bus clock in Hz.
func (c CSD) ClockRate() uint32 {
	return uint32(uint64(tranSpeedValues[(c.TranSpeed>>3)&0xf]) * uint64(tranSpeedUnits[c.TranSpeed&0x7]) / 10)
}

// Capacity is the card size in bytes.
func (c CSD) Capacity() uint64 {
	return uint64(c.Blocks) * defaultBlockSize
}

// Info describes an initialized card.
type Info struct {
	CID
	CSD  CSD
	Ver2 bool
	SDHC bool
}
