package fat32

import (
	"fmt"
	"io"
	"strings"
)

// FormatOptions tunes Format. Zero values pick defaults.
type FormatOptions struct {
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	// PartitionLBA places the volume in partition 1 of an MBR when not 0.
	PartitionLBA uint32
	Label        string
	OEM          string
}

func (o *FormatOptions) normalize(sectors uint32) error {
	if o.SectorsPerCluster == 0 {
		size := uint64(sectors) * SectorSize
		switch {
		case size <= 64<<20:
			o.SectorsPerCluster = 1
		case size <= 8<<30:
			o.SectorsPerCluster = 8
		case size <= 32<<30:
			o.SectorsPerCluster = 16
		default:
			o.SectorsPerCluster = 32
		}
	}
	if !isPowerOfTwo(o.SectorsPerCluster) {
		return fmt.Errorf("sectors per cluster %d is not a power of two", o.SectorsPerCluster)
	}
	if o.ReservedSectors == 0 {
		o.ReservedSectors = 32
	}
	if o.ReservedSectors < 8 {
		return fmt.Errorf("%d reserved sectors, need at least 8", o.ReservedSectors)
	}
	if o.NumFATs == 0 {
		o.NumFATs = 2
	}
	if o.OEM == "" {
		o.OEM = "CALSOL"
	}
	return nil
}

func padRight(s string, n int) []byte {
	b := []byte(strings.ToUpper(s))
	if len(b) > n {
		b = b[:n]
	}
	for len(b) < n {
		b = append(b, ' ')
	}
	return b
}

// Format writes an empty FAT32 volume to an image of blocks sectors. The
// FAT32 minimum cluster count is not enforced so small images stay usable
// for tests.
func Format(w io.WriterAt, blocks uint32, opts FormatOptions) (Geometry, error) {
	var g Geometry
	if opts.PartitionLBA >= blocks {
		return g, ErrTooSmall
	}
	sectors := blocks - opts.PartitionLBA
	if err := opts.normalize(sectors); err != nil {
		return g, err
	}
	g = Geometry{
		PartitionLBA:      opts.PartitionLBA,
		SectorsPerCluster: uint32(opts.SectorsPerCluster),
		ReservedSectors:   uint32(opts.ReservedSectors),
		NumFATs:           uint32(opts.NumFATs),
		TotalSectors:      sectors,
		RootCluster:       2,
	}
	g.SectorsPerFAT = 1
	for i := 0; i < 8; i++ {
		meta := g.ReservedSectors + g.NumFATs*g.SectorsPerFAT
		if meta >= sectors {
			return g, ErrTooSmall
		}
		g.Clusters = (sectors - meta) / g.SectorsPerCluster
		need := ((g.Clusters+2)*PointerSize + SectorSize - 1) / SectorSize
		if need == g.SectorsPerFAT {
			break
		}
		g.SectorsPerFAT = need
	}
	if g.Clusters < 16 {
		return g, ErrTooSmall
	}
	g.FATLBA = g.PartitionLBA + g.ReservedSectors
	g.ClusterLBA = g.FATLBA + g.NumFATs*g.SectorsPerFAT
	g.FSInfoLBA = g.PartitionLBA + 1

	// reserved area, FATs and the root directory cluster start zeroed
	if err := zeroSectors(w, g.PartitionLBA, g.ClusterLBA-g.PartitionLBA+g.SectorsPerCluster); err != nil {
		return g, err
	}
	if g.PartitionLBA != 0 {
		if err := writeSector(w, 0, buildMBR(g)); err != nil {
			return g, err
		}
	}
	boot := buildBootSector(g, opts)
	info := buildFSInfo(g.Clusters-1, g.RootCluster)
	for _, base := range []uint32{0, 6} {
		if err := writeSector(w, g.PartitionLBA+base, boot); err != nil {
			return g, err
		}
		if err := writeSector(w, g.PartitionLBA+base+1, info); err != nil {
			return g, err
		}
	}
	fat := make([]byte, SectorSize)
	put32(fat[0:], 0x0fffff00|0xf8)
	put32(fat[4:], EOC)
	put32(fat[8:], EOC)
	for i := uint32(0); i < g.NumFATs; i++ {
		if err := writeSector(w, g.FATLBA+i*g.SectorsPerFAT, fat); err != nil {
			return g, err
		}
	}
	if opts.Label != "" {
		root := make([]byte, SectorSize)
		copy(root[deName:], padRight(opts.Label, deNameLen+deExtLen))
		root[deAttr] = attrVolumeID
		if err := writeSector(w, g.ClusterLBA, root); err != nil {
			return g, err
		}
	}
	return g, nil
}

func buildBootSector(g Geometry, opts FormatOptions) []byte {
	b := make([]byte, SectorSize)
	b[0], b[1], b[2] = 0xeb, 0x58, 0x90
	copy(b[3:11], padRight(opts.OEM, 8))
	put16(b[bsBytesPerSector:], SectorSize)
	b[bsSecPerCluster] = byte(g.SectorsPerCluster)
	put16(b[bsReservedSectors:], uint16(g.ReservedSectors))
	b[bsNumFATs] = byte(g.NumFATs)
	b[0x15] = 0xf8
	put16(b[0x18:], 63)
	put16(b[0x1a:], 255)
	put32(b[0x1c:], g.PartitionLBA)
	put32(b[bsTotalSectors32:], g.TotalSectors)
	put32(b[bsFATSize32:], g.SectorsPerFAT)
	put32(b[bsRootCluster:], g.RootCluster)
	put16(b[bsFSInfoSector:], 1)
	put16(b[bsBackupBoot:], 6)
	b[bsDriveNumber32] = 0x80
	b[bsBootSig32] = extBootSignature
	put32(b[0x43:], 0x12345678)
	label := opts.Label
	if label == "" {
		label = "NO NAME"
	}
	copy(b[0x47:0x52], padRight(label, 11))
	copy(b[0x52:0x5a], "FAT32   ")
	b[bsSignature], b[bsSignature+1] = 0x55, 0xaa
	return b
}

func buildFSInfo(free, next uint32) []byte {
	b := make([]byte, SectorSize)
	v := Volume{FreeClusters: free, MostRecentCluster: next}
	v.encodeFSInfo(b)
	return b
}

func buildMBR(g Geometry) []byte {
	b := make([]byte, SectorSize)
	p := b[mbrPartition1:]
	// FAT32 with LBA addressing
	p[mbrPartType] = 0x0c
	put32(p[mbrPartLBA:], g.PartitionLBA)
	put32(p[mbrPartSize:], g.TotalSectors)
	b[bsSignature], b[bsSignature+1] = 0x55, 0xaa
	return b
}

func writeSector(w io.WriterAt, lba uint32, b []byte) error {
	_, err := w.WriteAt(b, int64(lba)*SectorSize)
	return err
}

func zeroSectors(w io.WriterAt, lba, count uint32) error {
	const chunk = 128
	zero := make([]byte, chunk*SectorSize)
	for count > 0 {
		n := count
		if n > chunk {
			n = chunk
		}
		if _, err := w.WriteAt(zero[:n*SectorSize], int64(lba)*SectorSize); err != nil {
			return err
		}
		lba += n
		count -= n
	}
	return nil
}
