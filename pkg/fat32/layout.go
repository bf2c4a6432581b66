package fat32

import "encoding/binary"

// On-disk constants.
const (
	// SectorSize is the only supported sector size.
	SectorSize = 512
	// PointerSize is the size of one FAT entry.
	PointerSize = 4
	// PointersPerBlock is the number of FAT entries in one block.
	PointersPerBlock = SectorSize / PointerSize
	// DirEntrySize is the size of a short directory entry.
	DirEntrySize = 32
	// EntriesPerBlock is the number of directory entries in one block.
	EntriesPerBlock = SectorSize / DirEntrySize

	// EOC marks the end of a cluster chain.
	EOC uint32 = 0x0fffffff
	// FreeCluster marks an unallocated FAT entry.
	FreeCluster uint32 = 0
)

// boot sector offsets
const (
	bsJump            = 0x00
	bsBytesPerSector  = 0x0b
	bsSecPerCluster   = 0x0d
	bsReservedSectors = 0x0e
	bsNumFATs         = 0x10
	bsTotalSectors16  = 0x13
	bsTotalSectors32  = 0x20
	bsFATSize32       = 0x24
	bsRootCluster     = 0x2c
	bsFSInfoSector    = 0x30
	bsBackupBoot      = 0x32
	bsDriveNumber32   = 0x40
	bsBootSig32       = 0x42
	bsBootSig16       = 0x26
	bsSignature       = 0x1fe

	extBootSignature = 0x29
)

// MBR offsets
const (
	mbrPartition1 = 0x1be
	mbrPartLBA    = 0x08
	mbrPartSize   = 0x0c
	mbrPartType   = 0x04
)

// FSInfo offsets and signatures
const (
	fsiLeadSig    = 0x000
	fsiStrucSig   = 0x1e4
	fsiFreeCount  = 0x1e8
	fsiNextFree   = 0x1ec
	fsiTrailSig   = 0x1fc
	fsiLeadValue  = 0x41615252
	fsiStrucValue = 0x61417272
	fsiTrailValue = 0xaa550000
)

// directory entry offsets
const (
	deName       = 0x00
	deExt        = 0x08
	deAttr       = 0x0b
	deClusterHi  = 0x14
	deClusterLo  = 0x1a
	deSize       = 0x1c
	deNameLen    = 8
	deExtLen     = 3
	deEndOfDir   = 0x00
	deDeleted    = 0xe5
	attrVolumeID = 0x08
	attrDir      = 0x10
	attrLFN      = 0x0f
)

func le16(b []byte) uint16 {
	return binary.LittleEndian.Uint16(b)
}

func le32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

func put16(b []byte, v uint16) {
	binary.LittleEndian.PutUint16(b, v)
}

func put32(b []byte, v uint32) {
	binary.LittleEndian.PutUint32(b, v)
}

func hasSignature(b []byte) bool {
	return b[bsSignature] == 0x55 && b[bsSignature+1] == 0xaa
}

func isPowerOfTwo(v byte) bool {
	return v != 0 && v&(v-1) == 0
}

// isBootSector tells a volume boot record from a master boot record.
func isBootSector(b []byte) bool {
	jump := (b[bsJump] == 0xeb && b[bsJump+2] == 0x90) || b[bsJump] == 0xe9
	return jump && isPowerOfTwo(b[bsSecPerCluster]) && b[bsNumFATs] != 0
}
