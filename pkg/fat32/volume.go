package fat32

import (
	"github.com/golang/glog"

	"github.com/stvnrhodes/calsol/pkg/storage"
)

// Geometry is the parsed layout of a mounted volume. All LBAs are absolute.
type Geometry struct {
	PartitionLBA      uint32
	SectorsPerCluster uint32
	ReservedSectors   uint32
	NumFATs           uint32
	SectorsPerFAT     uint32
	TotalSectors      uint32
	RootCluster       uint32
	FATLBA            uint32
	ClusterLBA        uint32
	FSInfoLBA         uint32
	// Clusters is the number of data clusters.
	Clusters uint32
}

// ClusterToLBA returns the first block of cluster c.
func (g *Geometry) ClusterToLBA(c uint32) uint32 {
	return g.ClusterLBA + (c-2)*g.SectorsPerCluster
}

// FATBlock returns the FAT block holding the entry for cluster c.
func (g *Geometry) FATBlock(c uint32) uint32 {
	return g.FATLBA + c/PointersPerBlock
}

// FATOffset returns the byte offset of cluster c within its FAT block.
func (g *Geometry) FATOffset(c uint32) int {
	return int(c%PointersPerBlock) * PointerSize
}

// MaxCluster is the highest valid cluster number.
func (g *Geometry) MaxCluster() uint32 {
	max := g.Clusters + 1
	if fatMax := g.SectorsPerFAT*PointersPerBlock - 1; fatMax < max {
		max = fatMax
	}
	return max
}

type volumeState int

const (
	volumeUnmounted volumeState = iota
	volumeReadingSector0
	volumeReadingBootSector
	volumeReadingFSInfo
	volumeMounted
)

// Volume is a mounted FAT32 filesystem on a storage.Device.
type Volume struct {
	// FreeClusters is the free cluster hint from FSInfo.
	FreeClusters uint32
	// MostRecentCluster is the last allocated cluster hint from FSInfo.
	MostRecentCluster uint32

	dev         storage.Device
	state       volumeState
	geo         Geometry
	buf         []byte
	fsInfoDirty bool
	open        *File
}

// NewVolume creates an unmounted Volume on dev.
func NewVolume(dev storage.Device) *Volume {
	return &Volume{dev: dev, buf: make([]byte, SectorSize)}
}

// Device returns the underlying device.
func (v *Volume) Device() storage.Device {
	return v.dev
}

// Mounted indicates Mount completed.
func (v *Volume) Mounted() bool {
	return v.state == volumeMounted
}

// Geometry returns the layout, valid once mounted.
func (v *Volume) Geometry() Geometry {
	return v.geo
}

// FSInfoDirty indicates the free space hints changed since they were last
// persisted.
func (v *Volume) FSInfoDirty() bool {
	return v.fsInfoDirty
}

// Mount starts reading the volume layout from block 0.
func (v *Volume) Mount() storage.Result {
	if v.dev.BlockSize() != SectorSize {
		return storage.Unsupported
	}
	v.state = volumeReadingSector0
	v.fsInfoDirty = false
	v.open = nil
	return v.read(0)
}

func (v *Volume) read(lba uint32) storage.Result {
	r := v.dev.BeginRead(lba, v.buf)
	if r != storage.Busy {
		glog.Warningf("fat32: mount read %d: %s", lba, r)
		v.state = volumeUnmounted
		return storage.PhysicalError
	}
	return storage.Busy
}

// MountResult polls Mount.
func (v *Volume) MountResult() storage.Result {
	switch v.state {
	case volumeReadingSector0, volumeReadingBootSector, volumeReadingFSInfo:
	case volumeMounted:
		return storage.Success
	default:
		return storage.InvalidState
	}
	switch r := v.dev.ReadResult(); r {
	case storage.Busy:
		return r
	case storage.Success:
	default:
		glog.Warningf("fat32: mount read failed: %s", r)
		v.state = volumeUnmounted
		return storage.PhysicalError
	}

	switch v.state {
	case volumeReadingSector0:
		if isBootSector(v.buf) {
			glog.V(2).Info("fat32: sector 0 is a boot sector")
			v.geo.PartitionLBA = 0
			return v.parseBootSector()
		}
		if !hasSignature(v.buf) {
			return v.unrecognized("sector 0 is neither boot sector nor MBR")
		}
		v.geo.PartitionLBA = le32(v.buf[mbrPartition1+mbrPartLBA:])
		glog.V(2).Infof("fat32: MBR, partition 1 at %d", v.geo.PartitionLBA)
		v.state = volumeReadingBootSector
		return v.read(v.geo.PartitionLBA)
	case volumeReadingBootSector:
		return v.parseBootSector()
	case volumeReadingFSInfo:
		return v.parseFSInfo()
	}
	return storage.InvalidState
}

func (v *Volume) unrecognized(reason string) storage.Result {
	glog.Warningf("fat32: %s", reason)
	v.state = volumeUnmounted
	return storage.Unrecognized
}

func (v *Volume) parseBootSector() storage.Result {
	b := v.buf
	if !hasSignature(b) {
		return v.unrecognized("boot sector signature missing")
	}
	if b[bsBootSig32] != extBootSignature || (b[bsDriveNumber32] != 0x00 && b[bsDriveNumber32] != 0x80) {
		if b[bsBootSig16] == extBootSignature {
			glog.Warning("fat32: FAT12/16 volume")
			v.state = volumeUnmounted
			return storage.Unsupported
		}
		return v.unrecognized("no FAT32 extended boot signature")
	}
	if le16(b[bsBytesPerSector:]) != SectorSize {
		glog.Warningf("fat32: %d bytes per sector", le16(b[bsBytesPerSector:]))
		v.state = volumeUnmounted
		return storage.Unsupported
	}
	g := &v.geo
	g.SectorsPerCluster = uint32(b[bsSecPerCluster])
	g.ReservedSectors = uint32(le16(b[bsReservedSectors:]))
	g.NumFATs = uint32(b[bsNumFATs])
	g.SectorsPerFAT = le32(b[bsFATSize32:])
	g.RootCluster = le32(b[bsRootCluster:])
	g.TotalSectors = le32(b[bsTotalSectors32:])
	if g.TotalSectors == 0 {
		g.TotalSectors = uint32(le16(b[bsTotalSectors16:]))
	}
	if !isPowerOfTwo(b[bsSecPerCluster]) || g.NumFATs == 0 || g.SectorsPerFAT == 0 || g.RootCluster < 2 {
		return v.unrecognized("inconsistent BPB")
	}
	g.FATLBA = g.PartitionLBA + g.ReservedSectors
	g.ClusterLBA = g.FATLBA + g.NumFATs*g.SectorsPerFAT
	g.FSInfoLBA = g.PartitionLBA + uint32(le16(b[bsFSInfoSector:]))
	if meta := g.ClusterLBA - g.PartitionLBA; g.TotalSectors > meta {
		g.Clusters = (g.TotalSectors - meta) / g.SectorsPerCluster
	}
	glog.V(2).Infof("fat32: %d sectors/cluster, FAT at %d, data at %d, root cluster %d, %d clusters",
		g.SectorsPerCluster, g.FATLBA, g.ClusterLBA, g.RootCluster, g.Clusters)

	v.state = volumeReadingFSInfo
	return v.read(g.FSInfoLBA)
}

func (v *Volume) parseFSInfo() storage.Result {
	b := v.buf
	if le32(b[fsiLeadSig:]) != fsiLeadValue || le32(b[fsiStrucSig:]) != fsiStrucValue || !hasSignature(b) {
		return v.unrecognized("FSInfo signature missing")
	}
	v.FreeClusters = le32(b[fsiFreeCount:])
	v.MostRecentCluster = le32(b[fsiNextFree:])
	if v.FreeClusters > v.geo.Clusters {
		v.FreeClusters = v.geo.Clusters
	}
	if v.MostRecentCluster < v.geo.RootCluster || v.MostRecentCluster > v.geo.MaxCluster() {
		v.MostRecentCluster = v.geo.RootCluster
	}
	glog.V(2).Infof("fat32: %d free clusters, most recent %d", v.FreeClusters, v.MostRecentCluster)
	v.state = volumeMounted
	return storage.Success
}

// encodeFSInfo renders the FSInfo sector from the current hints.
func (v *Volume) encodeFSInfo(b []byte) {
	for i := range b {
		b[i] = 0
	}
	put32(b[fsiLeadSig:], fsiLeadValue)
	put32(b[fsiStrucSig:], fsiStrucValue)
	put32(b[fsiFreeCount:], v.FreeClusters)
	put32(b[fsiNextFree:], v.MostRecentCluster)
	put32(b[fsiTrailSig:], fsiTrailValue)
}
