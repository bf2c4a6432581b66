package fat32

import (
	"strings"

	"github.com/stvnrhodes/calsol/pkg/storage"
)

// The helpers below block on the device through storage.Wait. They are for
// inspection tools and tests, not for the recorder loop.

// NextCluster reads the FAT entry of cluster c.
func NextCluster(v *Volume, c uint32) (uint32, error) {
	if !v.Mounted() {
		return 0, ErrNotMounted
	}
	buf := make([]byte, SectorSize)
	if err := storage.ReadBlock(v.dev, v.geo.FATBlock(c), buf); err != nil {
		return 0, err
	}
	return le32(buf[v.geo.FATOffset(c):]) & 0x0fffffff, nil
}

// Chain follows the cluster chain from start, stopping after limit
// clusters when limit is not 0.
func Chain(v *Volume, start uint32, limit int) ([]uint32, error) {
	if !v.Mounted() {
		return nil, ErrNotMounted
	}
	var (
		chain  []uint32
		buf    = make([]byte, SectorSize)
		cached uint32
		loaded bool
	)
	max := v.geo.MaxCluster()
	for c := start; c < 0x0ffffff8; {
		if c < 2 || c > max || len(chain) > int(v.geo.Clusters) {
			return chain, ErrBadChain
		}
		chain = append(chain, c)
		if limit > 0 && len(chain) >= limit {
			break
		}
		lba := v.geo.FATBlock(c)
		if !loaded || cached != lba {
			if err := storage.ReadBlock(v.dev, lba, buf); err != nil {
				return chain, err
			}
			cached, loaded = lba, true
		}
		c = le32(buf[v.geo.FATOffset(c):]) & 0x0fffffff
	}
	return chain, nil
}

// ReadDir lists the root directory, skipping deleted entries, long name
// fragments and the volume label.
func ReadDir(v *Volume) ([]DirEntry, error) {
	chain, err := Chain(v, v.geo.RootCluster, 0)
	if err != nil {
		return nil, err
	}
	var entries []DirEntry
	buf := make([]byte, SectorSize)
	for _, c := range chain {
		for i := uint32(0); i < v.geo.SectorsPerCluster; i++ {
			if err := storage.ReadBlock(v.dev, v.geo.ClusterToLBA(c)+i, buf); err != nil {
				return entries, err
			}
			for j := 0; j < EntriesPerBlock; j++ {
				e := buf[j*DirEntrySize : (j+1)*DirEntrySize]
				switch {
				case e[deName] == deEndOfDir:
					return entries, nil
				case e[deName] == deDeleted, e[deAttr]&attrVolumeID != 0:
					continue
				}
				entries = append(entries, decodeDirEntry(e))
			}
		}
	}
	return entries, nil
}

// Lookup finds a root directory entry by NAME.EXT, ignoring case.
func Lookup(v *Volume, name string) (DirEntry, error) {
	entries, err := ReadDir(v)
	if err != nil {
		return DirEntry{}, err
	}
	for _, e := range entries {
		if strings.EqualFold(e.FullName(), name) {
			return e, nil
		}
	}
	return DirEntry{}, ErrNotFound
}

// ReadFile returns the contents of a root directory file.
func ReadFile(v *Volume, name string) ([]byte, error) {
	e, err := Lookup(v, name)
	if err != nil {
		return nil, err
	}
	if e.Size == 0 {
		return []byte{}, nil
	}
	clusterSize := v.geo.SectorsPerCluster * SectorSize
	chain, err := Chain(v, e.Cluster, int((e.Size+clusterSize-1)/clusterSize))
	if err != nil {
		return nil, err
	}
	data := make([]byte, 0, e.Size)
	buf := make([]byte, SectorSize)
	for _, c := range chain {
		for i := uint32(0); i < v.geo.SectorsPerCluster && uint32(len(data)) < e.Size; i++ {
			if err := storage.ReadBlock(v.dev, v.geo.ClusterToLBA(c)+i, buf); err != nil {
				return data, err
			}
			n := e.Size - uint32(len(data))
			if n > SectorSize {
				n = SectorSize
			}
			data = append(data, buf[:n]...)
		}
	}
	return data, nil
}

// MountSync mounts v, blocking until done.
func MountSync(v *Volume) error {
	switch r := v.Mount(); r {
	case storage.Busy:
		_, err := storage.Wait(storage.DefaultWaitLimit, v.MountResult)
		return err
	default:
		return r.Err()
	}
}
