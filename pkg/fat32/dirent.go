package fat32

import (
	"strings"
)

// DirEntry is a decoded short directory entry.
type DirEntry struct {
	Name    string
	Ext     string
	Attr    byte
	Cluster uint32
	Size    uint32
}

// FullName returns NAME.EXT.
func (e DirEntry) FullName() string {
	if e.Ext == "" {
		return e.Name
	}
	return e.Name + "." + e.Ext
}

// IsDir indicates a subdirectory.
func (e DirEntry) IsDir() bool {
	return e.Attr&attrDir != 0
}

func decodeDirEntry(b []byte) DirEntry {
	return DirEntry{
		Name:    strings.TrimRight(string(b[deName:deName+deNameLen]), " "),
		Ext:     strings.TrimRight(string(b[deExt:deExt+deExtLen]), " "),
		Attr:    b[deAttr],
		Cluster: uint32(le16(b[deClusterHi:]))<<16 | uint32(le16(b[deClusterLo:])),
		Size:    le32(b[deSize:]),
	}
}

// shortName is an upper-cased, space padded 8.3 name as stored on disk.
type shortName [deNameLen + deExtLen]byte

func makeShortName(name, ext string) (shortName, error) {
	var n shortName
	if name == "" || len(name) > deNameLen || len(ext) > deExtLen {
		return n, ErrInvalidName
	}
	for i := range n {
		n[i] = ' '
	}
	for i, s := range []string{name, ext} {
		base := i * deNameLen
		for j := 0; j < len(s); j++ {
			c := upper(s[j])
			if !validNameChar(c) {
				return n, ErrInvalidName
			}
			n[base+j] = c
		}
	}
	return n, nil
}

func validNameChar(c byte) bool {
	if c <= ' ' || c >= 0x7f {
		return false
	}
	return !strings.ContainsRune(`"*+,./:;<=>?[\]|`, rune(c))
}

// upper folds ASCII letters only, bytes above 0x7f are OEM code page
// characters and compare as they are.
func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}

// entryName reads the name field of a directory entry, case folded.
func entryName(b []byte) shortName {
	var n shortName
	for i := range n {
		n[i] = upper(b[i])
	}
	return n
}

func (n shortName) equal(b []byte) bool {
	return n == entryName(b)
}

// String implements fmt.Stringer.
func (n shortName) String() string {
	return DirEntry{
		Name: strings.TrimRight(string(n[:deNameLen]), " "),
		Ext:  strings.TrimRight(string(n[deNameLen:]), " "),
	}.FullName()
}

// writeDirEntry initializes a fresh entry for n.
func writeDirEntry(b []byte, n shortName) {
	copy(b, n[:])
	for i := deAttr; i < DirEntrySize; i++ {
		b[i] = 0
	}
}

// updateDirEntry stores the start cluster and size.
func updateDirEntry(b []byte, cluster, size uint32) {
	put16(b[deClusterHi:], uint16(cluster>>16))
	put16(b[deClusterLo:], uint16(cluster))
	put32(b[deSize:], size)
}
