// Package image backs a simulated SD card with a disk image file.
package image

import (
	"fmt"
	"os"

	"github.com/golang/glog"

	"github.com/stvnrhodes/calsol/pkg/fat32"
	"github.com/stvnrhodes/calsol/pkg/sd"
	"github.com/stvnrhodes/calsol/pkg/sd/sim"
	"github.com/stvnrhodes/calsol/pkg/storage"
)

// Image is an open image file with a simulated card in front of it.
type Image struct {
	Path string
	File *os.File
	Card *sim.Card
}

// Create writes a formatted image of blocks blocks to path, replacing any
// existing file.
func Create(path string, blocks uint32, opts fat32.FormatOptions) (fat32.Geometry, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fat32.Geometry{}, err
	}
	if err := f.Truncate(int64(blocks) * sim.BlockSize); err != nil {
		f.Close()
		return fat32.Geometry{}, err
	}
	geo, err := fat32.Format(f, blocks, opts)
	if err != nil {
		f.Close()
		return geo, err
	}
	return geo, f.Close()
}

// Open opens an existing image. Its size must be a whole number of blocks.
func Open(path string) (*Image, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := info.Size()
	if size == 0 || size%sim.BlockSize != 0 || size/sim.BlockSize > 1<<32-1 {
		f.Close()
		return nil, fmt.Errorf("%s: size %d is not a valid block count", path, size)
	}
	glog.V(2).Infof("image: %s has %d blocks", path, size/sim.BlockSize)
	return &Image{
		Path: path,
		File: f,
		Card: sim.NewCard(f, uint32(size/sim.BlockSize)),
	}, nil
}

// Close implements io.Closer.
func (i *Image) Close() error {
	if err := i.File.Sync(); err != nil {
		i.File.Close()
		return err
	}
	return i.File.Close()
}

// Mount brings up the card and mounts the volume, blocking until done. It
// is for tools, the recorder does this cooperatively.
func (i *Image) Mount() (*fat32.Volume, *sd.Card, error) {
	card := sd.NewCard(i.Card)
	if r := card.Initialize(); r != storage.Busy {
		return nil, card, r.Err()
	}
	if _, err := storage.Wait(storage.DefaultWaitLimit, card.InitializeResult); err != nil {
		return nil, card, fmt.Errorf("initialize: %w", err)
	}
	vol := fat32.NewVolume(card)
	if err := fat32.MountSync(vol); err != nil {
		return nil, card, fmt.Errorf("mount: %w", err)
	}
	return vol, card, nil
}
