package main

//go-build: CGO_ENABLED=0

import (
	"flag"
	"fmt"
	"os"

	"github.com/golang/glog"

	"github.com/stvnrhodes/calsol/pkg/fat32"
	"github.com/stvnrhodes/calsol/pkg/image"
)

var (
	sizeMiB   uint = 64
	spc       uint
	partition uint
	label     = "DATALOGGER"
	oem       string
)

func init() {
	flag.UintVar(&sizeMiB, "size", sizeMiB, "Image size in MiB.")
	flag.UintVar(&spc, "spc", spc, "Sectors per cluster, 0 picks by size.")
	flag.UintVar(&partition, "partition", partition, "Start LBA of partition 1 in an MBR, 0 for a bare volume.")
	flag.StringVar(&label, "label", label, "Volume label.")
	flag.StringVar(&oem, "oem", oem, "OEM name in the boot sector.")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] IMAGE\n", os.Args[0])
		flag.PrintDefaults()
	}
}

func main() {
	flag.Parse()
	defer glog.Flush()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	if spc > 128 {
		glog.Fatalf("%d sectors per cluster, at most 128", spc)
	}
	opts := fat32.FormatOptions{
		SectorsPerCluster: uint8(spc),
		PartitionLBA:      uint32(partition),
		Label:             label,
		OEM:               oem,
	}

	blocks := uint32(uint64(sizeMiB) << 20 / fat32.SectorSize)
	geo, err := image.Create(flag.Arg(0), blocks, opts)
	if err != nil {
		glog.Fatal(err)
	}
	fmt.Printf("%s: %d sectors, %d clusters of %d bytes, %d sectors per FAT\n",
		flag.Arg(0), geo.TotalSectors, geo.Clusters, geo.SectorsPerCluster*fat32.SectorSize, geo.SectorsPerFAT)
}
