package fs

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/abiosoft/ishell"

	"github.com/stvnrhodes/calsol/pkg/cli/sh"
	"github.com/stvnrhodes/calsol/pkg/fat32"
	"github.com/stvnrhodes/calsol/pkg/recorder"
)

// CardInfo is what the info command prints.
type CardInfo struct {
	CID      string         `json:"cid"`
	SDHC     bool           `json:"sdhc"`
	Capacity uint64         `json:"capacity"`
	ClockHz  uint32         `json:"clock_hz"`
	Geometry fat32.Geometry `json:"geometry"`
}

// FSInfo is what the fsinfo command prints.
type FSInfo struct {
	FreeClusters      uint32 `json:"free_clusters"`
	MostRecentCluster uint32 `json:"most_recent_cluster"`
	ClusterSize       uint32 `json:"cluster_size"`
	FreeBytes         uint64 `json:"free_bytes"`
}

var (
	// InfoCmd shows card identity and volume layout.
	InfoCmd = ishell.Cmd{
		Name:    "info",
		Aliases: []string{"i"},
		Help:    "",
		Func: sh.MustBeMounted(func(c *ishell.Context) {
			m := sh.MountFrom(c)
			info := m.Card.Info()
			out := CardInfo{
				CID:      info.CID.String(),
				SDHC:     info.SDHC,
				Capacity: info.CSD.Capacity(),
				ClockHz:  info.CSD.ClockRate(),
				Geometry: m.Volume.Geometry(),
			}
			g := out.Geometry
			var w bytes.Buffer
			fmt.Fprintf(&w, "card     %s\n", out.CID)
			fmt.Fprintf(&w, "capacity %d MiB, SDHC %v, %d Hz\n", out.Capacity>>20, out.SDHC, out.ClockHz)
			fmt.Fprintf(&w, "volume   LBA %d, %d sectors, %d per cluster\n", g.PartitionLBA, g.TotalSectors, g.SectorsPerCluster)
			fmt.Fprintf(&w, "FAT      LBA %d, %d x %d sectors\n", g.FATLBA, g.NumFATs, g.SectorsPerFAT)
			fmt.Fprintf(&w, "data     LBA %d, %d clusters, root %d\n", g.ClusterLBA, g.Clusters, g.RootCluster)
			sh.Print(c, out, w.String())
		}),
	}

	// FSInfoCmd shows the free space hints.
	FSInfoCmd = ishell.Cmd{
		Name:    "fsinfo",
		Aliases: []string{"df"},
		Help:    "",
		Func: sh.MustBeMounted(func(c *ishell.Context) {
			vol := sh.MountFrom(c).Volume
			g := vol.Geometry()
			out := FSInfo{
				FreeClusters:      vol.FreeClusters,
				MostRecentCluster: vol.MostRecentCluster,
				ClusterSize:       g.SectorsPerCluster * fat32.SectorSize,
			}
			out.FreeBytes = uint64(out.FreeClusters) * uint64(out.ClusterSize)
			sh.Print(c, out, fmt.Sprintf("%d free clusters of %d bytes (%d MiB), next after %d\n",
				out.FreeClusters, out.ClusterSize, out.FreeBytes>>20, out.MostRecentCluster))
		}),
	}

	// ListCmd lists the root directory.
	ListCmd = ishell.Cmd{
		Name:    "ls",
		Aliases: []string{"dir"},
		Help:    "",
		Func: sh.MustBeMounted(func(c *ishell.Context) {
			entries, err := fat32.ReadDir(sh.MountFrom(c).Volume)
			if err != nil {
				c.Err(err)
				return
			}
			var w bytes.Buffer
			for _, e := range entries {
				kind := "   "
				if e.IsDir() {
					kind = "DIR"
				}
				fmt.Fprintf(&w, "%-12s %s %10d  cluster %d\n", e.FullName(), kind, e.Size, e.Cluster)
			}
			if entries == nil {
				entries = []fat32.DirEntry{}
			}
			sh.Print(c, entries, w.String())
		}),
	}

	// CatCmd prints a file.
	CatCmd = ishell.Cmd{
		Name:    "cat",
		Aliases: []string{"type"},
		Help:    "NAME [LINES]",
		Func: sh.MustBeMounted(func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("NAME required"))
				return
			}
			data, err := fat32.ReadFile(sh.MountFrom(c).Volume, c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			if len(c.Args) > 1 {
				var n int
				if _, err := fmt.Sscanf(c.Args[1], "%d", &n); err != nil || n < 0 {
					c.Err(fmt.Errorf("invalid LINES %q", c.Args[1]))
					return
				}
				data = head(data, n)
			}
			c.Print(string(data))
		}),
	}

	// LogCmd summarizes a recorded file.
	LogCmd = ishell.Cmd{
		Name:    "log",
		Aliases: []string{"summary"},
		Help:    "NAME",
		Func: sh.MustBeMounted(func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("NAME required"))
				return
			}
			data, err := fat32.ReadFile(sh.MountFrom(c).Volume, c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			s := recorder.Summarize(data)
			sh.Print(c, s, FormatSummary(&s))
		}),
	}
)

func head(data []byte, lines int) []byte {
	for i, b := range data {
		if b == '\n' {
			if lines--; lines == 0 {
				return data[:i+1]
			}
		}
	}
	return data
}

// FormatSummary renders a Summary for display.
func FormatSummary(s *recorder.Summary) string {
	var w bytes.Buffer
	for _, p := range s.Params {
		fmt.Fprintf(&w, "PRM %s\n", p)
	}
	if s.Card != "" {
		fmt.Fprintf(&w, "card %s\n", s.Card)
	}
	kinds := make([]string, 0, len(s.Kinds))
	for _, k := range s.KindNames() {
		kinds = append(kinds, fmt.Sprintf("%s=%d", k, s.Kinds[k]))
	}
	fmt.Fprintf(&w, "%d lines: %s\n", s.Lines, strings.Join(kinds, " "))
	if s.Dropped > 0 {
		fmt.Fprintf(&w, "%d records dropped\n", s.Dropped)
	}
	if s.Partial {
		w.WriteString("last line incomplete\n")
	}
	return w.String()
}

func init() {
	sh.AddCmds(
		&InfoCmd,
		&FSInfoCmd,
		&ListCmd,
		&CatCmd,
		&LogCmd,
	)
}
