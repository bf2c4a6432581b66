package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/stvnrhodes/calsol/pkg/recorder"
)

type metric struct {
	name    string
	help    string
	counter bool
	value   func(s *recorder.Status) float64
}

var metrics = []metric{
	{"records_total", "Number of records accepted.", true, func(s *recorder.Status) float64 { return float64(s.Records) }},
	{"drops_total", "Number of records dropped because the buffer was full or closing.", true, func(s *recorder.Status) float64 { return float64(s.Drops) }},
	{"errors_total", "Number of card and file system errors.", true, func(s *recorder.Status) float64 { return float64(s.Errors) }},
	{"resets_total", "Number of card resets after repeated errors.", true, func(s *recorder.Status) float64 { return float64(s.Resets) }},
	{"files_total", "Number of files closed.", true, func(s *recorder.Status) float64 { return float64(s.Files) }},
	{"blocks_read_total", "Number of blocks read from the card.", true, func(s *recorder.Status) float64 { return float64(s.BlocksRead) }},
	{"blocks_written_total", "Number of data blocks written to the card.", true, func(s *recorder.Status) float64 { return float64(s.BlocksWritten) }},
	{"fat_writes_total", "Number of FAT block writes.", true, func(s *recorder.Status) float64 { return float64(s.FATWrites) }},
	{"dir_writes_total", "Number of directory block writes.", true, func(s *recorder.Status) float64 { return float64(s.DirWrites) }},
	{"stage", "Recorder stage, 4 is recording.", false, func(s *recorder.Status) float64 { return float64(s.Stage) }},
	{"committed_bytes", "Size of the current file on the card.", false, func(s *recorder.Status) float64 { return float64(s.Committed) }},
	{"buffered_bytes", "Bytes waiting in the record buffer.", false, func(s *recorder.Status) float64 { return float64(s.Buffered) }},
	{"free_clusters", "Free clusters on the mounted volume.", false, func(s *recorder.Status) float64 { return float64(s.FreeClusters) }},
	{"supply", "Last supply voltage sample.", false, func(s *recorder.Status) float64 { return float64(s.Supply) }},
}

// RegisterMetrics exports the snapshots of p to reg.
func RegisterMetrics(reg prometheus.Registerer, p *Publisher) error {
	for _, m := range metrics {
		m := m
		opts := prometheus.Opts{
			Namespace: "datalogger",
			Subsystem: "recorder",
			Name:      m.name,
			Help:      m.help,
		}
		fn := func() float64 {
			s := p.Snapshot()
			return m.value(&s.Status)
		}
		var c prometheus.Collector
		if m.counter {
			c = prometheus.NewCounterFunc(prometheus.CounterOpts(opts), fn)
		} else {
			c = prometheus.NewGaugeFunc(prometheus.GaugeOpts(opts), fn)
		}
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
