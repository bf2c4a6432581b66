package main

//go-build: CGO_ENABLED=0

import (
	"context"
	"errors"
	"flag"
	"os"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/stvnrhodes/calsol/pkg/config"
	"github.com/stvnrhodes/calsol/pkg/fat32"
	fx "github.com/stvnrhodes/calsol/pkg/framework"
	"github.com/stvnrhodes/calsol/pkg/image"
	"github.com/stvnrhodes/calsol/pkg/sd"
	"github.com/stvnrhodes/calsol/pkg/storage"
	"github.com/stvnrhodes/calsol/pkg/telemetry"
)

// closeLimit bounds the storage steps spent closing the file on shutdown.
const closeLimit = 1 << 20

func init() {
	config.SetupFlags()
}

func main() {
	flag.Parse()
	defer glog.Flush()

	conf, err := config.NewConfig()
	if err != nil {
		glog.Fatal(err)
	}
	if _, err := os.Stat(conf.Image.Path); os.IsNotExist(err) && conf.Image.Blocks > 0 {
		glog.Infof("creating %s with %d blocks", conf.Image.Path, conf.Image.Blocks)
		if _, err := image.Create(conf.Image.Path, conf.Image.Blocks, fat32.FormatOptions{Label: "DATALOGGER"}); err != nil {
			glog.Fatal(err)
		}
	}
	img, err := image.Open(conf.Image.Path)
	if err != nil {
		glog.Fatal(err)
	}

	rec, err := conf.Recorder.NewRecorder(sd.NewCard(img.Card), img.Card)
	if err != nil {
		glog.Fatal(err)
	}
	pub := conf.Telemetry.NewPublisher(rec)
	loop := fx.NewLoop().Add(rec, pub)
	if conf.Telemetry.Listen != "" {
		if err := telemetry.RegisterMetrics(prometheus.DefaultRegisterer, pub); err != nil {
			glog.Fatal(err)
		}
		loop.Add(conf.Telemetry.NewServer(pub, prometheus.DefaultGatherer))
	}
	if conf.MQTT.Enabled() {
		reporter, err := conf.MQTT.NewReporter(conf.Recorder.MachineID, pub)
		if err != nil {
			glog.Fatal(err)
		}
		loop.Add(reporter)
	}
	if conf.Modbus.Enabled() {
		poller, err := conf.Modbus.NewPoller()
		if err != nil {
			glog.Fatal(err)
		}
		loop.Add(poller, conf.Modbus.NewSource())
	}

	glog.Infof("datalogger %s on %s", conf.Recorder.MachineID, conf.Image.Path)
	err = fx.NewRunner(context.Background()).HandleSignals().Go("loop", loop).Wait()
	// the loop has stopped, the recorder is ours again
	if cerr := rec.Close(closeLimit); cerr != nil {
		if errors.Is(cerr, storage.ErrStalled) {
			glog.Errorf("file not closed: %v", cerr)
		} else {
			glog.Errorf("close: %v", cerr)
		}
	}
	if cerr := img.Close(); cerr != nil {
		glog.Errorf("image: %v", cerr)
	}
	if err != nil {
		glog.Fatal(err)
	}
}
