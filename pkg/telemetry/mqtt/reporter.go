package mqtt

import (
	"context"
	"path"
	"time"

	"github.com/golang/glog"

	fx "github.com/stvnrhodes/calsol/pkg/framework"
	"github.com/stvnrhodes/calsol/pkg/recorder"
	"github.com/stvnrhodes/calsol/pkg/telemetry"
)

// ConnectRetry is the delay between attempts to reach the broker.
const ConnectRetry = 5 * time.Second

// Reporter publishes status snapshots and takes commands over MQTT.
// Topics, relative to the URL prefix:
//
//	<id>/online     retained "1", "0" once gone (will message)
//	<id>/status     snapshot as protobuf Struct
//	<id>/cmd/close  close the file
//	<id>/cmd/rotate start the next file
type Reporter struct {
	ID    string
	Queue *Queue

	pub *telemetry.Publisher
	ctl fx.LoopControl
}

// NewReporter creates a Reporter identified by id, normally the machine ID.
func (c *Config) NewReporter(id string, pub *telemetry.Publisher) (*Reporter, error) {
	opts, topicPrefix, err := ClientOptionsFromURL(c.URL)
	if err != nil {
		return nil, err
	}
	opts.SetBinaryWill(topicPrefix+id+"/online", []byte("0"), 1, true)
	if opts.ClientID == "" {
		opts.SetClientID("datalogger:" + id)
	}
	r := &Reporter{ID: id, Queue: NewQueue(opts, topicPrefix), pub: pub}
	r.Queue.OnConnect = func(q *Queue) {
		q.PubWith(r.ID+"/online", []byte("1"), 1, true)
	}
	return r, nil
}

// AddToLoop implements LoopAdder.
func (r *Reporter) AddToLoop(l *fx.Loop) {
	l.AddRunnable(r)
}

// Name implements framework.Named.
func (r *Reporter) Name() string {
	return "mqtt reporter"
}

// Run implements Runnable.
func (r *Reporter) Run(ctx context.Context) error {
	r.ctl = fx.LoopCtlFrom(ctx)
	r.Queue.Sub(r.ID+"/cmd/+", r.handleCommand)
	// auto reconnect only covers connections that once succeeded
	for {
		token := r.Queue.Connect()
		token.Wait()
		if token.Error() == nil {
			break
		}
		glog.Warningf("mqtt: connect: %v", token.Error())
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(ConnectRetry):
		}
	}
	snapshots, stop := r.pub.Subscribe()
	defer stop()
	for {
		select {
		case <-ctx.Done():
			r.Queue.PubWith(r.ID+"/online", []byte("0"), 1, true).Wait()
			return r.Queue.Close()
		case snap := <-snapshots:
			r.publish(snap)
		}
	}
}

func (r *Reporter) publish(snap telemetry.Snapshot) {
	if !r.Queue.Client.IsConnected() {
		return
	}
	payload, err := snap.MarshalProto()
	if err != nil {
		glog.Errorf("mqtt: encode status: %v", err)
		return
	}
	r.Queue.Pub(r.ID+"/status", payload)
}

func (r *Reporter) handleCommand(topic string, _ []byte) {
	cmd, ok := recorder.ParseCommand(path.Base(topic))
	if !ok {
		glog.Warningf("mqtt: unknown command topic %q", topic)
		return
	}
	glog.Infof("mqtt: %s requested", cmd)
	r.ctl.PostMessage(&recorder.CommandMsg{Command: cmd})
	r.ctl.TriggerNext()
}
