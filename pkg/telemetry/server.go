package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/websocket"

	fx "github.com/stvnrhodes/calsol/pkg/framework"
	"github.com/stvnrhodes/calsol/pkg/recorder"
)

// ShutdownTimeout bounds waiting for in-flight requests on exit.
const ShutdownTimeout = 2 * time.Second

// Server exposes the status over HTTP:
//
//	GET  /status          latest snapshot as JSON
//	GET  /metrics         Prometheus metrics
//	GET  /ws              websocket streaming snapshots
//	POST /command/{name}  close or rotate the file
type Server struct {
	Addr string

	pub      *Publisher
	gatherer prometheus.Gatherer
	router   *mux.Router
	ctl      fx.LoopControl
}

// NewServer creates a Server. Metrics of p must already be registered to
// gatherer.
func (c *Config) NewServer(p *Publisher, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		Addr:     c.Listen,
		pub:      p,
		gatherer: gatherer,
		router:   mux.NewRouter(),
	}
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.Handle("/ws", websocket.Handler(s.handleWebsocket))
	s.router.HandleFunc("/command/{name}", s.handleCommand).Methods(http.MethodPost)
	return s
}

// Handler is the router serving all endpoints.
func (s *Server) Handler() http.Handler {
	return s.router
}

// AddToLoop implements LoopAdder.
func (s *Server) AddToLoop(l *fx.Loop) {
	l.AddRunnable(s)
}

// Name implements framework.Named.
func (s *Server) Name() string {
	return "telemetry server"
}

// Run implements Runnable.
func (s *Server) Run(ctx context.Context) error {
	s.ctl = fx.LoopCtlFrom(ctx)
	srv := &http.Server{Addr: s.Addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	glog.Infof("telemetry: listening on %s", s.Addr)
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		glog.Warningf("telemetry: shutdown: %v", err)
		srv.Close()
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// WithLoopControl sets where commands are posted when the server is not
// started by a loop.
func (s *Server) WithLoopControl(ctl fx.LoopControl) *Server {
	s.ctl = ctl
	return s
}

func (s *Server) handleStatus(w http.ResponseWriter, req *http.Request) {
	out, err := s.pub.Snapshot().MarshalJSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(out)
}

func (s *Server) handleCommand(w http.ResponseWriter, req *http.Request) {
	cmd, ok := recorder.ParseCommand(mux.Vars(req)["name"])
	if !ok {
		http.Error(w, "Unknown command", http.StatusNotFound)
		return
	}
	if s.ctl == nil {
		http.Error(w, "Not running", http.StatusServiceUnavailable)
		return
	}
	glog.Infof("telemetry: %s requested by %s", cmd, req.RemoteAddr)
	s.ctl.PostMessage(&recorder.CommandMsg{Command: cmd})
	s.ctl.TriggerNext()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleWebsocket(conn *websocket.Conn) {
	defer conn.Close()
	ch, stop := s.pub.Subscribe()
	defer stop()
	send := func(snap Snapshot) error {
		out, err := snap.MarshalJSON()
		if err != nil {
			return err
		}
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return websocket.Message.Send(conn, string(out))
	}
	if err := send(s.pub.Snapshot()); err != nil {
		return
	}
	ctx, cancel := context.WithCancel(conn.Request().Context())
	defer cancel()
	go func() {
		// clients only listen, a read ends when they go away
		io.Copy(io.Discard, conn)
		cancel()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-ch:
			if err := send(snap); err != nil {
				glog.V(2).Infof("telemetry: websocket %s: %v", conn.Request().RemoteAddr, err)
				return
			}
		}
	}
}
