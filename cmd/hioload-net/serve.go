// File: cmd/hioload-net/serve.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/momentics/hioload-net/control"
	"github.com/momentics/hioload-net/logging"
	"github.com/momentics/hioload-net/reactor"
	"github.com/momentics/hioload-net/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// serveConfig is the parsed form of the serve flags.
type serveConfig struct {
	Server      *server.Config
	Mode        string
	LogLevel    logging.Level
	MetricsAddr string
}

var (
	serveCfg = &serveConfig{}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start a TCP server",
		Long: `Start a TCP server running one of the built-in handlers (echo, discard, hello).
Every flag can also be set through the environment as HIOLOAD_<flag>, with dashes
replaced by underscores (e.g. HIOLOAD_TCP_NODELAY=true).`,
		PreRunE: processConfig,
		RunE:    runServe,
	}
)

func init() {
	defaults := server.DefaultConfig()
	f := serveCmd.Flags()
	f.String("name", defaults.Name, "server name, used as the connection name prefix and metrics label")
	f.String("addr", defaults.ListenAddr, "TCP listen address (host:port)")
	f.Int("loops", defaults.NumLoops, "worker event loops; 0 serves everything from the main loop")
	f.String("cpus", "", "comma-separated CPUs to pin worker loops to, in order")
	f.String("mode", modeEcho, "handler: echo, discard or hello")
	f.String("log-level", "info", "log level (debug, info, notice, warn, error, crit, disabled)")
	f.Bool("reuse-port", defaults.ReusePort, "set SO_REUSEPORT on the listening socket")
	f.Bool("tcp-nodelay", defaults.TCPNoDelay, "set TCP_NODELAY on accepted connections")
	f.Bool("keep-alive", defaults.KeepAlive, "set SO_KEEPALIVE on accepted connections")
	f.Int("backlog", defaults.Backlog, "listen backlog")
	f.Duration("poll-timeout", defaults.PollTimeout, "upper bound of one worker poll")
	f.Int("high-water-mark", defaults.HighWaterMark, "output backlog in bytes that is logged as a warning")
	f.String("metrics-addr", "", "serve Prometheus metrics at http://<addr>/metrics when set")
}

func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	cfg, err := loadServeConfig(viper.GetViper())
	if err != nil {
		return err
	}
	*serveCfg = *cfg
	return nil
}

// loadServeConfig reads the serve settings from v.
func loadServeConfig(v *viper.Viper) (*serveConfig, error) {
	level, err := logging.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return nil, err
	}
	cpus, err := parseCPUs(v.GetString("cpus"))
	if err != nil {
		return nil, err
	}
	mode := strings.ToLower(strings.TrimSpace(v.GetString("mode")))
	switch mode {
	case modeEcho, modeDiscard, modeHello:
	default:
		return nil, fmt.Errorf("invalid mode %q (expected one of: %s, %s, %s)", mode, modeEcho, modeDiscard, modeHello)
	}
	loops := v.GetInt("loops")
	if loops < 0 {
		return nil, fmt.Errorf("invalid loops %d: must not be negative", loops)
	}

	sc := server.DefaultConfig()
	sc.Name = v.GetString("name")
	sc.ListenAddr = v.GetString("addr")
	sc.NumLoops = loops
	sc.LoopCPUs = cpus
	sc.ReusePort = v.GetBool("reuse-port")
	sc.TCPNoDelay = v.GetBool("tcp-nodelay")
	sc.KeepAlive = v.GetBool("keep-alive")
	sc.Backlog = v.GetInt("backlog")
	sc.PollTimeout = v.GetDuration("poll-timeout")
	sc.HighWaterMark = v.GetInt("high-water-mark")

	return &serveConfig{
		Server:      sc,
		Mode:        mode,
		LogLevel:    level,
		MetricsAddr: v.GetString("metrics-addr"),
	}, nil
}

func parseCPUs(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var cpus []int
	for _, part := range strings.Split(s, ",") {
		cpu, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || cpu < 0 {
			return nil, fmt.Errorf("invalid cpu %q", part)
		}
		cpus = append(cpus, cpu)
	}
	return cpus, nil
}

// runServe owns the main goroutine's OS thread for the home loop until a
// signal stops the server.
func runServe(cmd *cobra.Command, _ []string) error {
	log := logging.New(cmd.ErrOrStderr(), serveCfg.LogLevel)
	logging.SetDefault(log)

	h, err := newHandler(serveCfg.Mode, log)
	if err != nil {
		return err
	}

	loop, err := reactor.NewEventLoop(
		reactor.WithLoopName("main"),
		reactor.WithLoopLogger(log),
	)
	if err != nil {
		return err
	}

	srv, err := server.NewServer(loop, serveCfg.Server,
		server.WithLogger(log),
		server.WithConnectionCallback(h.onConnection),
		server.WithMessageCallback(h.onMessage),
		server.WithHighWaterMark(serveCfg.Server.HighWaterMark, func(c *server.Connection, pending int) {
			log.Warning().Str("conn", c.Name()).Int("pending", pending).Log("output above high-water mark")
		}),
	)
	if err != nil {
		return errors.Join(err, loop.Close())
	}
	if err := srv.Start(); err != nil {
		return errors.Join(err, loop.Close())
	}

	var metricsSrv *http.Server
	if serveCfg.MetricsAddr != "" {
		metricsSrv = newMetricsServer(serveCfg.MetricsAddr, srv)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Err().Err(err).Log("metrics endpoint failed")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		sig := <-sigCh
		log.Notice().Str("signal", sig.String()).Log("shutting down")
		if err := srv.Stop(); err != nil {
			log.Err().Err(err).Log("server stop")
		}
		loop.Quit()
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "hioload-net %s server listening on %s\n", serveCfg.Mode, srv.IPPort())
	loop.Loop()

	if metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(ctx); err != nil {
			log.Err().Err(err).Log("metrics endpoint shutdown")
		}
	}
	log.Info().Str("metrics", srv.Metrics().Snapshot().String()).Log("server exited")
	return loop.Close()
}

// newMetricsServer serves /metrics in Prometheus text format and
// /debug/state as a JSON dump of the server's probes. srv must be started.
func newMetricsServer(addr string, srv *server.Server) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           metricsHandler(srv),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func metricsHandler(srv *server.Server) http.Handler {
	probes := control.NewDebugProbes()
	control.RegisterMetricsProbe(probes, srv.Metrics())
	control.RegisterPlatformProbes(probes)
	loops := []*reactor.EventLoop{srv.Loop()}
	for _, l := range srv.Loops() {
		if l != srv.Loop() {
			loops = append(loops, l)
		}
	}
	control.RegisterLoopProbes(probes, "loops", func() []*reactor.EventLoop { return loops })

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		srv.Metrics().WritePrometheus(w)
	})
	mux.HandleFunc("/debug/state", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := probes.WriteJSON(w); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return mux
}
