package common

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
)

// --------------------------------------------------------------------------
// Server statistics
// --------------------------------------------------------------------------

// Stats collects the runtime statistics of one server instance.
// Counters and gauges are kept in a private VictoriaMetrics set (exported in
// prometheus format), per command latencies in a go-metrics registry (reported
// by INFO commandstats).
//
// Thread-safety: All methods are safe for concurrent use.
type Stats struct {
	set    *metrics.Set
	timers gometrics.Registry

	connectionsTotal *metrics.Counter
	commandsTotal    *metrics.Counter
	errorsTotal      *metrics.Counter
	connected        atomic.Int64

	started time.Time
}

// CommandStat is the aggregated latency of one command
type CommandStat struct {
	Name  string
	Calls int64
	Usec  int64
}

// UsecPerCall returns the mean latency in microseconds
func (c CommandStat) UsecPerCall() float64 {
	if c.Calls == 0 {
		return 0
	}
	return float64(c.Usec) / float64(c.Calls)
}

// NewStats creates an empty statistics collector
func NewStats() *Stats {
	s := &Stats{
		set:     metrics.NewSet(),
		timers:  gometrics.NewRegistry(),
		started: time.Now(),
	}
	s.connectionsTotal = s.set.NewCounter("rkv_connections_total")
	s.commandsTotal = s.set.NewCounter("rkv_commands_processed_total")
	s.errorsTotal = s.set.NewCounter("rkv_command_errors_total")
	s.set.NewGauge("rkv_connected_clients", func() float64 {
		return float64(s.connected.Load())
	})
	return s
}

// RegisterGauge exposes a value computed on scrape. Each name may only be registered once.
func (s *Stats) RegisterGauge(name string, f func() float64) {
	s.set.NewGauge(name, f)
}

// ConnectionOpened records an accepted client connection
func (s *Stats) ConnectionOpened() {
	s.connectionsTotal.Inc()
	s.connected.Add(1)
}

// ConnectionClosed records a closed client connection
func (s *Stats) ConnectionClosed() {
	s.connected.Add(-1)
}

// ObserveCommand records one executed command
func (s *Stats) ObserveCommand(name string, took time.Duration, failed bool) {
	name = strings.ToLower(name)
	s.commandsTotal.Inc()
	s.set.GetOrCreateCounter(fmt.Sprintf(`rkv_commands_total{command=%q}`, name)).Inc()
	if failed {
		s.errorsTotal.Inc()
	}
	gometrics.GetOrRegisterTimer(name, s.timers).Update(took)
}

// ConnectedClients returns the number of open client connections
func (s *Stats) ConnectedClients() int64 {
	return s.connected.Load()
}

// TotalConnections returns the number of accepted connections since start
func (s *Stats) TotalConnections() uint64 {
	return s.connectionsTotal.Get()
}

// TotalCommands returns the number of processed commands since start
func (s *Stats) TotalCommands() uint64 {
	return s.commandsTotal.Get()
}

// TotalErrors returns the number of commands answered with an error
func (s *Stats) TotalErrors() uint64 {
	return s.errorsTotal.Get()
}

// Uptime returns the time since the collector was created
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.started)
}

// CommandStats returns the latency statistics of all executed commands, sorted by name
func (s *Stats) CommandStats() []CommandStat {
	var stats []CommandStat
	s.timers.Each(func(name string, i interface{}) {
		timer, ok := i.(gometrics.Timer)
		if !ok {
			return
		}
		snapshot := timer.Snapshot()
		stats = append(stats, CommandStat{
			Name:  name,
			Calls: snapshot.Count(),
			Usec:  snapshot.Sum() / int64(time.Microsecond),
		})
	})
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// WritePrometheus writes all counters and gauges in prometheus text format
func (s *Stats) WritePrometheus(w io.Writer) {
	s.set.WritePrometheus(w)
}

// Handler returns an http handler serving WritePrometheus
func (s *Stats) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		s.WritePrometheus(w)
	})
}
