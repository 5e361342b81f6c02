// Package stats provides a minimal instrumentation facade backed by
// go-metrics. It exists so the rest of flammable can count and time its
// operations without leaking the metrics dependency to callers, and so a
// receiver can be scoped and passed down a call tree.
package stats

import (
	"strings"
	"time"

	"github.com/rcrowley/go-metrics"
)

// Stats users can either reference this global receiver or construct their own.
var CurrentStatsReceiver StatsReceiver = NilStatsReceiver()

// Counter counts events.
type Counter interface {
	Inc(int64)
	Count() int64
}

// Gauge holds an int64 value that can be set arbitrarily.
type Gauge interface {
	Update(int64)
	Value() int64
}

// Latency records callsite durations.
//
//	defer stat.Latency("sync_ms").Time()()
type Latency interface {
	Time() func()
	RecordDuration(time.Duration)
}

// StatsReceiver hands out instruments, namespaced by Scope.
type StatsReceiver interface {
	// Scope returns a receiver that prefixes instrument names with the
	// given path elements, joined by '/'.
	Scope(scope ...string) StatsReceiver
	Counter(name ...string) Counter
	Gauge(name ...string) Gauge
	Latency(name ...string) Latency
}

// DefaultStatsReceiver returns a receiver backed by a fresh go-metrics registry.
func DefaultStatsReceiver() StatsReceiver {
	return &registryReceiver{registry: metrics.NewRegistry()}
}

type registryReceiver struct {
	registry metrics.Registry
	scope    []string
}

func (r *registryReceiver) Scope(scope ...string) StatsReceiver {
	return &registryReceiver{registry: r.registry, scope: append(append([]string{}, r.scope...), scope...)}
}

func (r *registryReceiver) name(name []string) string {
	return strings.Join(append(append([]string{}, r.scope...), name...), "/")
}

func (r *registryReceiver) Counter(name ...string) Counter {
	return r.registry.GetOrRegister(r.name(name), metrics.NewCounter).(metrics.Counter)
}

func (r *registryReceiver) Gauge(name ...string) Gauge {
	g := r.registry.GetOrRegister(r.name(name), metrics.NewGauge).(metrics.Gauge)
	return &gauge{g}
}

func (r *registryReceiver) Latency(name ...string) Latency {
	h := r.registry.GetOrRegister(r.name(name), func() metrics.Histogram {
		return metrics.NewHistogram(metrics.NewExpDecaySample(1028, 0.015))
	}).(metrics.Histogram)
	return &latency{h}
}

type gauge struct {
	g metrics.Gauge
}

func (g *gauge) Update(v int64) { g.g.Update(v) }
func (g *gauge) Value() int64   { return g.g.Value() }

type latency struct {
	h metrics.Histogram
}

func (l *latency) Time() func() {
	start := time.Now()
	return func() { l.RecordDuration(time.Since(start)) }
}

func (l *latency) RecordDuration(d time.Duration) { l.h.Update(int64(d)) }

// NilStatsReceiver returns a receiver whose instruments discard everything.
func NilStatsReceiver() StatsReceiver {
	return nilReceiver{}
}

type nilReceiver struct{}

func (nilReceiver) Scope(...string) StatsReceiver { return nilReceiver{} }
func (nilReceiver) Counter(...string) Counter     { return nilCounter{} }
func (nilReceiver) Gauge(...string) Gauge         { return nilGauge{} }
func (nilReceiver) Latency(...string) Latency     { return nilLatency{} }

type nilCounter struct{}

func (nilCounter) Inc(int64)    {}
func (nilCounter) Count() int64 { return 0 }

type nilGauge struct{}

func (nilGauge) Update(int64) {}
func (nilGauge) Value() int64 { return 0 }

type nilLatency struct{}

func (nilLatency) Time() func()                 { return func() {} }
func (nilLatency) RecordDuration(time.Duration) {}
