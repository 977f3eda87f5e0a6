// Package config handles configuration loading and validation for traceoor.
package config

import "time"

// Config represents the complete configuration shared by every traceoor
// command.
type Config struct {
	TracePaths   []string `yaml:"trace_paths" json:"trace_paths,omitempty"`   // Trace files or directories, replayed in order
	AltStorePath string   `yaml:"alt_store_path" json:"alt_store_path"`       // Lookup-table store directory
	AltCacheSize int      `yaml:"alt_cache_size" json:"alt_cache_size"`       // Tables kept in memory in front of the store
	RPCEndpoint  string   `yaml:"rpc_endpoint" json:"rpc_endpoint"`           // JSON-RPC endpoint for lookup-table updates
	LogLevel     string   `yaml:"log_level" json:"log_level"`                 // trace, debug, info, warn, error
	MetricsAddr  string   `yaml:"metrics_addr" json:"metrics_addr,omitempty"` // Optional, empty = disabled
	Pprof        bool     `yaml:"pprof" json:"pprof"`                         // Serve /debug/pprof next to /metrics
	Workers      int      `yaml:"workers" json:"workers"`                     // Slots built concurrently by graph
}

// WindowConfig is the window an analysis is restricted to: either an
// inclusive slot pair or an inclusive timestamp pair, never both.
type WindowConfig struct {
	StartSlot *uint64
	EndSlot   *uint64
	Start     string // RFC 3339 with optional nanoseconds
	End       string
}

// SlotWindow is an inclusive slot range.
type SlotWindow struct {
	Start uint64
	End   uint64
}

// Single reports whether the window covers exactly one slot.
func (w SlotWindow) Single() bool {
	return w.Start == w.End
}

// TimeWindow is an inclusive timestamp range. Nil bounds are open.
type TimeWindow struct {
	Start *time.Time
	End   *time.Time
}
