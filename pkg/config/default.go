package config

import "runtime"

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		AltStorePath: "alt-store",
		AltCacheSize: 4096,
		RPCEndpoint:  "https://api.mainnet-beta.solana.com",
		LogLevel:     "info",
		Workers:      runtime.NumCPU(),
	}
}
