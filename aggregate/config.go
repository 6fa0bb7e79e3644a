package aggregate

import "log/slog"

// Config is the per-round configuration, constructed by the caller and
// threaded through the engine. There is deliberately no process-global state:
// one round, one Config.
type Config struct {
	// Round selects which submissions participate.
	Round uint64

	// RequireSignatures enables signature verification during validation.
	// Disabling it is only sensible for closed test networks.
	RequireSignatures bool

	// UploadManifest controls the best-effort manifest publish.
	UploadManifest bool

	// FetchWorkers bounds the concurrent artifact fetches. Zero or negative
	// selects DefaultFetchWorkers.
	FetchWorkers int

	// Logger receives one entry per skipped submission and publish warnings.
	// Nil selects slog.Default().
	Logger *slog.Logger
}

// DefaultFetchWorkers is the fetch pool size when Config.FetchWorkers is unset.
const DefaultFetchWorkers = 4

// DefaultConfig returns the production defaults for one round: signatures
// required, manifest uploaded.
func DefaultConfig(round uint64) Config {
	return Config{
		Round:             round,
		RequireSignatures: true,
		UploadManifest:    true,
		FetchWorkers:      DefaultFetchWorkers,
	}
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c Config) fetchWorkers() int {
	if c.FetchWorkers > 0 {
		return c.FetchWorkers
	}
	return DefaultFetchWorkers
}
