package config

import "time"

// Connection Pool policy constants (§4.6). Kept as package-level vars rather
// than untyped consts so tests can override them to exercise eviction/
// recycling/sweeping paths without waiting on real wall-clock timers.
var (
	// MaxConnections bounds the Connection Pool's live connection set.
	MaxConnections = 50

	// MaxExecutionsPerConnection forces recycling of a connection once it
	// has served this many tool calls, to contain downstream resource leaks.
	MaxExecutionsPerConnection = 1000

	// IdleTimeout is how long a connection may sit unused before the
	// background sweeper disconnects it.
	IdleTimeout = 5 * time.Minute

	// ConnectTimeout bounds establishing a downstream connection.
	ConnectTimeout = 10 * time.Second

	// ProbeTimeout bounds a lightweight catalog-sniffing probe.
	ProbeTimeout = 2 * time.Second

	// ExecTimeout bounds a single downstream tool/resource/prompt call.
	ExecTimeout = 60 * time.Second
)

// Auto-Importer timeout (§4.2).
var AutoImportTimeout = 30 * time.Second

// Health Tracker tuning.
const (
	// UnhealthyToDisabledThreshold is the consecutive-failure count at which
	// an unhealthy server is auto-disabled (§4.3).
	UnhealthyToDisabledThreshold = 3
)

// Semantic Index tuning (§4.4, §9 Open Questions).
var (
	// EmbeddingDimension is the fixed output size of the deterministic
	// local embedder.
	EmbeddingDimension = 384

	// BaseSimilarityThreshold is the tunable confidence floor for semantic
	// candidates; the spec notes the source value varies 0.35-0.40 across
	// the system it was distilled from and directs implementers to keep it
	// tunable rather than guess a single hard-coded figure.
	BaseSimilarityThreshold float32 = 0.35

	// EmbeddingCacheMaxAge is how long a cached embedding set is trusted
	// before being rebuilt regardless of config hash.
	EmbeddingCacheMaxAge = 7 * 24 * time.Hour
)

// Gateway Protocol Surface responsiveness SLA (§4.8, §5).
const (
	InitializeSLA   = 100 * time.Millisecond
	ListingSLA      = 250 * time.Millisecond
)

// Process shutdown timeouts: bound how long any single handler may run and
// how long the whole coordinated shutdown sequence may take before the
// process gives up waiting and exits anyway.
const (
	ShutdownHandlerTimeout = 5 * time.Second
	ShutdownTotalTimeout   = 15 * time.Second
)

// Background indexing concurrency bound (Design Notes §9: "work-stealing
// dispatch across servers bounded by a concurrency limit (default 8)").
const BackgroundIndexConcurrency = 8

// DefaultAutoImportDenylist is the "skip the gateway itself" rule from
// auto-import, modeled as a configurable denylist rather than a hard-coded
// literal per the Open Questions in §9.
var DefaultAutoImportDenylist = []string{"ncp"}
