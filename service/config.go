package service

import "runtime"

// DefaultChunkSize is the number of pairs committed per backing-store
// transaction by UpdatePersistent (spec.md §4.4's "chunked, per-chunk
// atomic" batch driver) and by Wipe's internal zeroing pass.
const DefaultChunkSize = 5000

// ParallelProofThreshold is the key-count above which GetProof-style
// calls dispatch to the bounded worker pool instead of walking every
// key's proof inline (spec.md §5: "SHOULD exploit a worker pool for
// batches > ~64 keys").
const ParallelProofThreshold = 64

// Config holds the tunables of a Service. Use DefaultConfig to get sane
// defaults and override individual fields. A ChunkSize of zero or less
// is treated as DefaultChunkSize, and a ProofWorkers of zero or less as
// a single worker.
type Config struct {
	// ChunkSize is the number of pairs per committed chunk in
	// UpdatePersistent and Wipe.
	ChunkSize int

	// ProofWorkers bounds the worker pool used to parallelize proof
	// generation for batches larger than ParallelProofThreshold.
	ProofWorkers int
}

// DefaultConfig returns the Config a newly constructed Service uses
// unless the caller overrides it.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    DefaultChunkSize,
		ProofWorkers: runtime.GOMAXPROCS(0),
	}
}
