package health

// Health states
const (
	Healthy = "healthy"
	Stale   = "stale"
	Dead    = "dead"
	Unknown = "unknown" // daemon never ticked
)

// Health check timing constants
const (
	// StaleMultiplier determines when the daemon is stale (timeout * multiplier)
	StaleMultiplier = 1.0

	// DeadMultiplier determines when the daemon is dead (timeout * multiplier)
	DeadMultiplier = 2.0
)
