package constants

import "time"

// Shared duration vocabulary used by timeouts, polling and retry checks.
// Keep these centralized to simplify system-wide timing tuning.
const (
	Duration100Milliseconds = 100 * time.Millisecond
	Duration300Milliseconds = 300 * time.Millisecond
	Duration500Milliseconds = 500 * time.Millisecond

	Duration1Second   = 1 * time.Second
	Duration2Seconds  = 2 * time.Second
	Duration5Seconds  = 5 * time.Second
	Duration8Seconds  = 8 * time.Second
	Duration10Seconds = 10 * time.Second
	Duration15Seconds = 15 * time.Second
	Duration40Seconds = 40 * time.Second

	Duration2Minutes = 2 * time.Minute
)

// Domain-level timeout constants.
const (
	CatalogRequestTimeout = Duration8Seconds
	CatalogAudioTimeout   = Duration40Seconds

	WorkerPortProbeTimeout   = Duration300Milliseconds
	WorkerRequestTimeout     = Duration2Minutes
	WorkerHealthTimeout      = Duration5Seconds
	WorkerGracefulStopWindow = Duration10Seconds

	HTTPReadHeaderTimeout = Duration10Seconds
	HTTPShutdownTimeout   = Duration15Seconds
)
