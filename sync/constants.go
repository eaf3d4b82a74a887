package sync

import "time"

// Watermarks and batching for the negentropy upload/download queues
// (spec §4.4 "Back-pressure").
const (
	HighWaterUp = 128
	LowWaterUp  = 64
	BatchDown   = 128
)

const (
	defaultInitialTimeout = 10 * time.Second
	defaultIdleTimeout    = 30 * time.Second
)
