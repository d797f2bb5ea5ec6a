package settings

import (
	"sync"
	"time"
)

type Arguments struct {
	// The file path to the datafiles
	DataDir string

	// Run the key-value store fully in memory (no files on disk)
	InMemory bool

	// Strongly verbose logging
	Verbose bool

	// Enable debug mode
	Debug bool

	// Time limit handed to the traversal planner's solver per optimisation
	PlannerTimeLimit time.Duration

	// Extended time limit used when the caller asks for extra planning time
	PlannerExtendedTimeLimit time.Duration

	// Upper bound on rule-application passes for a single query
	ReasoningBudget int

	// Number of answers fetched per batch by streaming callers
	BatchSize int

	// Fan traversals out over starting-vertex partitions
	Parallel bool
}

var (
	instance *Arguments
	once     sync.Once
)

// GetSettings returns the global settings instance, creating it with
// defaults on first use.
func GetSettings() *Arguments {
	once.Do(func() {
		instance = &Arguments{
			DataDir:                  "./datafiles",
			PlannerTimeLimit:         100 * time.Millisecond,
			PlannerExtendedTimeLimit: 200 * time.Millisecond,
			ReasoningBudget:          64,
			BatchSize:                50,
		}
	})
	return instance
}
