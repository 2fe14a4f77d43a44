package bridge

const (
	defaultMaxBatchRows = 1024
	defaultMemoryBudget = 256 * 1024 * 1024
)

// Config is the externally supplied bridge configuration.
type Config struct {
	// MaxBatchRows caps the rows per columnar batch built by the export
	// iterator. Zero uses the default of 1024.
	MaxBatchRows int

	// MemoryBudget bounds the root allocation arena in bytes. Zero uses the
	// default of 256MB. Negative means unlimited.
	MemoryBudget int64
}

func (c Config) withDefaults() Config {
	if c.MaxBatchRows <= 0 {
		c.MaxBatchRows = defaultMaxBatchRows
	}
	if c.MemoryBudget == 0 {
		c.MemoryBudget = defaultMemoryBudget
	}
	return c
}

// RootBudget returns the byte budget for the root arena with defaults
// applied: 0 becomes the default budget, negative becomes 0 (unlimited).
func (c Config) RootBudget() int64 {
	b := c.withDefaults().MemoryBudget
	if b < 0 {
		return 0
	}
	return b
}
