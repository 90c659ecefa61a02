package enrich

import (
	"fmt"

	"github.com/c360/lookupstream/errors"
)

// Default tags, matching the names operators already filter on.
const (
	DefaultFailureTag    = "_jdbcstreamingfailure"
	DefaultDefaultUseTag = "_jdbcstreamingdefaultsused"
	DefaultTagsField     = "tags"
)

// Config controls how lookup results are merged into events.
type Config struct {
	// Name labels logs and metrics.
	Name string

	// Target is the field path receiving the rows. Required.
	Target string

	// Parameters maps statement placeholders to event field paths. A path is
	// written a.b.c or [a][b][c]. Missing fields bind as NULL.
	Parameters map[string]string

	// DefaultRow is stored as the only row when the lookup returns nothing.
	// Nil or empty leaves an empty list in Target.
	DefaultRow map[string]any

	// TagOnFailure is appended to TagsField when the lookup fails.
	TagOnFailure []string

	// TagOnDefaultUse is appended to TagsField when DefaultRow was used.
	TagOnDefaultUse []string

	// TagsField is the field holding the tag list.
	TagsField string

	// Workers is the number of events enriched concurrently. With more than
	// one worker, output order no longer follows input order.
	Workers int

	// QueueSize bounds the events waiting for a worker. Receiving blocks
	// while the queue is full.
	QueueSize int
}

// DefaultConfig returns the defaults for every optional field.
func DefaultConfig() Config {
	return Config{
		Name:            "enrich",
		Parameters:      map[string]string{},
		TagOnFailure:    []string{DefaultFailureTag},
		TagOnDefaultUse: []string{DefaultDefaultUseTag},
		TagsField:       DefaultTagsField,
		Workers:         1,
		QueueSize:       256,
	}
}

// Validate checks that every path parses.
func (c Config) Validate() error {
	if c.Target == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "enrich", "Validate", "target is required")
	}
	if _, err := parsePath(c.Target); err != nil {
		return errors.WrapInvalid(err, "enrich", "Validate", "target")
	}
	if c.TagsField == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "enrich", "Validate", "tags_field is required")
	}
	if _, err := parsePath(c.TagsField); err != nil {
		return errors.WrapInvalid(err, "enrich", "Validate", "tags_field")
	}
	if c.Workers < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "enrich", "Validate",
			fmt.Sprintf("workers cannot be negative, got %d", c.Workers))
	}
	if c.Workers > 1 && c.QueueSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "enrich", "Validate",
			fmt.Sprintf("queue_size must be positive with %d workers, got %d", c.Workers, c.QueueSize))
	}
	for name, field := range c.Parameters {
		if _, err := parsePath(field); err != nil {
			return errors.WrapInvalid(err, "enrich", "Validate", fmt.Sprintf("parameter %s", name))
		}
	}
	return nil
}
