package ragpg

import (
	"fmt"

	"github.com/1qh/ragpg/internal/ragerr"
)

// ConfigError reports a bad handle construction: missing connection string,
// negative dimension, and similar caller mistakes caught before any
// database round-trip.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("ragpg: config error on %s: %s", e.Field, e.Msg)
}

// DatabaseError wraps any failing database round-trip: connectivity,
// constraint violation, or a missing extension.
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("ragpg: database error during %s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error { return e.Err }

// EmbedError wraps a failure from the caller-supplied embedding function.
type EmbedError struct {
	Op  string
	Err error
}

func (e *EmbedError) Error() string {
	return fmt.Sprintf("ragpg: embed error during %s: %v", e.Op, e.Err)
}

func (e *EmbedError) Unwrap() error { return e.Err }

// InvalidBackupError is returned by ImportBackup when validation fails; it
// carries every per-line error and the set of inconsistent embedding
// dimensions observed.
type InvalidBackupError struct {
	LineErrors []string
	Dimensions []int
}

func (e *InvalidBackupError) Error() string {
	return fmt.Sprintf("ragpg: invalid backup: %d line error(s), dimensions observed %v", len(e.LineErrors), e.Dimensions)
}

// DimensionMismatchError records that a single backup document's embedding
// length differs from the handle's configured dimension; it is recovered
// locally by ImportBackup (the document is skipped, not failed) and
// collected on ImportResult.RecoveredErrors. Defined in internal/ragerr so
// the ingest/backup packages can construct it at their recovery sites
// without importing the root package.
type DimensionMismatchError = ragerr.DimensionMismatchError

// DuplicateContentError records that a document's content_hash already
// exists; recovered locally by Ingest/ImportBackup as a counted duplicate
// and collected on IngestResult.RecoveredErrors / ImportResult.RecoveredErrors.
type DuplicateContentError = ragerr.DuplicateContentError

// UnresolvedRelationError records that a relation target title did not
// resolve to any document; recovered locally and collected on both
// IngestResult.UnresolvedRelations (deduplicated titles) and
// IngestResult.RecoveredErrors (one entry per source/target pair).
type UnresolvedRelationError = ragerr.UnresolvedRelationError
