// Package datastore provides error handling helpers for database operations
package datastore

import (
	"regexp"
	"sync"

	"github.com/gaia-project/gaia-processing/internal/errors"
)

var (
	onceRegex         sync.Once
	deadlockPattern   *regexp.Regexp
	corruptionPattern *regexp.Regexp
	lockPattern       *regexp.Regexp
)

func initRegexPatterns() {
	onceRegex.Do(func() {
		deadlockPattern = regexp.MustCompile(`(?i)(deadlock detected|lock wait timeout|deadlock found)`)
		corruptionPattern = regexp.MustCompile(`(?i)(corrupt|malformed|database disk image is malformed|file is not a database)`)
		lockPattern = regexp.MustCompile(`(?i)(locked|database is locked|resource busy)`)
	})
}

// isDeadlock reports whether err indicates a deadlock.
func isDeadlock(err error) bool {
	if err == nil {
		return false
	}
	initRegexPatterns()
	return deadlockPattern.MatchString(err.Error())
}

// isDatabaseCorruption reports whether err indicates on-disk corruption.
func isDatabaseCorruption(err error) bool {
	if err == nil {
		return false
	}
	initRegexPatterns()
	return corruptionPattern.MatchString(err.Error())
}

// isDatabaseLocked reports whether err indicates a transient busy/lock
// condition worth retrying, per the insert retry policy in repository.go.
func isDatabaseLocked(err error) bool {
	if err == nil {
		return false
	}
	initRegexPatterns()
	return lockPattern.MatchString(err.Error())
}

// criticalError wraps err as a critical-priority database error, used for
// conditions the dispatch loop should not silently retry past, such as
// detected corruption.
func criticalError(err error, operation, reason string) error {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Priority(errors.PriorityCritical).
		Context("operation", operation).
		Context("critical_reason", reason).
		Build()
}
