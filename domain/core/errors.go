package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Reshape errors (tidying stage, fail-fast)
	ErrSchemaMismatch   = errors.New("column name does not match declared schema")
	ErrUnmappedCategory = errors.New("raw token has no declared category level")
	ErrColumnNotFound   = errors.New("column not found in wide table")
	ErrBadValue         = errors.New("cell is not a valid numeric value")
	ErrDuplicateCell    = errors.New("two columns write the same tidy cell")

	// Fitting errors (statistics stage, fail-soft per metric)
	ErrIncompleteDesign = errors.New("incomplete within-subject design")
	ErrModelFitFailure  = errors.New("model fit failed")

	// Bundle errors
	ErrTableNotFound  = errors.New("tidy table not found in bundle")
	ErrBundleNotFound = errors.New("bundle not found")
)

// Error constructors with context

// NewSchemaMismatchError names the offending column and the expected arity.
func NewSchemaMismatchError(column string, want, got int) error {
	return fmt.Errorf("%w: column %q has %d tokens, schema declares %d", ErrSchemaMismatch, column, got, want)
}

// NewUnmappedCategoryError names the factor and the token without a level.
func NewUnmappedCategoryError(factor, token string) error {
	return fmt.Errorf("%w: factor %s token %q", ErrUnmappedCategory, factor, token)
}

// NewIncompleteDesignError names the metric and the missing coverage.
func NewIncompleteDesignError(metric MetricName, detail string) error {
	return fmt.Errorf("%w: metric %s: %s", ErrIncompleteDesign, metric, detail)
}

// NewModelFitError wraps a numerical failure from the fitting engine.
func NewModelFitError(metric MetricName, err error) error {
	return fmt.Errorf("%w: metric %s: %v", ErrModelFitFailure, metric, err)
}

func NewBadValueError(column string, participant ParticipantID, raw string) error {
	return fmt.Errorf("%w: column %s participant %s value %q", ErrBadValue, column, participant, raw)
}

// NewDuplicateCellError names the column whose (participant, cell, metric)
// target was already filled by an earlier column.
func NewDuplicateCellError(column string, metric MetricName, participant ParticipantID) error {
	return fmt.Errorf("%w: column %s duplicates metric %s for participant %s", ErrDuplicateCell, column, metric, participant)
}

// Error checking helpers
func IsReshapeError(err error) bool {
	return errors.Is(err, ErrSchemaMismatch) ||
		errors.Is(err, ErrUnmappedCategory) ||
		errors.Is(err, ErrColumnNotFound) ||
		errors.Is(err, ErrBadValue) ||
		errors.Is(err, ErrDuplicateCell)
}

func IsFitError(err error) bool {
	return errors.Is(err, ErrIncompleteDesign) ||
		errors.Is(err, ErrModelFitFailure)
}
