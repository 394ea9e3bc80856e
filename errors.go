package tsnego

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned when running an engine without affinities.
	ErrNotInitialized = errors.New("engine not initialized")
	// ErrAlreadyRunning is returned when the engine is busy with a run.
	ErrAlreadyRunning = errors.New("engine already running")
	// ErrEmptyData is returned for an input matrix without points.
	ErrEmptyData = errors.New("empty input data")
	// ErrPerplexityTooLarge is returned when perplexity is not below N/3.
	ErrPerplexityTooLarge = errors.New("perplexity must be smaller than a third of the number of points")
	// ErrCalibrationNotConverged is returned in strict mode when the
	// bandwidth search missed its tolerance for some points.
	ErrCalibrationNotConverged = errors.New("perplexity calibration did not converge")
	// ErrInvalidConfig is returned for out-of-range options.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrClosed is returned by an engine marked for deletion.
	ErrClosed = errors.New("engine marked for deletion")
)

// ErrInvalidDimension indicates an invalid input or output dimension.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrInvalidDimension struct {
	Dimension int
	cause     error
}

func (e *ErrInvalidDimension) Error() string {
	return fmt.Sprintf("invalid dimension: %d", e.Dimension)
}

func (e *ErrInvalidDimension) Unwrap() error { return e.cause }

// ErrDataShape indicates an input matrix whose length is not a multiple of
// its dimension.
type ErrDataShape struct {
	Len       int
	Dimension int
	cause     error
}

func (e *ErrDataShape) Error() string {
	return fmt.Sprintf("data length %d is not a multiple of dimension %d", e.Len, e.Dimension)
}

func (e *ErrDataShape) Unwrap() error { return e.cause }
