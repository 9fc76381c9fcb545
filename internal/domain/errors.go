package domain

import "errors"

// Error taxonomy shared across the engine. Callers classify failures with
// errors.Is; packages wrap these sentinels with fmt.Errorf("...: %w", ...)
// to add context.
var (
	// ErrNoDataAvailable means no cached series exists and the fetch
	// collaborator could not produce one. Fatal for that ticker.
	ErrNoDataAvailable = errors.New("no data available")

	// ErrInsufficientData means the series is too short for an indicator
	// window or a required indicator input is missing.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrDataSource is a transient fetch failure. The cache gate falls
	// back to the last cached series when one exists.
	ErrDataSource = errors.New("data source error")

	// ErrDegenerateLevels means price levels cannot be computed (zero or
	// missing ATR). Fatal for the trade plan only, not the decision.
	ErrDegenerateLevels = errors.New("degenerate price levels")
)
