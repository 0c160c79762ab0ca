package models

import "errors"

// Error kinds surfaced by a run. Every kind is terminal for the current
// invocation; callers match them with errors.Is.
var (
	ErrDataUnavailable   = errors.New("market data unavailable")
	ErrCorruptLedger     = errors.New("corrupt ledger")
	ErrInvalidMarketData = errors.New("invalid market data")
	ErrOutOfOrderSample  = errors.New("out of order sample")
	ErrWriteError        = errors.New("ledger write failed")
)

var kinds = []struct {
	err  error
	name string
	code int
}{
	{ErrDataUnavailable, "DataUnavailable", 2},
	{ErrCorruptLedger, "CorruptLedger", 3},
	{ErrInvalidMarketData, "InvalidMarketData", 4},
	{ErrOutOfOrderSample, "OutOfOrderSample", 5},
	{ErrWriteError, "WriteError", 6},
}

// Kind returns the name of the error kind wrapped by err, or "Unknown".
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Unknown"
}

// ExitCode maps err to the process exit status. Errors outside the known
// kinds (configuration, flags) exit with 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return 1
}
