package match

import "fmt"

// InvalidThresholdError rejects a threshold outside [0,100].
type InvalidThresholdError struct {
	Threshold int
}

func (e *InvalidThresholdError) Error() string {
	return fmt.Sprintf("invalid threshold %d: must be between %d and %d", e.Threshold, MinScore, MaxScore)
}

// InvalidInputError rejects text the engine will not match.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Reason
}

// ValidateThreshold returns *InvalidThresholdError when threshold is out of range.
func ValidateThreshold(threshold int) error {
	if threshold < MinScore || threshold > MaxScore {
		return &InvalidThresholdError{Threshold: threshold}
	}
	return nil
}
