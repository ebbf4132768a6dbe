//go:build cuda

package cuda

import (
	"errors"
	"fmt"
)

var ErrNoDevice = errors.New("no cuda devices detected")

// cudaExecutionError converts a recovered native panic into an error.
func cudaExecutionError(rec any) error {
	if recErr, ok := rec.(error); ok {
		return fmt.Errorf("cuda execution failed: %w", recErr)
	}
	return fmt.Errorf("cuda execution failed: %v", rec)
}
