package util

import "fmt"

// WrapError prefixes err with "failed to <operation>". A nil err stays nil.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to %s: %w", operation, err)
}
