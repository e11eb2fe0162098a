package harvest

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the pipeline.
var (
	ErrCategoryNotFound     = errors.New("category not found")
	ErrConfigurationMissing = errors.New("configuration missing")
	ErrUnknownMode          = errors.New("unknown crawl mode")
)

// CategoryNotFoundError names the category that could not be resolved.
type CategoryNotFoundError struct {
	Name string
}

func (e *CategoryNotFoundError) Error() string {
	return fmt.Sprintf("category %q not found", e.Name)
}

// Is lets errors.Is match ErrCategoryNotFound.
func (e *CategoryNotFoundError) Is(target error) bool {
	return target == ErrCategoryNotFound
}
