// Package faults turns raw pipeline failures into categorized,
// human-actionable guidance with optional auto-fix candidates.
package faults

import (
	"context"
	"errors"
	"strings"
)

// Category buckets a failure for guidance lookup.
type Category string

// Failure categories.
const (
	CategoryInvalidRepo Category = "invalid_repo"
	CategoryBuildFailed Category = "build_failed"
	CategoryTimeout     Category = "timeout_error"
	CategoryUnknown     Category = "unknown"
)

// Classify buckets err by message heuristics. Category checks run in a
// fixed order, so a build failure that mentions a timeout still classifies
// as build_failed.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "repository", "not found", "clone failed", "invalid url"):
		return CategoryInvalidRepo
	case containsAny(msg, "build", "npm", "yarn", "pip", "compile", "dependency"):
		return CategoryBuildFailed
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return CategoryTimeout
	default:
		return CategoryUnknown
	}
}

func containsAny(msg string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
