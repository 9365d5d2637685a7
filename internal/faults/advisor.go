package faults

import (
	"strings"
	"time"
)

// MaxRetries caps the per-session retry counter; beyond it failures are
// terminal and a fresh session is required.
const MaxRetries = 3

// MaxStageTimeout bounds timeout-extension fixes.
const MaxStageTimeout = 10 * time.Minute

// Context carries the failing inputs that auto-fix generators operate on.
type Context struct {
	RepoURL      string
	StageTimeout time.Duration
	Attempt      int
}

// Fix is a candidate corrected input. Generators never apply fixes; the
// caller must explicitly choose one.
type Fix struct {
	Label   string
	RepoURL string
	Timeout time.Duration
}

// Advice packages what the user sees after a classified failure.
type Advice struct {
	Category    Category
	Message     string
	Suggestions []string
	Fixes       []Fix
	Terminal    bool
}

// Suggest returns guidance for a classified failure. Once the session's
// retry counter reaches MaxRetries the advice is terminal and offers no
// further fixes.
func Suggest(category Category, cause error, fctx Context) Advice {
	advice := Advice{Category: category}
	if cause != nil {
		advice.Message = cause.Error()
	}
	if fctx.Attempt >= MaxRetries {
		advice.Terminal = true
		advice.Suggestions = []string{
			"Retry limit reached for this session.",
			"Start a new deployment session to try again.",
		}
		return advice
	}

	switch category {
	case CategoryInvalidRepo:
		advice.Suggestions = []string{
			"Check that the repository URL is spelled correctly.",
			"Verify the repository is public or the configured token can read it.",
			"Confirm the default branch exists.",
		}
		if fixed, ok := NormalizeRepoURL(fctx.RepoURL); ok {
			advice.Fixes = append(advice.Fixes, Fix{
				Label:   "Use normalized repository URL " + fixed,
				RepoURL: fixed,
			})
		}
	case CategoryBuildFailed:
		advice.Suggestions = []string{
			"Review the build log for the first failing command.",
			"Verify the build command and dependency lockfile are committed.",
			"Try building locally with a clean checkout.",
		}
	case CategoryTimeout:
		advice.Suggestions = []string{
			"The backend took longer than the configured stage timeout.",
			"Retry the failed stage; transient slowness usually clears.",
		}
		if extended, ok := ExtendTimeout(fctx.StageTimeout); ok {
			advice.Fixes = append(advice.Fixes, Fix{
				Label:   "Retry with stage timeout " + extended.String(),
				Timeout: extended,
			})
		}
	default:
		advice.Suggestions = []string{
			"Retry the failed stage.",
			"If the failure persists, contact support with the error message.",
		}
	}
	return advice
}

// NormalizeRepoURL proposes a cleaned-up repository URL: scheme added for
// bare hosts, owner/repo shorthand expanded to GitHub, trailing slashes
// trimmed. Returns false when the input is already clean or empty.
func NormalizeRepoURL(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	fixed := strings.TrimRight(trimmed, "/")
	switch {
	case strings.HasPrefix(fixed, "https://"):
	case strings.HasPrefix(fixed, "http://"):
		fixed = "https://" + strings.TrimPrefix(fixed, "http://")
	case strings.Count(fixed, "/") == 1 && !strings.Contains(strings.Split(fixed, "/")[0], "."):
		// owner/repo shorthand
		fixed = "https://github.com/" + fixed
	default:
		fixed = "https://" + fixed
	}
	if fixed == trimmed {
		return "", false
	}
	return fixed, true
}

// ExtendTimeout proposes doubling the stage timeout, capped at
// MaxStageTimeout. Returns false when no further extension is possible.
func ExtendTimeout(current time.Duration) (time.Duration, bool) {
	if current <= 0 {
		current = 2 * time.Minute
	}
	extended := current * 2
	if extended > MaxStageTimeout {
		extended = MaxStageTimeout
	}
	if extended <= current {
		return 0, false
	}
	return extended, true
}
