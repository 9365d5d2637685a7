package domain

import "time"

// Session is the client-held record of one deployment attempt. One session
// is active per console instance; it survives restarts until it completes
// or is explicitly discarded.
type Session struct {
	ID              string
	Stage           Stage
	ProgressPercent int
	ProjectName     string
	RepositoryURL   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
