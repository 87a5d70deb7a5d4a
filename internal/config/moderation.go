package config

import "time"

// Moderation rules applied by the dev relay to report_user events.
const (
	// ComplaintWindow is how far back complaints against a user are counted.
	ComplaintWindow = 24 * time.Hour
	// BanThresholdFrequency is the number of complaints inside the window
	// that has to be exceeded before a ban is applied.
	BanThresholdFrequency = 5
	// BanDuration is how long a banned user is refused a match.
	BanDuration = 30 * time.Minute
)
