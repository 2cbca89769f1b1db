package utils

import "time"

// NowUTC returns the current time in UTC.
// All timestamps embedded in credit reports and Vault uploads go through this
// helper so log output and tests stay timezone-stable.
func NowUTC() time.Time {
	return time.Now().UTC()
}
