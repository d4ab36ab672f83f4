package domain

import "time"

// FreezeWindow is an open database freeze correlated with a storage snapshot name.
type FreezeWindow struct {
	SnapshotName string    `json:"snapshotName"`
	FreezeID     string    `json:"freezeId"`
	StartedAt    time.Time `json:"startedAt"`
}

func (w FreezeWindow) Age(now time.Time) time.Duration {
	return now.Sub(w.StartedAt)
}

// Expired reports whether the window has outlived timeout at now.
func (w FreezeWindow) Expired(now time.Time, timeout time.Duration) bool {
	return w.Age(now) > timeout
}
