// Package types contains the read shapes returned by query operations.
package types

// Entry is one ranked leaderboard row.
type Entry struct {
	UserID      string `json:"userId"`
	UserName    string `json:"userName"`
	TotalPoints int    `json:"totalPoints"`
}

// Mismatch is a row whose recorded total differs from the sum of the
// user's approved events.
type Mismatch struct {
	UserID   string `json:"userId"`
	Recorded int    `json:"recorded"`
	Expected int    `json:"expected"`
}

// Audit is the result of checking a group's totals against its history.
type Audit struct {
	GroupID    string     `json:"groupId"`
	Consistent bool       `json:"consistent"`
	Mismatches []Mismatch `json:"mismatches"`
}
