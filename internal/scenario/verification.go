package scenario

import (
	"errors"
	"fmt"
	"slices"

	"github.com/okian/bet/internal/domain/model"
	"github.com/okian/bet/internal/domain/types"
)

// ErrVerification wraps every check failure.
var ErrVerification = errors.New("verification failed")

func mismatch(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrVerification, fmt.Sprintf(format, args...))
}

// VerifyEvents checks each event against its rule: approval follows the
// vote count, votes hold no duplicates and never include the author, and
// points were copied from the rule. Events must be listed newest first.
func VerifyEvents(events []model.Event, rules map[string]model.Rule) error {
	var problems []error
	for i, ev := range events {
		if i > 0 && ev.CreatedAt.After(events[i-1].CreatedAt) {
			problems = append(problems, mismatch("event %s is listed after an older event", ev.ID))
		}
		rule, ok := rules[ev.RuleID]
		if !ok {
			problems = append(problems, mismatch("event %s references unknown rule %s", ev.ID, ev.RuleID))
			continue
		}
		if ev.PointValue != rule.PointValue {
			problems = append(problems, mismatch("event %s carries %d points, rule %s is worth %d",
				ev.ID, ev.PointValue, rule.ID, rule.PointValue))
		}
		if want := len(ev.Votes) < rule.VetoThreshold; ev.Approved != want {
			problems = append(problems, mismatch("event %s approved=%t with %d/%d votes",
				ev.ID, ev.Approved, len(ev.Votes), rule.VetoThreshold))
		}
		if slices.Contains(ev.Votes, ev.UserID) {
			problems = append(problems, mismatch("event %s was vetoed by its author", ev.ID))
		}
		seen := make(map[string]bool, len(ev.Votes))
		for _, v := range ev.Votes {
			if seen[v] {
				problems = append(problems, mismatch("event %s holds a duplicate vote from %s", ev.ID, v))
			}
			seen[v] = true
		}
	}
	return errors.Join(problems...)
}

// VerifyTotals recomputes every member's total from the approved events
// and compares it with the served leaderboard. Entries must be ranked by
// total, highest first.
func VerifyTotals(events []model.Event, entries []types.Entry, members []string) error {
	expected := make(map[string]int, len(members))
	for _, m := range members {
		expected[m] = 0
	}
	for _, ev := range events {
		if ev.Approved {
			expected[ev.UserID] += ev.PointValue
		}
	}

	var problems []error
	got := make(map[string]int, len(entries))
	for i, e := range entries {
		got[e.UserID] = e.TotalPoints
		if i > 0 && e.TotalPoints > entries[i-1].TotalPoints {
			problems = append(problems, mismatch("leaderboard row %d (%s) outranks row %d", i, e.UserID, i-1))
		}
	}
	for user, want := range expected {
		have, ok := got[user]
		switch {
		case !ok:
			problems = append(problems, mismatch("user %s is missing from the leaderboard", user))
		case have != want:
			problems = append(problems, mismatch("user %s has %d points, events add up to %d", user, have, want))
		}
	}
	return errors.Join(problems...)
}

// VerifyRecent checks that recent is the newest limit approved events of
// the full, newest-first listing.
func VerifyRecent(recent, events []model.Event, limit int) error {
	var want []string
	for _, ev := range events {
		if len(want) == limit {
			break
		}
		if ev.Approved {
			want = append(want, ev.ID)
		}
	}
	got := make([]string, len(recent))
	for i, ev := range recent {
		got[i] = ev.ID
	}
	if !slices.Equal(got, want) {
		return mismatch("recent events %v, want %v", got, want)
	}
	return nil
}

// VerifyFrames checks pushed notifications for one group. Frames may be
// dropped for slow subscribers, so only ordering is checked: an event's
// veto updates follow its event_added and carry a growing vote count.
func VerifyFrames(frames []Frame, groupID string) error {
	var problems []error
	votes := make(map[string]int)
	for i, f := range frames {
		if f.GroupID != groupID {
			problems = append(problems, mismatch("frame %d is for group %q", i, f.GroupID))
			continue
		}
		switch f.Type {
		case "event_added":
			ev, err := f.Event()
			if err != nil {
				problems = append(problems, mismatch("event_added frame %d: %v", i, err))
				continue
			}
			if votes[ev.ID] > 0 {
				problems = append(problems, mismatch("event %s was added after a veto update", ev.ID))
			}
		case "veto_update":
			ev, err := f.Event()
			if err != nil {
				problems = append(problems, mismatch("veto_update frame %d: %v", i, err))
				continue
			}
			if n := len(ev.Votes); n <= votes[ev.ID] {
				problems = append(problems, mismatch("veto update for %s went from %d to %d votes", ev.ID, votes[ev.ID], n))
			} else {
				votes[ev.ID] = n
			}
		case "leaderboard_update":
			if _, err := f.Leaderboard(); err != nil {
				problems = append(problems, mismatch("leaderboard_update frame %d: %v", i, err))
			}
		default:
			problems = append(problems, mismatch("unexpected frame type %q", f.Type))
		}
	}
	return errors.Join(problems...)
}
