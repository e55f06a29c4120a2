// Package model contains domain models passed between layers.
package model

import (
	"slices"
	"strings"
	"time"
)

// Rule is a catalog entry: what an action is worth and how many vetoes
// invalidate it. Rules are append-only once an event references them.
type Rule struct {
	ID            string `json:"id"`
	Description   string `json:"description"`
	PointValue    int    `json:"points"`
	VetoThreshold int    `json:"vetoThreshold"`
}

// Problem reports why the rule cannot enter the catalog, or "" if it can.
func (r Rule) Problem() string {
	switch {
	case strings.TrimSpace(r.ID) == "":
		return "missing rule id"
	case r.PointValue < 0:
		return "points must be >= 0"
	case r.VetoThreshold < 1:
		return "vetoThreshold must be >= 1"
	}
	return ""
}

// Event is a rule-backed point claim by a user within a group.
type Event struct {
	ID      string `json:"id"`
	UserID  string `json:"userId"`
	RuleID  string `json:"ruleId"`
	GroupID string `json:"groupId"`
	// PointValue is copied from the rule at creation and never re-read.
	PointValue int       `json:"points"`
	Votes      []string  `json:"votes"`
	Approved   bool      `json:"approved"`
	CreatedAt  time.Time `json:"createdAt"`
}

// HasVoted reports whether userID already vetoed the event.
func (e *Event) HasVoted(userID string) bool {
	return slices.Contains(e.Votes, userID)
}

// AddVote records a veto by userID. It returns false when the vote was
// already present; the vote set never holds duplicates.
func (e *Event) AddVote(userID string) bool {
	if e.HasVoted(userID) {
		return false
	}
	e.Votes = append(e.Votes, userID)
	return true
}

// Clone returns a deep copy.
func (e Event) Clone() Event {
	e.Votes = slices.Clone(e.Votes)
	if e.Votes == nil {
		e.Votes = []string{}
	}
	return e
}

// Group is a set of members competing under a set of rules.
type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Members   []string  `json:"members"`
	Rules     []string  `json:"rules"`
	CreatedAt time.Time `json:"createdAt"`
}

// HasMember reports whether userID belongs to the group.
func (g *Group) HasMember(userID string) bool {
	return slices.Contains(g.Members, userID)
}

// AddMembers unions ids into the membership, keeping first-seen order, and
// returns the ids that were new.
func (g *Group) AddMembers(ids ...string) []string {
	var added []string
	for _, id := range ids {
		if id == "" || g.HasMember(id) {
			continue
		}
		g.Members = append(g.Members, id)
		added = append(added, id)
	}
	return added
}

// Clone returns a deep copy.
func (g Group) Clone() Group {
	g.Members = slices.Clone(g.Members)
	g.Rules = slices.Clone(g.Rules)
	return g
}

// User is a directory entry used to render names.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Score is one leaderboard row.
type Score struct {
	UserID      string `json:"userId"`
	TotalPoints int    `json:"totalPoints"`
}

// Leaderboard holds a group's running totals in seeding order.
type Leaderboard struct {
	GroupID string  `json:"groupId"`
	Scores  []Score `json:"scores"`
}

// Clone returns a deep copy.
func (l Leaderboard) Clone() Leaderboard {
	l.Scores = slices.Clone(l.Scores)
	return l
}
