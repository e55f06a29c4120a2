package scenario

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/okian/bet/internal/domain/model"
)

const (
	minPoints        = 1
	maxPoints        = 25
	maxVetoThreshold = 3

	// duplicateVoteChance is the share of vetoed events that also get a
	// repeated vote from an earlier voter.
	duplicateVoteChance = 0.2

	// selfVetoChance is the share of vetoed events whose author also tries
	// to veto, which the service must reject.
	selfVetoChance = 0.05
)

// Submission is one POST /events/submit. Retries share the Key of an
// earlier submission.
type Submission struct {
	Key    string
	UserID string
	RuleID string
	Retry  bool
}

// Veto is one POST /events/veto. SelfVeto marks votes the service must
// reject; Duplicate marks repeats of an earlier vote on the same event.
type Veto struct {
	EventID   string
	UserID    string
	SelfVeto  bool
	Duplicate bool
}

// Generator produces fixture data. Output is reproducible for a given seed.
type Generator struct {
	faker *gofakeit.Faker
	runID string
}

// NewGenerator creates a generator. A zero seed uses the clock.
func NewGenerator(seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	faker := gofakeit.New(uint64(seed))
	return &Generator{faker: faker, runID: faker.UUID()[:8]}
}

// RunID prefixes every generated id so runs never collide.
func (g *Generator) RunID() string { return g.runID }

// Users generates n group members.
func (g *Generator) Users(n int) []model.User {
	users := make([]model.User, n)
	for i := range users {
		users[i] = model.User{
			ID:   fmt.Sprintf("%s-u%03d", g.runID, i+1),
			Name: g.faker.Name(),
		}
	}
	return users
}

// Rules generates n catalog rules.
func (g *Generator) Rules(n int) []model.Rule {
	rules := make([]model.Rule, n)
	for i := range rules {
		rules[i] = model.Rule{
			ID:            fmt.Sprintf("%s-r%03d", g.runID, i+1),
			Description:   g.faker.Sentence(g.faker.Number(2, 5)),
			PointValue:    g.faker.Number(minPoints, maxPoints),
			VetoThreshold: g.faker.Number(1, maxVetoThreshold),
		}
	}
	return rules
}

// GroupName generates a display name for the scenario group.
func (g *Generator) GroupName() string {
	return g.faker.Sentence(g.faker.Number(2, 4))
}

// Submissions plans n distinct submissions from random members under
// random rules. A retryRatio share is sent a second time with the same
// key. The plan is shuffled so retries may race their originals.
func (g *Generator) Submissions(users []model.User, rules []model.Rule, n int, retryRatio float64) []Submission {
	plan := make([]Submission, 0, n)
	for i := 0; i < n; i++ {
		s := Submission{
			Key:    fmt.Sprintf("%s-k%05d", g.runID, i+1),
			UserID: users[g.faker.Number(0, len(users)-1)].ID,
			RuleID: rules[g.faker.Number(0, len(rules)-1)].ID,
		}
		plan = append(plan, s)
		if g.faker.Float64Range(0, 1) < retryRatio {
			s.Retry = true
			plan = append(plan, s)
		}
	}
	g.faker.ShuffleAnySlice(plan)
	return plan
}

// Vetoes plans votes against a ratio share of events. Voters are drawn
// from the members other than the author; some events also get a
// repeated vote or a rejected self-veto.
func (g *Generator) Vetoes(events []model.Event, members []string, ratio float64) []Veto {
	var plan []Veto
	for _, ev := range events {
		if g.faker.Float64Range(0, 1) >= ratio {
			continue
		}
		others := make([]string, 0, len(members))
		for _, m := range members {
			if m != ev.UserID {
				others = append(others, m)
			}
		}
		if len(others) == 0 {
			continue
		}
		g.faker.ShuffleAnySlice(others)
		voters := others[:g.faker.Number(1, len(others))]
		for _, v := range voters {
			plan = append(plan, Veto{EventID: ev.ID, UserID: v})
		}
		if g.faker.Float64Range(0, 1) < duplicateVoteChance {
			plan = append(plan, Veto{EventID: ev.ID, UserID: voters[0], Duplicate: true})
		}
		if g.faker.Float64Range(0, 1) < selfVetoChance {
			plan = append(plan, Veto{EventID: ev.ID, UserID: ev.UserID, SelfVeto: true})
		}
	}
	return plan
}
