package service

import (
	"context"
	"fmt"

	"github.com/okian/bet/internal/domain/model"
	"github.com/okian/bet/pkg/logger"
)

// Seed is data loaded on start. Loading is idempotent: existing rules and
// groups are kept as they are, users are upserted.
type Seed struct {
	Users  []model.User
	Rules  []model.Rule
	Groups []SeedGroup
}

// SeedGroup is a group created with a fixed id.
type SeedGroup struct {
	ID      string
	Name    string
	Members []string
	Rules   []string
}

// DemoSeed returns the demo directory, catalog and group.
func DemoSeed() Seed {
	return Seed{
		Users: []model.User{
			{ID: "1", Name: "Alex"},
			{ID: "2", Name: "Jordan"},
			{ID: "3", Name: "Sam"},
			{ID: "4", Name: "Taylor"},
			{ID: "5", Name: "Casey"},
		},
		Rules: []model.Rule{
			{ID: "1", Description: "Run 1 mile", PointValue: 10, VetoThreshold: 2},
			{ID: "2", Description: "Do 50 push-ups", PointValue: 15, VetoThreshold: 1},
			{ID: "3", Description: "Meditate for 10 minutes", PointValue: 5, VetoThreshold: 3},
		},
		Groups: []SeedGroup{
			{ID: "1", Name: "Fitness Challenge", Members: []string{"1", "2", "3"}, Rules: []string{"1", "2", "3"}},
		},
	}
}

// Merge returns s followed by other.
func (s Seed) Merge(other Seed) Seed {
	return Seed{
		Users:  append(append([]model.User{}, s.Users...), other.Users...),
		Rules:  append(append([]model.Rule{}, s.Rules...), other.Rules...),
		Groups: append(append([]SeedGroup{}, s.Groups...), other.Groups...),
	}
}

func (s *Service) applySeed(ctx context.Context, seed Seed) error {
	for _, u := range seed.Users {
		if err := s.store.PutUser(ctx, u); err != nil {
			return fmt.Errorf("user %s: %w", u.ID, err)
		}
	}
	for _, r := range seed.Rules {
		if err := s.catalog.Ensure(ctx, r); err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
	}
	for _, g := range seed.Groups {
		if _, err := s.engine.EnsureGroup(ctx, g.ID, g.Name, g.Members, g.Rules); err != nil {
			return fmt.Errorf("group %s: %w", g.ID, err)
		}
	}
	if len(seed.Users)+len(seed.Rules)+len(seed.Groups) > 0 {
		s.logger.Info(ctx, "seed applied",
			logger.Int("users", len(seed.Users)),
			logger.Int("rules", len(seed.Rules)),
			logger.Int("groups", len(seed.Groups)),
		)
	}
	return nil
}
