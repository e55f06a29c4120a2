package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/okian/bet/internal/domain/errs"
	"github.com/okian/bet/internal/domain/model"
	"github.com/okian/bet/pkg/metrics"
)

type groupRow struct {
	Seq       int64    `gorm:"primaryKey;autoIncrement"`
	ID        string   `gorm:"uniqueIndex;size:128"`
	Name      string   `gorm:"size:256"`
	Members   []string `gorm:"serializer:json"`
	Rules     []string `gorm:"serializer:json"`
	CreatedAt time.Time
}

func (groupRow) TableName() string { return "groups" }

type eventRow struct {
	Seq        int64    `gorm:"primaryKey;autoIncrement"`
	ID         string   `gorm:"uniqueIndex;size:64"`
	GroupID    string   `gorm:"index;size:128"`
	UserID     string   `gorm:"size:128"`
	RuleID     string   `gorm:"size:128"`
	PointValue int
	Votes      []string `gorm:"serializer:json"`
	Approved   bool
	CreatedAt  time.Time
}

func (eventRow) TableName() string { return "events" }

type scoreRow struct {
	GroupID     string `gorm:"primaryKey;size:128"`
	UserID      string `gorm:"primaryKey;size:128"`
	Position    int
	TotalPoints int
}

func (scoreRow) TableName() string { return "scores" }

type ruleRow struct {
	Seq           int64  `gorm:"primaryKey;autoIncrement"`
	ID            string `gorm:"uniqueIndex;size:128"`
	Description   string
	PointValue    int
	VetoThreshold int
}

func (ruleRow) TableName() string { return "rules" }

type userRow struct {
	Seq  int64  `gorm:"primaryKey;autoIncrement"`
	ID   string `gorm:"uniqueIndex;size:128"`
	Name string `gorm:"size:256"`
}

func (userRow) TableName() string { return "users" }

// SQLStore is the sqlite-backed Store. A single connection makes sqlite the
// serialization point for transactions.
type SQLStore struct {
	db     *gorm.DB
	gauges gaugeUpdater
}

// NewSQLStore opens (or creates) the database and migrates the schema.
func NewSQLStore(ctx context.Context, opts ...Option) (*SQLStore, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	if o.sqlitePath != "" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", o.sqlitePath)
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, errs.Store("open", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errs.Store("open", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.WithContext(ctx).AutoMigrate(&groupRow{}, &eventRow{}, &scoreRow{}, &ruleRow{}, &userRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, errs.Store("migrate", err)
	}

	s := &SQLStore{db: db}
	s.gauges.start(ctx, o.metricsUpdateInterval, s.Counts)
	return s, nil
}

// Close stops background work and closes the database.
func (s *SQLStore) Close() error {
	s.gauges.stop()
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toGroup(r groupRow) model.Group {
	return model.Group{ID: r.ID, Name: r.Name, Members: r.Members, Rules: r.Rules, CreatedAt: r.CreatedAt}
}

func toEvent(r eventRow) model.Event {
	e := model.Event{
		ID:         r.ID,
		UserID:     r.UserID,
		RuleID:     r.RuleID,
		GroupID:    r.GroupID,
		PointValue: r.PointValue,
		Votes:      r.Votes,
		Approved:   r.Approved,
		CreatedAt:  r.CreatedAt,
	}
	return e.Clone()
}

func fromEvent(e model.Event) eventRow {
	return eventRow{
		ID:         e.ID,
		GroupID:    e.GroupID,
		UserID:     e.UserID,
		RuleID:     e.RuleID,
		PointValue: e.PointValue,
		Votes:      e.Clone().Votes,
		Approved:   e.Approved,
		CreatedAt:  e.CreatedAt,
	}
}

// take loads one row, mapping a missing record to notFound.
func take(db *gorm.DB, dst any, notFound error, op string, query string, args ...any) error {
	err := db.Where(query, args...).Take(dst).Error
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return notFound
	default:
		return errs.Store(op, err)
	}
}

func loadLeaderboard(db *gorm.DB, groupID string) (model.Leaderboard, error) {
	var rows []scoreRow
	if err := db.Where("group_id = ?", groupID).Order("position").Find(&rows).Error; err != nil {
		return model.Leaderboard{}, errs.Store("leaderboard", err)
	}
	lb := model.Leaderboard{GroupID: groupID, Scores: make([]model.Score, 0, len(rows))}
	for _, r := range rows {
		lb.Scores = append(lb.Scores, model.Score{UserID: r.UserID, TotalPoints: r.TotalPoints})
	}
	return lb, nil
}

func saveLeaderboard(db *gorm.DB, lb model.Leaderboard) error {
	if err := db.Where("group_id = ?", lb.GroupID).Delete(&scoreRow{}).Error; err != nil {
		return errs.Store("leaderboard", err)
	}
	if len(lb.Scores) == 0 {
		return nil
	}
	rows := make([]scoreRow, 0, len(lb.Scores))
	for i, sc := range lb.Scores {
		rows = append(rows, scoreRow{GroupID: lb.GroupID, UserID: sc.UserID, Position: i, TotalPoints: sc.TotalPoints})
	}
	return errs.Store("leaderboard", db.Create(&rows).Error)
}

// CreateGroup implements Store.CreateGroup.
func (s *SQLStore) CreateGroup(ctx context.Context, g model.Group, lb model.Leaderboard) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&groupRow{}).Where("id = ?", g.ID).Count(&n).Error; err != nil {
			return errs.Store("create_group", err)
		}
		if n > 0 {
			return errs.ErrAlreadyExists
		}
		row := groupRow{ID: g.ID, Name: g.Name, Members: g.Members, Rules: g.Rules, CreatedAt: g.CreatedAt}
		if err := tx.Create(&row).Error; err != nil {
			return errs.Store("create_group", err)
		}
		lb.GroupID = g.ID
		return saveLeaderboard(tx, lb)
	})
}

// Transact implements Store.Transact.
func (s *SQLStore) Transact(ctx context.Context, groupID string, fn func(tx Tx) error) error {
	start := time.Now()
	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row groupRow
		if err := take(tx, &row, errs.ErrGroupNotFound, "transact", "id = ?", groupID); err != nil {
			return err
		}
		lb, err := loadLeaderboard(tx, groupID)
		if err != nil {
			return err
		}

		st := newStaged(toGroup(row), lb, func(id string) (model.Event, error) {
			var er eventRow
			if err := take(tx, &er, errs.ErrEventNotFound, "transact", "id = ? AND group_id = ?", id, groupID); err != nil {
				return model.Event{}, err
			}
			return toEvent(er), nil
		})
		if fnErr = fn(st); fnErr != nil {
			return fnErr
		}

		if st.groupW {
			row.Name = st.group.Name
			row.Members = st.group.Members
			row.Rules = st.group.Rules
			if err := tx.Save(&row).Error; err != nil {
				return errs.Store("transact", err)
			}
		}
		if st.boardW {
			st.lb.GroupID = groupID
			if err := saveLeaderboard(tx, st.lb); err != nil {
				return err
			}
		}
		for _, id := range st.order {
			er := fromEvent(st.events[id])
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				UpdateAll: true,
			}).Create(&er).Error
			if err != nil {
				return errs.Store("transact", err)
			}
		}
		return nil
	})
	switch {
	case fnErr != nil:
		return fnErr
	case err == nil:
		metrics.RecordStoreTxLatency("transact", float64(time.Since(start).Microseconds())/1000)
		return nil
	case errors.Is(err, errs.ErrStore), errors.Is(err, errs.ErrNotFound):
		return err
	default:
		return errs.Store("commit", err)
	}
}

// Group implements Store.Group.
func (s *SQLStore) Group(ctx context.Context, id string) (model.Group, error) {
	var row groupRow
	if err := take(s.db.WithContext(ctx), &row, errs.ErrGroupNotFound, "group", "id = ?", id); err != nil {
		return model.Group{}, err
	}
	return toGroup(row), nil
}

// Groups implements Store.Groups.
func (s *SQLStore) Groups(ctx context.Context) ([]model.Group, error) {
	var rows []groupRow
	if err := s.db.WithContext(ctx).Order("seq").Find(&rows).Error; err != nil {
		return nil, errs.Store("groups", err)
	}
	out := make([]model.Group, 0, len(rows))
	for _, r := range rows {
		out = append(out, toGroup(r))
	}
	return out, nil
}

// Event implements Store.Event.
func (s *SQLStore) Event(ctx context.Context, id string) (model.Event, error) {
	var row eventRow
	if err := take(s.db.WithContext(ctx), &row, errs.ErrEventNotFound, "event", "id = ?", id); err != nil {
		return model.Event{}, err
	}
	return toEvent(row), nil
}

// Events implements Store.Events.
func (s *SQLStore) Events(ctx context.Context, groupID string) ([]model.Event, error) {
	if _, err := s.Group(ctx, groupID); err != nil {
		return nil, err
	}
	var rows []eventRow
	if err := s.db.WithContext(ctx).Where("group_id = ?", groupID).Order("seq").Find(&rows).Error; err != nil {
		return nil, errs.Store("events", err)
	}
	out := make([]model.Event, 0, len(rows))
	for _, r := range rows {
		out = append(out, toEvent(r))
	}
	return out, nil
}

// Leaderboard implements Store.Leaderboard.
func (s *SQLStore) Leaderboard(ctx context.Context, groupID string) (model.Leaderboard, error) {
	if _, err := s.Group(ctx, groupID); err != nil {
		return model.Leaderboard{}, err
	}
	return loadLeaderboard(s.db.WithContext(ctx), groupID)
}

// Rule implements Store.Rule.
func (s *SQLStore) Rule(ctx context.Context, id string) (model.Rule, error) {
	var row ruleRow
	if err := take(s.db.WithContext(ctx), &row, errs.ErrRuleNotFound, "rule", "id = ?", id); err != nil {
		return model.Rule{}, err
	}
	return model.Rule{ID: row.ID, Description: row.Description, PointValue: row.PointValue, VetoThreshold: row.VetoThreshold}, nil
}

// Rules implements Store.Rules.
func (s *SQLStore) Rules(ctx context.Context) ([]model.Rule, error) {
	var rows []ruleRow
	if err := s.db.WithContext(ctx).Order("seq").Find(&rows).Error; err != nil {
		return nil, errs.Store("rules", err)
	}
	out := make([]model.Rule, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Rule{ID: r.ID, Description: r.Description, PointValue: r.PointValue, VetoThreshold: r.VetoThreshold})
	}
	return out, nil
}

// PutRule implements Store.PutRule.
func (s *SQLStore) PutRule(ctx context.Context, r model.Rule) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&ruleRow{}).Where("id = ?", r.ID).Count(&n).Error; err != nil {
			return errs.Store("put_rule", err)
		}
		if n > 0 {
			return errs.ErrAlreadyExists
		}
		row := ruleRow{ID: r.ID, Description: r.Description, PointValue: r.PointValue, VetoThreshold: r.VetoThreshold}
		return errs.Store("put_rule", tx.Create(&row).Error)
	})
}

// User implements Store.User.
func (s *SQLStore) User(ctx context.Context, id string) (model.User, error) {
	var row userRow
	if err := take(s.db.WithContext(ctx), &row, errs.ErrUserNotFound, "user", "id = ?", id); err != nil {
		return model.User{}, err
	}
	return model.User{ID: row.ID, Name: row.Name}, nil
}

// Users implements Store.Users.
func (s *SQLStore) Users(ctx context.Context) ([]model.User, error) {
	var rows []userRow
	if err := s.db.WithContext(ctx).Order("seq").Find(&rows).Error; err != nil {
		return nil, errs.Store("users", err)
	}
	out := make([]model.User, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.User{ID: r.ID, Name: r.Name})
	}
	return out, nil
}

// PutUser implements Store.PutUser.
func (s *SQLStore) PutUser(ctx context.Context, u model.User) error {
	row := userRow{ID: u.ID, Name: u.Name}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name"}),
	}).Create(&row).Error
	return errs.Store("put_user", err)
}

// Counts implements Store.Counts.
func (s *SQLStore) Counts(ctx context.Context) (int, int, error) {
	var groups, events int64
	db := s.db.WithContext(ctx)
	if err := db.Model(&groupRow{}).Count(&groups).Error; err != nil {
		return 0, 0, errs.Store("counts", err)
	}
	if err := db.Model(&eventRow{}).Count(&events).Error; err != nil {
		return 0, 0, errs.Store("counts", err)
	}
	return int(groups), int(events), nil
}

var (
	_ Store = (*MemStore)(nil)
	_ Store = (*SQLStore)(nil)
)
