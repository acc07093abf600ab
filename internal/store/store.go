package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"push-messenger-backend/internal/model"
)

var (
	// ErrUserNotFound is returned when a referenced user id does not resolve.
	ErrUserNotFound = errors.New("user not found")
	// ErrUnavailable wraps every failure of the underlying database.
	ErrUnavailable = errors.New("store unavailable")
)

// Store defines the interface for all database operations.
type Store interface {
	CreateUser(ctx context.Context) (*model.User, error)
	GetUser(ctx context.Context, userID string) (*model.User, error)

	RegisterDevice(ctx context.Context, userID string, device *model.Device) (*model.Device, error)
	ListDevices(ctx context.Context, userID string) ([]model.Device, error)

	JoinOrCreateGroup(ctx context.Context, label string) (*model.Group, error)
	JoinGroups(ctx context.Context, userID string, labels []string) ([]model.Group, error)
	LeaveGroups(ctx context.Context, userID string, labels []string) error
	ListGroups(ctx context.Context, userID string) ([]model.Group, error)

	GroupsByLabels(ctx context.Context, labels []string) ([]model.Group, error)
	UserIDsInGroups(ctx context.Context, groupIDs []string) ([]string, error)
	DevicesForUsers(ctx context.Context, userIDs []string) ([]model.Device, error)

	Ping(ctx context.Context) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// CreateUser inserts a new user with a fresh id.
func (s *gormStore) CreateUser(ctx context.Context) (*model.User, error) {
	user := model.User{}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, unavailable("create user", err)
	}
	return &user, nil
}

// GetUser looks a user up by id.
func (s *gormStore) GetUser(ctx context.Context, userID string) (*model.User, error) {
	return findUser(s.db.WithContext(ctx), userID)
}

func findUser(tx *gorm.DB, userID string) (*model.User, error) {
	var user model.User
	if err := tx.First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, unavailable("find user", err)
	}
	return &user, nil
}

// RegisterDevice attaches a new device to an existing user.
func (s *gormStore) RegisterDevice(ctx context.Context, userID string, device *model.Device) (*model.Device, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := findUser(tx, userID); err != nil {
			return err
		}
		device.UserID = userID
		if err := tx.Create(device).Error; err != nil {
			return unavailable("create device", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		return nil, unavailable("register device", err)
	}
	return device, nil
}

// ListDevices returns the devices registered by a user, oldest first.
func (s *gormStore) ListDevices(ctx context.Context, userID string) ([]model.Device, error) {
	db := s.db.WithContext(ctx)
	if _, err := findUser(db, userID); err != nil {
		return nil, err
	}

	var devices []model.Device
	if err := db.Where("user_id = ?", userID).Order("created_at").Find(&devices).Error; err != nil {
		return nil, unavailable("list devices", err)
	}
	return devices, nil
}

// JoinOrCreateGroup returns the group with the given label, creating it on
// first reference. A concurrent insert of the same label is absorbed by the
// unique index: the conflicting insert does nothing and the winner's row is
// re-read.
func (s *gormStore) JoinOrCreateGroup(ctx context.Context, label string) (*model.Group, error) {
	db := s.db.WithContext(ctx)

	group, err := findGroup(db, label)
	if err == nil {
		return group, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, unavailable("find group", err)
	}

	candidate := model.Group{Label: label}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "label"}},
		DoNothing: true,
	}).Create(&candidate).Error; err != nil {
		return nil, unavailable("create group", err)
	}

	group, err = findGroup(db, label)
	if err != nil {
		return nil, unavailable("re-fetch group", err)
	}
	return group, nil
}

func findGroup(db *gorm.DB, label string) (*model.Group, error) {
	var group model.Group
	if err := db.First(&group, "label = ?", label).Error; err != nil {
		return nil, err
	}
	return &group, nil
}

// JoinGroups adds the user to every labelled group, creating missing groups.
// Joining a group twice is a no-op.
func (s *gormStore) JoinGroups(ctx context.Context, userID string, labels []string) ([]model.Group, error) {
	db := s.db.WithContext(ctx)
	if _, err := findUser(db, userID); err != nil {
		return nil, err
	}

	labels = uniqueNonEmpty(labels)
	groups := make([]model.Group, 0, len(labels))
	for _, label := range labels {
		group, err := s.JoinOrCreateGroup(ctx, label)
		if err != nil {
			return nil, err
		}
		groups = append(groups, *group)
	}
	if len(groups) == 0 {
		return groups, nil
	}

	memberships := make([]model.Membership, 0, len(groups))
	for _, g := range groups {
		memberships = append(memberships, model.Membership{UserID: userID, GroupID: g.ID})
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&memberships).Error; err != nil {
		return nil, unavailable("create memberships", err)
	}
	return groups, nil
}

// LeaveGroups removes the user from every labelled group. Group records are
// kept; unknown labels and groups the user never joined are ignored.
func (s *gormStore) LeaveGroups(ctx context.Context, userID string, labels []string) error {
	db := s.db.WithContext(ctx)
	if _, err := findUser(db, userID); err != nil {
		return err
	}

	groups, err := s.GroupsByLabels(ctx, labels)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		return nil
	}

	if err := db.Where("user_id = ? AND group_id IN ?", userID, groupIDs(groups)).
		Delete(&model.Membership{}).Error; err != nil {
		return unavailable("delete memberships", err)
	}
	return nil
}

// ListGroups returns the groups a user belongs to, ordered by label.
func (s *gormStore) ListGroups(ctx context.Context, userID string) ([]model.Group, error) {
	db := s.db.WithContext(ctx)
	if _, err := findUser(db, userID); err != nil {
		return nil, err
	}

	var ids []string
	if err := db.Model(&model.Membership{}).Where("user_id = ?", userID).Pluck("group_id", &ids).Error; err != nil {
		return nil, unavailable("list memberships", err)
	}
	if len(ids) == 0 {
		return []model.Group{}, nil
	}

	var groups []model.Group
	if err := db.Where("id IN ?", ids).Order("label").Find(&groups).Error; err != nil {
		return nil, unavailable("list groups", err)
	}
	return groups, nil
}

// GroupsByLabels resolves labels to groups. Unknown labels are dropped.
func (s *gormStore) GroupsByLabels(ctx context.Context, labels []string) ([]model.Group, error) {
	labels = uniqueNonEmpty(labels)
	if len(labels) == 0 {
		return []model.Group{}, nil
	}

	var groups []model.Group
	if err := s.db.WithContext(ctx).Where("label IN ?", labels).Find(&groups).Error; err != nil {
		return nil, unavailable("find groups", err)
	}
	return groups, nil
}

// UserIDsInGroups returns the distinct ids of users belonging to at least one of the groups.
func (s *gormStore) UserIDsInGroups(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return []string{}, nil
	}

	var userIDs []string
	if err := s.db.WithContext(ctx).Model(&model.Membership{}).
		Distinct().
		Where("group_id IN ?", ids).
		Pluck("user_id", &userIDs).Error; err != nil {
		return nil, unavailable("find group members", err)
	}
	return userIDs, nil
}

// DevicesForUsers returns every device owned by any of the users.
func (s *gormStore) DevicesForUsers(ctx context.Context, userIDs []string) ([]model.Device, error) {
	if len(userIDs) == 0 {
		return []model.Device{}, nil
	}

	var devices []model.Device
	if err := s.db.WithContext(ctx).Where("user_id IN ?", userIDs).Find(&devices).Error; err != nil {
		return nil, unavailable("find devices", err)
	}
	return devices, nil
}

// Ping checks that the database answers.
func (s *gormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return unavailable("ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func groupIDs(groups []model.Group) []string {
	ids := make([]string, len(groups))
	for i, g := range groups {
		ids[i] = g.ID
	}
	return ids
}

func uniqueNonEmpty(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
