package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"push-messenger-backend/config"
	"push-messenger-backend/internal/db"
	"push-messenger-backend/internal/model"
)

// newSQLiteStore opens a private in-memory database with a single connection.
func newSQLiteStore(t *testing.T) (Store, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, gormDB.AutoMigrate(&model.User{}, &model.Device{}, &model.Group{}, &model.Membership{}))
	return NewGormStore(gormDB), gormDB
}

func TestJoinOrCreateGroup_Idempotent(t *testing.T) {
	s, gormDB := newSQLiteStore(t)
	ctx := context.Background()

	first, err := s.JoinOrCreateGroup(ctx, "news")
	require.NoError(t, err)
	second, err := s.JoinOrCreateGroup(ctx, "news")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)

	var count int64
	gormDB.Model(&model.Group{}).Where("label = ?", "news").Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestJoinOrCreateGroup_CaseSensitive(t *testing.T) {
	s, _ := newSQLiteStore(t)
	ctx := context.Background()

	lower, err := s.JoinOrCreateGroup(ctx, "news")
	require.NoError(t, err)
	upper, err := s.JoinOrCreateGroup(ctx, "News")
	require.NoError(t, err)

	assert.NotEqual(t, lower.ID, upper.ID)
}

func TestJoinOrCreateGroup_Concurrent(t *testing.T) {
	s, gormDB := newSQLiteStore(t)
	ctx := context.Background()

	const callers = 16
	ids := make([]string, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			g, err := s.JoinOrCreateGroup(ctx, "sports")
			errs[i] = err
			if err == nil {
				ids[i] = g.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	var count int64
	gormDB.Model(&model.Group{}).Where("label = ?", "sports").Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestJoinGroups(t *testing.T) {
	s, gormDB := newSQLiteStore(t)
	ctx := context.Background()

	user, err := s.CreateUser(ctx)
	require.NoError(t, err)

	t.Run("joining twice keeps one membership per group", func(t *testing.T) {
		_, err := s.JoinGroups(ctx, user.ID, []string{"news", "sports"})
		require.NoError(t, err)
		_, err = s.JoinGroups(ctx, user.ID, []string{"news", "news"})
		require.NoError(t, err)

		var memberships int64
		gormDB.Model(&model.Membership{}).Where("user_id = ?", user.ID).Count(&memberships)
		assert.Equal(t, int64(2), memberships)

		groups, err := s.ListGroups(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"news", "sports"}, labelsOf(groups))
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := s.JoinGroups(ctx, "ghost", []string{"news"})
		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}

func TestLeaveGroups(t *testing.T) {
	s, gormDB := newSQLiteStore(t)
	ctx := context.Background()

	user, err := s.CreateUser(ctx)
	require.NoError(t, err)
	_, err = s.JoinGroups(ctx, user.ID, []string{"news", "sports"})
	require.NoError(t, err)

	require.NoError(t, s.LeaveGroups(ctx, user.ID, []string{"sports", "never-joined", "does-not-exist"}))

	groups, err := s.ListGroups(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"news"}, labelsOf(groups))

	// The group record outlives its last member.
	var count int64
	gormDB.Model(&model.Group{}).Where("label = ?", "sports").Count(&count)
	assert.Equal(t, int64(1), count)

	t.Run("leaving a group never joined is a no-op", func(t *testing.T) {
		other, err := s.CreateUser(ctx)
		require.NoError(t, err)
		assert.NoError(t, s.LeaveGroups(ctx, other.ID, []string{"news"}))

		groups, err := s.ListGroups(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"news"}, labelsOf(groups))
	})

	t.Run("unknown user", func(t *testing.T) {
		assert.ErrorIs(t, s.LeaveGroups(ctx, "ghost", []string{"news"}), ErrUserNotFound)
	})
}

func TestRegisterDevice(t *testing.T) {
	s, _ := newSQLiteStore(t)
	ctx := context.Background()

	user, err := s.CreateUser(ctx)
	require.NoError(t, err)

	device, err := s.RegisterDevice(ctx, user.ID, &model.Device{
		Platform: "web",
		Endpoint: "https://push.example.com/abc",
		P256DH:   "key",
		Auth:     "secret",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, device.ID)
	assert.Equal(t, user.ID, device.UserID)

	devices, err := s.ListDevices(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, device.ID, devices[0].ID)

	_, err = s.RegisterDevice(ctx, "ghost", &model.Device{Platform: "fcm", Token: "t"})
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = s.ListDevices(ctx, "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestResolutionQueries(t *testing.T) {
	s, _ := newSQLiteStore(t)
	ctx := context.Background()

	alice, _ := s.CreateUser(ctx)
	bob, _ := s.CreateUser(ctx)
	_, err := s.JoinGroups(ctx, alice.ID, []string{"news", "sports"})
	require.NoError(t, err)
	_, err = s.JoinGroups(ctx, bob.ID, []string{"sports"})
	require.NoError(t, err)

	d1, err := s.RegisterDevice(ctx, alice.ID, &model.Device{Platform: "fcm", Token: "a1"})
	require.NoError(t, err)
	d2, err := s.RegisterDevice(ctx, bob.ID, &model.Device{Platform: "apns", Token: "b1"})
	require.NoError(t, err)

	groups, err := s.GroupsByLabels(ctx, []string{"news", "sports", "typo"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"news", "sports"}, labelsOf(groups))

	ids := make([]string, len(groups))
	for i, g := range groups {
		ids[i] = g.ID
	}
	userIDs, err := s.UserIDsInGroups(ctx, ids)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{alice.ID, bob.ID}, userIDs)

	devices, err := s.DevicesForUsers(ctx, userIDs)
	require.NoError(t, err)
	deviceIDs := make([]string, len(devices))
	for i, d := range devices {
		deviceIDs[i] = d.ID
	}
	assert.ElementsMatch(t, []string{d1.ID, d2.ID}, deviceIDs)

	assert.NoError(t, s.Ping(ctx))
}

func TestConcurrentWrites_FileDatabase(t *testing.T) {
	gormDB, err := db.Init(&config.DatabaseConfig{
		Driver:   config.DriverSQLite,
		DSN:      filepath.Join(t.TempDir(), "push.db"),
		LogLevel: "silent",
	})
	require.NoError(t, err)
	sqlDB, _ := gormDB.DB()
	t.Cleanup(func() { sqlDB.Close() })

	s := NewGormStore(gormDB)
	ctx := context.Background()
	user, err := s.CreateUser(ctx)
	require.NoError(t, err)

	const callers = 32
	errs := make(chan error, 2*callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := s.RegisterDevice(ctx, user.ID, &model.Device{Platform: "fcm", Token: fmt.Sprintf("tok-%d", i)})
			errs <- err
		}(i)
		go func() {
			defer wg.Done()
			_, err := s.JoinGroups(ctx, user.ID, []string{"news"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	devices, err := s.ListDevices(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, devices, callers)

	var count int64
	gormDB.Model(&model.Group{}).Where("label = ?", "news").Count(&count)
	assert.Equal(t, int64(1), count)
}

func labelsOf(groups []model.Group) []string {
	labels := make([]string, len(groups))
	for i, g := range groups {
		labels[i] = g.Label
	}
	return labels
}
