package user_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elimuhub/elimu/core"
	"github.com/elimuhub/elimu/core/user"
	emailsvc "github.com/elimuhub/elimu/services/email"
	dummydb "github.com/elimuhub/elimu/storage/database/dummy"
)

func setup(t *testing.T) (*user.Service, user.Repository) {
	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("setup() failed: %v", err)
	}
	conf := &core.Config{AppName: "Elimu", DefaultFromEmail: "noreply@test.cd"}
	repo := dummydb.NewUserRepository(db)
	return user.NewService(repo, emailsvc.NewConsoleServiceMock(conf), conf), repo
}

func Test_Service_Create(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	usr, err := svc.Create(ctx, user.NewUser{
		Name:            "Awa K",
		Username:        "awa001",
		Email:           "awa@test.cd",
		Password:        "LocalHer0!",
		PasswordConfirm: "LocalHer0!",
		Roles:           []string{user.RoleDonor},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, usr.ID)
	assert.True(t, *usr.IsActive)
	assert.True(t, usr.IsDonor())
	assert.NoError(t, usr.CheckPassword("LocalHer0!"))
	assert.Error(t, usr.CheckPassword("nope"))
}

func Test_Service_uniqueness(t *testing.T) {
	svc, repo := setup(t)
	ctx := context.Background()

	usr, err := svc.Create(ctx, user.NewUser{
		Name: "First", Username: "unique1", Email: "unique1@test.cd",
		Password: "LocalHer0!", PasswordConfirm: "LocalHer0!",
	})
	require.NoError(t, err)

	err = repo.CheckUsernameUniqueness(ctx, "unique1", "other@test.cd")
	assert.Equal(t, user.ErrUserExists, errors.Cause(err))
	err = repo.CheckUsernameUniqueness(ctx, "other", "unique1@test.cd")
	assert.Equal(t, user.ErrUserExists, errors.Cause(err))

	// the user itself is excluded when updating
	err = repo.CheckUsernameUniqueness(ctx, "unique1", "unique1@test.cd", usr)
	assert.NoError(t, err)

	err = repo.CheckUsernameUniqueness(ctx, "other", "other@test.cd")
	assert.NoError(t, err)
}

func Test_Service_getters(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	usr, err := svc.Create(ctx, user.NewUser{
		Name: "Getter", Username: "getter1", Email: "getter1@test.cd",
		Password: "LocalHer0!", PasswordConfirm: "LocalHer0!",
	})
	require.NoError(t, err)

	got, err := svc.GetByUsername(ctx, "Getter1") // case-insensitive
	require.NoError(t, err)
	assert.Equal(t, usr.ID, got.ID)

	got, err = svc.GetByEmail(ctx, "getter1@test.cd")
	require.NoError(t, err)
	assert.Equal(t, usr.ID, got.ID)

	got, err = svc.GetByUsernameOrEmail(ctx, "getter1")
	require.NoError(t, err)
	assert.Equal(t, usr.ID, got.ID)
	got, err = svc.GetByUsernameOrEmail(ctx, "getter1@test.cd")
	require.NoError(t, err)
	assert.Equal(t, usr.ID, got.ID)

	_, err = svc.GetByUsername(ctx, "missing")
	assert.Equal(t, user.ErrNotFound, errors.Cause(err))
}

func Test_Service_Update(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	usr, err := svc.Create(ctx, user.NewUser{
		Name: "Before", Username: "update1", Email: "update1@test.cd",
		Password: "LocalHer0!", PasswordConfirm: "LocalHer0!",
	})
	require.NoError(t, err)

	off := false
	got, err := svc.Update(ctx, usr.ID, user.UpdateUser{
		Name:     "After",
		Username: "update1",
		Email:    "update1@test.cd",
		IsActive: &off,
		Roles:    user.AdminRoles,
		Password: "NewPassw0rd!", PasswordConfirm: "NewPassw0rd!",
	})
	require.NoError(t, err)
	assert.Equal(t, "After", got.Name)
	assert.False(t, *got.IsActive)
	assert.True(t, got.IsAdmin())
	assert.NoError(t, got.CheckPassword("NewPassw0rd!"))
}

func Test_Service_Delete(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	usr, err := svc.Create(ctx, user.NewUser{
		Name: "Doomed", Username: "doomed1", Email: "doomed1@test.cd",
		Password: "LocalHer0!", PasswordConfirm: "LocalHer0!",
	})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, usr.ID))
	_, err = svc.GetByID(ctx, usr.ID)
	assert.Equal(t, user.ErrNotFound, errors.Cause(err))
}

func Test_MaxRolePriority(t *testing.T) {
	assert.Equal(t, 0, user.MaxRolePriority(nil))
	assert.Equal(t, 1, user.MaxRolePriority([]string{user.RoleStudent}))
	assert.Equal(t, 12, user.MaxRolePriority([]string{user.RoleStudent, user.RoleVendor}))
	assert.Equal(t, 30, user.MaxRolePriority(user.AllRoles))
}
