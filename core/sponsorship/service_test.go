package sponsorship_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elimuhub/elimu/core"
	"github.com/elimuhub/elimu/core/sponsorship"
	"github.com/elimuhub/elimu/core/student"
	"github.com/elimuhub/elimu/core/user"
	emailsvc "github.com/elimuhub/elimu/services/email"
	dummydb "github.com/elimuhub/elimu/storage/database/dummy"
)

type testEnv struct {
	sponsorships *sponsorship.Service
	students     *student.Service
	stdRepo      student.Repository
	usrRepo      user.Repository
}

func setup(t *testing.T) testEnv {
	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("setup() failed: %v", err)
	}
	conf := &core.Config{AppName: "Elimu", DefaultFromEmail: "noreply@test.cd"}
	mailSvc := emailsvc.NewConsoleServiceMock(conf)
	stdRepo := dummydb.NewStudentRepository(db)
	stdSvc := student.NewService(stdRepo)
	usrRepo := dummydb.NewUserRepository(db)
	usrSvc := user.NewService(usrRepo, mailSvc, conf)
	spoSvc := sponsorship.NewService(dummydb.NewSponsorshipRepository(db), stdSvc, usrSvc, mailSvc)
	return testEnv{sponsorships: spoSvc, students: stdSvc, stdRepo: stdRepo, usrRepo: usrRepo}
}

func createStudent(t *testing.T, env testEnv, name, status string) student.Student {
	now := time.Now().UTC()
	st, err := env.stdRepo.CreateStudent(context.Background(), student.Student{
		Name:           name,
		Email:          name + "@test.cd",
		EducationLevel: student.LevelPrimary,
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	require.NoError(t, err)
	return st
}

func createDonor(t *testing.T, env testEnv, name string) user.User {
	now := time.Now().UTC()
	active := true
	usr, err := env.usrRepo.CreateUser(context.Background(), user.User{
		Name:      name,
		Username:  name,
		Email:     name + "@test.cd",
		IsActive:  &active,
		Roles:     []string{user.RoleDonor},
		CreatedAt: now,
		UpdatedAt: now,
	})
	require.NoError(t, err)
	return usr
}

func createSponsorship(t *testing.T, env testEnv, donorID, studentID string, points int) sponsorship.Sponsorship {
	sp, err := env.sponsorships.Create(context.Background(), sponsorship.NewSponsorship{
		DonorID:       donorID,
		StudentID:     studentID,
		MonthlyPoints: points,
	})
	require.NoError(t, err)
	return sp
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func Test_Service_Create(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	donor := createDonor(t, env, "donor1")
	st := createStudent(t, env, "awa", student.StatusApproved)

	sp := createSponsorship(t, env, donor.ID, st.ID, 500)
	assert.Equal(t, sponsorship.StatusActive, sp.Status)
	assert.Equal(t, 500, sp.MonthlyPoints)
	assert.False(t, sp.StartDate.IsZero())
	assert.False(t, sp.StudentHidden)

	_, err := env.sponsorships.Create(ctx, sponsorship.NewSponsorship{
		DonorID: donor.ID, StudentID: "nope", MonthlyPoints: 500,
	})
	assert.Equal(t, student.ErrNotFound, errors.Cause(err))
}

func Test_Service_optOut(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	donor := createDonor(t, env, "donor2")
	st := createStudent(t, env, "ben", student.StatusApproved)

	requested := time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC)
	restore := sponsorship.SetNowFunc(fixedClock(requested))
	defer restore()

	sp := createSponsorship(t, env, donor.ID, st.ID, 300)

	sp, err := env.sponsorships.RequestOptOut(ctx, sp.ID, sponsorship.OptOutRequest{Reason: "relocating"})
	require.NoError(t, err)
	assert.Equal(t, sponsorship.StatusOptOutPending, sp.Status)
	assert.True(t, sp.StudentHidden) // hidden immediately, not at the effective date
	assert.Equal(t, requested, sp.OptOutRequestedAt)
	assert.Equal(t, time.Date(2024, time.April, 15, 10, 0, 0, 0, time.UTC), sp.OptOutEffectiveAt)

	// no double opt-out
	_, err = env.sponsorships.RequestOptOut(ctx, sp.ID, sponsorship.OptOutRequest{Reason: "again"})
	assert.Equal(t, sponsorship.ErrInvalidStateTransition, errors.Cause(err))

	t.Run("cancel during cooling-off", func(t *testing.T) {
		sp, err := env.sponsorships.CancelOptOut(ctx, sp.ID)
		require.NoError(t, err)
		assert.Equal(t, sponsorship.StatusActive, sp.Status)
		assert.False(t, sp.StudentHidden)
		assert.True(t, sp.OptOutRequestedAt.IsZero())
		assert.True(t, sp.OptOutEffectiveAt.IsZero())
		assert.Empty(t, sp.OptOutReason)

		_, err = env.sponsorships.CancelOptOut(ctx, sp.ID)
		assert.Equal(t, sponsorship.ErrInvalidStateTransition, errors.Cause(err))
	})
}

func Test_Service_ProcessExpirations(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	donor := createDonor(t, env, "donor3")
	st := createStudent(t, env, "cleo", student.StatusApproved)

	requested := time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC)
	restore := sponsorship.SetNowFunc(fixedClock(requested))
	defer restore()

	sp := createSponsorship(t, env, donor.ID, st.ID, 300)
	sp, err := env.sponsorships.RequestOptOut(ctx, sp.ID, sponsorship.OptOutRequest{Reason: "moving on"})
	require.NoError(t, err)

	// before the effective date: nothing to expire
	n, err := env.sponsorships.ProcessExpirations(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// day after the effective date
	sponsorship.SetNowFunc(fixedClock(time.Date(2024, time.April, 16, 0, 0, 0, 0, time.UTC)))
	n, err = env.sponsorships.ProcessExpirations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := env.sponsorships.GetByID(ctx, sp.ID)
	require.NoError(t, err)
	assert.Equal(t, sponsorship.StatusCancelled, got.Status)
	assert.Equal(t, sp.OptOutEffectiveAt, got.EndDate)

	// idempotent
	n, err = env.sponsorships.ProcessExpirations(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func Test_Service_RunMonthlyCredits(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	donor := createDonor(t, env, "donor4")
	st := createStudent(t, env, "didi", student.StatusApproved)
	pendingSt := createStudent(t, env, "eli", student.StatusPending)

	march := time.Date(2024, time.March, 1, 8, 0, 0, 0, time.UTC)
	restore := sponsorship.SetNowFunc(fixedClock(march))
	defer restore()

	sp := createSponsorship(t, env, donor.ID, st.ID, 500)
	createSponsorship(t, env, donor.ID, pendingSt.ID, 200)

	n, err := env.sponsorships.RunMonthlyCredits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n) // the unapproved student is skipped

	got, err := env.students.GetByID(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, 500, got.AvailablePoints)

	// idempotent within a calendar month
	n, err = env.sponsorships.RunMonthlyCredits(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// next month credits again
	sponsorship.SetNowFunc(fixedClock(march.AddDate(0, 1, 0)))
	n, err = env.sponsorships.RunMonthlyCredits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, err = env.students.GetByID(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, 1000, got.AvailablePoints)

	t.Run("opt-out-pending keeps crediting until effective", func(t *testing.T) {
		may := time.Date(2024, time.May, 2, 8, 0, 0, 0, time.UTC)
		sponsorship.SetNowFunc(fixedClock(may))
		_, err := env.sponsorships.RequestOptOut(ctx, sp.ID, sponsorship.OptOutRequest{Reason: "done"})
		require.NoError(t, err)

		n, err := env.sponsorships.RunMonthlyCredits(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		// once expired, no further credits
		sponsorship.SetNowFunc(fixedClock(may.AddDate(0, 1, 1)))
		_, err = env.sponsorships.ProcessExpirations(ctx)
		require.NoError(t, err)
		n, err = env.sponsorships.RunMonthlyCredits(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("paused sponsorships are not credited", func(t *testing.T) {
		st2 := createStudent(t, env, "fifi", student.StatusApproved)
		sp2 := createSponsorship(t, env, donor.ID, st2.ID, 100)
		_, err := env.sponsorships.Pause(ctx, sp2.ID)
		require.NoError(t, err)

		sponsorship.SetNowFunc(fixedClock(time.Date(2024, time.August, 1, 8, 0, 0, 0, time.UTC)))
		n, err := env.sponsorships.RunMonthlyCredits(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		_, err = env.sponsorships.Resume(ctx, sp2.ID)
		require.NoError(t, err)
		n, err = env.sponsorships.RunMonthlyCredits(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func Test_Service_pauseResume(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	donor := createDonor(t, env, "donor5")
	st := createStudent(t, env, "gigi", student.StatusApproved)
	sp := createSponsorship(t, env, donor.ID, st.ID, 250)

	sp, err := env.sponsorships.Pause(ctx, sp.ID)
	require.NoError(t, err)
	assert.Equal(t, sponsorship.StatusPaused, sp.Status)

	_, err = env.sponsorships.Pause(ctx, sp.ID)
	assert.Equal(t, sponsorship.ErrInvalidStateTransition, errors.Cause(err))

	sp, err = env.sponsorships.Resume(ctx, sp.ID)
	require.NoError(t, err)
	assert.Equal(t, sponsorship.StatusActive, sp.Status)

	_, err = env.sponsorships.Resume(ctx, sp.ID)
	assert.Equal(t, sponsorship.ErrInvalidStateTransition, errors.Cause(err))
}
