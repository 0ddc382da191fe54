package sponsorship

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/elimuhub/elimu/core"
	"github.com/elimuhub/elimu/core/student"
	"github.com/elimuhub/elimu/core/user"
)

var (
	// errors
	ErrNotFound               = errors.New("sponsorship not found")
	ErrInvalidStateTransition = errors.New("invalid sponsorship state transition")

	nowFunc = time.Now // mockable
)

const creditCategory = "sponsorship"

type (
	Repository interface {
		CreateSponsorship(ctx context.Context, sp Sponsorship) (Sponsorship, error)
		GetSponsorshipByID(ctx context.Context, id string) (Sponsorship, error)
		QuerySponsorships(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Sponsorship, error)
		// UpdateSponsorship persists sp only if the stored status still equals
		// `from` (guarded update, affected-row check).
		UpdateSponsorship(ctx context.Context, sp Sponsorship, from string) (Sponsorship, error)
		// ExpireOptOuts transitions every opt-out-pending row whose effective
		// date is <= now to cancelled (endDate = effective date) in a single
		// guarded statement and returns the number of rows affected. Safe to
		// run any number of times.
		ExpireOptOuts(ctx context.Context, now time.Time) (int, error)
		// QueryDueForCredit returns active sponsorships not yet credited in the
		// calendar month of `now`.
		QueryDueForCredit(ctx context.Context, now time.Time) ([]Sponsorship, error)
	}

	Service struct {
		repo     Repository
		students *student.Service
		users    *user.Service
		mail     core.EmailService
	}
)

func NewService(repo Repository, students *student.Service, users *user.Service, mailSvc core.EmailService) *Service {
	return &Service{
		repo:     repo,
		students: students,
		users:    users,
		mail:     mailSvc,
	}
}

func (svc *Service) Create(ctx context.Context, ns NewSponsorship) (Sponsorship, error) {
	if _, err := svc.students.GetByID(ctx, ns.StudentID); err != nil {
		return Sponsorship{}, err
	}
	now := nowFunc().UTC()
	sp := Sponsorship{
		DonorID:       ns.DonorID,
		StudentID:     ns.StudentID,
		MonthlyPoints: ns.MonthlyPoints,
		Status:        StatusActive,
		StartDate:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return svc.repo.CreateSponsorship(ctx, sp)
}

func (svc *Service) GetByID(ctx context.Context, id string) (Sponsorship, error) {
	return svc.repo.GetSponsorshipByID(ctx, id)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Sponsorship, error) {
	return svc.repo.QuerySponsorships(ctx, filter, ordering)
}

// RequestOptOut starts the delayed cancellation of an active sponsorship:
// the sponsorship keeps crediting until the effective date one month out, but
// the student's identity is hidden from the donor immediately.
func (svc *Service) RequestOptOut(ctx context.Context, id string, req OptOutRequest) (Sponsorship, error) {
	sp, err := svc.GetByID(ctx, id)
	if err != nil {
		return Sponsorship{}, err
	}
	if sp.Status != StatusActive {
		return Sponsorship{}, ErrInvalidStateTransition
	}

	now := nowFunc().UTC()
	sp.Status = StatusOptOutPending
	sp.StudentHidden = true
	sp.OptOutRequestedAt = now
	sp.OptOutEffectiveAt = optOutEffectiveDate(now)
	sp.OptOutReason = req.Reason
	sp.UpdatedAt = now

	sp, err = svc.repo.UpdateSponsorship(ctx, sp, StatusActive)
	if err != nil {
		return Sponsorship{}, err
	}
	svc.notifyDonor(ctx, sp, fmt.Sprintf(
		"Your opt-out request has been received. The sponsorship ends on %s; you may cancel the request before then.",
		sp.OptOutEffectiveAt.Format("2006-01-02")))
	return sp, nil
}

// CancelOptOut aborts a pending opt-out during the cooling-off period.
func (svc *Service) CancelOptOut(ctx context.Context, id string) (Sponsorship, error) {
	sp, err := svc.GetByID(ctx, id)
	if err != nil {
		return Sponsorship{}, err
	}
	if sp.Status != StatusOptOutPending {
		return Sponsorship{}, ErrInvalidStateTransition
	}

	sp.Status = StatusActive
	sp.StudentHidden = false
	sp.OptOutRequestedAt = time.Time{}
	sp.OptOutEffectiveAt = time.Time{}
	sp.OptOutReason = ""
	sp.UpdatedAt = nowFunc().UTC()

	sp, err = svc.repo.UpdateSponsorship(ctx, sp, StatusOptOutPending)
	if err != nil {
		return Sponsorship{}, err
	}
	svc.notifyDonor(ctx, sp, "Your opt-out request has been cancelled; the sponsorship remains active.")
	return sp, nil
}

// Pause suspends monthly credits without ending the sponsorship.
func (svc *Service) Pause(ctx context.Context, id string) (Sponsorship, error) {
	return svc.transition(ctx, id, StatusActive, StatusPaused)
}

// Resume reactivates a paused sponsorship.
func (svc *Service) Resume(ctx context.Context, id string) (Sponsorship, error) {
	return svc.transition(ctx, id, StatusPaused, StatusActive)
}

func (svc *Service) transition(ctx context.Context, id, from, to string) (Sponsorship, error) {
	sp, err := svc.GetByID(ctx, id)
	if err != nil {
		return Sponsorship{}, err
	}
	if sp.Status != from {
		return Sponsorship{}, ErrInvalidStateTransition
	}
	sp.Status = to
	sp.UpdatedAt = nowFunc().UTC()
	return svc.repo.UpdateSponsorship(ctx, sp, from)
}

// ProcessExpirations sweeps opt-out-pending sponsorships whose effective date
// has passed and cancels them. Idempotent: the repo statement filters on
// status and date atomically, so overlapping runs are harmless.
func (svc *Service) ProcessExpirations(ctx context.Context) (int, error) {
	return svc.repo.ExpireOptOuts(ctx, nowFunc().UTC())
}

// RunMonthlyCredits credits MonthlyPoints to every active sponsorship not yet
// credited this calendar month. Idempotent per month via LastCreditedAt.
func (svc *Service) RunMonthlyCredits(ctx context.Context) (int, error) {
	now := nowFunc().UTC()
	due, err := svc.repo.QueryDueForCredit(ctx, now)
	if err != nil {
		return 0, errors.Wrap(err, "querying sponsorships due for credit")
	}

	var credited int
	for _, sp := range due {
		if sp.creditedThisMonth(now) {
			continue
		}
		entry := student.LedgerEntry{
			Amount:      sp.MonthlyPoints,
			Category:    creditCategory,
			Description: fmt.Sprintf("monthly credit from sponsorship %s", sp.ID),
		}
		st, err := svc.students.Credit(ctx, sp.StudentID, entry)
		if err != nil {
			// skip students whose application is not approved yet
			if errors.Cause(err) == student.ErrNotApproved {
				continue
			}
			return credited, errors.Wrapf(err, "crediting student %s", sp.StudentID)
		}

		sp.LastCreditedAt = now
		sp.UpdatedAt = now
		if _, err := svc.repo.UpdateSponsorship(ctx, sp, sp.Status); err != nil {
			return credited, errors.Wrapf(err, "stamping sponsorship %s", sp.ID)
		}
		credited++

		if st.Email != "" {
			svc.mail.SendMessages(&core.EmailMessage{
				To:           []mail.Address{{Name: st.Name, Address: st.Email}},
				Subject:      "You have received sponsorship points",
				TemplateName: "monthly-credit",
				TemplateData: struct {
					StudentName string
					Amount      int
					Balance     int
				}{st.Name, sp.MonthlyPoints, st.AvailablePoints},
			})
		}
	}
	return credited, nil
}

func (svc *Service) notifyDonor(ctx context.Context, sp Sponsorship, note string) {
	donor, err := svc.users.GetByID(ctx, sp.DonorID)
	if err != nil || donor.Email == "" {
		return
	}
	svc.mail.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: donor.Name, Address: donor.Email}},
		Subject:      "Sponsorship opt-out",
		TemplateName: "sponsorship-optout",
		TemplateData: struct {
			DonorName string
			Note      string
		}{donor.Name, note},
	})
}
