package dummydb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/elimuhub/elimu/core"
	"github.com/elimuhub/elimu/core/sponsorship"
)

type sponsorshipRepository struct {
	db *sponsorshipTable
}

var _ sponsorship.Repository = (*sponsorshipRepository)(nil) // interface compliance check

func NewSponsorshipRepository(db *DB) sponsorship.Repository {
	return &sponsorshipRepository{db: db.sponsorship}
}

func (repo *sponsorshipRepository) query() []sponsorship.Sponsorship {
	sponsorships := make([]sponsorship.Sponsorship, 0, len(repo.db.table))
	for _, sp := range repo.db.table {
		sponsorships = append(sponsorships, *sp)
	}
	sort.Slice(sponsorships, func(i, j int) bool {
		return sponsorships[i].CreatedAt.Before(sponsorships[j].CreatedAt)
	})
	return sponsorships
}

func (repo *sponsorshipRepository) CreateSponsorship(ctx context.Context, sp sponsorship.Sponsorship) (sponsorship.Sponsorship, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	sp.ID = uuid.New().String()
	repo.db.table[sp.ID] = &sp
	return sp, nil
}

func (repo *sponsorshipRepository) GetSponsorshipByID(ctx context.Context, id string) (sponsorship.Sponsorship, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if sp, ok := repo.db.table[id]; ok {
		return *sp, nil
	}
	return sponsorship.Sponsorship{}, sponsorship.ErrNotFound
}

func (repo *sponsorshipRepository) QuerySponsorships(ctx context.Context, filter *sponsorship.QueryFilter, ordering []core.DBOrdering) ([]sponsorship.Sponsorship, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	sponsorships := repo.query()
	if filter == nil {
		return sponsorships, nil
	}

	if filter.DonorID != "" {
		var filtered []sponsorship.Sponsorship
		for _, sp := range sponsorships {
			if sp.DonorID == filter.DonorID {
				filtered = append(filtered, sp)
			}
		}
		sponsorships = filtered
	}
	if sponsorships != nil && filter.StudentID != "" {
		var filtered []sponsorship.Sponsorship
		for _, sp := range sponsorships {
			if sp.StudentID == filter.StudentID {
				filtered = append(filtered, sp)
			}
		}
		sponsorships = filtered
	}
	if sponsorships != nil && filter.Status != "" {
		var filtered []sponsorship.Sponsorship
		for _, sp := range sponsorships {
			if sp.Status == filter.Status {
				filtered = append(filtered, sp)
			}
		}
		sponsorships = filtered
	}
	return sponsorships, nil
}

func (repo *sponsorshipRepository) UpdateSponsorship(ctx context.Context, sp sponsorship.Sponsorship, from string) (sponsorship.Sponsorship, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.table[sp.ID]
	if !ok {
		return sponsorship.Sponsorship{}, sponsorship.ErrNotFound
	}
	if orig.Status != from {
		return sponsorship.Sponsorship{}, sponsorship.ErrInvalidStateTransition
	}
	repo.db.table[sp.ID] = &sp
	return sp, nil
}

func (repo *sponsorshipRepository) ExpireOptOuts(ctx context.Context, now time.Time) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	nowUTC := now.UTC()
	var cnt int
	for _, sp := range repo.db.table {
		if sp.Status != sponsorship.StatusOptOutPending {
			continue
		}
		if sp.OptOutEffectiveAt.IsZero() || sp.OptOutEffectiveAt.After(nowUTC) {
			continue
		}
		sp.Status = sponsorship.StatusCancelled
		sp.EndDate = sp.OptOutEffectiveAt
		sp.UpdatedAt = nowUTC
		cnt++
	}
	return cnt, nil
}

func (repo *sponsorshipRepository) QueryDueForCredit(ctx context.Context, now time.Time) ([]sponsorship.Sponsorship, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	y, m, _ := now.UTC().Date()
	var due []sponsorship.Sponsorship
	for _, sp := range repo.query() {
		if sp.Status != sponsorship.StatusActive && sp.Status != sponsorship.StatusOptOutPending {
			continue
		}
		if !sp.LastCreditedAt.IsZero() {
			ly, lm, _ := sp.LastCreditedAt.UTC().Date()
			if ly == y && lm == m {
				continue
			}
		}
		due = append(due, sp)
	}
	return due, nil
}
