package repository

import (
	"context"
	"sync"
	"time"

	"portal-consent/internal/domain"

	"github.com/google/uuid"
)

// MemoryConsentsRepository backs dev mode and tests when no DB is
// available. Same supersede-in-place write semantics as the Postgres
// implementation, records keyed per subject.
type MemoryConsentsRepository struct {
	mu      sync.RWMutex
	records map[string][]*domain.ConsentRecord // subjectID -> records, oldest first
	now     func() time.Time
}

func NewMemoryConsentsRepository() *MemoryConsentsRepository {
	return &MemoryConsentsRepository{
		records: map[string][]*domain.ConsentRecord{},
		now:     time.Now,
	}
}

// SetClock injects a deterministic clock for tests.
func (r *MemoryConsentsRepository) SetClock(now func() time.Time) {
	r.now = now
}

var _ ConsentsRepository = (*MemoryConsentsRepository)(nil)

func (r *MemoryConsentsRepository) ListConsents(ctx context.Context, subjectID string, filter ConsentsFilter) ([]*domain.ConsentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.ConsentRecord
	for _, rec := range r.records[subjectID] {
		if filter.OrganizationID != "" && rec.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.ResearchStudyID != "" && rec.ResearchStudyID != filter.ResearchStudyID {
			continue
		}
		if !filter.IncludeDeleted && rec.IsDeleted() {
			continue
		}
		clone := *rec
		out = append(out, &clone)
	}
	return out, nil
}

func (r *MemoryConsentsRepository) WriteConsent(ctx context.Context, subjectID string, rec *domain.ConsentRecord) (*domain.ConsentRecord, error) {
	now := r.now()

	stored := *rec
	stored.SubjectID = subjectID
	if stored.RecordID == "" {
		stored.RecordID = uuid.NewString()
	}
	if stored.RecordedMeta.At.IsZero() {
		stored.RecordedMeta.At = now
	}
	if stored.AcceptanceDate.IsZero() {
		stored.AcceptanceDate = now
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// supersede-in-place: soft-delete the prior active record for the
	// same triple
	for _, prev := range r.records[subjectID] {
		if prev.OrganizationID != stored.OrganizationID ||
			prev.ResearchStudyID != stored.ResearchStudyID {
			continue
		}
		if prev.IsDeleted() || prev.IsExpired(now) {
			continue
		}
		prev.DeletedMeta = &domain.ActionMeta{At: now, ByActorID: stored.RecordedMeta.ByActorID}
	}
	r.records[subjectID] = append(r.records[subjectID], &stored)

	clone := stored
	return &clone, nil
}

func (r *MemoryConsentsRepository) SoftDeleteConsents(ctx context.Context, subjectID, scopeOrgID string, exclude []string, actorID string) (int, error) {
	now := r.now()
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, rec := range r.records[subjectID] {
		if rec.IsDeleted() || rec.IsExpired(now) {
			continue
		}
		if scopeOrgID != "all" && rec.OrganizationID != scopeOrgID {
			continue
		}
		if skip[rec.OrganizationID] {
			continue
		}
		rec.DeletedMeta = &domain.ActionMeta{At: now, ByActorID: actorID}
		count++
	}
	return count, nil
}

func (r *MemoryConsentsRepository) WithdrawConsent(ctx context.Context, subjectID, orgID, researchStudyID, actorID string) (*domain.ConsentRecord, error) {
	now := r.now()

	// carry the agreement forward from the superseded record when present
	agreementURL := ""
	r.mu.RLock()
	for _, prev := range r.records[subjectID] {
		if prev.OrganizationID == orgID && prev.ResearchStudyID == researchStudyID &&
			!prev.IsDeleted() && !prev.IsExpired(now) {
			agreementURL = prev.AgreementURL
		}
	}
	r.mu.RUnlock()

	return r.WriteConsent(ctx, subjectID, &domain.ConsentRecord{
		OrganizationID:  orgID,
		ResearchStudyID: researchStudyID,
		Status:          domain.StatusSuspended,
		AgreementURL:    agreementURL,
		AcceptanceDate:  now,
		// legacy history encoding for a withdrawal: reports stay on,
		// reminders stop
		StaffEditable:    true,
		IncludeInReports: true,
		SendReminders:    false,
		RecordedMeta:     domain.ActionMeta{At: now, ByActorID: actorID},
	})
}

// MemoryOrganizationsRepository serves a fixed flat organization list.
type MemoryOrganizationsRepository struct {
	mu   sync.RWMutex
	orgs []domain.Organization
}

func NewMemoryOrganizationsRepository(orgs []domain.Organization) *MemoryOrganizationsRepository {
	return &MemoryOrganizationsRepository{orgs: orgs}
}

var _ OrganizationsRepository = (*MemoryOrganizationsRepository)(nil)

func (r *MemoryOrganizationsRepository) ListOrganizations(ctx context.Context) ([]domain.Organization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Organization, len(r.orgs))
	copy(out, r.orgs)
	return out, nil
}

// Replace swaps the org list (used by dev seeding).
func (r *MemoryOrganizationsRepository) Replace(orgs []domain.Organization) {
	r.mu.Lock()
	r.orgs = orgs
	r.mu.Unlock()
}
