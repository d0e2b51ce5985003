package repository

import (
	"context"

	"portal-consent/internal/domain"
)

// ConsentsFilter narrows a consent list query.
type ConsentsFilter struct {
	OrganizationID  string
	ResearchStudyID string
	// IncludeDeleted keeps soft-deleted history rows in the result.
	IncludeDeleted bool
}

// ConsentsRepository is the persistence side of the consent engine.
// Writes supersede-in-place: creating a record for a (subject, org, study)
// triple soft-deletes the prior active record in the same transaction, so
// at most one not-deleted, not-expired row exists per triple.
type ConsentsRepository interface {
	ListConsents(ctx context.Context, subjectID string, filter ConsentsFilter) ([]*domain.ConsentRecord, error)
	WriteConsent(ctx context.Context, subjectID string, rec *domain.ConsentRecord) (*domain.ConsentRecord, error)
	// SoftDeleteConsents marks active rows in scope as deleted and
	// returns how many rows it touched. scopeOrgID "all" covers every
	// organization; exclude lists organization ids to leave untouched.
	SoftDeleteConsents(ctx context.Context, subjectID, scopeOrgID string, exclude []string, actorID string) (int, error)
	WithdrawConsent(ctx context.Context, subjectID, orgID, researchStudyID, actorID string) (*domain.ConsentRecord, error)
}

// OrganizationsRepository supplies the flat organization list the registry
// is built from.
type OrganizationsRepository interface {
	ListOrganizations(ctx context.Context) ([]domain.Organization, error)
}
