package gateway

import (
	"context"
	"errors"

	"portal-consent/internal/domain"
)

// ScopeAll selects every organization in a soft-delete call.
const ScopeAll = "all"

// ErrUnavailable wraps transport failures after the retry budget is
// exhausted. Callers treat it as terminal for that call; the engine never
// retries business decisions itself.
var ErrUnavailable = errors.New("remote data gateway unavailable")

// Gateway is the engine's only external boundary: a retrying
// request/response collaborator for organization and consent data. The
// transport behind it (portal backend HTTP, direct DB) is interchangeable.
type Gateway interface {
	FetchOrganizations(ctx context.Context) ([]domain.Organization, error)
	FetchConsents(ctx context.Context, subjectID string) ([]domain.ConsentRecord, error)

	// WriteConsent creates a record for (subject, org, study). The backing
	// store supersedes-in-place: any previously active record for the same
	// triple is soft-deleted as part of the write.
	WriteConsent(ctx context.Context, subjectID string, rec domain.ConsentRecord) (*domain.ConsentRecord, error)

	// SoftDeleteConsents soft-deletes all active records for the subject
	// in the organization scope (ScopeAll for every organization), except
	// records whose organization id is in exclude.
	SoftDeleteConsents(ctx context.Context, subjectID, scopeOrgID string, exclude []string, actorID string) error

	// WithdrawConsent records a suspension for the triple, soft-deleting
	// the prior active record as a side effect of the write.
	WithdrawConsent(ctx context.Context, subjectID, orgID, researchStudyID, actorID string) (*domain.ConsentRecord, error)
}
