package repository

import (
	"context"
	"fmt"

	"portal-consent/internal/domain"
	"portal-consent/internal/gateway"
)

// LocalGateway adapts the repositories to the RemoteDataGateway boundary,
// so the engine runs identically against the portal backend over HTTP or
// against a local database.
type LocalGateway struct {
	consents ConsentsRepository
	orgs     OrganizationsRepository
}

func NewLocalGateway(consents ConsentsRepository, orgs OrganizationsRepository) *LocalGateway {
	return &LocalGateway{consents: consents, orgs: orgs}
}

var _ gateway.Gateway = (*LocalGateway)(nil)

func (g *LocalGateway) FetchOrganizations(ctx context.Context) ([]domain.Organization, error) {
	return g.orgs.ListOrganizations(ctx)
}

func (g *LocalGateway) FetchConsents(ctx context.Context, subjectID string) ([]domain.ConsentRecord, error) {
	records, err := g.consents.ListConsents(ctx, subjectID, ConsentsFilter{IncludeDeleted: true})
	if err != nil {
		return nil, err
	}
	out := make([]domain.ConsentRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, *rec)
	}
	return out, nil
}

func (g *LocalGateway) WriteConsent(ctx context.Context, subjectID string, rec domain.ConsentRecord) (*domain.ConsentRecord, error) {
	return g.consents.WriteConsent(ctx, subjectID, &rec)
}

func (g *LocalGateway) SoftDeleteConsents(ctx context.Context, subjectID, scopeOrgID string, exclude []string, actorID string) error {
	if scopeOrgID == "" {
		return fmt.Errorf("soft-delete scope is required")
	}
	_, err := g.consents.SoftDeleteConsents(ctx, subjectID, scopeOrgID, exclude, actorID)
	return err
}

func (g *LocalGateway) WithdrawConsent(ctx context.Context, subjectID, orgID, researchStudyID, actorID string) (*domain.ConsentRecord, error) {
	return g.consents.WithdrawConsent(ctx, subjectID, orgID, researchStudyID, actorID)
}
