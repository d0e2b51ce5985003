package repository

import (
	"context"
	"database/sql"
	"fmt"

	"portal-consent/internal/domain"
)

// PostgresOrganizationsRepository reads the flat organization list from
// the organizations and org_research_protocols tables.
type PostgresOrganizationsRepository struct {
	db *sql.DB
}

func NewPostgresOrganizationsRepository(db *sql.DB) *PostgresOrganizationsRepository {
	return &PostgresOrganizationsRepository{db: db}
}

var _ OrganizationsRepository = (*PostgresOrganizationsRepository)(nil)

func (r *PostgresOrganizationsRepository) ListOrganizations(ctx context.Context) ([]domain.Organization, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			org_id,
			org_name,
			COALESCE(short_name, '') as short_name,
			COALESCE(parent_id, '') as parent_id,
			COALESCE(practice_region, '') as practice_region
		FROM organizations
		ORDER BY org_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []domain.Organization
	index := map[string]int{}
	for rows.Next() {
		var org domain.Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.ShortName, &org.ParentID, &org.PracticeRegion); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		index[org.ID] = len(orgs)
		orgs = append(orgs, org)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	protoRows, err := r.db.QueryContext(ctx, `
		SELECT org_id, research_study_id, COALESCE(protocol_name, '') as protocol_name
		FROM org_research_protocols
		ORDER BY org_id, research_study_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list research protocols: %w", err)
	}
	defer protoRows.Close()

	for protoRows.Next() {
		var orgID string
		var proto domain.ResearchProtocol
		if err := protoRows.Scan(&orgID, &proto.ResearchStudyID, &proto.Name); err != nil {
			return nil, fmt.Errorf("failed to scan research protocol: %w", err)
		}
		if i, ok := index[orgID]; ok {
			orgs[i].ResearchProtocols = append(orgs[i].ResearchProtocols, proto)
		}
	}
	return orgs, protoRows.Err()
}
