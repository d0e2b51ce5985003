package domain

// NoOrganizationID is the reserved sentinel meaning "patient declines
// affiliation". It is never top-level and never appears in scope queries.
const NoOrganizationID = "0"

// ResearchProtocol links an organization to a research study it
// participates in (corresponds to the org_research_protocols table).
type ResearchProtocol struct {
	ResearchStudyID string `json:"research_study_id" db:"research_study_id"`
	Name            string `json:"name,omitempty" db:"protocol_name"`
}

// Organization is a care-providing entity (corresponds to the
// organizations table). ParentID empty means top-level, except for the
// reserved NoOrganizationID sentinel.
type Organization struct {
	ID        string `json:"org_id" db:"org_id"`
	Name      string `json:"name" db:"org_name"`
	ShortName string `json:"short_name,omitempty" db:"short_name"`
	ParentID  string `json:"parent_id,omitempty" db:"parent_id"`

	// PracticeRegion is a jurisdiction code (e.g. a US state) used only
	// for grouping during selection.
	PracticeRegion string `json:"practice_region,omitempty" db:"practice_region"`

	ResearchProtocols []ResearchProtocol `json:"research_protocols,omitempty" db:"-"`

	// Children holds direct child ids ordered by child name. Derived by
	// the registry, never authoritative input.
	Children []string `json:"children,omitempty" db:"-"`

	// IsTopLevel is derived: no parent and not the sentinel.
	IsTopLevel bool `json:"is_top_level" db:"-"`
}

// Participates reports whether the organization is enrolled in the given
// research study.
func (o *Organization) Participates(researchStudyID string) bool {
	for _, p := range o.ResearchProtocols {
		if p.ResearchStudyID == researchStudyID {
			return true
		}
	}
	return false
}

// DisplayName prefers the short alias when one is configured.
func (o *Organization) DisplayName() string {
	if o.ShortName != "" {
		return o.ShortName
	}
	return o.Name
}
