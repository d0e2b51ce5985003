package httpapi

import (
	"net/http"
	"strings"

	"portal-consent/internal/domain"
	"portal-consent/internal/registry"

	"go.uber.org/zap"
)

// OrganizationHandler serves the organization forest to the portal's
// org-picker and scope queries.
type OrganizationHandler struct {
	reg    *registry.Registry
	logger *zap.Logger
}

func NewOrganizationHandler(reg *registry.Registry, logger *zap.Logger) *OrganizationHandler {
	return &OrganizationHandler{reg: reg, logger: logger}
}

// OrgNode is one node of the rendered tree.
type OrgNode struct {
	domain.Organization
	ChildNodes []OrgNode `json:"child_nodes,omitempty"`
}

// GET /consent/api/v1/organizations
// Full forest, top-level roots with nested children.
func (h *OrganizationHandler) GetTree(w http.ResponseWriter, r *http.Request) {
	roots := h.reg.TopLevel()
	nodes := make([]OrgNode, 0, len(roots))
	for _, root := range roots {
		nodes = append(nodes, h.buildNode(root, map[string]bool{}))
	}
	writeJSON(w, http.StatusOK, Ok(nodes))
}

func (h *OrganizationHandler) buildNode(org *domain.Organization, walking map[string]bool) OrgNode {
	node := OrgNode{Organization: *org}
	if walking[org.ID] {
		return node
	}
	walking[org.ID] = true
	for _, childID := range org.Children {
		if child := h.reg.Get(childID); child != nil {
			node.ChildNodes = append(node.ChildNodes, h.buildNode(child, walking))
		}
	}
	delete(walking, org.ID)
	return node
}

// GET /consent/api/v1/organizations/top-level
func (h *OrganizationHandler) GetTopLevel(w http.ResponseWriter, r *http.Request) {
	roots := h.reg.TopLevel()
	out := make([]domain.Organization, 0, len(roots))
	for _, root := range roots {
		out = append(out, *root)
	}
	writeJSON(w, http.StatusOK, Ok(out))
}

// OrgScopeResult is the descendants / leaves response.
type OrgScopeResult struct {
	OrganizationID string   `json:"org_id"`
	IDs            []string `json:"ids"`
}

// GET /consent/api/v1/organizations/{id}/descendants
// GET /consent/api/v1/organizations/{id}/leaves
// GET /consent/api/v1/organizations/{id}/top-level-parent
// Unknown ids answer with empty sets, mirroring the registry.
func (h *OrganizationHandler) GetScope(w http.ResponseWriter, r *http.Request, id, op string) {
	switch op {
	case "descendants":
		writeJSON(w, http.StatusOK, Ok(OrgScopeResult{OrganizationID: id, IDs: h.reg.Descendants([]string{id})}))
	case "leaves":
		writeJSON(w, http.StatusOK, Ok(OrgScopeResult{OrganizationID: id, IDs: h.reg.LeafOrgs([]string{id})}))
	case "top-level-parent":
		writeJSON(w, http.StatusOK, Ok(OrgScopeResult{OrganizationID: id, IDs: []string{h.reg.TopLevelParent(id)}}))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// splitOrgPath picks {id} and the trailing op out of
// /consent/api/v1/organizations/{id}/{op}.
func splitOrgPath(path string) (id, op string, ok bool) {
	rest := strings.TrimPrefix(path, "/consent/api/v1/organizations/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
