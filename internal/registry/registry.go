package registry

import (
	"sort"

	"portal-consent/internal/domain"

	"go.uber.org/zap"
)

// Registry indexes the organization forest built from a flat list. It is
// session-local and read-only after Build; structural queries never fail,
// unknown ids just produce empty results (upstream data is eventually
// consistent).
type Registry struct {
	nodes  map[string]*domain.Organization
	logger *zap.Logger
}

// Build consumes a flat organization list and produces an id-indexed
// registry. Parents referenced but absent from the list are synthesized as
// placeholder nodes so no parent reference dangles. Records missing an id
// are skipped, not fatal. Runs in O(n): one pass to create nodes, one pass
// to wire parent->children, one sort per parent.
func Build(flat []domain.Organization, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		nodes:  make(map[string]*domain.Organization, len(flat)),
		logger: logger,
	}

	for i := range flat {
		org := flat[i]
		if org.ID == "" {
			logger.Warn("skipping organization without id", zap.String("name", org.Name))
			continue
		}
		org.Children = nil
		org.IsTopLevel = org.ParentID == "" && org.ID != domain.NoOrganizationID
		r.nodes[org.ID] = &org
	}

	for _, org := range r.nodes {
		if org.ParentID == "" {
			continue
		}
		parent, ok := r.nodes[org.ParentID]
		if !ok {
			// Real upstream data can reference an organization not in
			// this page of results. Synthesize a placeholder parent.
			logger.Warn("synthesizing placeholder parent organization",
				zap.String("org_id", org.ID),
				zap.String("parent_id", org.ParentID))
			parent = &domain.Organization{
				ID:         org.ParentID,
				IsTopLevel: org.ParentID != domain.NoOrganizationID,
			}
			r.nodes[parent.ID] = parent
		}
		parent.Children = append(parent.Children, org.ID)
	}

	r.warnCycles()

	for _, org := range r.nodes {
		children := org.Children
		sort.Slice(children, func(i, j int) bool {
			a, b := r.nodes[children[i]], r.nodes[children[j]]
			if a.Name == b.Name {
				return a.ID < b.ID
			}
			return a.Name < b.Name
		})
	}

	return r
}

// warnCycles surfaces parent edges that close a cycle, once per edge.
// The walks stay guarded regardless; the warning exists so bad upstream
// data is visible at build time, not just when a query happens to touch
// the cycle.
func (r *Registry) warnCycles() {
	warned := make(map[string]bool)
	for id := range r.nodes {
		path := make(map[string]bool)
		current := id
		for {
			org, ok := r.nodes[current]
			if !ok || org.ParentID == "" {
				break
			}
			if path[current] {
				if !warned[current] {
					warned[current] = true
					r.logger.Warn("organization parent link closes a cycle",
						zap.String("org_id", current),
						zap.String("parent_id", org.ParentID))
				}
				break
			}
			path[current] = true
			current = org.ParentID
		}
	}
}

// Get returns the organization for id, or nil when unknown.
func (r *Registry) Get(id string) *domain.Organization {
	return r.nodes[id]
}

// Parent returns the direct parent organization, or nil for top-level and
// unknown ids.
func (r *Registry) Parent(id string) *domain.Organization {
	org, ok := r.nodes[id]
	if !ok || org.ParentID == "" {
		return nil
	}
	return r.nodes[org.ParentID]
}

// TopLevelParent follows parent links until it reaches a top-level node or
// a node with no resolvable parent, and returns that node's id. Unknown
// ids map to themselves. The walk carries a visited set so a cyclic parent
// relation in bad upstream data terminates at the first repeated node
// instead of looping.
func (r *Registry) TopLevelParent(id string) string {
	visited := make(map[string]bool)
	current := id
	for {
		org, ok := r.nodes[current]
		if !ok || org.IsTopLevel || org.ParentID == "" {
			return current
		}
		if visited[current] {
			r.logger.Warn("cycle detected in organization parent links",
				zap.String("org_id", current))
			return current
		}
		visited[current] = true
		current = org.ParentID
	}
}

// Descendants expands each seed id breadth-first through child links and
// returns the flat "here-below" id set, seeds included. Each node is
// visited once even when reachable from several seeds; seeds appear before
// their descendants. Unknown seeds contribute just themselves.
func (r *Registry) Descendants(ids []string) []string {
	visited := make(map[string]bool)
	var out []string

	queue := make([]string, 0, len(ids))
	for _, id := range ids {
		if visited[id] {
			continue
		}
		visited[id] = true
		queue = append(queue, id)
		out = append(out, id)
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		org, ok := r.nodes[current]
		if !ok {
			continue
		}
		for _, child := range org.Children {
			if visited[child] {
				continue
			}
			visited[child] = true
			queue = append(queue, child)
			out = append(out, child)
		}
	}

	return out
}

// LeafOrgs resolves each id down to the organizations with no children
// underneath it. Ids that are themselves leaves are included directly;
// unknown ids are silently skipped; the result is deduplicated.
func (r *Registry) LeafOrgs(ids []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range ids {
		out = r.appendLeaves(id, seen, make(map[string]bool), out)
	}
	return out
}

func (r *Registry) appendLeaves(id string, seen, walking map[string]bool, out []string) []string {
	org, ok := r.nodes[id]
	if !ok || walking[id] {
		return out
	}
	walking[id] = true
	if len(org.Children) == 0 {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
		return out
	}
	for _, child := range org.Children {
		out = r.appendLeaves(child, seen, walking, out)
	}
	return out
}

// InScope reports whether candidate falls inside the here-below set of the
// given scope ids.
func (r *Registry) InScope(candidateID string, scopeIDs []string) bool {
	for _, id := range r.Descendants(scopeIDs) {
		if id == candidateID {
			return true
		}
	}
	return false
}

// TopLevel returns the top-level organizations ordered by name. The
// reserved "no organization" sentinel is excluded.
func (r *Registry) TopLevel() []*domain.Organization {
	var out []*domain.Organization
	for _, org := range r.nodes {
		if org.IsTopLevel {
			out = append(out, org)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Len returns the number of indexed organizations, placeholders included.
func (r *Registry) Len() int {
	return len(r.nodes)
}
