package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Router uses the standard library http.ServeMux; the surface is small
// enough that a third-party router buys nothing.
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterOrganizationRoutes registers the org-picker and scope-query
// endpoints.
func (r *Router) RegisterOrganizationRoutes(h *OrganizationHandler) {
	r.Handle("/consent/api/v1/organizations", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.GetTree(w, req)
	})

	r.Handle("/consent/api/v1/organizations/top-level", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.GetTopLevel(w, req)
	})

	// organizations/{id}/{descendants|leaves|top-level-parent}
	r.Handle("/consent/api/v1/organizations/", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		id, op, ok := splitOrgPath(req.URL.Path)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.GetScope(w, req, id, op)
	})
}

// RegisterConsentRoutes registers the per-subject consent endpoints.
func (r *Router) RegisterConsentRoutes(h *ConsentHandler) {
	r.Handle("/consent/api/v1/subjects/", func(w http.ResponseWriter, req *http.Request) {
		subjectID, rest, ok := splitSubjectPath(req.URL.Path)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		switch {
		case rest == "consents" && req.Method == http.MethodGet:
			h.ListConsents(w, req, subjectID)
		case rest == "consents" && req.Method == http.MethodPost:
			h.Grant(w, req, subjectID)
		case rest == "consents/history" && req.Method == http.MethodGet:
			h.GetHistory(w, req, subjectID)
		case rest == "consents/export" && req.Method == http.MethodGet:
			h.ExportHistory(w, req, subjectID)
		case rest == "consents/withdraw" && req.Method == http.MethodPost:
			h.Withdraw(w, req, subjectID)
		case rest == "consents/purge" && req.Method == http.MethodPost:
			h.Purge(w, req, subjectID)
		case rest == "consents/reconcile" && req.Method == http.MethodPost:
			h.Reconcile(w, req, subjectID)
		case strings.HasPrefix(rest, "consents"):
			w.WriteHeader(http.StatusMethodNotAllowed)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

// RegisterHealthRoute answers load-balancer probes.
func (r *Router) RegisterHealthRoute() {
	r.Handle("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, Ok("ok"))
	})
}

// splitSubjectPath picks {id} and the trailing path out of
// /consent/api/v1/subjects/{id}/consents...
func splitSubjectPath(path string) (subjectID, rest string, ok bool) {
	trimmed := strings.TrimPrefix(path, "/consent/api/v1/subjects/")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
