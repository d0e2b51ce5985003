package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"portal-consent/internal/consent"
	"portal-consent/internal/domain"
	"portal-consent/internal/export"
	"portal-consent/internal/gateway"

	"go.uber.org/zap"
)

// ConsentHandler exposes the consent engine for one-subject-at-a-time
// portal requests.
type ConsentHandler struct {
	engine *consent.Engine
	logger *zap.Logger
}

func NewConsentHandler(engine *consent.Engine, logger *zap.Logger) *ConsentHandler {
	return &ConsentHandler{engine: engine, logger: logger}
}

// ConsentView is one record plus its derived display status.
type ConsentView struct {
	domain.ConsentRecord
	Category string `json:"category"`
	IsActive bool   `json:"is_active"`
}

func (h *ConsentHandler) view(s *consent.Session, rec domain.ConsentRecord) ConsentView {
	d := s.Store.Derive(rec)
	return ConsentView{ConsentRecord: rec, Category: string(d.Category), IsActive: d.IsActive}
}

// GET /consent/api/v1/subjects/{id}/consents
// ?active=true narrows to the active set.
func (h *ConsentHandler) ListConsents(w http.ResponseWriter, r *http.Request, subjectID string) {
	s := h.engine.Subject(subjectID)

	var (
		records []domain.ConsentRecord
		err     error
	)
	if r.URL.Query().Get("active") == "true" {
		records, err = s.Store.ActiveRecords(r.Context())
	} else {
		records, err = s.Store.Records(r.Context())
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	views := make([]ConsentView, 0, len(records))
	for _, rec := range records {
		views = append(views, h.view(s, rec))
	}
	writeJSON(w, http.StatusOK, Ok(views))
}

// GET /consent/api/v1/subjects/{id}/consents/history
func (h *ConsentHandler) GetHistory(w http.ResponseWriter, r *http.Request, subjectID string) {
	s := h.engine.Subject(subjectID)
	records, err := s.Store.History(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	views := make([]ConsentView, 0, len(records))
	for _, rec := range records {
		views = append(views, h.view(s, rec))
	}
	writeJSON(w, http.StatusOK, Ok(views))
}

// GET /consent/api/v1/subjects/{id}/consents/export
// Full history as an xlsx attachment for staff.
func (h *ConsentHandler) ExportHistory(w http.ResponseWriter, r *http.Request, subjectID string) {
	s := h.engine.Subject(subjectID)
	records, err := s.Store.Records(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	cfg := h.engine.StoreConfig()
	payload, err := export.ConsentHistoryWorkbook(records, h.engine.Registry(), export.Options{
		Now:                  cfg.Now(),
		StockAgreementMarker: cfg.StockAgreementMarker,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="consent-history-%s.xlsx"`, subjectID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

type grantBody struct {
	OrganizationID   string `json:"org_id"`
	ResearchStudyID  string `json:"research_study_id"`
	AgreementURL     string `json:"agreement_url"`
	StaffEditable    *bool  `json:"staff_editable"`
	IncludeInReports *bool  `json:"include_in_reports"`
	SendReminders    *bool  `json:"send_reminders"`
	AcceptanceDate   string `json:"acceptance_date"` // RFC3339, optional
}

// POST /consent/api/v1/subjects/{id}/consents
func (h *ConsentHandler) Grant(w http.ResponseWriter, r *http.Request, subjectID string) {
	var body grantBody
	if err := readBodyJSON(r, 1<<20, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	if body.OrganizationID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("org_id is required"))
		return
	}

	// portal defaults: new consent opts in to everything
	req := consent.GrantRequest{
		OrganizationID:   body.OrganizationID,
		ResearchStudyID:  body.ResearchStudyID,
		AgreementURL:     body.AgreementURL,
		StaffEditable:    boolOr(body.StaffEditable, true),
		IncludeInReports: boolOr(body.IncludeInReports, true),
		SendReminders:    boolOr(body.SendReminders, true),
	}
	if body.AcceptanceDate != "" {
		ts, err := time.Parse(time.RFC3339, body.AcceptanceDate)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("invalid acceptance_date"))
			return
		}
		req.AcceptanceDate = ts
	}

	s := h.engine.Subject(subjectID)
	rec, err := s.Manager.Grant(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(h.view(s, *rec)))
}

type withdrawBody struct {
	OrganizationID  string `json:"org_id"`
	ResearchStudyID string `json:"research_study_id"`
}

// POST /consent/api/v1/subjects/{id}/consents/withdraw
func (h *ConsentHandler) Withdraw(w http.ResponseWriter, r *http.Request, subjectID string) {
	var body withdrawBody
	if err := readBodyJSON(r, 1<<20, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	if body.OrganizationID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("org_id is required"))
		return
	}

	s := h.engine.Subject(subjectID)
	rec, err := s.Manager.Withdraw(r.Context(), consent.WithdrawRequest{
		OrganizationID:  body.OrganizationID,
		ResearchStudyID: body.ResearchStudyID,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(h.view(s, *rec)))
}

type purgeBody struct {
	Scope         string   `json:"scope"` // org id, or "all"
	ExcludeOrgIDs []string `json:"exclude_org_ids"`
}

// POST /consent/api/v1/subjects/{id}/consents/purge
func (h *ConsentHandler) Purge(w http.ResponseWriter, r *http.Request, subjectID string) {
	var body purgeBody
	if err := readBodyJSON(r, 1<<20, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	s := h.engine.Subject(subjectID)
	if err := s.Manager.Purge(r.Context(), consent.PurgeRequest{
		Scope:         body.Scope,
		ExcludeOrgIDs: body.ExcludeOrgIDs,
	}); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(struct{}{}))
}

type reconcileBody struct {
	SelectedOrgIDs  []string `json:"selected_org_ids"`
	ScopeToTopLevel bool     `json:"scope_to_top_level"`
}

// POST /consent/api/v1/subjects/{id}/consents/reconcile
// Aligns consent records with a new organization selection.
func (h *ConsentHandler) Reconcile(w http.ResponseWriter, r *http.Request, subjectID string) {
	var body reconcileBody
	if err := readBodyJSON(r, 1<<20, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	s := h.engine.Subject(subjectID)
	result, err := s.Manager.ReconcileSelection(r.Context(), consent.ReconcileRequest{
		SelectedOrgIDs:  body.SelectedOrgIDs,
		ScopeToTopLevel: body.ScopeToTopLevel,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(result))
}

func (h *ConsentHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, consent.ErrOperationInFlight):
		writeJSON(w, http.StatusConflict, Conflict(err.Error()))
	case errors.Is(err, consent.ErrSuperseded):
		writeJSON(w, http.StatusConflict, Conflict(err.Error()))
	case errors.Is(err, gateway.ErrUnavailable):
		h.logger.Error("portal backend unavailable", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, Fail("portal backend unavailable"))
	default:
		h.logger.Error("consent operation failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail(err.Error()))
	}
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
