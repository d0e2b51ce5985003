package consent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"portal-consent/internal/domain"
	"portal-consent/internal/gateway"
	"portal-consent/internal/registry"

	"go.uber.org/zap"
)

var (
	// ErrOperationInFlight means a mutation for the same (org, study) key
	// has been issued and has not completed. The manager rejects the
	// second call outright; queueing would let two writes race at the
	// gateway and leave two active records.
	ErrOperationInFlight = errors.New("consent operation already in flight for this organization")

	// ErrSuperseded means a newer reconciliation was started while this
	// one had calls in flight; its remaining side effects were dropped.
	ErrSuperseded = errors.New("reconciliation superseded by a newer selection")
)

// ChangeEvent describes a completed consent lifecycle transition.
type ChangeEvent struct {
	SubjectID       string    `json:"subject_id"`
	OrganizationID  string    `json:"org_id"`
	ResearchStudyID string    `json:"research_study_id,omitempty"`
	Action          string    `json:"action"` // granted | withdrawn | purged
	At              time.Time `json:"at"`
}

// EventSink receives lifecycle events after the backing store confirmed
// the write. Implementations must not block; failures are the sink's
// problem, never the caller's.
type EventSink interface {
	ConsentChanged(ctx context.Context, ev ChangeEvent)
}

// ManagerConfig carries the write-side knobs.
type ManagerConfig struct {
	// ActorID stamps provenance on writes issued by this manager.
	ActorID string
	// DefaultAgreementURL is used by reconciliation when no
	// organization-specific agreement is configured.
	DefaultAgreementURL string
	// AgreementURLs maps organization id to its configured agreement.
	AgreementURLs map[string]string
}

type consentKey struct {
	orgID   string
	studyID string
}

// Manager orchestrates consent state transitions against the gateway:
// grant, withdraw, purge, and replace-on-reselection. It serializes
// mutations per (org, study) key and re-reads derived state through the
// store before reporting success.
type Manager struct {
	store  *Store
	gw     gateway.Gateway
	reg    *registry.Registry
	cfg    ManagerConfig
	events EventSink
	logger *zap.Logger

	mu            sync.Mutex
	pending       map[consentKey]struct{}
	pendingPurges map[string]struct{} // org id, or gateway.ScopeAll
	generation    uint64
}

// NewManager creates a lifecycle manager bound to one subject's store.
func NewManager(st *Store, gw gateway.Gateway, reg *registry.Registry, cfg ManagerConfig, events EventSink, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:         st,
		gw:            gw,
		reg:           reg,
		cfg:           cfg,
		events:        events,
		logger:        logger,
		pending:       make(map[consentKey]struct{}),
		pendingPurges: make(map[string]struct{}),
	}
}

// ---- per-key serialization ----

func (m *Manager) acquireKey(k consentKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.pending[k]; busy {
		return ErrOperationInFlight
	}
	if _, busy := m.pendingPurges[gateway.ScopeAll]; busy {
		return ErrOperationInFlight
	}
	if _, busy := m.pendingPurges[k.orgID]; busy {
		return ErrOperationInFlight
	}
	m.pending[k] = struct{}{}
	return nil
}

func (m *Manager) releaseKey(k consentKey) {
	m.mu.Lock()
	delete(m.pending, k)
	m.mu.Unlock()
}

func (m *Manager) acquirePurge(scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.pendingPurges[scope]; busy {
		return ErrOperationInFlight
	}
	if _, busy := m.pendingPurges[gateway.ScopeAll]; busy {
		return ErrOperationInFlight
	}
	if scope == gateway.ScopeAll && len(m.pending) > 0 {
		return ErrOperationInFlight
	}
	for k := range m.pending {
		if k.orgID == scope {
			return ErrOperationInFlight
		}
	}
	m.pendingPurges[scope] = struct{}{}
	return nil
}

func (m *Manager) releasePurge(scope string) {
	m.mu.Lock()
	delete(m.pendingPurges, scope)
	m.mu.Unlock()
}

func (m *Manager) nextGeneration() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	return m.generation
}

func (m *Manager) currentGeneration() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// ---- operations ----

// GrantRequest asks for an active consented record for one organization
// and study.
type GrantRequest struct {
	OrganizationID  string
	ResearchStudyID string
	AgreementURL    string
	StaffEditable   bool
	IncludeInReports bool
	SendReminders   bool
	AcceptanceDate  time.Time
	// ForceOverride skips the idempotent short-circuit; used by test and
	// backfill contexts only.
	ForceOverride bool
}

// Grant records consent. When an active record for the same key already
// carries the same effective flags the call is a no-op: grant twice in a
// row issues exactly one gateway write.
func (m *Manager) Grant(ctx context.Context, req GrantRequest) (*domain.ConsentRecord, error) {
	key := consentKey{orgID: req.OrganizationID, studyID: m.store.studyOrMain(req.ResearchStudyID)}
	if err := m.acquireKey(key); err != nil {
		return nil, err
	}
	defer m.releaseKey(key)

	if !req.ForceOverride {
		existing, err := m.store.ActiveRecord(ctx, req.OrganizationID, req.ResearchStudyID)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.Status == domain.StatusConsented &&
			existing.SameFlags(req.StaffEditable, req.IncludeInReports, req.SendReminders) {
			m.logger.Debug("grant short-circuited, matching active consent exists",
				zap.String("subject_id", m.store.SubjectID()),
				zap.String("org_id", req.OrganizationID))
			return existing, nil
		}
	}

	now := m.store.cfg.Now()
	acceptance := req.AcceptanceDate
	if acceptance.IsZero() {
		acceptance = now
	}
	rec := domain.ConsentRecord{
		SubjectID:        m.store.SubjectID(),
		OrganizationID:   req.OrganizationID,
		ResearchStudyID:  key.studyID,
		Status:           domain.StatusConsented,
		AgreementURL:     req.AgreementURL,
		AcceptanceDate:   acceptance,
		StaffEditable:    req.StaffEditable,
		IncludeInReports: req.IncludeInReports,
		SendReminders:    req.SendReminders,
		RecordedMeta:     domain.ActionMeta{At: now, ByActorID: m.cfg.ActorID},
	}

	written, err := m.gw.WriteConsent(ctx, m.store.SubjectID(), rec)
	if err != nil {
		return nil, fmt.Errorf("grant consent for org %s: %w", req.OrganizationID, err)
	}

	if err := m.reread(ctx); err != nil {
		return nil, err
	}
	m.emit(ctx, req.OrganizationID, key.studyID, "granted")
	return written, nil
}

// WithdrawRequest suspends consent for one organization and study.
type WithdrawRequest struct {
	OrganizationID  string
	ResearchStudyID string
}

// Withdraw records a suspension. When the active record for the key is
// already suspended the call is a no-op. The prior active record is
// soft-deleted by the gateway's supersede-in-place write semantics; the
// manager never issues a separate delete.
func (m *Manager) Withdraw(ctx context.Context, req WithdrawRequest) (*domain.ConsentRecord, error) {
	key := consentKey{orgID: req.OrganizationID, studyID: m.store.studyOrMain(req.ResearchStudyID)}
	if err := m.acquireKey(key); err != nil {
		return nil, err
	}
	defer m.releaseKey(key)

	existing, err := m.store.ActiveRecord(ctx, req.OrganizationID, req.ResearchStudyID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status == domain.StatusSuspended {
		m.logger.Debug("withdraw short-circuited, consent already suspended",
			zap.String("subject_id", m.store.SubjectID()),
			zap.String("org_id", req.OrganizationID))
		return existing, nil
	}

	written, err := m.gw.WithdrawConsent(ctx, m.store.SubjectID(), req.OrganizationID, key.studyID, m.cfg.ActorID)
	if err != nil {
		return nil, fmt.Errorf("withdraw consent for org %s: %w", req.OrganizationID, err)
	}

	if err := m.reread(ctx); err != nil {
		return nil, err
	}
	m.emit(ctx, req.OrganizationID, key.studyID, "withdrawn")
	return written, nil
}

// PurgeRequest soft-deletes active records in an organization scope.
type PurgeRequest struct {
	// Scope is one organization id, or gateway.ScopeAll for every
	// organization.
	Scope string
	// ExcludeOrgIDs are never purged. Reconciliation always passes the
	// currently selected organizations and their top-level parents here
	// so just-granted consent cannot be purged by the same pass.
	ExcludeOrgIDs []string
}

// Purge soft-deletes all active records matching the scope, except the
// excluded organizations. Purged records stay as history.
func (m *Manager) Purge(ctx context.Context, req PurgeRequest) error {
	scope := req.Scope
	if scope == "" {
		scope = gateway.ScopeAll
	}
	if err := m.acquirePurge(scope); err != nil {
		return err
	}
	defer m.releasePurge(scope)

	if err := m.gw.SoftDeleteConsents(ctx, m.store.SubjectID(), scope, req.ExcludeOrgIDs, m.cfg.ActorID); err != nil {
		return fmt.Errorf("purge consents (scope %s): %w", scope, err)
	}

	if err := m.reread(ctx); err != nil {
		return err
	}
	m.emit(ctx, scope, "", "purged")
	return nil
}

// ReconcileRequest aligns consent records with the subject's currently
// selected organizations after a selection change.
type ReconcileRequest struct {
	SelectedOrgIDs []string
	// ScopeToTopLevel marks consent as recorded at the top-level
	// ancestor: the ancestor of every selected organization joins the
	// purge exclusion set.
	ScopeToTopLevel bool
}

// ReconcileResult reports which organizations got a new grant and which
// scopes were purged.
type ReconcileResult struct {
	Granted []string `json:"granted"`
	Purged  []string `json:"purged"`
}

// ReconcileSelection is the cascading-cleanup algorithm: newly selected
// organizations without qualifying consent are granted the configured
// default agreement; organizations whose whole selected subtree became
// empty are purged. Purges are issued only after every grant has been
// dispatched, and a currently selected organization (or its top-level
// ancestor) is never purged within the same pass.
//
// A caller may start a new reconciliation before a prior one's calls
// resolve; the superseded pass stops applying side effects and returns
// ErrSuperseded.
func (m *Manager) ReconcileSelection(ctx context.Context, req ReconcileRequest) (*ReconcileResult, error) {
	gen := m.nextGeneration()

	if err := m.store.Refresh(ctx); err != nil {
		return nil, err
	}

	// The exclusion set carries the selected organizations, plus their
	// top-level parents when consent is scoped to the top level, so that
	// just-granted consent is never purged by this same pass.
	exclude := make([]string, 0, len(req.SelectedOrgIDs)*2)
	excluded := make(map[string]bool)
	addExclude := func(id string) {
		if id != "" && !excluded[id] {
			excluded[id] = true
			exclude = append(exclude, id)
		}
	}
	for _, id := range req.SelectedOrgIDs {
		addExclude(id)
		if req.ScopeToTopLevel && m.reg != nil {
			addExclude(m.reg.TopLevelParent(id))
		}
	}

	result := &ReconcileResult{}
	var errs []error

	// Phase 1: grants for newly selected organizations. The qualifying
	// check goes through the store, which already considers consent
	// recorded against the top-level ancestor.
	granted := make(map[string]bool)
	for _, orgID := range req.SelectedOrgIDs {
		if orgID == domain.NoOrganizationID {
			continue
		}
		target := orgID
		if granted[target] {
			continue
		}
		granted[target] = true

		existing, err := m.store.ActiveRecord(ctx, target, "")
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if existing != nil && existing.Status == domain.StatusConsented {
			continue
		}

		if _, err := m.Grant(ctx, GrantRequest{
			OrganizationID:   target,
			AgreementURL:     m.agreementFor(target),
			StaffEditable:    true,
			IncludeInReports: true,
			SendReminders:    true,
		}); err != nil {
			errs = append(errs, fmt.Errorf("reconcile grant org %s: %w", target, err))
			continue
		}
		result.Granted = append(result.Granted, target)

		if m.currentGeneration() != gen {
			return nil, ErrSuperseded
		}
	}

	// Phase 2: purge deselected organizations whose selected subtree is
	// now empty. Issued strictly after the grants so a grant failure is
	// never masked by a purge removing evidence of the previous state.
	active, err := m.store.ActiveRecords(ctx)
	if err != nil {
		errs = append(errs, err)
		return result, errors.Join(errs...)
	}
	purged := make(map[string]bool)
	for _, rec := range active {
		orgID := rec.OrganizationID
		if excluded[orgID] || purged[orgID] {
			continue
		}
		if m.subtreeSelected(orgID, req.SelectedOrgIDs) {
			continue
		}
		purged[orgID] = true

		if err := m.Purge(ctx, PurgeRequest{Scope: orgID, ExcludeOrgIDs: exclude}); err != nil {
			errs = append(errs, fmt.Errorf("reconcile purge org %s: %w", orgID, err))
			continue
		}
		result.Purged = append(result.Purged, orgID)

		if m.currentGeneration() != gen {
			return nil, ErrSuperseded
		}
	}

	return result, errors.Join(errs...)
}

// subtreeSelected reports whether any currently selected organization
// falls inside orgID's here-below set.
func (m *Manager) subtreeSelected(orgID string, selected []string) bool {
	if m.reg == nil {
		return false
	}
	below := m.reg.Descendants([]string{orgID})
	for _, sel := range selected {
		for _, id := range below {
			if id == sel {
				return true
			}
		}
	}
	return false
}

func (m *Manager) agreementFor(orgID string) string {
	if url, ok := m.cfg.AgreementURLs[orgID]; ok && url != "" {
		return url
	}
	return m.cfg.DefaultAgreementURL
}

// reread refreshes derived state after a confirmed write. Success is only
// reported once the re-read succeeds; the manager never assumes a write
// landed.
func (m *Manager) reread(ctx context.Context) error {
	m.store.Invalidate(ctx)
	if err := m.store.Refresh(ctx); err != nil {
		return fmt.Errorf("consent written but state re-read failed: %w", err)
	}
	return nil
}

func (m *Manager) emit(ctx context.Context, orgID, studyID, action string) {
	if m.events == nil {
		return
	}
	m.events.ConsentChanged(ctx, ChangeEvent{
		SubjectID:       m.store.SubjectID(),
		OrganizationID:  orgID,
		ResearchStudyID: studyID,
		Action:          action,
		At:              m.store.cfg.Now(),
	})
}
