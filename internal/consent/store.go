package consent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"portal-consent/internal/domain"
	"portal-consent/internal/gateway"
	"portal-consent/internal/registry"
	"portal-consent/internal/store"

	"go.uber.org/zap"
)

// StoreConfig carries the consent knobs shared by store and manager.
type StoreConfig struct {
	// MainStudyID is the primary research study id, applied when a record
	// or request carries no study id.
	MainStudyID string
	// StockAgreementMarker identifies the stock consent agreement URL for
	// the default-consented category.
	StockAgreementMarker string
	// CacheTTL bounds how long fetched consents are served from the
	// session cache before a refetch.
	CacheTTL time.Duration
	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func (c *StoreConfig) normalize() {
	if c.MainStudyID == "" {
		c.MainStudyID = "0"
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Store holds one subject's consent records fetched through the gateway
// and derives their display status. One Store instance per subject view;
// single-owner, so the mutex only guards against the portal's interleaved
// handler goroutines, not true engine parallelism.
type Store struct {
	subjectID string
	gw        gateway.Gateway
	reg       *registry.Registry
	cache     store.KV
	cfg       StoreConfig
	logger    *zap.Logger

	mu      sync.RWMutex
	records []domain.ConsentRecord
	loaded  bool
}

// NewStore creates a consent store for one subject. The registry is used
// only to resolve the top-level organization when consent was recorded
// against an ancestor of the selected organization.
func NewStore(subjectID string, gw gateway.Gateway, reg *registry.Registry, cache store.KV, cfg StoreConfig, logger *zap.Logger) *Store {
	cfg.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		subjectID: subjectID,
		gw:        gw,
		reg:       reg,
		cache:     cache,
		cfg:       cfg,
		logger:    logger,
	}
}

func (s *Store) cacheKey() string {
	return "consent:" + s.subjectID
}

// Refresh refetches the subject's records through the gateway and writes
// them through to the session cache.
func (s *Store) Refresh(ctx context.Context) error {
	records, err := s.gw.FetchConsents(ctx, s.subjectID)
	if err != nil {
		return fmt.Errorf("refresh consents: %w", err)
	}

	s.mu.Lock()
	s.records = records
	s.loaded = true
	s.mu.Unlock()

	if s.cache != nil {
		if payload, err := json.Marshal(records); err == nil {
			if err := s.cache.Set(ctx, s.cacheKey(), string(payload), s.cfg.CacheTTL); err != nil {
				s.logger.Warn("failed to cache consents", zap.Error(err))
			}
		}
	}
	return nil
}

// Invalidate drops both the in-memory copy and the cache entry. Every
// lifecycle write calls this before re-reading.
func (s *Store) Invalidate(ctx context.Context) {
	s.mu.Lock()
	s.loaded = false
	s.records = nil
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.Delete(ctx, s.cacheKey()); err != nil {
			s.logger.Warn("failed to invalidate consent cache", zap.Error(err))
		}
	}
}

// load makes sure records are present, serving from the cache when it
// still holds a fresh entry.
func (s *Store) load(ctx context.Context) error {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return nil
	}

	if s.cache != nil {
		if payload, err := s.cache.Get(ctx, s.cacheKey()); err == nil {
			var records []domain.ConsentRecord
			if err := json.Unmarshal([]byte(payload), &records); err == nil {
				s.mu.Lock()
				s.records = records
				s.loaded = true
				s.mu.Unlock()
				return nil
			}
			// corrupt entry: drop it and fall through to the gateway
			_ = s.cache.Delete(ctx, s.cacheKey())
		}
	}

	return s.Refresh(ctx)
}

// Records returns a copy of every record, history included.
func (s *Store) Records(ctx context.Context) ([]domain.ConsentRecord, error) {
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ConsentRecord, len(s.records))
	copy(out, s.records)
	return out, nil
}

// studyOrMain defaults an empty study id to the primary study.
func (s *Store) studyOrMain(researchStudyID string) string {
	if researchStudyID == "" {
		return s.cfg.MainStudyID
	}
	return researchStudyID
}

// ActiveRecord returns the single active (not deleted, not expired)
// record for (org, study), or nil when none exists. When the literal
// organization has no record the top-level ancestor is checked, because
// consent may have been recorded against an ancestor rather than the
// selected organization itself.
func (s *Store) ActiveRecord(ctx context.Context, orgID, researchStudyID string) (*domain.ConsentRecord, error) {
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	studyID := s.studyOrMain(researchStudyID)

	if rec := s.activeFor(orgID, studyID); rec != nil {
		return rec, nil
	}
	if s.reg != nil {
		if top := s.reg.TopLevelParent(orgID); top != orgID {
			return s.activeFor(top, studyID), nil
		}
	}
	return nil, nil
}

func (s *Store) activeFor(orgID, studyID string) *domain.ConsentRecord {
	now := s.cfg.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.records {
		rec := s.records[i]
		if rec.OrganizationID != orgID {
			continue
		}
		if s.studyOrMain(rec.ResearchStudyID) != studyID {
			continue
		}
		if rec.IsDeleted() || rec.IsExpired(now) {
			continue
		}
		out := rec
		return &out
	}
	return nil
}

// ActiveRecords returns every active record across organizations and
// studies.
func (s *Store) ActiveRecords(ctx context.Context) ([]domain.ConsentRecord, error) {
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	now := s.cfg.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ConsentRecord
	for _, rec := range s.records {
		if rec.IsDeleted() || rec.IsExpired(now) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// History returns soft-deleted and expired records.
func (s *Store) History(ctx context.Context) ([]domain.ConsentRecord, error) {
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	now := s.cfg.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ConsentRecord
	for _, rec := range s.records {
		if rec.IsDeleted() || rec.IsExpired(now) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Derive applies the status derivation with the store's clock and stock
// agreement marker.
func (s *Store) Derive(rec domain.ConsentRecord) Derivation {
	return DeriveStatus(rec, s.cfg.Now(), s.cfg.StockAgreementMarker)
}

// SubjectID returns the subject this store is scoped to.
func (s *Store) SubjectID() string {
	return s.subjectID
}
