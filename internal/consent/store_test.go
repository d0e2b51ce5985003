package consent

import (
	"context"
	"testing"
	"time"

	"portal-consent/internal/domain"
	"portal-consent/internal/registry"
	"portal-consent/internal/repository"
	"portal-consent/internal/store"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingGateway struct {
	*repository.LocalGateway
	fetches int
}

func (g *countingGateway) FetchConsents(ctx context.Context, subjectID string) ([]domain.ConsentRecord, error) {
	g.fetches++
	return g.LocalGateway.FetchConsents(ctx, subjectID)
}

func newStoreFixture(t *testing.T, kv store.KV) (*Store, *countingGateway, *repository.MemoryConsentsRepository) {
	t.Helper()
	repo := repository.NewMemoryConsentsRepository()
	repo.SetClock(func() time.Time { return testNow })
	gw := &countingGateway{LocalGateway: repository.NewLocalGateway(repo, repository.NewMemoryOrganizationsRepository(nil))}
	reg := registry.Build([]domain.Organization{
		{ID: "1", Name: "Acme"},
		{ID: "2", Name: "Acme East", ParentID: "1"},
	}, zap.NewNop())
	st := NewStore("42", gw, reg, kv, StoreConfig{
		Now: func() time.Time { return testNow },
	}, zap.NewNop())
	return st, gw, repo
}

func seedConsent(t *testing.T, repo *repository.MemoryConsentsRepository, orgID string) {
	t.Helper()
	_, err := repo.WriteConsent(context.Background(), "42", &domain.ConsentRecord{
		OrganizationID:   orgID,
		ResearchStudyID:  "0",
		Status:           domain.StatusConsented,
		StaffEditable:    true,
		IncludeInReports: true,
		SendReminders:    true,
	})
	require.NoError(t, err)
}

func TestStore_ServesFromCacheUntilInvalidated(t *testing.T) {
	kv := store.NewMemoryKV()
	st, gw, repo := newStoreFixture(t, kv)
	ctx := context.Background()
	seedConsent(t, repo, "2")

	_, err := st.Records(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, gw.fetches)

	// a second store instance for the same subject reads the cache, not
	// the gateway (repeated portal page loads)
	_, gw2, _ := newStoreFixture(t, kv)
	second := NewStore("42", gw2, nil, kv, StoreConfig{Now: func() time.Time { return testNow }}, zap.NewNop())
	records, err := second.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Zero(t, gw2.fetches)

	// invalidate-on-write forces the next read back through the gateway
	second.Invalidate(ctx)
	_, err = second.Records(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, gw2.fetches)
}

func TestStore_ActiveRecordFallsBackToTopLevelAncestor(t *testing.T) {
	st, _, repo := newStoreFixture(t, store.NewMemoryKV())
	ctx := context.Background()
	seedConsent(t, repo, "1") // consent at the top-level ancestor only

	rec, err := st.ActiveRecord(ctx, "2", "")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "1", rec.OrganizationID)
}

func TestStore_ActiveRecordIgnoresHistoryAndExpired(t *testing.T) {
	st, _, repo := newStoreFixture(t, store.NewMemoryKV())
	ctx := context.Background()

	past := testNow.Add(-time.Hour)
	_, err := repo.WriteConsent(ctx, "42", &domain.ConsentRecord{
		OrganizationID:  "2",
		ResearchStudyID: "0",
		Status:          domain.StatusConsented,
		ExpiresAt:       &past,
	})
	require.NoError(t, err)

	rec, err := st.ActiveRecord(ctx, "2", "")
	require.NoError(t, err)
	require.Nil(t, rec, "expired records never count as active")

	history, err := st.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestStore_DefaultsStudyToMain(t *testing.T) {
	st, _, repo := newStoreFixture(t, store.NewMemoryKV())
	ctx := context.Background()

	// record written without an explicit study id
	_, err := repo.WriteConsent(ctx, "42", &domain.ConsentRecord{
		OrganizationID: "2",
		Status:         domain.StatusConsented,
	})
	require.NoError(t, err)

	rec, err := st.ActiveRecord(ctx, "2", "0")
	require.NoError(t, err)
	require.NotNil(t, rec)
}
