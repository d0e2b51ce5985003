package registry

import (
	"testing"

	"portal-consent/internal/domain"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func buildTestRegistry(t *testing.T, flat []domain.Organization) *Registry {
	t.Helper()
	return Build(flat, zap.NewNop())
}

func TestBuild_WiresParentAndChildren(t *testing.T) {
	r := buildTestRegistry(t, []domain.Organization{
		{ID: "1", Name: "Acme"},
		{ID: "2", Name: "Acme East", ParentID: "1"},
	})

	acme := r.Get("1")
	require.NotNil(t, acme)
	require.True(t, acme.IsTopLevel)
	require.Equal(t, []string{"2"}, acme.Children)

	east := r.Get("2")
	require.NotNil(t, east)
	require.False(t, east.IsTopLevel)

	parent := r.Parent("2")
	require.NotNil(t, parent)
	require.Equal(t, "1", parent.ID)
}

func TestBuild_SynthesizesMissingParent(t *testing.T) {
	r := buildTestRegistry(t, []domain.Organization{
		{ID: "5", Name: "Orphan Clinic", ParentID: "9"},
	})

	// No dangling parent reference: the parent exists as a placeholder.
	parent := r.Get("9")
	require.NotNil(t, parent)
	require.True(t, parent.IsTopLevel)
	require.Equal(t, []string{"5"}, parent.Children)
}

func TestBuild_SkipsRecordsWithoutID(t *testing.T) {
	r := buildTestRegistry(t, []domain.Organization{
		{Name: "nameless"},
		{ID: "1", Name: "Acme"},
	})
	require.Equal(t, 1, r.Len())
}

func TestBuild_ChildrenOrderedByName(t *testing.T) {
	r := buildTestRegistry(t, []domain.Organization{
		{ID: "1", Name: "Acme"},
		{ID: "3", Name: "Acme West", ParentID: "1"},
		{ID: "2", Name: "Acme East", ParentID: "1"},
	})
	require.Equal(t, []string{"2", "3"}, r.Get("1").Children)
}

func TestTopLevelParent_WalksToRoot(t *testing.T) {
	r := buildTestRegistry(t, []domain.Organization{
		{ID: "1", Name: "Acme"},
		{ID: "2", Name: "Acme East", ParentID: "1"},
		{ID: "3", Name: "Acme East Annex", ParentID: "2"},
	})

	require.Equal(t, "1", r.TopLevelParent("3"))
	require.Equal(t, "1", r.TopLevelParent("2"))
	require.Equal(t, "1", r.TopLevelParent("1"))
	// unknown ids map to themselves
	require.Equal(t, "404", r.TopLevelParent("404"))
}

func TestTopLevelParent_Idempotent(t *testing.T) {
	r := buildTestRegistry(t, []domain.Organization{
		{ID: "1", Name: "Acme"},
		{ID: "2", Name: "Acme East", ParentID: "1"},
		{ID: "3", Name: "Acme East Annex", ParentID: "2"},
	})
	for _, id := range []string{"1", "2", "3", "404"} {
		top := r.TopLevelParent(id)
		require.Equal(t, top, r.TopLevelParent(top))
	}
}

func TestTopLevelParent_CycleTerminates(t *testing.T) {
	// bad upstream data: 1 -> 2 -> 1
	r := buildTestRegistry(t, []domain.Organization{
		{ID: "1", Name: "A", ParentID: "2"},
		{ID: "2", Name: "B", ParentID: "1"},
	})
	// must terminate rather than loop; the exact node is the first repeat
	got := r.TopLevelParent("1")
	require.Contains(t, []string{"1", "2"}, got)
}

func TestBuild_WarnsOnCycle(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	Build([]domain.Organization{
		{ID: "1", Name: "A", ParentID: "2"},
		{ID: "2", Name: "B", ParentID: "1"},
		{ID: "3", Name: "C"},
	}, zap.New(core))

	entries := logs.FilterMessage("organization parent link closes a cycle").All()
	require.NotEmpty(t, entries, "a cyclic parent edge must be surfaced at build time")

	// an acyclic forest builds silently
	core, logs = observer.New(zapcore.WarnLevel)
	Build([]domain.Organization{
		{ID: "1", Name: "A"},
		{ID: "2", Name: "B", ParentID: "1"},
	}, zap.New(core))
	require.Empty(t, logs.FilterMessage("organization parent link closes a cycle").All())
}

func TestDescendants_IncludesSeeds(t *testing.T) {
	r := buildTestRegistry(t, []domain.Organization{
		{ID: "1", Name: "Acme"},
		{ID: "2", Name: "Acme East", ParentID: "1"},
	})
	require.Equal(t, []string{"1", "2"}, r.Descendants([]string{"1"}))
	require.Equal(t, []string{"2"}, r.Descendants([]string{"2"}))
	require.Equal(t, []string{"404"}, r.Descendants([]string{"404"}))
}

func TestDescendants_NoDoubleExpansion(t *testing.T) {
	r := buildTestRegistry(t, []domain.Organization{
		{ID: "1", Name: "Acme"},
		{ID: "2", Name: "Acme East", ParentID: "1"},
		{ID: "3", Name: "Annex", ParentID: "2"},
	})
	// overlapping seeds: each node appears once, seed before descendant
	got := r.Descendants([]string{"1", "2"})
	require.Equal(t, []string{"1", "2", "3"}, got)
}

func TestLeafOrgs_ReturnsOnlyLeaves(t *testing.T) {
	r := buildTestRegistry(t, []domain.Organization{
		{ID: "1", Name: "Acme"},
		{ID: "2", Name: "Acme East", ParentID: "1"},
		{ID: "3", Name: "Acme West", ParentID: "1"},
		{ID: "4", Name: "Annex", ParentID: "2"},
	})

	require.Equal(t, []string{"4", "3"}, r.LeafOrgs([]string{"1"}))
	require.Equal(t, []string{"4"}, r.LeafOrgs([]string{"2"}))
	// a leaf id resolves to itself
	require.Equal(t, []string{"3"}, r.LeafOrgs([]string{"3"}))
	// unknown ids contribute nothing
	require.Empty(t, r.LeafOrgs([]string{"404"}))
}

func TestLeafOrgs_TopLevelSetIsPartition(t *testing.T) {
	r := buildTestRegistry(t, []domain.Organization{
		{ID: "1", Name: "Acme"},
		{ID: "2", Name: "Acme East", ParentID: "1"},
		{ID: "3", Name: "Beta"},
		{ID: "4", Name: "Beta North", ParentID: "3"},
		{ID: "5", Name: "Beta South", ParentID: "3"},
	})

	var topIDs []string
	for _, org := range r.TopLevel() {
		topIDs = append(topIDs, org.ID)
	}
	leaves := r.LeafOrgs(topIDs)

	seen := map[string]bool{}
	for _, id := range leaves {
		require.False(t, seen[id], "leaf %s appears twice", id)
		seen[id] = true
		require.Empty(t, r.Get(id).Children, "%s is not a leaf", id)
	}
	require.ElementsMatch(t, []string{"2", "4", "5"}, leaves)
}

func TestInScope(t *testing.T) {
	r := buildTestRegistry(t, []domain.Organization{
		{ID: "1", Name: "Acme"},
		{ID: "2", Name: "Acme East", ParentID: "1"},
		{ID: "3", Name: "Beta"},
	})

	require.True(t, r.InScope("2", []string{"1"}))
	require.True(t, r.InScope("1", []string{"1"}))
	require.False(t, r.InScope("3", []string{"1"}))
	require.False(t, r.InScope("2", nil))
}

func TestTopLevel_ExcludesSentinel(t *testing.T) {
	r := buildTestRegistry(t, []domain.Organization{
		{ID: domain.NoOrganizationID, Name: "none of the above"},
		{ID: "1", Name: "Acme"},
	})
	tops := r.TopLevel()
	require.Len(t, tops, 1)
	require.Equal(t, "1", tops[0].ID)
}
