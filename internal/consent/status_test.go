package consent

import (
	"testing"
	"time"

	"portal-consent/internal/domain"

	"github.com/stretchr/testify/require"
)

var statusNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func deleted(rec domain.ConsentRecord) domain.ConsentRecord {
	rec.DeletedMeta = &domain.ActionMeta{At: statusNow.Add(-time.Hour), ByActorID: "staff-1"}
	return rec
}

func TestDeriveStatus_HistoricalFlagDecoding(t *testing.T) {
	cases := []struct {
		name                                          string
		staffEditable, includeInReports, sendReminders bool
		want                                          domain.ConsentCategory
	}{
		{"all flags on means consented", true, true, true, domain.CategoryConsented},
		{"reports on reminders off means withdrawn", true, true, false, domain.CategoryWithdrawn},
		{"withdrawn regardless of staff editable", false, true, false, domain.CategoryWithdrawn},
		{"all flags off means purged", false, false, false, domain.CategoryPurged},
		{"unreachable combination falls back to consented", true, false, true, domain.CategoryConsented},
		{"reminders only falls back to consented", false, false, true, domain.CategoryConsented},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := deleted(domain.ConsentRecord{
				SubjectID:        "42",
				OrganizationID:   "2",
				Status:           domain.StatusConsented, // not authoritative for history
				StaffEditable:    tc.staffEditable,
				IncludeInReports: tc.includeInReports,
				SendReminders:    tc.sendReminders,
			})
			got := DeriveStatus(rec, statusNow, "")
			require.Equal(t, tc.want, got.Category)
			require.False(t, got.IsActive, "historical records are never active")
		})
	}
}

func TestDeriveStatus_DeletedWinsOverExpiry(t *testing.T) {
	past := statusNow.Add(-24 * time.Hour)
	rec := deleted(domain.ConsentRecord{
		Status:           domain.StatusConsented,
		ExpiresAt:        &past,
		StaffEditable:    true,
		IncludeInReports: true,
		SendReminders:    false,
	})
	got := DeriveStatus(rec, statusNow, "")
	require.Equal(t, domain.CategoryWithdrawn, got.Category)
}

func TestDeriveStatus_Expired(t *testing.T) {
	past := statusNow.Add(-time.Minute)
	rec := domain.ConsentRecord{
		Status:    domain.StatusConsented,
		ExpiresAt: &past,
	}
	got := DeriveStatus(rec, statusNow, "")
	require.Equal(t, domain.CategoryExpired, got.Category)
	require.False(t, got.IsActive)
}

func TestDeriveStatus_FutureExpiryStaysLive(t *testing.T) {
	future := statusNow.Add(time.Hour)
	rec := domain.ConsentRecord{
		Status:    domain.StatusConsented,
		ExpiresAt: &future,
	}
	got := DeriveStatus(rec, statusNow, "")
	require.Equal(t, domain.CategoryConsented, got.Category)
	require.True(t, got.IsActive)
}

func TestDeriveStatus_LiveMapping(t *testing.T) {
	cases := []struct {
		status domain.ConsentStatus
		want   domain.ConsentCategory
	}{
		{domain.StatusConsented, domain.CategoryConsented},
		{domain.StatusSuspended, domain.CategoryWithdrawn},
		{domain.StatusPurged, domain.CategoryPurged},
		{domain.StatusDeleted, domain.CategoryPurged},
	}
	for _, tc := range cases {
		got := DeriveStatus(domain.ConsentRecord{Status: tc.status}, statusNow, "")
		require.Equal(t, tc.want, got.Category, "status %s", tc.status)
		require.True(t, got.IsActive)
	}
}

func TestDeriveStatus_StockAgreementMeansDefaultConsented(t *testing.T) {
	rec := domain.ConsentRecord{
		Status:       domain.StatusConsented,
		AgreementURL: "https://portal.example.org/agreements/Standard-Consent-v3.pdf",
	}
	got := DeriveStatus(rec, statusNow, "standard-consent")
	require.Equal(t, domain.CategoryDefaultConsented, got.Category)
	require.True(t, got.IsActive)

	// an organization-specific agreement stays plain consented
	rec.AgreementURL = "https://portal.example.org/agreements/acme-east.pdf"
	got = DeriveStatus(rec, statusNow, "standard-consent")
	require.Equal(t, domain.CategoryConsented, got.Category)
}
