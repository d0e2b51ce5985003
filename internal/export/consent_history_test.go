package export

import (
	"bytes"
	"testing"
	"time"

	"portal-consent/internal/domain"
	"portal-consent/internal/registry"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

func TestConsentHistoryWorkbook(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	reg := registry.Build([]domain.Organization{
		{ID: "1", Name: "Acme"},
		{ID: "2", Name: "Acme East", ShortName: "East", ParentID: "1"},
	}, zap.NewNop())

	records := []domain.ConsentRecord{
		{
			OrganizationID:   "2",
			ResearchStudyID:  "0",
			Status:           domain.StatusConsented,
			AgreementURL:     "https://portal.example.org/agreements/acme-east.pdf",
			AcceptanceDate:   now.Add(-48 * time.Hour),
			StaffEditable:    true,
			IncludeInReports: true,
			SendReminders:    true,
			RecordedMeta:     domain.ActionMeta{At: now.Add(-48 * time.Hour), ByActorID: "subject-42"},
		},
		{
			OrganizationID:   "9", // unknown to the registry
			ResearchStudyID:  "0",
			Status:           domain.StatusConsented,
			StaffEditable:    true,
			IncludeInReports: true,
			SendReminders:    false,
			AcceptanceDate:   now.Add(-96 * time.Hour),
			DeletedMeta:      &domain.ActionMeta{At: now.Add(-72 * time.Hour), ByActorID: "staff-1"},
		},
	}

	payload, err := ConsentHistoryWorkbook(records, reg, Options{Now: now})
	require.NoError(t, err)
	require.NotEmpty(t, payload)

	f, err := excelize.OpenReader(bytes.NewReader(payload))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Consent History")
	require.NoError(t, err)
	require.Len(t, rows, 3) // header + 2 records

	require.Equal(t, ConsentHistoryHeader, rows[0][:len(ConsentHistoryHeader)])
	require.Equal(t, "East", rows[1][0], "short name preferred")
	require.Equal(t, "consented", rows[1][2])
	require.Equal(t, "9", rows[2][0], "unknown org falls back to id")
	require.Equal(t, "withdrawn", rows[2][2], "historical flags decoded")
	require.Equal(t, "staff-1", rows[2][7])
}
