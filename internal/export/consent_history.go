package export

import (
	"bytes"
	"fmt"
	"time"

	"portal-consent/internal/consent"
	"portal-consent/internal/domain"
	"portal-consent/internal/registry"

	"github.com/xuri/excelize/v2"
)

// ConsentHistoryHeader is the column layout of the staff download.
var ConsentHistoryHeader = []string{
	"Organization",
	"Research Study",
	"Status",
	"Agreement",
	"Acceptance Date",
	"Recorded By",
	"Deleted Date",
	"Deleted By",
}

// Options controls how the derived status column is computed.
type Options struct {
	Now                  time.Time
	StockAgreementMarker string
}

// ConsentHistoryWorkbook renders a subject's full consent history (live
// records and soft-deleted/expired history) as an xlsx workbook. The
// registry resolves organization display names; ids are used verbatim for
// organizations unknown to the registry.
func ConsentHistoryWorkbook(records []domain.ConsentRecord, reg *registry.Registry, opts Options) ([]byte, error) {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	f := excelize.NewFile()
	// WriteTo needs the file open, so no deferred Close on success

	sheetName := "Consent History"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, title := range ConsentHistoryHeader {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheetName, cell, title); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	}
	endCell, _ := excelize.CoordinatesToCellName(len(ConsentHistoryHeader), 1)
	_ = f.SetCellStyle(sheetName, "A1", endCell, headerStyle)

	for row, rec := range records {
		derived := consent.DeriveStatus(rec, opts.Now, opts.StockAgreementMarker)

		orgName := rec.OrganizationID
		if reg != nil {
			if org := reg.Get(rec.OrganizationID); org != nil && org.Name != "" {
				orgName = org.DisplayName()
			}
		}

		deletedAt, deletedBy := "", ""
		if rec.DeletedMeta != nil {
			deletedAt = rec.DeletedMeta.At.Format("2006-01-02 15:04")
			deletedBy = rec.DeletedMeta.ByActorID
		}

		values := []any{
			orgName,
			rec.ResearchStudyID,
			string(derived.Category),
			rec.AgreementURL,
			rec.AcceptanceDate.Format("2006-01-02"),
			rec.RecordedMeta.ByActorID,
			deletedAt,
			deletedBy,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to write row %d: %w", row+2, err)
			}
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to serialize workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close workbook: %w", err)
	}
	return buf.Bytes(), nil
}
