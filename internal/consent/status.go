package consent

import (
	"strings"
	"time"

	"portal-consent/internal/domain"
)

// Derivation is the display/semantic reading of a consent record. IsActive
// is true only for live, unexpired records; historical and expired records
// never count toward the one-active-record invariant.
type Derivation struct {
	Category domain.ConsentCategory `json:"category"`
	IsActive bool                   `json:"is_active"`
}

// DeriveStatus maps a record to its derived status. Decision order, each
// branch terminal:
//
//  1. Soft-deleted records are history. Their status field is not
//     authoritative anymore, so the semantic category is decoded from the
//     three capability flags, which encode why the record reached its
//     state.
//  2. An expiry in the past makes the record expired regardless of status.
//  3. Live records map status directly, with the stock-agreement check
//     deciding consented vs default-consented.
//
// stockMarker is the well-known substring identifying the stock consent
// agreement URL; matched case-insensitively, empty disables the check.
func DeriveStatus(rec domain.ConsentRecord, now time.Time, stockMarker string) Derivation {
	if rec.IsDeleted() {
		return Derivation{Category: decodeHistoricalFlags(rec), IsActive: false}
	}

	if rec.IsExpired(now) {
		return Derivation{Category: domain.CategoryExpired, IsActive: false}
	}

	switch rec.Status {
	case domain.StatusSuspended:
		return Derivation{Category: domain.CategoryWithdrawn, IsActive: true}
	case domain.StatusPurged, domain.StatusDeleted:
		return Derivation{Category: domain.CategoryPurged, IsActive: true}
	default:
		category := domain.CategoryConsented
		if stockMarker != "" &&
			strings.Contains(strings.ToLower(rec.AgreementURL), strings.ToLower(stockMarker)) {
			category = domain.CategoryDefaultConsented
		}
		return Derivation{Category: category, IsActive: true}
	}
}

// decodeHistoricalFlags translates the legacy three-boolean encoding of a
// soft-deleted record into its semantic category. This table is a one-time
// translation layer for existing history, not ongoing business logic; new
// writes carry an explicit category.
//
//	staffEditable, includeInReports, sendReminders  -> consented
//	*,             includeInReports, !sendReminders -> withdrawn
//	!staffEditable, !includeInReports, !sendReminders -> purged
//	anything else -> consented (documented fallback; not reachable under
//	normal writes)
func decodeHistoricalFlags(rec domain.ConsentRecord) domain.ConsentCategory {
	switch {
	case rec.StaffEditable && rec.IncludeInReports && rec.SendReminders:
		return domain.CategoryConsented
	case rec.IncludeInReports && !rec.SendReminders:
		return domain.CategoryWithdrawn
	case !rec.StaffEditable && !rec.IncludeInReports && !rec.SendReminders:
		return domain.CategoryPurged
	default:
		return domain.CategoryConsented
	}
}
