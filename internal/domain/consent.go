package domain

import "time"

// ConsentStatus is the authoritative intent stored on a live record.
type ConsentStatus string

const (
	StatusConsented ConsentStatus = "consented"
	StatusSuspended ConsentStatus = "suspended"
	StatusPurged    ConsentStatus = "purged"
	// StatusDeleted appears in legacy rows written before soft-delete
	// metadata existed; treated like StatusPurged.
	StatusDeleted ConsentStatus = "deleted"
)

// ConsentCategory is the derived display/semantic status. It replaces the
// legacy three-boolean encoding for anything written going forward; the
// decode table in the consent package remains only to translate history.
type ConsentCategory string

const (
	CategoryConsented        ConsentCategory = "consented"
	CategoryDefaultConsented ConsentCategory = "default-consented"
	CategoryWithdrawn        ConsentCategory = "withdrawn"
	CategoryPurged           ConsentCategory = "purged"
	CategoryExpired          ConsentCategory = "expired"
)

// ActionMeta records who performed a write and when.
type ActionMeta struct {
	At        time.Time `json:"at" db:"at"`
	ByActorID string    `json:"by_actor_id" db:"by_actor_id"`
}

// ConsentRecord is one subject's agreement/withdrawal/purge decision
// scoped to one organization and one research study (corresponds to the
// consents table).
//
// Invariant: at most one not-deleted, not-expired record exists per
// (subject_id, org_id, research_study_id). Soft-deleted and expired
// records are history and never count toward the invariant.
type ConsentRecord struct {
	RecordID        string        `json:"record_id" db:"record_id"`
	SubjectID       string        `json:"subject_id" db:"subject_id"`
	OrganizationID  string        `json:"org_id" db:"org_id"`
	ResearchStudyID string        `json:"research_study_id" db:"research_study_id"`
	Status          ConsentStatus `json:"status" db:"status"`

	AgreementURL   string    `json:"agreement_url" db:"agreement_url"`
	AcceptanceDate time.Time `json:"acceptance_date" db:"acceptance_date"`

	// The three capability flags double as a compressed encoding of why a
	// historical (soft-deleted) record reached its state. Live records
	// carry them as plain capabilities.
	StaffEditable    bool `json:"staff_editable" db:"staff_editable"`
	IncludeInReports bool `json:"include_in_reports" db:"include_in_reports"`
	SendReminders    bool `json:"send_reminders" db:"send_reminders"`

	ExpiresAt *time.Time `json:"expires_at,omitempty" db:"expires_at"`

	DeletedMeta  *ActionMeta `json:"deleted_meta,omitempty" db:"-"`
	RecordedMeta ActionMeta  `json:"recorded_meta" db:"-"`
}

// IsDeleted reports whether the record has been soft-deleted (superseded
// or explicitly withdrawn/cascaded). Records are never physically erased.
func (r *ConsentRecord) IsDeleted() bool {
	return r.DeletedMeta != nil
}

// IsExpired reports whether the record's expiry, if any, has passed.
func (r *ConsentRecord) IsExpired(now time.Time) bool {
	return r.ExpiresAt != nil && r.ExpiresAt.Before(now)
}

// SameFlags reports whether another record carries identical capability
// flags; used for the idempotent grant short-circuit.
func (r *ConsentRecord) SameFlags(staffEditable, includeInReports, sendReminders bool) bool {
	return r.StaffEditable == staffEditable &&
		r.IncludeInReports == includeInReports &&
		r.SendReminders == sendReminders
}
