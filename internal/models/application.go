package models

import "time"

// ApplicationStatus enumerates the approval workflow states.
type ApplicationStatus string

const (
	StatusDraft           ApplicationStatus = "draft"
	StatusReviewing       ApplicationStatus = "reviewing"
	StatusManagerRejected ApplicationStatus = "manager_rejected"
	StatusApproved        ApplicationStatus = "approved"
	StatusDBARejected     ApplicationStatus = "dba_rejected"
	StatusOnline          ApplicationStatus = "online"
	StatusVoid            ApplicationStatus = "void"
)

// Editable reports whether the request (and its files) may still be modified
// by the applicant. Submitting leaves this set; a rejection re-enters it.
func (s ApplicationStatus) Editable() bool {
	return s == StatusDraft || s == StatusManagerRejected || s == StatusDBARejected
}

// Terminal reports whether no further workflow action is possible.
func (s ApplicationStatus) Terminal() bool {
	return s == StatusOnline || s == StatusVoid
}

// ProgramType classifies the ERP artifact a request changes.
type ProgramType string

const (
	ProgramForm     ProgramType = "form"
	ProgramReport   ProgramType = "report"
	ProgramSQL      ProgramType = "sql"
	ProgramLibrary  ProgramType = "library"
	ProgramDBObject ProgramType = "db_object"
)

// ValidProgramType reports whether t is a known program type.
func ValidProgramType(t ProgramType) bool {
	switch t {
	case ProgramForm, ProgramReport, ProgramSQL, ProgramLibrary, ProgramDBObject:
		return true
	}
	return false
}

// Application is a single ERP change request moving through the approval
// workflow. FormID is globally unique and immutable once created.
type Application struct {
	ID              int64             `db:"id" json:"id"`
	FormID          string            `db:"form_id" json:"form_id"`
	ApplicantID     int64             `db:"applicant_id" json:"applicant_id"`
	ApplyDate       time.Time         `db:"apply_date" json:"apply_date"`
	ModuleID        *int64            `db:"module_id" json:"module_id,omitempty"`
	ProgramType     ProgramType       `db:"program_type" json:"program_type"`
	DBObjectType    *string           `db:"db_object_type" json:"db_object_type,omitempty"`
	Description     string            `db:"description" json:"description"`
	Status          ApplicationStatus `db:"status" json:"status"`
	CurrentStep     int               `db:"current_step" json:"current_step"`
	DBAComment      *string           `db:"dba_comment" json:"dba_comment,omitempty"`
	HasTested       bool              `db:"has_tested" json:"has_tested"`
	AccessDBUser    *string           `db:"access_db_user" json:"access_db_user,omitempty"`
	AccessStartTime *time.Time        `db:"access_start_time" json:"access_start_time,omitempty"`
	AccessEndTime   *time.Time        `db:"access_end_time" json:"access_end_time,omitempty"`
	CreatedAt       time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time         `db:"updated_at" json:"updated_at"`
}

// ApplicationDetail joins the applicant identity onto the request row. The
// approval engine always works on this single consistent read so status,
// step, and department cannot come from different snapshots.
type ApplicationDetail struct {
	Application
	ApplicantName       string  `db:"applicant_name" json:"applicant_name"`
	ApplicantDepartment string  `db:"applicant_department" json:"applicant_department"`
	ModuleCode          *string `db:"module_code" json:"module_code,omitempty"`
	ModuleName          *string `db:"module_name" json:"module_name,omitempty"`
}

// ApplicationFilter captures the advanced-search criteria.
type ApplicationFilter struct {
	FormID      string
	Status      ApplicationStatus
	StartDate   *time.Time
	EndDate     *time.Time
	Applicant   string
	Department  string
	ProgramType ProgramType
	FileKeyword string
	Page        int
	PageSize    int
}
