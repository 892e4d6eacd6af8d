package domain

import "time"

// ApprovalStatus is the canonical registry decision for a project.
// Values other than the constants below are stored verbatim.
type ApprovalStatus string

const (
	ApprovalApproved  ApprovalStatus = "APPROVED"
	ApprovalRejected  ApprovalStatus = "REJECTED"
	ApprovalWithdrawn ApprovalStatus = "WITHDRAWN"
	ApprovalRevoked   ApprovalStatus = "REVOKED"
	ApprovalUnknown   ApprovalStatus = "UNKNOWN"
)

// ProjectRecord is one project as registered on the portal.
// ProjectID is always set; every other field is nil when the page omitted it.
type ProjectRecord struct {
	ProjectID int64 `gorm:"primaryKey;autoIncrement:false" json:"project_id"`

	ProjectName    *string `gorm:"type:text" json:"project_name,omitempty"`
	PromoterName   *string `gorm:"type:text" json:"promoter_name,omitempty"`
	ProjectType    *string `gorm:"type:text" json:"project_type,omitempty"`
	ProjectSubtype *string `gorm:"type:text" json:"project_subtype,omitempty"`
	ProjectStatus  *string `gorm:"type:text" json:"project_status,omitempty"`

	AcknowledgementNumber *string `gorm:"type:text;index:idx_projects_ack" json:"acknowledgement_number,omitempty"`
	RegistrationNumber    *string `gorm:"type:text;index:idx_projects_reg" json:"registration_number,omitempty"`

	LandUnderLitigation *string  `gorm:"type:text" json:"land_under_litigation,omitempty"`
	District            *string  `gorm:"type:text;index:idx_projects_district" json:"district,omitempty"`
	Taluk               *string  `gorm:"type:text" json:"taluk,omitempty"`
	Latitude            *float64 `json:"latitude,omitempty"`
	Longitude           *float64 `json:"longitude,omitempty"`
	SourceOfWater       *string  `gorm:"type:text" json:"source_of_water,omitempty"`
	ApprovingAuthority  *string  `gorm:"type:text" json:"approving_authority,omitempty"`

	TotalAreaOfLand          *string `gorm:"type:text" json:"total_area_of_land,omitempty"`
	TotalNumberOfInventories *string `gorm:"type:text" json:"total_number_of_inventories,omitempty"`

	PlanApprovalDate       *string `gorm:"type:text" json:"plan_approval_date,omitempty"`
	ProjectStartDate       *string `gorm:"type:text" json:"project_start_date,omitempty"`
	ProposedCompletionDate *string `gorm:"type:text" json:"proposed_completion_date,omitempty"`

	TotalProjectCost            *string `gorm:"type:text" json:"total_project_cost,omitempty"`
	CostOfLand                  *string `gorm:"type:text" json:"cost_of_land,omitempty"`
	EstimatedCostOfConstruction *string `gorm:"type:text" json:"estimated_cost_of_construction,omitempty"`

	ComplaintsOnPromoter *int `json:"complaints_on_promoter,omitempty"`
	ComplaintsOnProject  *int `json:"complaints_on_project,omitempty"`

	ApprovalStatus *ApprovalStatus `gorm:"type:text;index:idx_projects_approval" json:"approval_status,omitempty"`

	LastFetchedAt *time.Time `json:"last_fetched_at,omitempty"`
}

// TableName returns the database table name for ProjectRecord.
func (ProjectRecord) TableName() string {
	return "project_records"
}

// Status returns the approval status, treating a missing value as UNKNOWN.
func (p *ProjectRecord) Status() ApprovalStatus {
	if p.ApprovalStatus == nil {
		return ApprovalUnknown
	}
	return *p.ApprovalStatus
}

// StringOrEmpty dereferences an optional text field.
func StringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
