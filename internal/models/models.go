package models

import (
	"time"
)

// Room statuses
const (
	RoomStatusActive    = "active"
	RoomStatusPending   = "pending"
	RoomStatusCompleted = "completed"
	RoomStatusCancelled = "cancelled"
)

// Party roles
const (
	PartyRoleOwner     = "owner"
	PartyRoleCharterer = "charterer"
	PartyRoleBroker    = "broker"
	PartyRoleSeller    = "seller"
	PartyRoleBuyer     = "buyer"
	PartyRoleAdmin     = "admin"
	PartyRoleViewer    = "viewer"
)

// Document statuses
const (
	DocumentStatusMissing     = "missing"
	DocumentStatusUnderReview = "under_review"
	DocumentStatusApproved    = "approved"
	DocumentStatusExpired     = "expired"
	DocumentStatusRejected    = "rejected"
)

// Approval statuses
const (
	ApprovalStatusPending  = "pending"
	ApprovalStatusApproved = "approved"
	ApprovalStatusRejected = "rejected"
)

// Metric time series types
const (
	MetricDocumentCompletion = "document_completion"
	MetricApprovalCompletion = "approval_completion"
	MetricDemurrageExposure  = "demurrage_exposure"
)

// MetricTypes lists every persisted metric series
var MetricTypes = []string{MetricDocumentCompletion, MetricApprovalCompletion, MetricDemurrageExposure}

// User represents a user in the system
type User struct {
	ID          string     `db:"id" json:"id"`
	Email       string     `db:"email" json:"email"`
	Name        string     `db:"name" json:"name"`
	Password    string     `db:"password" json:"-"` // Password hash, not returned in JSON
	Role        string     `db:"role" json:"role"`
	Company     string     `db:"company" json:"company"`
	TenantID    string     `db:"tenant_id" json:"tenantId"`
	IsActive    bool       `db:"is_active" json:"isActive"`
	LastLoginAt *time.Time `db:"last_login_at" json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updatedAt"`
}

// Room represents a ship-to-ship transfer operation
type Room struct {
	ID                         string     `db:"id" json:"id"`
	Title                      string     `db:"title" json:"title"`
	Location                   string     `db:"location" json:"location"`
	ETAScheduled               *time.Time `db:"eta_scheduled" json:"etaScheduled,omitempty"`
	ETAEstimated               *time.Time `db:"eta_estimated" json:"etaEstimated,omitempty"`
	Status                     string     `db:"status" json:"status"`
	StatusDetail               string     `db:"status_detail" json:"statusDetail"`
	TimelinePhase              string     `db:"timeline_phase" json:"timelinePhase"`
	CargoType                  string     `db:"cargo_type" json:"cargoType"`
	CargoQuantity              float64    `db:"cargo_quantity" json:"cargoQuantity"`
	CargoValueUSD              float64    `db:"cargo_value_usd" json:"cargoValueUsd"`
	DemurrageRatePerDay        *float64   `db:"demurrage_rate_per_day" json:"demurrageRatePerDay,omitempty"`
	DemurrageRatePerHour       *float64   `db:"demurrage_rate_per_hour" json:"demurrageRatePerHour,omitempty"`
	BrokerCommissionPercentage *float64   `db:"broker_commission_percentage" json:"brokerCommissionPercentage,omitempty"`
	BrokerCommissionAmount     *float64   `db:"broker_commission_amount" json:"brokerCommissionAmount,omitempty"`
	CommissionPaid             bool       `db:"commission_paid" json:"commissionPaid"`
	CreatedBy                  string     `db:"created_by" json:"createdBy"`
	CreatedAt                  time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt                  time.Time  `db:"updated_at" json:"updatedAt"`
}

// DailyDemurrageRate returns the configured daily rate, falling back to 24x the hourly rate.
func (r *Room) DailyDemurrageRate() float64 {
	if r.DemurrageRatePerDay != nil && *r.DemurrageRatePerDay > 0 {
		return *r.DemurrageRatePerDay
	}
	if r.DemurrageRatePerHour != nil && *r.DemurrageRatePerHour > 0 {
		return *r.DemurrageRatePerHour * 24
	}
	return 0
}

// Party represents a named role-holder attached to a room by email
type Party struct {
	ID        string    `db:"id" json:"id"`
	RoomID    string    `db:"room_id" json:"roomId"`
	Role      string    `db:"role" json:"role"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// DocumentType is an entry of the compliance document catalogue
type DocumentType struct {
	ID          string `db:"id" json:"id"`
	Code        string `db:"code" json:"code"`
	Name        string `db:"name" json:"name"`
	Required    bool   `db:"required" json:"required"`
	Criticality string `db:"criticality" json:"criticality"` // "high", "med" or "low"
}

// Document is a compliance artifact attached to a room and optionally a vessel
type Document struct {
	ID          string     `db:"id" json:"id"`
	RoomID      string     `db:"room_id" json:"roomId"`
	VesselID    *string    `db:"vessel_id" json:"vesselId,omitempty"`
	TypeID      string     `db:"type_id" json:"typeId"`
	TypeName    string     `db:"type_name" json:"typeName"`
	Status      string     `db:"status" json:"status"`
	Priority    string     `db:"priority" json:"priority"`
	Criticality string     `db:"criticality" json:"criticality"`
	Required    bool       `db:"required" json:"required"`
	ExpiresOn   *time.Time `db:"expires_on" json:"expiresOn,omitempty"`
	UploadedBy  string     `db:"uploaded_by" json:"uploadedBy"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updatedAt"`
}

// Approval is one party's sign-off on a room
type Approval struct {
	ID        string    `db:"id" json:"id"`
	RoomID    string    `db:"room_id" json:"roomId"`
	PartyID   string    `db:"party_id" json:"partyId"`
	VesselID  *string   `db:"vessel_id" json:"vesselId,omitempty"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Vessel belongs to a room
type Vessel struct {
	ID        string    `db:"id" json:"id"`
	RoomID    string    `db:"room_id" json:"roomId"`
	Name      string    `db:"name" json:"name"`
	IMO       string    `db:"imo" json:"imo"`
	Owner     string    `db:"owner" json:"owner"`
	Charterer string    `db:"charterer" json:"charterer"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// PartyMetric holds rolling performance stats per (party, room)
type PartyMetric struct {
	ID                string    `db:"id" json:"id"`
	PartyID           string    `db:"party_id" json:"partyId"`
	RoomID            string    `db:"room_id" json:"roomId"`
	ResponseTimeHours float64   `db:"response_time_hours" json:"responseTimeHours"`
	QualityScore      float64   `db:"quality_score" json:"qualityScore"`
	ReliabilityIndex  float64   `db:"reliability_index" json:"reliabilityIndex"`
	CreatedAt         time.Time `db:"created_at" json:"createdAt"`
}

// Metric is one point of a room's persisted time series
type Metric struct {
	ID         string    `db:"id" json:"id"`
	RoomID     string    `db:"room_id" json:"roomId"`
	MetricType string    `db:"metric_type" json:"metricType"`
	Date       time.Time `db:"date" json:"date"`
	Value      float64   `db:"value" json:"value"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

// Finding is an inspection finding raised against a vessel
type Finding struct {
	ID               string     `db:"id" json:"id"`
	VesselID         string     `db:"vessel_id" json:"vesselId"`
	RoomID           string     `db:"room_id" json:"roomId"`
	Severity         string     `db:"severity" json:"severity"` // "critical", "major" or "minor"
	Category         string     `db:"category" json:"category"`
	Description      string     `db:"description" json:"description"`
	ActionsTotal     int        `db:"actions_total" json:"actionsTotal"`
	ActionsCompleted int        `db:"actions_completed" json:"actionsCompleted"`
	OpenedAt         time.Time  `db:"opened_at" json:"openedAt"`
	TargetDate       *time.Time `db:"target_date" json:"targetDate,omitempty"`
	ResolvedAt       *time.Time `db:"resolved_at" json:"resolvedAt,omitempty"`
}

// CrewCertification is a certificate held by a crew member of a vessel
type CrewCertification struct {
	ID              string    `db:"id" json:"id"`
	VesselID        string    `db:"vessel_id" json:"vesselId"`
	CrewName        string    `db:"crew_name" json:"crewName"`
	CertificateType string    `db:"certificate_type" json:"certificateType"`
	IssuedOn        time.Time `db:"issued_on" json:"issuedOn"`
	ExpiresOn       time.Time `db:"expires_on" json:"expiresOn"`
}

// ActivityLog records a write made by a user
type ActivityLog struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"userId"`
	RoomID    *string   `db:"room_id" json:"roomId,omitempty"`
	Action    string    `db:"action" json:"action"`
	Detail    string    `db:"detail" json:"detail"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Notification is a message addressed to a user by email
type Notification struct {
	ID        string    `db:"id" json:"id"`
	UserEmail string    `db:"user_email" json:"userEmail"`
	RoomID    *string   `db:"room_id" json:"roomId,omitempty"`
	Kind      string    `db:"kind" json:"kind"`
	Title     string    `db:"title" json:"title"`
	Message   string    `db:"message" json:"message"`
	Read      bool      `db:"read" json:"read"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
