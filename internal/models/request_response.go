package models

import "time"

// Request models
type SignUpRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required"`
	Role     string `json:"role" binding:"required,oneof=admin charterer broker owner shipowner inspector viewer"`
	Company  string `json:"company"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type CreateRoomRequest struct {
	Title                      string     `json:"title" binding:"required"`
	Location                   string     `json:"location" binding:"required"`
	ETAScheduled               *time.Time `json:"etaScheduled"`
	ETAEstimated               *time.Time `json:"etaEstimated"`
	CargoType                  string     `json:"cargoType"`
	CargoQuantity              float64    `json:"cargoQuantity" binding:"gte=0"`
	CargoValueUSD              float64    `json:"cargoValueUsd" binding:"gte=0"`
	DemurrageRatePerDay        *float64   `json:"demurrageRatePerDay" binding:"omitempty,gte=0"`
	BrokerCommissionPercentage *float64   `json:"brokerCommissionPercentage" binding:"omitempty,gte=0,lte=100"`
	BrokerCommissionAmount     *float64   `json:"brokerCommissionAmount" binding:"omitempty,gte=0"`
	CreatorRole                string     `json:"creatorRole" binding:"required,oneof=owner charterer broker seller buyer"`
}

type UpdateRoomStatusRequest struct {
	Status         string `json:"status" binding:"required,oneof=active pending completed cancelled"`
	StatusDetail   string `json:"statusDetail"`
	TimelinePhase  string `json:"timelinePhase"`
	CommissionPaid *bool  `json:"commissionPaid"`
}

type AddPartyRequest struct {
	Email string `json:"email" binding:"required,email"`
	Name  string `json:"name" binding:"required"`
	Role  string `json:"role" binding:"required,oneof=owner charterer broker seller buyer admin viewer"`
}

type CreateDocumentRequest struct {
	TypeCode  string     `json:"typeCode" binding:"required"`
	VesselID  *string    `json:"vesselId"`
	Priority  string     `json:"priority" binding:"omitempty,oneof=low normal high urgent"`
	ExpiresOn *time.Time `json:"expiresOn"`
}

type UpdateDocumentStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=missing under_review approved expired rejected"`
}

type UpdateApprovalRequest struct {
	Status string `json:"status" binding:"required,oneof=pending approved rejected"`
}

type AddVesselRequest struct {
	Name      string `json:"name" binding:"required"`
	IMO       string `json:"imo"`
	Owner     string `json:"owner"`
	Charterer string `json:"charterer"`
}

type CreateFindingRequest struct {
	Severity     string     `json:"severity" binding:"required,oneof=critical major minor"`
	Category     string     `json:"category" binding:"required"`
	Description  string     `json:"description"`
	ActionsTotal int        `json:"actionsTotal" binding:"gte=0"`
	TargetDate   *time.Time `json:"targetDate"`
}

type UpdateFindingProgressRequest struct {
	ActionsCompleted int `json:"actionsCompleted" binding:"gte=0"`
}

type AddCrewCertificationRequest struct {
	CrewName        string    `json:"crewName" binding:"required"`
	CertificateType string    `json:"certificateType" binding:"required"`
	IssuedOn        time.Time `json:"issuedOn" binding:"required"`
	ExpiresOn       time.Time `json:"expiresOn" binding:"required"`
}

type RecordPartyMetricRequest struct {
	PartyID           string  `json:"partyId" binding:"required"`
	ResponseTimeHours float64 `json:"responseTimeHours" binding:"gte=0"`
	QualityScore      float64 `json:"qualityScore" binding:"gte=0,lte=100"`
	ReliabilityIndex  float64 `json:"reliabilityIndex" binding:"gte=0,lte=100"`
}

// Response models
type AuthResponse struct {
	Status    string `json:"status"`
	UserID    string `json:"userId,omitempty"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	Role      string `json:"role,omitempty"`
	Token     string `json:"token,omitempty"`
	ExpiresIn int    `json:"expiresIn,omitempty"`
}

type RoomResponse struct {
	Status string `json:"status"`
	Room   *Room  `json:"room,omitempty"`
}

type RoomDetailResponse struct {
	Status    string     `json:"status"`
	Room      *Room      `json:"room"`
	Parties   []Party    `json:"parties"`
	Documents []Document `json:"documents"`
	Approvals []Approval `json:"approvals"`
	Vessels   []Vessel   `json:"vessels"`
}

type RoomListResponse struct {
	Status string `json:"status"`
	Rooms  []Room `json:"rooms"`
}

type MetricHistoryResponse struct {
	Status  string   `json:"status"`
	RoomID  string   `json:"roomId"`
	Metrics []Metric `json:"metrics"`
}

type NotificationListResponse struct {
	Status        string         `json:"status"`
	Notifications []Notification `json:"notifications"`
	Unread        int            `json:"unread"`
}

type ErrorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
