package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/rongwang/sts-clearance/internal/models"
	"github.com/rongwang/sts-clearance/internal/notification"
	"github.com/rongwang/sts-clearance/internal/repository"
)

// Service defines all the write-path business logic operations
type Service interface {
	// Authentication
	SignUp(ctx context.Context, req models.SignUpRequest) (*models.AuthResponse, error)
	Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error)

	// Room operations
	CreateRoom(ctx context.Context, userID string, req models.CreateRoomRequest) (*models.RoomResponse, error)
	ListRooms(ctx context.Context, userID string) (*models.RoomListResponse, error)
	GetRoom(ctx context.Context, userID, roomID string) (*models.RoomDetailResponse, error)
	UpdateRoomStatus(ctx context.Context, userID, roomID string, req models.UpdateRoomStatusRequest) (*models.RoomResponse, error)
	DeleteRoom(ctx context.Context, userID, roomID string) error

	// Parties and vessels
	AddParty(ctx context.Context, userID, roomID string, req models.AddPartyRequest) (*models.Party, error)
	AddVessel(ctx context.Context, userID, roomID string, req models.AddVesselRequest) (*models.Vessel, error)

	// Documents and approvals
	CreateDocument(ctx context.Context, userID, roomID string, req models.CreateDocumentRequest) (*models.Document, error)
	UpdateDocumentStatus(ctx context.Context, userID, documentID string, req models.UpdateDocumentStatusRequest) (*models.Document, error)
	UpdateApproval(ctx context.Context, userID, approvalID string, req models.UpdateApprovalRequest) (*models.Approval, error)

	// Compliance records
	CreateFinding(ctx context.Context, userID, vesselID string, req models.CreateFindingRequest) (*models.Finding, error)
	UpdateFindingProgress(ctx context.Context, userID, findingID string, req models.UpdateFindingProgressRequest) (*models.Finding, error)
	AddCrewCertification(ctx context.Context, userID, vesselID string, req models.AddCrewCertificationRequest) (*models.CrewCertification, error)
	RecordPartyMetric(ctx context.Context, userID, roomID string, req models.RecordPartyMetricRequest) (*models.PartyMetric, error)

	// Metric history and notifications
	GetMetricHistory(ctx context.Context, userID, roomID, metricType string, days int) (*models.MetricHistoryResponse, error)
	ListNotifications(ctx context.Context, userID string, unreadOnly bool) (*models.NotificationListResponse, error)
	MarkNotificationRead(ctx context.Context, userID, notificationID string) error

	// Access checks for the read-only room, vessel and finding views
	AuthorizeRoom(ctx context.Context, userID, roomID string) error
	AuthorizeVessel(ctx context.Context, userID, vesselID string) error
	AuthorizeFinding(ctx context.Context, userID, findingID string) error
}

// Options configures DefaultService
type Options struct {
	JWTSecret string
	TokenTTL  time.Duration
	// Tenant is stamped on users created through SignUp.
	Tenant string
	Now    func() time.Time
}

// DefaultService implements the Service interface
type DefaultService struct {
	repo          repository.Repository
	notifications notification.Store
	logger        *zap.Logger
	jwtSecret     []byte
	tokenDuration time.Duration
	tenant        string
	now           func() time.Time
}

// NewDefaultService creates a new DefaultService
func NewDefaultService(repo repository.Repository, notifications notification.Store, logger *zap.Logger, opts Options) Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &DefaultService{
		repo:          repo,
		notifications: notifications,
		logger:        logger.Named("service"),
		jwtSecret:     []byte(opts.JWTSecret),
		tokenDuration: opts.TokenTTL,
		tenant:        opts.Tenant,
		now:           opts.Now,
	}
}

// Authentication methods
func (s *DefaultService) SignUp(ctx context.Context, req models.SignUpRequest) (*models.AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	existingUser, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("error checking user existence: %w", err)
	}
	if existingUser != nil {
		return nil, fmt.Errorf("user with this email already exists: %w", models.ErrConflict)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	user := &models.User{
		ID:       uuid.New().String(),
		Email:    email,
		Name:     req.Name,
		Password: string(hashedPassword),
		Role:     strings.ToLower(req.Role),
		Company:  req.Company,
		TenantID: s.tenant,
		IsActive: true,
	}

	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	s.logger.Info("user signed up", zap.String("user_id", user.ID), zap.String("role", user.Role))

	return &models.AuthResponse{
		Status: "success",
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
		Role:   user.Role,
	}, nil
}

func (s *DefaultService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	user, err := s.repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		return nil, fmt.Errorf("error getting user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("invalid email or password: %w", models.ErrUnauthorized)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, fmt.Errorf("invalid email or password: %w", models.ErrUnauthorized)
	}
	if !user.IsActive {
		return nil, fmt.Errorf("account is disabled: %w", models.ErrForbidden)
	}

	token, err := s.generateJWT(user)
	if err != nil {
		return nil, fmt.Errorf("error generating token: %w", err)
	}

	if err := s.repo.TouchLastLogin(ctx, user.ID, s.now().UTC()); err != nil {
		s.logger.Warn("failed to record last login", zap.String("user_id", user.ID), zap.Error(err))
	}

	return &models.AuthResponse{
		Status:    "success",
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Role:      user.Role,
		Token:     token,
		ExpiresIn: int(s.tokenDuration.Seconds()),
	}, nil
}

// Helper methods
func (s *DefaultService) generateJWT(user *models.User) (string, error) {
	now := s.now()

	claims := jwt.MapClaims{
		"sub":   user.ID,
		"role":  user.Role,
		"email": user.Email,
		"exp":   now.Add(s.tokenDuration).Unix(),
		"iat":   now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// currentUser loads the authenticated user. A token for a deleted user is unauthorized.
func (s *DefaultService) currentUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error getting user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %s: %w", userID, models.ErrUnauthorized)
	}
	return user, nil
}

// roomForUser returns the room if the user is an admin or a party to it.
func (s *DefaultService) roomForUser(ctx context.Context, user *models.User, roomID string) (*models.Room, error) {
	room, err := s.repo.GetRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("error getting room: %w", err)
	}
	if room == nil {
		return nil, fmt.Errorf("room %s: %w", roomID, models.ErrNotFound)
	}
	if user.Role == models.PartyRoleAdmin {
		return room, nil
	}

	hasAccess, err := s.repo.CheckRoomAccess(ctx, roomID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("error checking room access: %w", err)
	}
	if !hasAccess {
		return nil, fmt.Errorf("you are not a party to room %s: %w", roomID, models.ErrForbidden)
	}
	return room, nil
}

// vesselForUser resolves a vessel and checks access to its room.
func (s *DefaultService) vesselForUser(ctx context.Context, user *models.User, vesselID string) (*models.Vessel, error) {
	vessel, err := s.repo.GetVessel(ctx, vesselID)
	if err != nil {
		return nil, fmt.Errorf("error getting vessel: %w", err)
	}
	if vessel == nil {
		return nil, fmt.Errorf("vessel %s: %w", vesselID, models.ErrNotFound)
	}
	if _, err := s.roomForUser(ctx, user, vessel.RoomID); err != nil {
		return nil, err
	}
	return vessel, nil
}

// logActivity records a write in the audit feed. Failures are logged, never returned.
func (s *DefaultService) logActivity(ctx context.Context, userID string, roomID *string, action, detail string) {
	entry := &models.ActivityLog{
		ID:        uuid.New().String(),
		UserID:    userID,
		RoomID:    roomID,
		Action:    action,
		Detail:    detail,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.LogActivity(ctx, entry); err != nil {
		s.logger.Warn("failed to record activity",
			zap.String("user_id", userID),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}
