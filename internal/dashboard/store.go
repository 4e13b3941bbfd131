package dashboard

import (
	"context"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/rongwang/sts-clearance/internal/models"
	"github.com/rongwang/sts-clearance/internal/repository"
)

// Store is the read-only view of the persistence layer the dashboards consume.
// repository.PostgresRepository satisfies it.
type Store interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	CountUsers(ctx context.Context) (total int, active int, err error)

	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	ListRooms(ctx context.Context, filter repository.RoomFilter) ([]models.Room, error)
	CountRooms(ctx context.Context) (int, error)
	ListParties(ctx context.Context, roomIDs []string) ([]models.Party, error)

	ListDocuments(ctx context.Context, filter repository.DocumentFilter) ([]models.Document, error)
	DocumentCounts(ctx context.Context, roomID string) (total int, approved int, err error)
	CountDocumentsByStatus(ctx context.Context) (map[string]int, error)

	ListApprovals(ctx context.Context, filter repository.ApprovalFilter) ([]models.Approval, error)
	ApprovalCounts(ctx context.Context, roomID string) (total int, approved int, pending int, err error)
	CountApprovalsByStatus(ctx context.Context) (map[string]int, error)

	GetVessel(ctx context.Context, vesselID string) (*models.Vessel, error)
	ListVessels(ctx context.Context, roomIDs []string) ([]models.Vessel, error)
	GetFinding(ctx context.Context, findingID string) (*models.Finding, error)
	ListFindings(ctx context.Context, vesselIDs []string, openOnly bool) ([]models.Finding, error)
	ListCrewCertifications(ctx context.Context, vesselID string) ([]models.CrewCertification, error)

	ListPartyMetrics(ctx context.Context, roomIDs []string, since time.Time) ([]models.PartyMetric, error)
	ListRecentActivity(ctx context.Context, limit int) ([]models.ActivityLog, error)
}

// Options carries the business parameters shared by the dashboard services.
type Options struct {
	// GracePeriodDays is subtracted from elapsed days before flat demurrage accrues.
	GracePeriodDays float64
	// DefaultCommissionRate applies to rooms without a negotiated commission (0.015 = 1.5%).
	DefaultCommissionRate float64
	// Tenant, when set, restricts dashboards to users of that tenant.
	Tenant string
	// CacheTTL is the nominal freshness advertised in the dashboard envelope.
	CacheTTL time.Duration
	// SireCacheTTL bounds how long a SIRE score fetched from the provider is reused.
	SireCacheTTL time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.DefaultCommissionRate <= 0 {
		o.DefaultCommissionRate = 0.015
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = 5 * time.Minute
	}
	if o.SireCacheTTL <= 0 {
		o.SireCacheTTL = 24 * time.Hour
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// base holds what every dashboard service needs.
type base struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func newBase(store Store, logger *zap.Logger, name string, opts Options) base {
	if logger == nil {
		logger = zap.NewNop()
	}
	return base{store: store, logger: logger.Named(name), now: opts.Now}
}

// fail logs a metric failure and wraps it as a MetricError.
func (b base) fail(op, entityID string, err error) error {
	b.logger.Warn("dashboard metric failed",
		zap.String("op", op),
		zap.String("entity_id", entityID),
		zap.Error(err),
	)
	return &MetricError{Op: op, EntityID: entityID, Err: err}
}

func (b base) hoursSince(t time.Time) float64 {
	h := b.now().Sub(t).Hours()
	if h < 0 {
		return 0
	}
	return h
}

func roomIDs(rooms []models.Room) []string {
	return lo.Map(rooms, func(r models.Room, _ int) string { return r.ID })
}
