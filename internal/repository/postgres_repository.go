package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/rongwang/sts-clearance/internal/models"
)

// Repository interface defines the methods that any repository implementation must satisfy
type Repository interface {
	// User operations
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
	CountUsers(ctx context.Context) (total int, active int, err error)

	// Room operations
	CreateRoom(ctx context.Context, room *models.Room, creator *models.Party) error
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	ListRooms(ctx context.Context, filter RoomFilter) ([]models.Room, error)
	CountRooms(ctx context.Context) (int, error)
	UpdateRoomStatus(ctx context.Context, roomID string, upd RoomStatusUpdate) error
	DeleteRoom(ctx context.Context, roomID string) error

	// Party operations
	AddParty(ctx context.Context, party *models.Party) error
	GetParty(ctx context.Context, partyID string) (*models.Party, error)
	ListParties(ctx context.Context, roomIDs []string) ([]models.Party, error)
	CheckRoomAccess(ctx context.Context, roomID, email string) (bool, error)

	// Document operations
	GetDocumentTypeByCode(ctx context.Context, code string) (*models.DocumentType, error)
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, documentID string) (*models.Document, error)
	UpdateDocumentStatus(ctx context.Context, documentID, status string) error
	ListDocuments(ctx context.Context, filter DocumentFilter) ([]models.Document, error)
	DocumentCounts(ctx context.Context, roomID string) (total int, approved int, err error)
	CountDocumentsByStatus(ctx context.Context) (map[string]int, error)

	// Approval operations
	GetApproval(ctx context.Context, approvalID string) (*models.Approval, error)
	UpdateApprovalStatus(ctx context.Context, approvalID, status string, at time.Time) error
	ListApprovals(ctx context.Context, filter ApprovalFilter) ([]models.Approval, error)
	ApprovalCounts(ctx context.Context, roomID string) (total int, approved int, pending int, err error)
	CountApprovalsByStatus(ctx context.Context) (map[string]int, error)

	// Vessel operations
	CreateVessel(ctx context.Context, vessel *models.Vessel) error
	GetVessel(ctx context.Context, vesselID string) (*models.Vessel, error)
	ListVessels(ctx context.Context, roomIDs []string) ([]models.Vessel, error)

	// Compliance operations
	CreateFinding(ctx context.Context, finding *models.Finding) error
	GetFinding(ctx context.Context, findingID string) (*models.Finding, error)
	UpdateFindingProgress(ctx context.Context, findingID string, completed int, resolvedAt *time.Time) error
	ListFindings(ctx context.Context, vesselIDs []string, openOnly bool) ([]models.Finding, error)
	CreateCrewCertification(ctx context.Context, cert *models.CrewCertification) error
	ListCrewCertifications(ctx context.Context, vesselID string) ([]models.CrewCertification, error)

	// Metric operations
	UpsertPartyMetric(ctx context.Context, metric *models.PartyMetric) error
	ListPartyMetrics(ctx context.Context, roomIDs []string, since time.Time) ([]models.PartyMetric, error)
	UpsertMetric(ctx context.Context, metric *models.Metric) error
	ListMetrics(ctx context.Context, roomID, metricType string, since time.Time) ([]models.Metric, error)

	// Activity log operations
	LogActivity(ctx context.Context, entry *models.ActivityLog) error
	ListRecentActivity(ctx context.Context, limit int) ([]models.ActivityLog, error)
}

// RoomFilter narrows ListRooms. Nil slices and zero values mean "no constraint".
type RoomFilter struct {
	IDs             []string
	Statuses        []string
	ExcludeStatuses []string
	PartyEmail      string
	PartyRole       string
	CreatedSince    *time.Time
	ETABefore       *time.Time
}

// RoomStatusUpdate carries the mutable status fields of a room
type RoomStatusUpdate struct {
	Status         string
	StatusDetail   string
	TimelinePhase  string
	CommissionPaid *bool
}

// DocumentFilter narrows ListDocuments
type DocumentFilter struct {
	RoomIDs      []string
	VesselIDs    []string
	Statuses     []string
	UpdatedSince *time.Time
}

// ApprovalFilter narrows ListApprovals
type ApprovalFilter struct {
	RoomIDs  []string
	Statuses []string
}

// PostgresRepository implements the Repository interface using PostgreSQL
type PostgresRepository struct {
	db *sqlx.DB
	sb sq.StatementBuilderType
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// GetDB returns the underlying database connection
func (r *PostgresRepository) GetDB() *sqlx.DB {
	return r.db
}

// User repository methods
func (r *PostgresRepository) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, email, name, password, role, company, tenant_id, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	// Generate a new UUID if not provided
	if user.ID == "" {
		user.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Email, user.Name, user.Password, user.Role, user.Company,
		user.TenantID, user.IsActive, user.CreatedAt, user.UpdatedAt)

	return err
}

func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT * FROM users WHERE email = $1`

	var user models.User
	err := r.db.GetContext(ctx, &user, query, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // User not found
		}
		return nil, err
	}

	return &user, nil
}

func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT * FROM users WHERE id = $1`

	var user models.User
	err := r.db.GetContext(ctx, &user, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // User not found
		}
		return nil, err
	}

	return &user, nil
}

func (r *PostgresRepository) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = $1, updated_at = $1 WHERE id = $2`, at, userID)
	return err
}

func (r *PostgresRepository) CountUsers(ctx context.Context) (int, int, error) {
	var counts struct {
		Total  int `db:"total"`
		Active int `db:"active"`
	}
	err := r.db.GetContext(ctx, &counts,
		`SELECT COUNT(*) AS total, COUNT(*) FILTER (WHERE is_active) AS active FROM users`)
	if err != nil {
		return 0, 0, err
	}
	return counts.Total, counts.Active, nil
}

// Room repository methods
func (r *PostgresRepository) CreateRoom(ctx context.Context, room *models.Room, creator *models.Party) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
			return
		}
	}()

	// Generate a new UUID if not provided
	if room.ID == "" {
		room.ID = uuid.New().String()
	}
	if room.Status == "" {
		room.Status = models.RoomStatusActive
	}

	now := time.Now().UTC()
	room.CreatedAt = now
	room.UpdatedAt = now

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO rooms (id, title, location, eta_scheduled, eta_estimated, status, status_detail, timeline_phase,
			cargo_type, cargo_quantity, cargo_value_usd, demurrage_rate_per_day, demurrage_rate_per_hour,
			broker_commission_percentage, broker_commission_amount, commission_paid, created_by, created_at, updated_at)
		VALUES (:id, :title, :location, :eta_scheduled, :eta_estimated, :status, :status_detail, :timeline_phase,
			:cargo_type, :cargo_quantity, :cargo_value_usd, :demurrage_rate_per_day, :demurrage_rate_per_hour,
			:broker_commission_percentage, :broker_commission_amount, :commission_paid, :created_by, :created_at, :updated_at)
	`, room)
	if err != nil {
		return err
	}

	// The creator joins the room as a party with a pending approval
	if creator != nil {
		creator.RoomID = room.ID
		err = r.addPartyTx(ctx, tx, creator)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *PostgresRepository) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	query := `SELECT * FROM rooms WHERE id = $1`

	var room models.Room
	err := r.db.GetContext(ctx, &room, query, roomID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Room not found
		}
		return nil, err
	}

	return &room, nil
}

func (r *PostgresRepository) ListRooms(ctx context.Context, filter RoomFilter) ([]models.Room, error) {
	q := r.sb.Select("r.*").From("rooms r").OrderBy("r.created_at ASC", "r.id ASC")

	if filter.IDs != nil {
		q = q.Where(sq.Eq{"r.id": filter.IDs})
	}
	if filter.Statuses != nil {
		q = q.Where(sq.Eq{"r.status": filter.Statuses})
	}
	if len(filter.ExcludeStatuses) > 0 {
		q = q.Where(sq.NotEq{"r.status": filter.ExcludeStatuses})
	}
	if filter.PartyEmail != "" {
		sub := "r.id IN (SELECT p.room_id FROM parties p WHERE LOWER(p.email) = LOWER(?)"
		args := []interface{}{filter.PartyEmail}
		if filter.PartyRole != "" {
			sub += " AND p.role = ?"
			args = append(args, filter.PartyRole)
		}
		q = q.Where(sq.Expr(sub+")", args...))
	}
	if filter.CreatedSince != nil {
		q = q.Where(sq.GtOrEq{"r.created_at": *filter.CreatedSince})
	}
	if filter.ETABefore != nil {
		q = q.Where(sq.Lt{"r.eta_estimated": *filter.ETABefore})
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	var rooms []models.Room
	if err := r.db.SelectContext(ctx, &rooms, sqlStr, args...); err != nil {
		return nil, err
	}

	return rooms, nil
}

func (r *PostgresRepository) CountRooms(ctx context.Context) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM rooms`)
	return n, err
}

func (r *PostgresRepository) UpdateRoomStatus(ctx context.Context, roomID string, upd RoomStatusUpdate) error {
	set := sq.Eq{
		"status":     upd.Status,
		"updated_at": time.Now().UTC(),
	}
	if upd.StatusDetail != "" {
		set["status_detail"] = upd.StatusDetail
	}
	if upd.TimelinePhase != "" {
		set["timeline_phase"] = upd.TimelinePhase
	}
	if upd.CommissionPaid != nil {
		set["commission_paid"] = *upd.CommissionPaid
	}

	sqlStr, args, err := r.sb.Update("rooms").SetMap(set).Where(sq.Eq{"id": roomID}).ToSql()
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}

	return nil
}

func (r *PostgresRepository) DeleteRoom(ctx context.Context, roomID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
			return
		}
	}()

	// There are no foreign keys from child tables, so every dependant row is removed explicitly
	cascade := []string{
		`DELETE FROM crew_certifications WHERE vessel_id IN (SELECT id FROM vessels WHERE room_id = $1)`,
		`DELETE FROM findings WHERE room_id = $1`,
		`DELETE FROM approvals WHERE room_id = $1`,
		`DELETE FROM documents WHERE room_id = $1`,
		`DELETE FROM vessels WHERE room_id = $1`,
		`DELETE FROM party_metrics WHERE room_id = $1`,
		`DELETE FROM metrics WHERE room_id = $1`,
		`DELETE FROM parties WHERE room_id = $1`,
	}
	for _, stmt := range cascade {
		_, err = tx.ExecContext(ctx, stmt, roomID)
		if err != nil {
			return err
		}
	}

	// Delete the room
	_, err = tx.ExecContext(ctx, `DELETE FROM rooms WHERE id = $1`, roomID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// Party repository methods
// addPartyTx adds a party and its pending approval within an existing transaction
func (r *PostgresRepository) addPartyTx(ctx context.Context, tx *sqlx.Tx, party *models.Party) error {
	if party.ID == "" {
		party.ID = uuid.New().String()
	}
	if party.CreatedAt.IsZero() {
		party.CreatedAt = time.Now().UTC()
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO parties (id, room_id, role, name, email, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		party.ID, party.RoomID, party.Role, party.Name, party.Email, party.CreatedAt)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO approvals (id, room_id, party_id, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $5)`,
		uuid.New().String(), party.RoomID, party.ID, models.ApprovalStatusPending, party.CreatedAt)

	return err
}

func (r *PostgresRepository) AddParty(ctx context.Context, party *models.Party) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
			return
		}
	}()

	var exists bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM parties WHERE room_id = $1 AND LOWER(email) = LOWER($2) AND role = $3)`,
		party.RoomID, party.Email, party.Role).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		err = models.ErrConflict
		return err
	}

	err = r.addPartyTx(ctx, tx, party)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (r *PostgresRepository) GetParty(ctx context.Context, partyID string) (*models.Party, error) {
	var party models.Party
	err := r.db.GetContext(ctx, &party, `SELECT * FROM parties WHERE id = $1`, partyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &party, nil
}

func (r *PostgresRepository) ListParties(ctx context.Context, roomIDs []string) ([]models.Party, error) {
	sqlStr, args, err := r.sb.Select("*").From("parties").
		Where(sq.Eq{"room_id": roomIDs}).
		OrderBy("room_id", "created_at", "id").
		ToSql()
	if err != nil {
		return nil, err
	}

	var parties []models.Party
	if err := r.db.SelectContext(ctx, &parties, sqlStr, args...); err != nil {
		return nil, err
	}
	return parties, nil
}

func (r *PostgresRepository) CheckRoomAccess(ctx context.Context, roomID, email string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM parties WHERE room_id = $1 AND LOWER(email) = LOWER($2))`, roomID, email)
	if err != nil {
		return false, err
	}
	return exists, nil
}
