package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/rongwang/sts-clearance/internal/models"
)

const documentColumns = `d.id, d.room_id, d.vessel_id, d.type_id, dt.name AS type_name, d.status, d.priority,
	dt.criticality, dt.required, d.expires_on, d.uploaded_by, d.created_at, d.updated_at`

// Document repository methods
func (r *PostgresRepository) GetDocumentTypeByCode(ctx context.Context, code string) (*models.DocumentType, error) {
	var dt models.DocumentType
	err := r.db.GetContext(ctx, &dt, `SELECT * FROM document_types WHERE code = $1`, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &dt, nil
}

func (r *PostgresRepository) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.Status == "" {
		doc.Status = models.DocumentStatusMissing
	}
	if doc.Priority == "" {
		doc.Priority = "normal"
	}

	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO documents (id, room_id, vessel_id, type_id, status, priority, expires_on, uploaded_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, doc.ID, doc.RoomID, doc.VesselID, doc.TypeID, doc.Status, doc.Priority, doc.ExpiresOn,
		doc.UploadedBy, doc.CreatedAt, doc.UpdatedAt)

	return err
}

func (r *PostgresRepository) GetDocument(ctx context.Context, documentID string) (*models.Document, error) {
	var doc models.Document
	err := r.db.GetContext(ctx, &doc,
		`SELECT `+documentColumns+` FROM documents d JOIN document_types dt ON dt.id = d.type_id WHERE d.id = $1`,
		documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &doc, nil
}

func (r *PostgresRepository) UpdateDocumentStatus(ctx context.Context, documentID, status string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE documents SET status = $1, updated_at = $2 WHERE id = $3`, status, time.Now().UTC(), documentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) ListDocuments(ctx context.Context, filter DocumentFilter) ([]models.Document, error) {
	q := r.sb.Select(documentColumns).
		From("documents d").
		Join("document_types dt ON dt.id = d.type_id").
		OrderBy("d.room_id", "d.created_at", "d.id")

	if filter.RoomIDs != nil {
		q = q.Where(sq.Eq{"d.room_id": filter.RoomIDs})
	}
	if filter.VesselIDs != nil {
		q = q.Where(sq.Eq{"d.vessel_id": filter.VesselIDs})
	}
	if filter.Statuses != nil {
		q = q.Where(sq.Eq{"d.status": filter.Statuses})
	}
	if filter.UpdatedSince != nil {
		q = q.Where(sq.GtOrEq{"d.updated_at": *filter.UpdatedSince})
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	var docs []models.Document
	if err := r.db.SelectContext(ctx, &docs, sqlStr, args...); err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *PostgresRepository) DocumentCounts(ctx context.Context, roomID string) (int, int, error) {
	var counts struct {
		Total    int `db:"total"`
		Approved int `db:"approved"`
	}
	err := r.db.GetContext(ctx, &counts, `
		SELECT COUNT(*) AS total, COUNT(*) FILTER (WHERE status = 'approved') AS approved
		FROM documents WHERE room_id = $1
	`, roomID)
	if err != nil {
		return 0, 0, err
	}
	return counts.Total, counts.Approved, nil
}

func (r *PostgresRepository) CountDocumentsByStatus(ctx context.Context) (map[string]int, error) {
	return r.countByStatus(ctx, "documents")
}

// Approval repository methods
func (r *PostgresRepository) GetApproval(ctx context.Context, approvalID string) (*models.Approval, error) {
	var approval models.Approval
	err := r.db.GetContext(ctx, &approval, `SELECT * FROM approvals WHERE id = $1`, approvalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &approval, nil
}

func (r *PostgresRepository) UpdateApprovalStatus(ctx context.Context, approvalID, status string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE approvals SET status = $1, updated_at = $2 WHERE id = $3`, status, at, approvalID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) ListApprovals(ctx context.Context, filter ApprovalFilter) ([]models.Approval, error) {
	q := r.sb.Select("*").From("approvals").OrderBy("room_id", "updated_at", "id")

	if filter.RoomIDs != nil {
		q = q.Where(sq.Eq{"room_id": filter.RoomIDs})
	}
	if filter.Statuses != nil {
		q = q.Where(sq.Eq{"status": filter.Statuses})
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	var approvals []models.Approval
	if err := r.db.SelectContext(ctx, &approvals, sqlStr, args...); err != nil {
		return nil, err
	}
	return approvals, nil
}

func (r *PostgresRepository) ApprovalCounts(ctx context.Context, roomID string) (int, int, int, error) {
	var counts struct {
		Total    int `db:"total"`
		Approved int `db:"approved"`
		Pending  int `db:"pending"`
	}
	err := r.db.GetContext(ctx, &counts, `
		SELECT COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'approved') AS approved,
			COUNT(*) FILTER (WHERE status = 'pending') AS pending
		FROM approvals WHERE room_id = $1
	`, roomID)
	if err != nil {
		return 0, 0, 0, err
	}
	return counts.Total, counts.Approved, counts.Pending, nil
}

func (r *PostgresRepository) CountApprovalsByStatus(ctx context.Context) (map[string]int, error) {
	return r.countByStatus(ctx, "approvals")
}

func (r *PostgresRepository) countByStatus(ctx context.Context, table string) (map[string]int, error) {
	sqlStr, args, err := r.sb.Select("status", "COUNT(*) AS n").From(table).GroupBy("status").ToSql()
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	if err := r.db.SelectContext(ctx, &rows, sqlStr, args...); err != nil {
		return nil, err
	}

	out := make(map[string]int, len(rows))
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}

// Vessel repository methods
func (r *PostgresRepository) CreateVessel(ctx context.Context, vessel *models.Vessel) error {
	if vessel.ID == "" {
		vessel.ID = uuid.New().String()
	}
	vessel.CreatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO vessels (id, room_id, name, imo, owner, charterer, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, vessel.ID, vessel.RoomID, vessel.Name, vessel.IMO, vessel.Owner, vessel.Charterer, vessel.CreatedAt)

	return err
}

func (r *PostgresRepository) GetVessel(ctx context.Context, vesselID string) (*models.Vessel, error) {
	var vessel models.Vessel
	err := r.db.GetContext(ctx, &vessel, `SELECT * FROM vessels WHERE id = $1`, vesselID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &vessel, nil
}

func (r *PostgresRepository) ListVessels(ctx context.Context, roomIDs []string) ([]models.Vessel, error) {
	sqlStr, args, err := r.sb.Select("*").From("vessels").
		Where(sq.Eq{"room_id": roomIDs}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, err
	}

	var vessels []models.Vessel
	if err := r.db.SelectContext(ctx, &vessels, sqlStr, args...); err != nil {
		return nil, err
	}
	return vessels, nil
}
