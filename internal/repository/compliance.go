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

// Finding repository methods
func (r *PostgresRepository) CreateFinding(ctx context.Context, finding *models.Finding) error {
	if finding.ID == "" {
		finding.ID = uuid.New().String()
	}
	if finding.OpenedAt.IsZero() {
		finding.OpenedAt = time.Now().UTC()
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO findings (id, vessel_id, room_id, severity, category, description,
			actions_total, actions_completed, opened_at, target_date, resolved_at)
		VALUES (:id, :vessel_id, :room_id, :severity, :category, :description,
			:actions_total, :actions_completed, :opened_at, :target_date, :resolved_at)
	`, finding)

	return err
}

func (r *PostgresRepository) GetFinding(ctx context.Context, findingID string) (*models.Finding, error) {
	var finding models.Finding
	err := r.db.GetContext(ctx, &finding, `SELECT * FROM findings WHERE id = $1`, findingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &finding, nil
}

func (r *PostgresRepository) UpdateFindingProgress(ctx context.Context, findingID string, completed int, resolvedAt *time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE findings SET actions_completed = $1, resolved_at = $2 WHERE id = $3`,
		completed, resolvedAt, findingID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) ListFindings(ctx context.Context, vesselIDs []string, openOnly bool) ([]models.Finding, error) {
	q := r.sb.Select("*").From("findings").
		Where(sq.Eq{"vessel_id": vesselIDs}).
		OrderBy("opened_at", "id")
	if openOnly {
		q = q.Where(sq.Eq{"resolved_at": nil})
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	var findings []models.Finding
	if err := r.db.SelectContext(ctx, &findings, sqlStr, args...); err != nil {
		return nil, err
	}
	return findings, nil
}

// Crew certification repository methods
func (r *PostgresRepository) CreateCrewCertification(ctx context.Context, cert *models.CrewCertification) error {
	if cert.ID == "" {
		cert.ID = uuid.New().String()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO crew_certifications (id, vessel_id, crew_name, certificate_type, issued_on, expires_on)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, cert.ID, cert.VesselID, cert.CrewName, cert.CertificateType, cert.IssuedOn, cert.ExpiresOn)

	return err
}

func (r *PostgresRepository) ListCrewCertifications(ctx context.Context, vesselID string) ([]models.CrewCertification, error) {
	var certs []models.CrewCertification
	err := r.db.SelectContext(ctx, &certs,
		`SELECT * FROM crew_certifications WHERE vessel_id = $1 ORDER BY expires_on, id`, vesselID)
	if err != nil {
		return nil, err
	}
	return certs, nil
}

// Metric repository methods
func (r *PostgresRepository) UpsertPartyMetric(ctx context.Context, metric *models.PartyMetric) error {
	if metric.ID == "" {
		metric.ID = uuid.New().String()
	}
	if metric.CreatedAt.IsZero() {
		metric.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO party_metrics (id, party_id, room_id, response_time_hours, quality_score, reliability_index, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (party_id, room_id) DO UPDATE SET
			response_time_hours = EXCLUDED.response_time_hours,
			quality_score = EXCLUDED.quality_score,
			reliability_index = EXCLUDED.reliability_index,
			created_at = EXCLUDED.created_at
	`, metric.ID, metric.PartyID, metric.RoomID, metric.ResponseTimeHours, metric.QualityScore,
		metric.ReliabilityIndex, metric.CreatedAt)

	return err
}

func (r *PostgresRepository) ListPartyMetrics(ctx context.Context, roomIDs []string, since time.Time) ([]models.PartyMetric, error) {
	sqlStr, args, err := r.sb.Select("*").From("party_metrics").
		Where(sq.Eq{"room_id": roomIDs}).
		Where(sq.GtOrEq{"created_at": since}).
		OrderBy("party_id", "created_at").
		ToSql()
	if err != nil {
		return nil, err
	}

	var metrics []models.PartyMetric
	if err := r.db.SelectContext(ctx, &metrics, sqlStr, args...); err != nil {
		return nil, err
	}
	return metrics, nil
}

func (r *PostgresRepository) UpsertMetric(ctx context.Context, metric *models.Metric) error {
	if metric.ID == "" {
		metric.ID = uuid.New().String()
	}
	metric.CreatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO metrics (id, room_id, metric_type, date, value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (room_id, metric_type, date) DO UPDATE SET value = EXCLUDED.value, created_at = EXCLUDED.created_at
	`, metric.ID, metric.RoomID, metric.MetricType, metric.Date, metric.Value, metric.CreatedAt)

	return err
}

func (r *PostgresRepository) ListMetrics(ctx context.Context, roomID, metricType string, since time.Time) ([]models.Metric, error) {
	q := r.sb.Select("*").From("metrics").
		Where(sq.Eq{"room_id": roomID}).
		Where(sq.GtOrEq{"date": since}).
		OrderBy("date", "metric_type")
	if metricType != "" {
		q = q.Where(sq.Eq{"metric_type": metricType})
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	var metrics []models.Metric
	if err := r.db.SelectContext(ctx, &metrics, sqlStr, args...); err != nil {
		return nil, err
	}
	return metrics, nil
}

// Activity log repository methods
func (r *PostgresRepository) LogActivity(ctx context.Context, entry *models.ActivityLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO activity_logs (id, user_id, room_id, action, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.UserID, entry.RoomID, entry.Action, entry.Detail, entry.CreatedAt)

	return err
}

func (r *PostgresRepository) ListRecentActivity(ctx context.Context, limit int) ([]models.ActivityLog, error) {
	var entries []models.ActivityLog
	err := r.db.SelectContext(ctx, &entries,
		`SELECT * FROM activity_logs ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return entries, nil
}
