package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/rongwang/sts-clearance/internal/models"
	"github.com/rongwang/sts-clearance/internal/repository"
)

// fakeRepo is an in-memory Repository. Methods the tests never reach are left to
// the embedded nil interface and panic if called.
type fakeRepo struct {
	repository.Repository

	mu        sync.Mutex
	users     map[string]*models.User
	rooms     map[string]*models.Room
	parties   []models.Party
	approvals map[string]*models.Approval
	vessels   map[string]*models.Vessel
	findings  map[string]*models.Finding
	metrics   []models.PartyMetric
	series    []models.Metric
	activity  []models.ActivityLog
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:     map[string]*models.User{},
		rooms:     map[string]*models.Room{},
		approvals: map[string]*models.Approval{},
		vessels:   map[string]*models.Vessel{},
		findings:  map[string]*models.Finding{},
	}
}

func (r *fakeRepo) CreateUser(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := *user
	r.users[u.ID] = &u
	return nil
}

func (r *fakeRepo) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) GetUserByID(_ context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		c := *u
		return &c, nil
	}
	return nil, nil
}

func (r *fakeRepo) TouchLastLogin(_ context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		u.LastLoginAt = &at
	}
	return nil
}

func (r *fakeRepo) CreateRoom(_ context.Context, room *models.Room, creator *models.Party) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room.CreatedAt = time.Now().UTC()
	room.UpdatedAt = room.CreatedAt
	c := *room
	r.rooms[room.ID] = &c
	if creator != nil {
		creator.RoomID = room.ID
		r.addPartyLocked(creator)
	}
	return nil
}

func (r *fakeRepo) addPartyLocked(p *models.Party) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	r.parties = append(r.parties, *p)
	id := uuid.New().String()
	r.approvals[id] = &models.Approval{ID: id, RoomID: p.RoomID, PartyID: p.ID, Status: models.ApprovalStatusPending}
}

func (r *fakeRepo) GetRoom(_ context.Context, roomID string) (*models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[roomID]; ok {
		c := *room
		return &c, nil
	}
	return nil, nil
}

func (r *fakeRepo) ListRooms(_ context.Context, f repository.RoomFilter) ([]models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Room
	for _, room := range r.rooms {
		if f.PartyEmail != "" && !r.isPartyLocked(room.ID, f.PartyEmail) {
			continue
		}
		out = append(out, *room)
	}
	return out, nil
}

func (r *fakeRepo) UpdateRoomStatus(_ context.Context, roomID string, upd repository.RoomStatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return models.ErrNotFound
	}
	room.Status = upd.Status
	if upd.CommissionPaid != nil {
		room.CommissionPaid = *upd.CommissionPaid
	}
	return nil
}

func (r *fakeRepo) DeleteRoom(_ context.Context, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, roomID)
	r.parties = lo.Reject(r.parties, func(p models.Party, _ int) bool { return p.RoomID == roomID })
	return nil
}

func (r *fakeRepo) AddParty(_ context.Context, party *models.Party) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lo.ContainsBy(r.parties, func(p models.Party) bool {
		return p.RoomID == party.RoomID && strings.EqualFold(p.Email, party.Email) && p.Role == party.Role
	}) {
		return models.ErrConflict
	}
	r.addPartyLocked(party)
	return nil
}

func (r *fakeRepo) GetParty(_ context.Context, partyID string) (*models.Party, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := lo.Find(r.parties, func(p models.Party) bool { return p.ID == partyID })
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *fakeRepo) ListParties(_ context.Context, roomIDs []string) ([]models.Party, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Filter(r.parties, func(p models.Party, _ int) bool { return lo.Contains(roomIDs, p.RoomID) }), nil
}

func (r *fakeRepo) isPartyLocked(roomID, email string) bool {
	return lo.ContainsBy(r.parties, func(p models.Party) bool {
		return p.RoomID == roomID && strings.EqualFold(p.Email, email)
	})
}

func (r *fakeRepo) CheckRoomAccess(_ context.Context, roomID, email string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isPartyLocked(roomID, email), nil
}

func (r *fakeRepo) ListDocuments(context.Context, repository.DocumentFilter) ([]models.Document, error) {
	return nil, nil
}

func (r *fakeRepo) ListApprovals(_ context.Context, f repository.ApprovalFilter) ([]models.Approval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Approval
	for _, a := range r.approvals {
		if f.RoomIDs == nil || lo.Contains(f.RoomIDs, a.RoomID) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *fakeRepo) GetApproval(_ context.Context, approvalID string) (*models.Approval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.approvals[approvalID]; ok {
		c := *a
		return &c, nil
	}
	return nil, nil
}

func (r *fakeRepo) UpdateApprovalStatus(_ context.Context, approvalID, status string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.approvals[approvalID]
	if !ok {
		return models.ErrNotFound
	}
	a.Status, a.UpdatedAt = status, at
	return nil
}

func (r *fakeRepo) CreateVessel(_ context.Context, vessel *models.Vessel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *vessel
	r.vessels[c.ID] = &c
	return nil
}

func (r *fakeRepo) GetVessel(_ context.Context, vesselID string) (*models.Vessel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.vessels[vesselID]; ok {
		c := *v
		return &c, nil
	}
	return nil, nil
}

func (r *fakeRepo) ListVessels(_ context.Context, roomIDs []string) ([]models.Vessel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Vessel
	for _, v := range r.vessels {
		if lo.Contains(roomIDs, v.RoomID) {
			out = append(out, *v)
		}
	}
	return out, nil
}

func (r *fakeRepo) CreateFinding(_ context.Context, finding *models.Finding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *finding
	r.findings[c.ID] = &c
	return nil
}

func (r *fakeRepo) GetFinding(_ context.Context, findingID string) (*models.Finding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.findings[findingID]; ok {
		c := *f
		return &c, nil
	}
	return nil, nil
}

func (r *fakeRepo) UpdateFindingProgress(_ context.Context, findingID string, completed int, resolvedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.findings[findingID]
	if !ok {
		return models.ErrNotFound
	}
	f.ActionsCompleted, f.ResolvedAt = completed, resolvedAt
	return nil
}

func (r *fakeRepo) UpsertPartyMetric(_ context.Context, metric *models.PartyMetric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = append(r.metrics, *metric)
	return nil
}

func (r *fakeRepo) ListMetrics(_ context.Context, roomID, metricType string, since time.Time) ([]models.Metric, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Filter(r.series, func(m models.Metric, _ int) bool {
		return m.RoomID == roomID && (metricType == "" || m.MetricType == metricType) && !m.Date.Before(since)
	}), nil
}

func (r *fakeRepo) LogActivity(_ context.Context, entry *models.ActivityLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activity = append(r.activity, *entry)
	return nil
}

func (r *fakeRepo) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Map(r.activity, func(a models.ActivityLog, _ int) string { return a.Action })
}
