package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rongwang/sts-clearance/internal/models"
	"github.com/rongwang/sts-clearance/internal/repository"
)

// Room operations
func (s *DefaultService) CreateRoom(ctx context.Context, userID string, req models.CreateRoomRequest) (*models.RoomResponse, error) {
	user, err := s.currentUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if req.ETAScheduled != nil && req.ETAEstimated == nil {
		req.ETAEstimated = req.ETAScheduled
	}

	room := &models.Room{
		ID:                         uuid.New().String(),
		Title:                      req.Title,
		Location:                   req.Location,
		ETAScheduled:               req.ETAScheduled,
		ETAEstimated:               req.ETAEstimated,
		Status:                     models.RoomStatusActive,
		CargoType:                  req.CargoType,
		CargoQuantity:              req.CargoQuantity,
		CargoValueUSD:              req.CargoValueUSD,
		DemurrageRatePerDay:        req.DemurrageRatePerDay,
		BrokerCommissionPercentage: req.BrokerCommissionPercentage,
		BrokerCommissionAmount:     req.BrokerCommissionAmount,
		CreatedBy:                  user.ID,
	}

	// The creator joins as a party in the role they declared
	creator := &models.Party{
		Role:  req.CreatorRole,
		Name:  user.Name,
		Email: user.Email,
	}

	if err := s.repo.CreateRoom(ctx, room, creator); err != nil {
		return nil, fmt.Errorf("error creating room: %w", err)
	}

	s.logActivity(ctx, user.ID, &room.ID, "room.create", room.Title)

	return &models.RoomResponse{Status: "success", Room: room}, nil
}

func (s *DefaultService) ListRooms(ctx context.Context, userID string) (*models.RoomListResponse, error) {
	user, err := s.currentUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	filter := repository.RoomFilter{}
	if user.Role != models.PartyRoleAdmin {
		filter.PartyEmail = user.Email
	}

	rooms, err := s.repo.ListRooms(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("error listing rooms: %w", err)
	}
	if rooms == nil {
		rooms = []models.Room{}
	}

	return &models.RoomListResponse{Status: "success", Rooms: rooms}, nil
}

func (s *DefaultService) GetRoom(ctx context.Context, userID, roomID string) (*models.RoomDetailResponse, error) {
	user, err := s.currentUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	room, err := s.roomForUser(ctx, user, roomID)
	if err != nil {
		return nil, err
	}

	ids := []string{room.ID}
	parties, err := s.repo.ListParties(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("error listing parties: %w", err)
	}
	documents, err := s.repo.ListDocuments(ctx, repository.DocumentFilter{RoomIDs: ids})
	if err != nil {
		return nil, fmt.Errorf("error listing documents: %w", err)
	}
	approvals, err := s.repo.ListApprovals(ctx, repository.ApprovalFilter{RoomIDs: ids})
	if err != nil {
		return nil, fmt.Errorf("error listing approvals: %w", err)
	}
	vessels, err := s.repo.ListVessels(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("error listing vessels: %w", err)
	}

	return &models.RoomDetailResponse{
		Status:    "success",
		Room:      room,
		Parties:   nonNil(parties),
		Documents: nonNil(documents),
		Approvals: nonNil(approvals),
		Vessels:   nonNil(vessels),
	}, nil
}

func (s *DefaultService) UpdateRoomStatus(
	ctx context.Context,
	userID string,
	roomID string,
	req models.UpdateRoomStatusRequest,
) (*models.RoomResponse, error) {
	user, err := s.currentUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := s.roomForUser(ctx, user, roomID); err != nil {
		return nil, err
	}

	err = s.repo.UpdateRoomStatus(ctx, roomID, repository.RoomStatusUpdate{
		Status:         req.Status,
		StatusDetail:   req.StatusDetail,
		TimelinePhase:  req.TimelinePhase,
		CommissionPaid: req.CommissionPaid,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("room %s: %w", roomID, err)
		}
		return nil, fmt.Errorf("error updating room status: %w", err)
	}

	s.logActivity(ctx, user.ID, &roomID, "room.status", req.Status)

	room, err := s.repo.GetRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("error getting room: %w", err)
	}
	return &models.RoomResponse{Status: "success", Room: room}, nil
}

func (s *DefaultService) DeleteRoom(ctx context.Context, userID, roomID string) error {
	user, err := s.currentUser(ctx, userID)
	if err != nil {
		return err
	}

	room, err := s.repo.GetRoom(ctx, roomID)
	if err != nil {
		return fmt.Errorf("error getting room: %w", err)
	}
	if room == nil {
		return fmt.Errorf("room %s: %w", roomID, models.ErrNotFound)
	}

	// Only the creator or an admin may delete a room
	if room.CreatedBy != user.ID && user.Role != models.PartyRoleAdmin {
		return fmt.Errorf("you don't have permission to delete this room: %w", models.ErrForbidden)
	}

	if err := s.repo.DeleteRoom(ctx, roomID); err != nil {
		return fmt.Errorf("error deleting room: %w", err)
	}

	s.logActivity(ctx, user.ID, nil, "room.delete", room.ID)
	return nil
}

// Parties and vessels
func (s *DefaultService) AddParty(ctx context.Context, userID, roomID string, req models.AddPartyRequest) (*models.Party, error) {
	user, err := s.currentUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := s.roomForUser(ctx, user, roomID); err != nil {
		return nil, err
	}

	party := &models.Party{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		Role:      req.Role,
		Name:      req.Name,
		Email:     strings.ToLower(strings.TrimSpace(req.Email)),
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.AddParty(ctx, party); err != nil {
		return nil, fmt.Errorf("error adding party: %w", err)
	}

	s.logActivity(ctx, user.ID, &roomID, "party.add", party.Role+" "+party.Email)
	s.logger.Debug("party added", zap.String("room_id", roomID), zap.String("party_id", party.ID))

	return party, nil
}

func (s *DefaultService) AddVessel(ctx context.Context, userID, roomID string, req models.AddVesselRequest) (*models.Vessel, error) {
	user, err := s.currentUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := s.roomForUser(ctx, user, roomID); err != nil {
		return nil, err
	}

	vessel := &models.Vessel{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		Name:      req.Name,
		IMO:       req.IMO,
		Owner:     req.Owner,
		Charterer: req.Charterer,
	}
	if err := s.repo.CreateVessel(ctx, vessel); err != nil {
		return nil, fmt.Errorf("error adding vessel: %w", err)
	}

	s.logActivity(ctx, user.ID, &roomID, "vessel.add", vessel.Name)
	return vessel, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
