package service

import (
	"context"
	"fmt"

	"github.com/rongwang/sts-clearance/internal/models"
)

func (s *DefaultService) AuthorizeRoom(ctx context.Context, userID, roomID string) error {
	user, err := s.currentUser(ctx, userID)
	if err != nil {
		return err
	}
	_, err = s.roomForUser(ctx, user, roomID)
	return err
}

func (s *DefaultService) AuthorizeVessel(ctx context.Context, userID, vesselID string) error {
	user, err := s.currentUser(ctx, userID)
	if err != nil {
		return err
	}
	_, err = s.vesselForUser(ctx, user, vesselID)
	return err
}

// AuthorizeFinding checks access through the room the finding was raised in.
func (s *DefaultService) AuthorizeFinding(ctx context.Context, userID, findingID string) error {
	user, err := s.currentUser(ctx, userID)
	if err != nil {
		return err
	}
	finding, err := s.repo.GetFinding(ctx, findingID)
	if err != nil {
		return fmt.Errorf("error getting finding: %w", err)
	}
	if finding == nil {
		return fmt.Errorf("finding %s: %w", findingID, models.ErrNotFound)
	}
	_, err = s.roomForUser(ctx, user, finding.RoomID)
	return err
}
