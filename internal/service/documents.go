package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/rongwang/sts-clearance/internal/models"
)

const NotificationApprovalRejected = "approval_rejected"

// Documents and approvals
func (s *DefaultService) CreateDocument(
	ctx context.Context,
	userID string,
	roomID string,
	req models.CreateDocumentRequest,
) (*models.Document, error) {
	user, err := s.currentUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := s.roomForUser(ctx, user, roomID); err != nil {
		return nil, err
	}

	docType, err := s.repo.GetDocumentTypeByCode(ctx, req.TypeCode)
	if err != nil {
		return nil, fmt.Errorf("error getting document type: %w", err)
	}
	if docType == nil {
		return nil, fmt.Errorf("unknown document type %q: %w", req.TypeCode, models.ErrValidation)
	}

	if req.VesselID != nil {
		vessel, err := s.repo.GetVessel(ctx, *req.VesselID)
		if err != nil {
			return nil, fmt.Errorf("error getting vessel: %w", err)
		}
		if vessel == nil || vessel.RoomID != roomID {
			return nil, fmt.Errorf("vessel %s is not part of room %s: %w", *req.VesselID, roomID, models.ErrValidation)
		}
	}

	doc := &models.Document{
		ID:          uuid.New().String(),
		RoomID:      roomID,
		VesselID:    req.VesselID,
		TypeID:      docType.ID,
		TypeName:    docType.Name,
		Status:      models.DocumentStatusMissing,
		Priority:    lo.Ternary(req.Priority == "", "normal", req.Priority),
		Criticality: docType.Criticality,
		Required:    docType.Required,
		ExpiresOn:   req.ExpiresOn,
		UploadedBy:  user.ID,
	}
	if err := s.repo.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("error creating document: %w", err)
	}

	s.logActivity(ctx, user.ID, &roomID, "document.create", docType.Code)
	return doc, nil
}

func (s *DefaultService) UpdateDocumentStatus(
	ctx context.Context,
	userID string,
	documentID string,
	req models.UpdateDocumentStatusRequest,
) (*models.Document, error) {
	user, err := s.currentUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	doc, err := s.repo.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("error getting document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("document %s: %w", documentID, models.ErrNotFound)
	}
	if _, err := s.roomForUser(ctx, user, doc.RoomID); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateDocumentStatus(ctx, documentID, req.Status); err != nil {
		return nil, fmt.Errorf("error updating document status: %w", err)
	}

	s.logActivity(ctx, user.ID, &doc.RoomID, "document.status", doc.TypeName+" -> "+req.Status)

	doc.Status = req.Status
	doc.UpdatedAt = s.now().UTC()
	return doc, nil
}

// UpdateApproval sets a party's sign-off. A rejection notifies every party of the room.
func (s *DefaultService) UpdateApproval(
	ctx context.Context,
	userID string,
	approvalID string,
	req models.UpdateApprovalRequest,
) (*models.Approval, error) {
	user, err := s.currentUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	approval, err := s.repo.GetApproval(ctx, approvalID)
	if err != nil {
		return nil, fmt.Errorf("error getting approval: %w", err)
	}
	if approval == nil {
		return nil, fmt.Errorf("approval %s: %w", approvalID, models.ErrNotFound)
	}
	room, err := s.roomForUser(ctx, user, approval.RoomID)
	if err != nil {
		return nil, err
	}
	if err := s.checkApprovalOwner(ctx, user, approval); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := s.repo.UpdateApprovalStatus(ctx, approvalID, req.Status, now); err != nil {
		return nil, fmt.Errorf("error updating approval: %w", err)
	}
	approval.Status = req.Status
	approval.UpdatedAt = now

	s.logActivity(ctx, user.ID, &room.ID, "approval.status", req.Status)

	if req.Status == models.ApprovalStatusRejected {
		s.notifyRejection(ctx, room, approval, user)
	}

	return approval, nil
}

// checkApprovalOwner allows admins and the approval's own party. Viewers never sign off.
func (s *DefaultService) checkApprovalOwner(ctx context.Context, user *models.User, approval *models.Approval) error {
	if user.Role == models.PartyRoleAdmin {
		return nil
	}
	if user.Role == models.PartyRoleViewer {
		return fmt.Errorf("viewers cannot sign off approvals: %w", models.ErrForbidden)
	}

	party, err := s.repo.GetParty(ctx, approval.PartyID)
	if err != nil {
		return fmt.Errorf("error getting party: %w", err)
	}
	if party == nil || party.Role == models.PartyRoleViewer || !strings.EqualFold(party.Email, user.Email) {
		return fmt.Errorf("approval %s belongs to another party: %w", approval.ID, models.ErrForbidden)
	}
	return nil
}

// notifyRejection publishes one notification per distinct party email. Failures are logged.
func (s *DefaultService) notifyRejection(ctx context.Context, room *models.Room, approval *models.Approval, actor *models.User) {
	if s.notifications == nil {
		return
	}

	parties, err := s.repo.ListParties(ctx, []string{room.ID})
	if err != nil {
		s.logger.Warn("failed to list parties for notification", zap.String("room_id", room.ID), zap.Error(err))
		return
	}

	emails := lo.Uniq(lo.Map(parties, func(p models.Party, _ int) string { return strings.ToLower(p.Email) }))
	for _, email := range emails {
		n := &models.Notification{
			ID:        uuid.New().String(),
			UserEmail: email,
			RoomID:    &room.ID,
			Kind:      NotificationApprovalRejected,
			Title:     "Approval rejected",
			Message:   fmt.Sprintf("%s rejected an approval in %s", actor.Name, room.Title),
			CreatedAt: s.now().UTC(),
		}
		if err := s.notifications.Publish(ctx, n); err != nil {
			s.logger.Warn("failed to publish notification",
				zap.String("room_id", room.ID),
				zap.String("approval_id", approval.ID),
				zap.Error(err),
			)
		}
	}
}
