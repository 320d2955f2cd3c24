package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events. It is append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records internal audit information. Records are not exposed to tenant users.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.AccountID == "" || e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogAdminAction records an admin action, including ones taken by hidden roles.
func (s *Service) LogAdminAction(ctx context.Context, accountID, actorUserID, actorRole, ip, message, metadata string) error {
	return s.Append(ctx, Event{
		AccountID:   accountID,
		Type:        EventTypeAdminAction,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		Message:     message,
		Metadata:    metadata,
	})
}

// LogCampaignControl records an operator start/pause/resume/cancel request and its result.
func (s *Service) LogCampaignControl(ctx context.Context, accountID, actorUserID, actorRole, ip, campaignID, action, from, to string) error {
	return s.Append(ctx, Event{
		AccountID:   accountID,
		Type:        EventTypeCampaignControl,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		CampaignID:  campaignID,
		Message:     action,
		Metadata:    metadataJSON(map[string]string{"from": from, "to": to}),
	})
}

// LogTransition records a system-driven status change.
func (s *Service) LogTransition(ctx context.Context, accountID, campaignID, from, to, reason string) error {
	return s.Append(ctx, Event{
		AccountID:   accountID,
		Type:        EventTypeCampaignTransition,
		ActorUserID: "system",
		ActorRole:   "system",
		CampaignID:  campaignID,
		Message:     fmt.Sprintf("%s -> %s", from, to),
		Metadata:    metadataJSON(map[string]string{"from": from, "to": to, "reason": reason}),
	})
}

// LogUsageCommitFailed records a call whose usage could not be charged.
func (s *Service) LogUsageCommitFailed(ctx context.Context, accountID, campaignID, callID string, minutes int64, cause error) error {
	msg := "usage commit failed"
	if cause != nil {
		msg = cause.Error()
	}
	return s.Append(ctx, Event{
		AccountID:   accountID,
		Type:        EventTypeUsageCommitFailed,
		ActorUserID: "system",
		ActorRole:   "system",
		CampaignID:  campaignID,
		CallID:      callID,
		Message:     msg,
		Metadata:    metadataJSON(map[string]string{"minutes": fmt.Sprint(minutes)}),
	})
}

func metadataJSON(m map[string]string) string {
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}
