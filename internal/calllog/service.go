package calllog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for call events.
//
// It MUST be append-only (plus tenant-scoped reads for the dashboard).
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
	ListByMerchant(ctx context.Context, merchantID string, limit int) ([]Event, error)
}

// Service records what happened on live calls.
//
// IMPORTANT: callers must treat call logging as best-effort; a logging
// failure is never a reason to end a call.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("calllog: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("calllog: repository not configured")
	}
	if e.MerchantID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogBridged records that a call's audio was connected to the agent.
func (s *Service) LogBridged(ctx context.Context, merchantID, callSid, streamSid string) error {
	return s.Append(ctx, Event{
		MerchantID: merchantID,
		Type:       EventTypeCallBridged,
		CallSid:    callSid,
		StreamSid:  streamSid,
	})
}

// LogTool records one tool invocation during a call.
func (s *Service) LogTool(ctx context.Context, merchantID, callSid, toolName string) error {
	return s.Append(ctx, Event{
		MerchantID: merchantID,
		Type:       EventTypeToolInvoked,
		CallSid:    callSid,
		ToolName:   toolName,
	})
}

// LogEnded records an orderly call end; LogFailed an abnormal one.
func (s *Service) LogEnded(ctx context.Context, merchantID, callSid string) error {
	return s.Append(ctx, Event{
		MerchantID: merchantID,
		Type:       EventTypeCallEnded,
		CallSid:    callSid,
	})
}

func (s *Service) LogFailed(ctx context.Context, merchantID, callSid, message string) error {
	return s.Append(ctx, Event{
		MerchantID: merchantID,
		Type:       EventTypeCallFailed,
		CallSid:    callSid,
		Message:    message,
	})
}

// List returns the merchant's most recent call events.
func (s *Service) List(ctx context.Context, merchantID string, limit int) ([]Event, error) {
	if s.repo == nil {
		return nil, errors.New("calllog: repository not configured")
	}
	if merchantID == "" {
		return nil, ErrInvalidEvent
	}
	return s.repo.ListByMerchant(ctx, merchantID, limit)
}
