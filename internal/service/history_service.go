package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/prizevault/internal/domain"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// HistoryService answers read-side queries over the persisted event log
// and the audit trail.
type HistoryService struct {
	events domain.EventStore
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewHistoryService creates a HistoryService. Either store may be nil when
// persistence is disabled; queries then return empty pages.
func NewHistoryService(events domain.EventStore, audit domain.AuditStore, logger *slog.Logger) *HistoryService {
	return &HistoryService{
		events: events,
		audit:  audit,
		logger: logger.With(slog.String("component", "history_service")),
	}
}

// Events lists events newest first.
func (s *HistoryService) Events(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	if s.events == nil {
		return []domain.Event{}, nil
	}
	opts = clampPage(opts)
	out, err := s.events.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("history_service: list events: %w", err)
	}
	return out, nil
}

// Audit lists audit entries newest first.
func (s *HistoryService) Audit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if s.audit == nil {
		return []domain.AuditEntry{}, nil
	}
	opts = clampPage(opts)
	out, err := s.audit.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("history_service: list audit: %w", err)
	}
	return out, nil
}

func clampPage(opts domain.ListOpts) domain.ListOpts {
	switch {
	case opts.Limit <= 0:
		opts.Limit = defaultPageSize
	case opts.Limit > maxPageSize:
		opts.Limit = maxPageSize
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return opts
}
