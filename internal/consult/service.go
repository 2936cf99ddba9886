// Package consult submits consultation requests and builds the "My Requests"
// view from the remote list and the local ownership index.
package consult

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lexconsult/client/internal/gateway"
	"github.com/lexconsult/client/internal/model"
	"github.com/lexconsult/client/internal/ownership"
	"github.com/lexconsult/client/internal/session"
)

var (
	ErrLoginRequired = errors.New("login required")
	// ErrUntracked means the gateway accepted the submission without returning
	// an id. The request may exist remotely but will not appear in My Requests.
	ErrUntracked = errors.New("request submitted but not tracked on this device")
)

// Gateway is the part of the remote API the service uses
type Gateway interface {
	SubmitRequest(ctx context.Context, in gateway.SubmitInput) (model.ID, error)
	ListRequests(ctx context.Context, opts gateway.ListOptions) ([]model.ConsultationRequest, error)
	ListArticles(ctx context.Context, page, pageSize int) ([]model.Article, error)
}

// Submission is an acknowledged request
type Submission struct {
	ID         model.ID
	CaseNumber string
}

// RequestView is one row of My Requests
type RequestView struct {
	ID         model.ID
	Title      string
	Body       string
	Status     model.Status
	Step       int
	CaseNumber string
	// CreatedAt is zero when the gateway sent no parseable timestamp
	CreatedAt time.Time
}

type Service struct {
	gw       Gateway
	sessions *session.Store
	index    *ownership.Index
	logger   *slog.Logger
}

func NewService(gw Gateway, sessions *session.Store, index *ownership.Index, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{gw: gw, sessions: sessions, index: index, logger: logger}
}

// Submit sends a new consultation request and records its id as owned
func (s *Service) Submit(ctx context.Context, category, details string) (*Submission, error) {
	if s.sessions.Token() == "" {
		return nil, ErrLoginRequired
	}
	in := submission{Category: strings.TrimSpace(category), Details: strings.TrimSpace(details)}
	if err := validateSubmission(in); err != nil {
		return nil, err
	}

	id, err := s.gw.SubmitRequest(ctx, gateway.SubmitInput{Category: in.Category, Details: in.Details})
	if errors.Is(err, gateway.ErrMissingRequestID) {
		s.logger.Warn("submission acknowledged without id", "category", in.Category)
		return nil, fmt.Errorf("%w: %w", ErrUntracked, err)
	}
	if err != nil {
		return nil, err
	}

	s.index.Record(ctx, id.String())
	s.logger.Info("request submitted", "id", id.String(), "category", in.Category)
	return &Submission{ID: id, CaseNumber: model.CaseNumber(id)}, nil
}

// MyRequests lists the remote requests this device or verified phone owns,
// in the gateway's order. status optionally narrows the remote query.
func (s *Service) MyRequests(ctx context.Context, status string) ([]RequestView, error) {
	if s.sessions.Token() == "" {
		return nil, ErrLoginRequired
	}
	s.index.Reload(ctx)

	items, err := s.gw.ListRequests(ctx, gateway.ListOptions{Status: strings.TrimSpace(status)})
	if err != nil {
		return nil, err
	}
	mine := s.index.Filter(items)

	views := make([]RequestView, 0, len(mine))
	for i, item := range mine {
		created, _ := item.Created()
		views = append(views, RequestView{
			ID:         item.ID,
			Title:      item.Title(i),
			Body:       item.Body(),
			Status:     item.Status.Normalize(),
			Step:       item.Status.Step(),
			CaseNumber: model.CaseNumber(item.ID),
			CreatedAt:  created,
		})
	}
	return views, nil
}

// Articles lists legal articles; no session is needed
func (s *Service) Articles(ctx context.Context, page, pageSize int) ([]model.Article, error) {
	return s.gw.ListArticles(ctx, page, pageSize)
}
