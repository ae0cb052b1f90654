package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"swapline/internal/domain"
	"swapline/internal/events"
	"swapline/internal/repo"
)

// RequestCreateOptions are parameters for opening a swap negotiation.
type RequestCreateOptions struct {
	SenderID        string
	ReceiverID      string
	OfferedSkills   []string
	RequestedSkills []string
}

// CreateRequest opens a pending swap request from sender to receiver and
// notifies the receiver.
func (e Engine) CreateRequest(ctx context.Context, opts RequestCreateOptions) (domain.Request, error) {
	if strings.TrimSpace(opts.SenderID) == "" {
		return domain.Request{}, invalidInputf("sender is required")
	}
	if strings.TrimSpace(opts.ReceiverID) == "" {
		return domain.Request{}, invalidInputf("receiver is required")
	}
	if opts.SenderID == opts.ReceiverID {
		return domain.Request{}, invalidInputf("cannot send a swap request to yourself")
	}
	if err := validateSkills("offered_skills", opts.OfferedSkills); err != nil {
		return domain.Request{}, err
	}
	if err := validateSkills("requested_skills", opts.RequestedSkills); err != nil {
		return domain.Request{}, err
	}
	if _, err := e.Repo.GetUser(ctx, opts.ReceiverID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Request{}, fmt.Errorf("receiver %s: %w", opts.ReceiverID, repo.ErrNotFound)
		}
		return domain.Request{}, err
	}
	pending, err := e.Repo.HasPendingRequest(ctx, opts.SenderID, opts.ReceiverID)
	if err != nil {
		return domain.Request{}, err
	}
	if pending {
		return domain.Request{}, conflictf("a pending request with this user already exists")
	}

	now := e.now().UTC().Format(time.RFC3339)
	req := domain.Request{
		ID:              uuid.NewString(),
		SenderID:        opts.SenderID,
		ReceiverID:      opts.ReceiverID,
		OfferedSkills:   opts.OfferedSkills,
		RequestedSkills: opts.RequestedSkills,
		Status:          domain.RequestPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Request{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRequest(ctx, tx, req); err != nil {
		// The partial unique index on pending pairs backstops the
		// check above when two creates race.
		if repo.IsUniqueViolation(err) {
			return domain.Request{}, conflictf("a pending request with this user already exists")
		}
		return domain.Request{}, fmt.Errorf("insert request: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "request.created", "request", req.ID, opts.SenderID, events.EventPayload{
		"receiver_id": req.ReceiverID,
	}); err != nil {
		return domain.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Request{}, err
	}

	e.notify(ctx, req.ReceiverID,
		fmt.Sprintf("You have a new skill swap request from %s.", e.displayName(ctx, req.SenderID)),
		domain.NotifyRequest)
	return req, nil
}

// UpdateRequestStatus drives the negotiation state machine on behalf of a
// user. Valid targets are accepted, declined and completed; scheduled is
// owned by the session scheduler and pending is not a forward transition.
func (e Engine) UpdateRequestStatus(ctx context.Context, requestID, actorID string, newStatus domain.RequestStatus) (domain.Request, error) {
	switch newStatus {
	case domain.RequestAccepted, domain.RequestDeclined, domain.RequestCompleted:
	case domain.RequestPending, domain.RequestScheduled:
		return domain.Request{}, invalidInputf("status %s is not a valid transition target", newStatus)
	default:
		return domain.Request{}, invalidInputf("invalid status value %q", newStatus)
	}
	req, err := e.Repo.GetRequest(ctx, requestID)
	if err != nil {
		return domain.Request{}, err
	}

	switch newStatus {
	case domain.RequestAccepted, domain.RequestDeclined:
		if actorID != req.ReceiverID {
			return domain.Request{}, forbiddenf("only the receiver can respond to this request")
		}
		if !req.Status.CanTransition(newStatus) {
			return domain.Request{}, invalidInputf("invalid request status transition %s -> %s", req.Status, newStatus)
		}
	case domain.RequestCompleted:
		if actorID != req.SenderID && actorID != req.ReceiverID && actorID != SystemActor {
			return domain.Request{}, forbiddenf("not a party to this request")
		}
		// Status checks happen under the transaction below.
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Request{}, err
	}
	defer tx.Rollback()
	if newStatus == domain.RequestCompleted {
		// Re-read under the transaction; concurrent completions must not
		// credit the swap counters twice.
		if req, err = e.Repo.GetRequestTx(ctx, tx, requestID); err != nil {
			return domain.Request{}, err
		}
		if req.Status == domain.RequestCompleted {
			return req, nil
		}
		if !req.Status.CanTransition(domain.RequestCompleted) {
			return domain.Request{}, invalidInputf("invalid request status transition %s -> %s", req.Status, domain.RequestCompleted)
		}
		if err := e.completeRequestTx(ctx, tx, &req, actorID); err != nil {
			return domain.Request{}, err
		}
	} else {
		req.Status = newStatus
		req.UpdatedAt = e.now().UTC().Format(time.RFC3339)
		if err := e.Repo.UpdateRequestStatus(ctx, tx, req.ID, req.Status, req.UpdatedAt); err != nil {
			return domain.Request{}, err
		}
		if err := e.Events.Append(ctx, tx, "request."+string(newStatus), "request", req.ID, actorID, nil); err != nil {
			return domain.Request{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Request{}, err
	}

	actorName := e.displayName(ctx, actorID)
	switch newStatus {
	case domain.RequestAccepted:
		e.notify(ctx, req.SenderID, fmt.Sprintf("%s accepted your skill swap request!", actorName), domain.NotifyRequest)
	case domain.RequestDeclined:
		e.notify(ctx, req.SenderID, fmt.Sprintf("%s declined your skill swap request.", actorName), domain.NotifyRequest)
	case domain.RequestCompleted:
		msg := fmt.Sprintf("Your skill swap with %s is completed. Please leave a review.", actorName)
		e.notify(ctx, req.SenderID, msg, domain.NotifyReview)
		e.notify(ctx, req.ReceiverID, msg, domain.NotifyReview)
	}
	return req, nil
}

// completeRequestTx transitions a request to completed and credits both
// participants' swap counters. Callers hold the transaction; the request
// must not already be completed.
func (e Engine) completeRequestTx(ctx context.Context, tx *sql.Tx, req *domain.Request, actorID string) error {
	req.Status = domain.RequestCompleted
	req.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateRequestStatus(ctx, tx, req.ID, req.Status, req.UpdatedAt); err != nil {
		return err
	}
	if err := e.Repo.IncrementCompletedSwaps(ctx, tx, req.SenderID); err != nil {
		return err
	}
	if err := e.Repo.IncrementCompletedSwaps(ctx, tx, req.ReceiverID); err != nil {
		return err
	}
	return e.Events.Append(ctx, tx, "request.completed", "request", req.ID, actorID, events.EventPayload{
		"sender_id":   req.SenderID,
		"receiver_id": req.ReceiverID,
	})
}

func (e Engine) ListSentRequests(ctx context.Context, senderID string) ([]domain.Request, error) {
	return e.Repo.ListSentRequests(ctx, senderID)
}

func (e Engine) ListReceivedRequests(ctx context.Context, receiverID string) ([]domain.Request, error) {
	return e.Repo.ListReceivedRequests(ctx, receiverID)
}

func (e Engine) ListRequestsForUser(ctx context.Context, userID string, status domain.RequestStatus) ([]domain.Request, error) {
	if status != "" {
		switch status {
		case domain.RequestPending, domain.RequestAccepted, domain.RequestDeclined, domain.RequestScheduled, domain.RequestCompleted:
		default:
			return nil, invalidInputf("invalid status value %q", status)
		}
	}
	return e.Repo.ListRequestsForUser(ctx, userID, status)
}

func validateSkills(field string, skills []string) error {
	if len(skills) == 0 {
		return invalidInputf("%s must be a non-empty list", field)
	}
	for _, s := range skills {
		if strings.TrimSpace(s) == "" {
			return invalidInputf("%s contains an empty entry", field)
		}
	}
	return nil
}
