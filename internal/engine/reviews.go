package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"swapline/internal/domain"
	"swapline/internal/events"
)

// ReviewCreateOptions are parameters for rating a swap partner.
type ReviewCreateOptions struct {
	ReviewerID     string
	ReviewedUserID string
	RequestID      string
	Rating         int
	Comment        string
}

// AddReview records a rating for a completed swap and recomputes the
// reviewed user's reputation aggregate.
func (e Engine) AddReview(ctx context.Context, opts ReviewCreateOptions) (domain.Review, error) {
	if opts.ReviewerID == opts.ReviewedUserID {
		return domain.Review{}, invalidInputf("you cannot review yourself")
	}
	if err := e.validateRating(opts.Rating); err != nil {
		return domain.Review{}, err
	}
	if err := e.validateComment(opts.Comment); err != nil {
		return domain.Review{}, err
	}
	req, err := e.Repo.GetRequest(ctx, opts.RequestID)
	if err != nil {
		return domain.Review{}, err
	}
	if req.Status != domain.RequestCompleted {
		return domain.Review{}, preconditionf("you can only review users you have completed a swap with")
	}
	pair := map[string]bool{req.SenderID: true, req.ReceiverID: true}
	if !pair[opts.ReviewerID] || !pair[opts.ReviewedUserID] {
		return domain.Review{}, preconditionf("the referenced swap is not between you and this user")
	}
	exists, err := e.Repo.HasReview(ctx, opts.ReviewerID, opts.ReviewedUserID, opts.RequestID)
	if err != nil {
		return domain.Review{}, err
	}
	if exists {
		return domain.Review{}, conflictf("you already reviewed this user for this swap")
	}

	now := e.now().UTC().Format(time.RFC3339)
	rv := domain.Review{
		ID:             uuid.NewString(),
		ReviewerID:     opts.ReviewerID,
		ReviewedUserID: opts.ReviewedUserID,
		RequestID:      opts.RequestID,
		Rating:         opts.Rating,
		Comment:        opts.Comment,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	unlock := e.ratingMu.lock(rv.ReviewedUserID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Review{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertReview(ctx, tx, rv); err != nil {
		return domain.Review{}, fmt.Errorf("insert review: %w", err)
	}
	if err := e.recomputeRatingTx(ctx, tx, rv.ReviewedUserID); err != nil {
		return domain.Review{}, err
	}
	if err := e.Events.Append(ctx, tx, "review.created", "review", rv.ID, rv.ReviewerID, events.EventPayload{
		"reviewed_user_id": rv.ReviewedUserID,
		"request_id":       rv.RequestID,
		"rating":           rv.Rating,
	}); err != nil {
		return domain.Review{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Review{}, err
	}

	comment := rv.Comment
	if comment == "" {
		comment = "No comment"
	}
	e.notify(ctx, rv.ReviewedUserID,
		fmt.Sprintf("%s left you a review: %q", e.displayName(ctx, rv.ReviewerID), comment),
		domain.NotifyReview)
	return rv, nil
}

// ReviewUpdateOptions carries the partial update; nil fields keep their
// current values.
type ReviewUpdateOptions struct {
	Rating  *int
	Comment *string
}

// UpdateReview lets a review's author amend rating or comment, then
// recomputes the aggregate.
func (e Engine) UpdateReview(ctx context.Context, reviewID, actorID string, opts ReviewUpdateOptions) (domain.Review, error) {
	rv, err := e.Repo.GetReview(ctx, reviewID)
	if err != nil {
		return domain.Review{}, err
	}
	if rv.ReviewerID != actorID {
		return domain.Review{}, forbiddenf("only the author can update this review")
	}
	if opts.Rating != nil {
		if err := e.validateRating(*opts.Rating); err != nil {
			return domain.Review{}, err
		}
		rv.Rating = *opts.Rating
	}
	if opts.Comment != nil {
		if err := e.validateComment(*opts.Comment); err != nil {
			return domain.Review{}, err
		}
		rv.Comment = *opts.Comment
	}
	rv.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	unlock := e.ratingMu.lock(rv.ReviewedUserID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Review{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateReview(ctx, tx, rv); err != nil {
		return domain.Review{}, err
	}
	if err := e.recomputeRatingTx(ctx, tx, rv.ReviewedUserID); err != nil {
		return domain.Review{}, err
	}
	if err := e.Events.Append(ctx, tx, "review.updated", "review", rv.ID, actorID, events.EventPayload{
		"rating": rv.Rating,
	}); err != nil {
		return domain.Review{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Review{}, err
	}

	e.notify(ctx, rv.ReviewedUserID,
		fmt.Sprintf("%s updated their review for you.", e.displayName(ctx, actorID)),
		domain.NotifyReview)
	return rv, nil
}

// DeleteReview removes a review (author only) and recomputes the aggregate;
// deleting the last review resets the average to zero.
func (e Engine) DeleteReview(ctx context.Context, reviewID, actorID string) error {
	rv, err := e.Repo.GetReview(ctx, reviewID)
	if err != nil {
		return err
	}
	if rv.ReviewerID != actorID {
		return forbiddenf("only the author can delete this review")
	}

	unlock := e.ratingMu.lock(rv.ReviewedUserID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteReview(ctx, tx, rv.ID); err != nil {
		return err
	}
	if err := e.recomputeRatingTx(ctx, tx, rv.ReviewedUserID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "review.deleted", "review", rv.ID, actorID, events.EventPayload{
		"reviewed_user_id": rv.ReviewedUserID,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	e.notify(ctx, rv.ReviewedUserID,
		fmt.Sprintf("%s deleted their review for you.", e.displayName(ctx, actorID)),
		domain.NotifyReview)
	return nil
}

// ReviewSummary is the read model for a user's review page: the review
// list plus an average and count computed from it at read time rather than
// trusted from the stored aggregate.
type ReviewSummary struct {
	AverageRating float64             `json:"average_rating"`
	TotalReviews  int                 `json:"total_reviews"`
	Reviews       []domain.ReviewView `json:"reviews"`
}

func (e Engine) ListReviewsForUser(ctx context.Context, userID string) (ReviewSummary, error) {
	views, err := e.Repo.ListReviewsForUser(ctx, userID)
	if err != nil {
		return ReviewSummary{}, err
	}
	summary := ReviewSummary{Reviews: views, TotalReviews: len(views)}
	if len(views) > 0 {
		var sum int
		for _, v := range views {
			sum += v.Rating
		}
		summary.AverageRating = float64(sum) / float64(len(views))
	}
	return summary, nil
}

// recomputeRatingTx rebuilds the user's reputation aggregate from the full
// review set, never patching it incrementally. Callers hold the per-user
// rating lock and the transaction.
func (e Engine) recomputeRatingTx(ctx context.Context, tx *sql.Tx, userID string) error {
	ratings, err := e.Repo.RatingsForUser(ctx, tx, userID)
	if err != nil {
		return err
	}
	var average float64
	if len(ratings) > 0 {
		var sum int
		for _, r := range ratings {
			sum += r
		}
		average = float64(sum) / float64(len(ratings))
	}
	return e.Repo.UpdateUserRating(ctx, tx, userID, average, len(ratings))
}

func (e Engine) validateRating(rating int) error {
	if rating < 1 || rating > 5 {
		return invalidInputf("rating must be between 1 and 5")
	}
	return nil
}

func (e Engine) validateComment(comment string) error {
	if max := e.Config.Exchange.MaxCommentLength; len(comment) > max {
		return invalidInputf("comment exceeds %d characters", max)
	}
	return nil
}
