// Package workflow runs the multi-step campaign actions: awarding with the
// finder's fee detour, completion with a rating, and the club-side apply and
// deliverable upload.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"questboard/internal/backend"
	"questboard/internal/busy"
	"questboard/internal/model"
)

// DefaultFindersFee is the amount charged before a free-tier award, in RM.
const DefaultFindersFee = 100.0

var (
	// ErrInvalid wraps input rejected before any backend call.
	ErrInvalid = errors.New("workflow: invalid input")
	// ErrNoPendingAward is returned by PayAndRetry when no award is waiting on payment.
	ErrNoPendingAward = errors.New("workflow: no award awaiting payment")
	// ErrRating is returned for a rating outside 1..5. It also matches ErrInvalid.
	ErrRating = fmt.Errorf("%w: rating must be between 1 and 5", ErrInvalid)
)

// API is the slice of the backend client the workflow drives.
type API interface {
	GetCampaign(ctx context.Context, id int64) (model.Campaign, error)
	CreateCampaign(ctx context.Context, draft model.CampaignDraft) (model.Campaign, error)
	Apply(ctx context.Context, campaignID int64, message string) (model.Application, error)
	Award(ctx context.Context, applicationID int64) error
	UploadDeliverable(ctx context.Context, applicationID int64, file backend.File) (model.Deliverable, error)
	Complete(ctx context.Context, campaignID int64, body backend.Completion) (backend.CompletionReport, error)
	CreatePaymentIntent(ctx context.Context, req backend.IntentRequest) (model.PaymentIntent, error)
	ConfirmPayment(ctx context.Context, transactionID int64) error
}

// PendingAward is an award the backend refused until the fee is paid.
type PendingAward struct {
	CampaignID    int64 `json:"campaign_id"`
	ApplicationID int64 `json:"application_id"`
}

// Workflow holds the per-session action state. Each action has its own busy
// flag so a double submit of one action is rejected without blocking others.
type Workflow struct {
	api    API
	logger *slog.Logger
	fee    float64

	mu      sync.Mutex
	pending *PendingAward

	awarding   busy.Flag
	paying     busy.Flag
	completing busy.Flag
	applying   busy.Flag
	submitting busy.Flag
	creating   busy.Flag
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithFee overrides the finder's fee amount.
func WithFee(amount float64) Option {
	return func(w *Workflow) {
		if amount > 0 {
			w.fee = amount
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Workflow) {
		if l != nil {
			w.logger = l
		}
	}
}

// New creates a workflow over api.
func New(api API, opts ...Option) *Workflow {
	w := &Workflow{api: api, logger: slog.Default(), fee: DefaultFindersFee}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Fee returns the finder's fee charged by PayAndRetry.
func (w *Workflow) Fee() float64 { return w.fee }

// Pending returns the award waiting on payment, if any.
func (w *Workflow) Pending() (PendingAward, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil {
		return PendingAward{}, false
	}
	return *w.pending, true
}

// CancelPending drops the award waiting on payment.
func (w *Workflow) CancelPending() {
	w.mu.Lock()
	w.pending = nil
	w.mu.Unlock()
}

// Award awards applicationID on campaignID and returns the refreshed campaign.
// If the backend asks for the finder's fee the award is remembered and the
// error matches backend.ErrPaymentRequired.
func (w *Workflow) Award(ctx context.Context, campaignID, applicationID int64) (model.Campaign, error) {
	var out model.Campaign
	err := w.awarding.Run(func() error {
		var err error
		out, err = w.award(ctx, PendingAward{CampaignID: campaignID, ApplicationID: applicationID})
		return err
	})
	return out, err
}

func (w *Workflow) award(ctx context.Context, p PendingAward) (model.Campaign, error) {
	if err := w.api.Award(ctx, p.ApplicationID); err != nil {
		if errors.Is(err, backend.ErrPaymentRequired) {
			w.mu.Lock()
			w.pending = &p
			w.mu.Unlock()
			w.logger.Info("award awaiting finder's fee", "campaign", p.CampaignID, "application", p.ApplicationID)
		}
		return model.Campaign{}, err
	}
	w.logger.Info("application awarded", "campaign", p.CampaignID, "application", p.ApplicationID)
	return w.api.GetCampaign(ctx, p.CampaignID)
}

// PayAndRetry pays the finder's fee for the pending award and retries that
// award once. The pending award is taken before the retry, so a repeated
// call after a successful payment returns ErrNoPendingAward instead of
// awarding twice. A failed payment leaves the award pending.
func (w *Workflow) PayAndRetry(ctx context.Context) (model.Campaign, error) {
	var out model.Campaign
	err := w.paying.Run(func() error {
		p, ok := w.Pending()
		if !ok {
			return ErrNoPendingAward
		}
		intent, err := w.api.CreatePaymentIntent(ctx, backend.IntentRequest{
			Amount:     w.fee,
			Type:       backend.PaymentFindersFee,
			CampaignID: p.CampaignID,
		})
		if err != nil {
			return fmt.Errorf("create payment intent: %w", err)
		}
		if err := w.api.ConfirmPayment(ctx, intent.TransactionID); err != nil {
			return fmt.Errorf("confirm payment: %w", err)
		}
		if !w.take(p) {
			return ErrNoPendingAward
		}
		out, err = w.award(ctx, p)
		return err
	})
	return out, err
}

// take clears the pending award if it is still p.
func (w *Workflow) take(p PendingAward) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil || *w.pending != p {
		return false
	}
	w.pending = nil
	return true
}

var ranks = [...]string{"D", "C", "B", "A", "S"}

// RankFor maps a 1..5 star rating to the backend rank letter. Zero means no
// rating and maps to the empty rank.
func RankFor(rating int) (string, error) {
	if rating == 0 {
		return "", nil
	}
	if rating < 1 || rating > len(ranks) {
		return "", ErrRating
	}
	return ranks[rating-1], nil
}

// Complete marks the campaign completed, sending rating and feedback in the
// same request.
func (w *Workflow) Complete(ctx context.Context, campaignID int64, rating int, feedback string) (backend.CompletionReport, error) {
	rank, err := RankFor(rating)
	if err != nil {
		return backend.CompletionReport{}, err
	}
	var out backend.CompletionReport
	err = w.completing.Run(func() error {
		var err error
		out, err = w.api.Complete(ctx, campaignID, backend.Completion{Rating: rating, Rank: rank, Feedback: feedback})
		return err
	})
	return out, err
}

// Apply submits a club's bid on a campaign.
func (w *Workflow) Apply(ctx context.Context, campaignID int64, message string) (model.Application, error) {
	var out model.Application
	err := w.applying.Run(func() error {
		var err error
		out, err = w.api.Apply(ctx, campaignID, message)
		return err
	})
	return out, err
}

// SubmitDeliverable uploads a file against an awarded application.
func (w *Workflow) SubmitDeliverable(ctx context.Context, applicationID int64, file backend.File) (model.Deliverable, error) {
	if file.Content == nil || file.Name == "" {
		return model.Deliverable{}, fmt.Errorf("%w: deliverable file required", ErrInvalid)
	}
	var out model.Deliverable
	err := w.submitting.Run(func() error {
		var err error
		out, err = w.api.UploadDeliverable(ctx, applicationID, file)
		return err
	})
	return out, err
}

// CreateCampaign posts a new campaign.
func (w *Workflow) CreateCampaign(ctx context.Context, draft model.CampaignDraft) (model.Campaign, error) {
	if draft.Title == "" {
		return model.Campaign{}, fmt.Errorf("%w: campaign title required", ErrInvalid)
	}
	if draft.Budget < 0 {
		return model.Campaign{}, fmt.Errorf("%w: campaign budget must not be negative", ErrInvalid)
	}
	if draft.Requirements == nil {
		draft.Requirements = []string{}
	}
	var out model.Campaign
	err := w.creating.Run(func() error {
		var err error
		out, err = w.api.CreateCampaign(ctx, draft)
		return err
	})
	return out, err
}
