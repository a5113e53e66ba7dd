package backend

import (
	"context"
	"fmt"
	"net/http"

	"questboard/internal/model"
)

// PaymentFindersFee is the transaction type charged before awarding on the free tier.
const PaymentFindersFee = "FINDERS_FEE"

// IntentRequest is the body of POST /payments/create-intent/.
type IntentRequest struct {
	Amount     float64 `json:"amount"`
	Type       string  `json:"type"`
	CampaignID int64   `json:"campaign_id,omitempty"`
}

// CreatePaymentIntent calls POST /payments/create-intent/.
func (c *Client) CreatePaymentIntent(ctx context.Context, req IntentRequest) (model.PaymentIntent, error) {
	var out model.PaymentIntent
	err := c.do(ctx, http.MethodPost, "/payments/create-intent/", req, &out)
	return out, err
}

// ConfirmPayment calls POST /payments/confirm/{id}/.
func (c *Client) ConfirmPayment(ctx context.Context, transactionID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/payments/confirm/%d/", transactionID), nil, nil)
}

// TransactionHistory calls GET /payments/history/.
func (c *Client) TransactionHistory(ctx context.Context) ([]model.Transaction, error) {
	var out []model.Transaction
	err := c.do(ctx, http.MethodGet, "/payments/history/", nil, &out)
	return out, err
}
