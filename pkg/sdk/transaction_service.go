package sdk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
)

// TransactionService drives the approval workflow.
type TransactionService struct {
	client *Client
}

// List returns the caller's transactions by role. An empty status lists all.
func (s *TransactionService) List(ctx context.Context, status TransactionStatus) (*TransactionBuckets, error) {
	var query url.Values
	if status != "" {
		query = url.Values{"status": {string(status)}}
	}

	var buckets TransactionBuckets
	if err := s.client.doJSONRequest(ctx, http.MethodGet, apiV1BasePath+"/transactions", query, nil, &buckets); err != nil {
		return nil, err
	}
	return &buckets, nil
}

func (s *TransactionService) Get(ctx context.Context, id uuid.UUID) (*TransactionView, error) {
	var view TransactionView
	path := fmt.Sprintf("%s/transactions/%s", apiV1BasePath, id)
	if err := s.client.doJSONRequest(ctx, http.MethodGet, path, nil, nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (s *TransactionService) Submit(ctx context.Context, id uuid.UUID) (*TransactionView, error) {
	return s.act(ctx, id, "submit")
}

func (s *TransactionService) Approve(ctx context.Context, id uuid.UUID) (*TransactionView, error) {
	return s.act(ctx, id, "approve")
}

func (s *TransactionService) Reject(ctx context.Context, id uuid.UUID) (*TransactionView, error) {
	return s.act(ctx, id, "reject")
}

func (s *TransactionService) act(ctx context.Context, id uuid.UUID, action string) (*TransactionView, error) {
	var view TransactionView
	path := fmt.Sprintf("%s/transactions/%s/%s", apiV1BasePath, id, action)
	if err := s.client.doJSONRequest(ctx, http.MethodPost, path, nil, nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}
