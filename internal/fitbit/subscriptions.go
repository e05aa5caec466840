package fitbit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"stepsync/internal/metrics"
)

// SubscriptionResponse is the provider's view of a webhook subscription
type SubscriptionResponse struct {
	CollectionType string `json:"collectionType"`
	OwnerID        string `json:"ownerId"`
	OwnerType      string `json:"ownerType"`
	SubscriberID   string `json:"subscriberId"`
	SubscriptionID string `json:"subscriptionId"`
}

// CreateSubscription registers a webhook subscription for a collection.
// A 409 means the subscription already exists upstream; it is adopted and
// returned as if newly created.
func (c *Client) CreateSubscription(ctx context.Context, accessToken, subscriptionID, collectionType string) (*SubscriptionResponse, error) {
	path := fmt.Sprintf("/1/user/-/%s/apiSubscriptions/%s.json", collectionType, subscriptionID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Length", "0")
	if c.subscriberID != "" {
		req.Header.Set("X-Fitbit-Subscriber-Id", c.subscriberID)
	}

	resp, err := c.doRequest(req, metrics.OpCreateSubscription)
	if err != nil {
		return nil, fmt.Errorf("subscription create failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusConflict:
		// 409 = already exists, adopt it
	default:
		return nil, readError(resp)
	}

	// A 409 (and some 200s) arrives with an empty body; that is not an error
	var sub SubscriptionResponse
	if err := decodeJSON(resp.Body, &sub); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode subscription response: %w", err)
	}
	if sub.SubscriptionID == "" {
		sub.SubscriptionID = subscriptionID
		sub.CollectionType = collectionType
	}

	return &sub, nil
}

// DeleteSubscription removes a webhook subscription. A 404 is treated as
// success since the subscription is gone either way.
func (c *Client) DeleteSubscription(ctx context.Context, accessToken, subscriptionID, collectionType string) error {
	path := fmt.Sprintf("/1/user/-/%s/apiSubscriptions/%s.json", collectionType, subscriptionID)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if c.subscriberID != "" {
		req.Header.Set("X-Fitbit-Subscriber-Id", c.subscriberID)
	}

	resp, err := c.doRequest(req, metrics.OpDeleteSubscription)
	if err != nil {
		return fmt.Errorf("subscription delete failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return readError(resp)
	}
}

// ListSubscriptions fetches all of the account's subscriptions upstream
func (c *Client) ListSubscriptions(ctx context.Context, accessToken string) ([]SubscriptionResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/1/user/-/apiSubscriptions.json", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.doRequest(req, metrics.OpListSubscriptions)
	if err != nil {
		return nil, fmt.Errorf("subscription list failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readError(resp)
	}

	var parsed struct {
		APISubscriptions []SubscriptionResponse `json:"apiSubscriptions"`
	}
	if err := decodeJSON(resp.Body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode subscription list: %w", err)
	}

	return parsed.APISubscriptions, nil
}
