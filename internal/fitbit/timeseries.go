package fitbit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"stepsync/internal/metrics"
)

var validate = validator.New()

// TimeSeriesEntry is one dated value from an activity time series.
// Fitbit returns step counts as decimal strings.
type TimeSeriesEntry struct {
	DateTime string `json:"dateTime" validate:"required,datetime=2006-01-02"`
	Value    string `json:"value" validate:"required,number"`
}

type stepsTimeSeriesResponse struct {
	ActivitiesSteps []TimeSeriesEntry `json:"activities-steps"`
}

// GetStepsTimeSeries fetches daily step totals for a date range from the
// activity time-series endpoint. Entries are validated before being returned
// so malformed upstream payloads fail here rather than deeper in the
// pipeline.
func (c *Client) GetStepsTimeSeries(ctx context.Context, accessToken, startDate, endDate string) ([]TimeSeriesEntry, error) {
	path := fmt.Sprintf("/1/user/-/activities/steps/date/%s/%s.json", startDate, endDate)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.doRequest(req, metrics.OpGetTimeSeries)
	if err != nil {
		return nil, fmt.Errorf("time series fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readError(resp)
	}

	var parsed stepsTimeSeriesResponse
	if err := decodeJSON(resp.Body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode time series response: %w", err)
	}

	for i := range parsed.ActivitiesSteps {
		if err := validate.Struct(&parsed.ActivitiesSteps[i]); err != nil {
			return nil, fmt.Errorf("malformed time series entry %d: %w", i, err)
		}
	}

	return parsed.ActivitiesSteps, nil
}

// decodeJSON decodes a response body
func decodeJSON(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}
