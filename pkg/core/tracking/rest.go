//
//  Copyright © Manetu Inc. All rights reserved.
//

package tracking

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/manetu/trackauth/internal/logging"
	"github.com/manetu/trackauth/pkg/common"
	"github.com/pkg/errors"
)

var logger = logging.GetLogger("trackauth.tracking")

// Client is a [Service] backed by the tracking server's REST API.
//
// Timeouts and retries are the HTTP client's concern; configure them on the
// client passed to [NewClient].
type Client struct {
	base   string
	client *http.Client
}

// NewClient creates a tracking client for the given base URL. A nil
// httpClient uses http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		client: httpClient,
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.base + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errors.Wrap(err, "building tracking request")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "calling tracking server")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return common.NewErrorf(common.CodeNotFound, "tracking entity not found: %s", path)
	case resp.StatusCode != http.StatusOK:
		return common.NewErrorf(common.CodeStoreError, "tracking server returned %d for %s", resp.StatusCode, path)
	}

	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decoding tracking response")
}

// GetRun resolves a run id via GET /api/2.0/mlflow/runs/get.
func (c *Client) GetRun(ctx context.Context, runID string) (*Run, error) {
	var payload struct {
		Run struct {
			Info struct {
				RunID        string `json:"run_id"`
				ExperimentID string `json:"experiment_id"`
			} `json:"info"`
		} `json:"run"`
	}

	q := url.Values{"run_id": {runID}}
	if err := c.get(ctx, "/api/2.0/mlflow/runs/get", q, &payload); err != nil {
		return nil, err
	}

	logger.Debugf("run %s belongs to experiment %s", runID, payload.Run.Info.ExperimentID)
	return &Run{RunID: payload.Run.Info.RunID, ExperimentID: payload.Run.Info.ExperimentID}, nil
}

// GetExperimentByName resolves an experiment name via
// GET /api/2.0/mlflow/experiments/get-by-name.
func (c *Client) GetExperimentByName(ctx context.Context, name string) (*Experiment, error) {
	var payload struct {
		Experiment struct {
			ExperimentID string `json:"experiment_id"`
			Name         string `json:"name"`
		} `json:"experiment"`
	}

	q := url.Values{"experiment_name": {name}}
	if err := c.get(ctx, "/api/2.0/mlflow/experiments/get-by-name", q, &payload); err != nil {
		return nil, err
	}

	return &Experiment{ExperimentID: payload.Experiment.ExperimentID, Name: payload.Experiment.Name}, nil
}
