package jobclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/Masterminds/semver/v3"

	"github.com/bl4ck0w1/lotuswatch/pkg/models"
)

func (c *Client) ListResults(ctx context.Context, limit, offset int) (models.ResultPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}

	var page models.ResultPage
	if err := c.do(ctx, "results", http.MethodGet, c.endpoint("results", q), nil, &page); err != nil {
		return models.ResultPage{}, err
	}
	return page, nil
}

// GetResult fetches one stored result with its findings.
func (c *Client) GetResult(ctx context.Context, id string) (models.ResultSummary, error) {
	var resp struct {
		Found  bool                  `json:"found"`
		Result *models.ResultSummary `json:"result"`
	}
	if err := c.do(ctx, "result", http.MethodGet, c.endpoint("results/"+url.PathEscape(id), nil), nil, &resp); err != nil {
		return models.ResultSummary{}, err
	}
	if !resp.Found || resp.Result == nil {
		return models.ResultSummary{}, ErrNotFound
	}
	return *resp.Result, nil
}

func (c *Client) ListScripts(ctx context.Context) ([]models.Script, error) {
	var resp struct {
		Scripts []models.Script `json:"scripts"`
	}
	if err := c.do(ctx, "scripts", http.MethodGet, c.endpoint("scripts", nil), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Scripts, nil
}

func (c *Client) ListTools(ctx context.Context) ([]models.Tool, error) {
	var resp struct {
		Tools []models.Tool `json:"tools"`
	}
	if err := c.do(ctx, "tools", http.MethodGet, c.endpoint("tools", nil), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tools, nil
}

func (c *Client) ListSecrets(ctx context.Context) (models.SecretList, error) {
	var list models.SecretList
	if err := c.do(ctx, "secrets", http.MethodGet, c.endpoint("secrets", nil), nil, &list); err != nil {
		return models.SecretList{}, err
	}
	return list, nil
}

func (c *Client) Health(ctx context.Context) (models.Health, error) {
	var h models.Health
	if err := c.do(ctx, "health", http.MethodGet, c.endpoint("health", nil), nil, &h); err != nil {
		return models.Health{}, err
	}
	return h, nil
}

// CheckCompatibility fetches the health document and verifies the reported
// version satisfies ">= minVersion". An empty minVersion skips the check.
func (c *Client) CheckCompatibility(ctx context.Context, minVersion string) (models.Health, error) {
	h, err := c.Health(ctx)
	if err != nil {
		return h, err
	}
	if minVersion == "" {
		return h, nil
	}

	constraint, err := semver.NewConstraint(">= " + minVersion)
	if err != nil {
		return h, fmt.Errorf("parse minimum version %q: %w", minVersion, err)
	}
	v, err := semver.NewVersion(h.Version)
	if err != nil {
		return h, fmt.Errorf("%w: unparsable version %q", ErrIncompatibleBackend, h.Version)
	}
	if !constraint.Check(v) {
		return h, fmt.Errorf("%w: %s is older than %s", ErrIncompatibleBackend, v, minVersion)
	}
	return h, nil
}
