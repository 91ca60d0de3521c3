package jobclient

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/bl4ck0w1/lotuswatch/pkg/models"
)

type CreateRequest struct {
	Target     string
	ScanType   models.ScanType
	ScriptPath string
}

type createScanBody struct {
	Target   string  `json:"target"`
	ScanType string  `json:"scan_type"`
	Script   *string `json:"script"`
}

type createScanResponse struct {
	Success bool   `json:"success"`
	ScanID  string `json:"scan_id"`
	Message string `json:"message"`
}

type scanStatusBody struct {
	ID       string `json:"id"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
	Status   string `json:"status"`
}

type queryScanResponse struct {
	Found   bool            `json:"found"`
	Scan    *scanStatusBody `json:"scan"`
	Message string          `json:"message"`
}

type stopScanResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Create asks the job service to start a scan. A success=false answer is
// returned as *BackendRejection.
func (c *Client) Create(ctx context.Context, req CreateRequest) (models.ScanHandle, error) {
	if strings.TrimSpace(req.Target) == "" {
		return models.ScanHandle{}, errors.New("create: target is required")
	}
	if req.ScanType == "" {
		req.ScanType = models.ScanTypeOSINT
	}

	body := createScanBody{Target: req.Target, ScanType: req.ScanType.String()}
	if req.ScriptPath != "" {
		script := req.ScriptPath
		body.Script = &script
	}

	var resp createScanResponse
	if err := c.do(ctx, "create", http.MethodPost, c.endpoint("scan", nil), body, &resp); err != nil {
		return models.ScanHandle{}, err
	}
	if !resp.Success || resp.ScanID == "" {
		return models.ScanHandle{}, &BackendRejection{Op: "create", Message: resp.Message}
	}

	return models.ScanHandle{
		ID:         resp.ScanID,
		Target:     req.Target,
		ScanType:   req.ScanType,
		ScriptPath: req.ScriptPath,
	}, nil
}

// Query fetches the current status of a scan. ErrNotFound is returned when
// the job service does not know the id.
func (c *Client) Query(ctx context.Context, id string) (models.ScanStatus, error) {
	var resp queryScanResponse
	if err := c.do(ctx, "query", http.MethodGet, c.endpoint("scan/"+url.PathEscape(id), nil), nil, &resp); err != nil {
		return models.ScanStatus{}, err
	}
	if !resp.Found || resp.Scan == nil {
		return models.ScanStatus{}, ErrNotFound
	}

	st := models.ScanStatus{
		ID:       resp.Scan.ID,
		Progress: resp.Scan.Progress,
		Message:  resp.Scan.Message,
		State:    models.ParseScanState(resp.Scan.Status),
	}
	if st.ID == "" {
		st.ID = id
	}
	return st, nil
}

// Stop requests cancellation. Only transport and HTTP failures are errors; the
// job service's own verdict is logged and otherwise ignored.
func (c *Client) Stop(ctx context.Context, id string) error {
	var resp stopScanResponse
	if err := c.do(ctx, "stop", http.MethodPost, c.endpoint("scan/"+url.PathEscape(id)+"/stop", nil), nil, &resp); err != nil {
		return err
	}
	if !resp.Success && resp.Message != "" {
		c.logger.Debugf("Stop for scan %s not applied: %s", id, resp.Message)
	}
	return nil
}
