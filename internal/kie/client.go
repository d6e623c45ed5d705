package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/TGArtBot/internal/config"
)

// Provider task states as reported by the jobs API.
const (
	StateWaiting    = "waiting"
	StateQueuing    = "queuing"
	StateGenerating = "generating"
	StateSuccess    = "success"
	StateFail       = "fail"
)

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

// TaskInfo is one status snapshot of a remote job.
type TaskInfo struct {
	TaskID        string
	State         string
	ResultURLs    []string
	WatermarkURLs []string
	FailCode      string
	FailMsg       string
}

// Terminal reports whether the provider will not change this state anymore.
func (t *TaskInfo) Terminal() bool {
	return t.State == StateSuccess || t.State == StateFail
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		apiKey:  cfg.KIEAPIKey,
		baseURL: strings.TrimRight(cfg.KIEBaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// CreateTask submits a generation job and returns the provider task ID.
func (c *Client) CreateTask(ctx context.Context, modelType string, input map[string]any) (string, error) {
	payload := map[string]any{
		"model": modelType,
		"input": input,
	}

	var createResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
	}
	if err := c.postJSON(ctx, "/api/v1/jobs/createTask", payload, &createResp); err != nil {
		return "", err
	}
	if createResp.Code != 200 {
		return "", newAPIError(0, createResp.Code, createResp.Msg)
	}
	if createResp.Data.TaskID == "" {
		return "", newAPIError(0, createResp.Code, "empty taskId in response")
	}

	c.log.Info("kie task created", "task_id", createResp.Data.TaskID, "model", modelType)
	return createResp.Data.TaskID, nil
}

// GetTaskInfo reads one status snapshot. It never loops; polling policy
// belongs to the caller.
func (c *Client) GetTaskInfo(ctx context.Context, taskID string) (*TaskInfo, error) {
	endpoint := "/api/v1/jobs/recordInfo?" + url.Values{"taskId": {taskID}}.Encode()

	var statusResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID     string `json:"taskId"`
			State      string `json:"state"`
			ResultJSON string `json:"resultJson"`
			FailCode   string `json:"failCode"`
			FailMsg    string `json:"failMsg"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, endpoint, &statusResp); err != nil {
		return nil, err
	}
	if statusResp.Code != 200 {
		return nil, newAPIError(0, statusResp.Code, statusResp.Msg)
	}

	info := &TaskInfo{
		TaskID:   statusResp.Data.TaskID,
		State:    statusResp.Data.State,
		FailCode: statusResp.Data.FailCode,
		FailMsg:  statusResp.Data.FailMsg,
	}

	if info.State == StateSuccess && statusResp.Data.ResultJSON != "" {
		var result struct {
			ResultURLs          []string `json:"resultUrls"`
			ResultWaterMarkURLs []string `json:"resultWaterMarkUrls"`
		}
		if err := json.Unmarshal([]byte(statusResp.Data.ResultJSON), &result); err != nil {
			// Leave URLs empty; the lifecycle manager flags the task for review.
			c.log.Error("kie resultJson malformed", "task_id", taskID, "err", err)
		} else {
			info.ResultURLs = result.ResultURLs
			info.WatermarkURLs = result.ResultWaterMarkURLs
		}
	}

	return info, nil
}

// Credits returns the remaining provider account balance in credit units.
func (c *Client) Credits(ctx context.Context) (float64, error) {
	var resp struct {
		Code int     `json:"code"`
		Msg  string  `json:"msg"`
		Data float64 `json:"data"`
	}
	if err := c.getJSON(ctx, "/api/v1/chat/credit", &resp); err != nil {
		return 0, err
	}
	if resp.Code != 200 {
		return 0, newAPIError(0, resp.Code, resp.Msg)
	}
	return resp.Data, nil
}

// TestCredentials verifies the configured API key against the provider.
func (c *Client) TestCredentials(ctx context.Context) error {
	_, err := c.Credits(ctx)
	return err
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.doJSON(ctx, http.MethodPost, endpoint, bytes.NewReader(body), out)
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	return c.doJSON(ctx, http.MethodGet, endpoint, nil, out)
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body io.Reader, out any) error {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("parse base URL: %w", err)
	}
	ref, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	fullURL := base.ResolveReference(ref).String()

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("kie request: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := newAPIError(resp.StatusCode, 0, truncateBody(rawBody))
		c.log.Error("kie request failed",
			"status", resp.StatusCode, "url", fullURL,
			"correlation_id", apiErr.CorrelationID, "body", truncateBody(rawBody))
		return apiErr
	}

	if err := json.Unmarshal(rawBody, out); err != nil {
		return fmt.Errorf("decode response: %w (body=%s)", err, truncateBody(rawBody))
	}
	return nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}

// APIError is a provider-side failure. CorrelationID is generated
// locally and included in every user-facing message so support can match
// complaints to log lines.
type APIError struct {
	Status        int // HTTP status, 0 when the envelope code signalled the error
	Code          int // provider envelope code
	Msg           string
	CorrelationID string
}

func newAPIError(status, code int, msg string) *APIError {
	return &APIError{
		Status:        status,
		Code:          code,
		Msg:           msg,
		CorrelationID: uuid.NewString(),
	}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kie error: status=%d code=%d msg=%s correlation_id=%s", e.Status, e.Code, e.Msg, e.CorrelationID)
}

// UserMessage maps the failure to a short user-facing text by status
// class, always carrying the correlation ID.
func (e *APIError) UserMessage() string {
	var reason string
	switch {
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		reason = "сервис генерации отклонил авторизацию"
	case e.Status == http.StatusTooManyRequests:
		reason = "сервис генерации перегружен, попробуйте чуть позже"
	case e.Status >= 500:
		reason = "сервис генерации временно недоступен"
	case e.Status >= 400:
		reason = "сервис генерации отклонил запрос"
	default:
		reason = "сервис генерации вернул ошибку"
	}
	return fmt.Sprintf("%s (код обращения: %s)", reason, e.CorrelationID)
}
