package plansdk

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/contenox/agentplan/apiframework"
	"github.com/contenox/agentplan/planservice"
	"github.com/contenox/agentplan/planstore"
)

// HTTPPlanService drives plans on a remote runtime over its HTTP API. The
// owning actor is derived server-side from the bearer token.
type HTTPPlanService struct {
	client  *http.Client
	baseURL string
	token   string
}

// NewHTTPPlanService creates an HTTP client for the plan API.
func NewHTTPPlanService(baseURL, token string, client *http.Client) *HTTPPlanService {
	if client == nil {
		client = http.DefaultClient
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	return &HTTPPlanService{
		client:  client,
		baseURL: baseURL,
		token:   token,
	}
}

func (s *HTTPPlanService) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiframework.HandleAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateAndStart submits a goal and returns the plan after its first drive.
func (s *HTTPPlanService) CreateAndStart(ctx context.Context, req planservice.CreateRequest) (*planservice.PlanWithSteps, error) {
	var plan planservice.PlanWithSteps
	if err := s.do(ctx, http.MethodPost, "/plans", req, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// Get fetches a plan with its step history.
func (s *HTTPPlanService) Get(ctx context.Context, planID string) (*planservice.PlanWithSteps, error) {
	var plan planservice.PlanWithSteps
	if err := s.do(ctx, http.MethodGet, "/plans/"+url.PathEscape(planID), nil, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// List returns the caller's plans, newest first, optionally filtered by
// status.
func (s *HTTPPlanService) List(ctx context.Context, status planstore.PlanStatus) ([]*planstore.Plan, error) {
	path := "/plans"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var plans []*planstore.Plan
	if err := s.do(ctx, http.MethodGet, path, nil, &plans); err != nil {
		return nil, err
	}
	return plans, nil
}

// Approve resumes a paused plan by approving its pending step.
func (s *HTTPPlanService) Approve(ctx context.Context, planID string) (*planservice.PlanWithSteps, error) {
	var plan planservice.PlanWithSteps
	if err := s.do(ctx, http.MethodPost, "/plans/"+url.PathEscape(planID)+"/approve", nil, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// Reject cancels a paused plan by rejecting its pending step.
func (s *HTTPPlanService) Reject(ctx context.Context, planID string) (*planservice.PlanWithSteps, error) {
	var plan planservice.PlanWithSteps
	if err := s.do(ctx, http.MethodPost, "/plans/"+url.PathEscape(planID)+"/reject", nil, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// Cancel stops a plan that has not yet finished.
func (s *HTTPPlanService) Cancel(ctx context.Context, planID string) (*planservice.PlanWithSteps, error) {
	var plan planservice.PlanWithSteps
	if err := s.do(ctx, http.MethodPost, "/plans/"+url.PathEscape(planID)+"/cancel", nil, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// Decide applies a raw approve-or-reject decision string.
func (s *HTTPPlanService) Decide(ctx context.Context, planID, action string) (*planservice.PlanWithSteps, error) {
	var plan planservice.PlanWithSteps
	body := map[string]string{"action": action}
	if err := s.do(ctx, http.MethodPost, "/plans/"+url.PathEscape(planID)+"/decision", body, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}
