package planapi

import (
	"net/http"

	serverops "github.com/contenox/agentplan/apiframework"
	"github.com/contenox/agentplan/libauth"
	"github.com/contenox/agentplan/planservice"
	"github.com/contenox/agentplan/planstore"
)

func AddPlanRoutes(mux *http.ServeMux, service planservice.Service) {
	s := &planManager{service: service}

	mux.HandleFunc("POST /plans", s.create)
	mux.HandleFunc("GET /plans", s.list)
	mux.HandleFunc("GET /plans/{id}", s.get)
	mux.HandleFunc("POST /plans/{id}/approve", s.approve)
	mux.HandleFunc("POST /plans/{id}/reject", s.reject)
	mux.HandleFunc("POST /plans/{id}/cancel", s.cancel)
	mux.HandleFunc("POST /plans/{id}/decision", s.decide)
}

type planManager struct {
	service planservice.Service
}

type decisionRequest struct {
	Action string `json:"action"`
}

// Creates a plan from a goal and drives it until it completes, pauses
// for approval, or fails. The returned plan reflects that first outcome.
func (s *planManager) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, err := libauth.GetIdentity(ctx)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.CreateOperation)
		return
	}

	req, err := serverops.Decode[planservice.CreateRequest](r) // @request planservice.CreateRequest
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.CreateOperation)
		return
	}
	// The owner is always the authenticated caller, never the payload.
	req.OwnerID = actor

	plan, err := s.service.CreateAndStart(ctx, req)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.CreateOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusCreated, plan) // @response planservice.PlanWithSteps
}

// Returns a plan with its full step history.
func (s *planManager) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, err := libauth.GetIdentity(ctx)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.GetOperation)
		return
	}
	id := serverops.GetPathParam(r, "id", "plan id")

	plan, err := s.service.Get(ctx, id)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.GetOperation)
		return
	}
	if plan.OwnerID != actor {
		_ = serverops.Error(w, r, planservice.ErrNotOwner, serverops.GetOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusOK, plan) // @response planservice.PlanWithSteps
}

// Lists the caller's plans, newest first. An optional status query
// parameter narrows the listing.
func (s *planManager) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, err := libauth.GetIdentity(ctx)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.ListOperation)
		return
	}
	status := serverops.GetQueryParam(r, "status", "", "plan status filter")

	plans, err := s.service.List(ctx, actor, planstore.PlanStatus(status))
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.ListOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusOK, plans) // @response []planstore.Plan
}

// Approves the step a paused plan is waiting on and resumes execution.
func (s *planManager) approve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, err := libauth.GetIdentity(ctx)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.UpdateOperation)
		return
	}
	id := serverops.GetPathParam(r, "id", "plan id")

	plan, err := s.service.Approve(ctx, id, actor)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.UpdateOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusOK, plan) // @response planservice.PlanWithSteps
}

// Rejects the step a paused plan is waiting on and cancels the plan.
func (s *planManager) reject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, err := libauth.GetIdentity(ctx)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.UpdateOperation)
		return
	}
	id := serverops.GetPathParam(r, "id", "plan id")

	plan, err := s.service.Reject(ctx, id, actor)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.UpdateOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusOK, plan) // @response planservice.PlanWithSteps
}

// Cancels a plan that has not yet reached a terminal status.
func (s *planManager) cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, err := libauth.GetIdentity(ctx)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.UpdateOperation)
		return
	}
	id := serverops.GetPathParam(r, "id", "plan id")

	plan, err := s.service.Cancel(ctx, id, actor)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.UpdateOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusOK, plan) // @response planservice.PlanWithSteps
}

// Applies an approve-or-reject decision supplied in the request body.
func (s *planManager) decide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, err := libauth.GetIdentity(ctx)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.UpdateOperation)
		return
	}
	id := serverops.GetPathParam(r, "id", "plan id")
	req, err := serverops.Decode[decisionRequest](r) // @request planapi.decisionRequest
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.UpdateOperation)
		return
	}

	plan, err := s.service.Decide(ctx, id, actor, req.Action)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.UpdateOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusOK, plan) // @response planservice.PlanWithSteps
}
