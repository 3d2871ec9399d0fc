package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/lppm-portal/kkn-api/internal/auth"
	"github.com/lppm-portal/kkn-api/internal/models"
	"github.com/lppm-portal/kkn-api/internal/registration"
)

// ReviewHandler serves the reviewer side of KKN registrations.
type ReviewHandler struct {
	service *registration.Service
}

func NewReviewHandler(service *registration.Service) *ReviewHandler {
	return &ReviewHandler{service: service}
}

func actorFrom(ctx context.Context) (registration.Actor, error) {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return registration.Actor{}, huma.Error401Unauthorized("Unauthorized")
	}
	return registration.Actor{ID: p.ID()}, nil
}

type ListRegistrationsInput struct {
	Status     string `query:"status" doc:"pending, needs_revision, approved or rejected"`
	FiscalYear string `query:"fiscal_year" doc:"Fiscal year, e.g. 2025"`
	Search     string `query:"search" doc:"Matches student name, email, phone or student number"`
	Page       int    `query:"page" minimum:"1" default:"1"`
	PerPage    int    `query:"per_page" minimum:"1" maximum:"100" default:"15"`
}

type ListRegistrationsOutput struct {
	Body struct {
		Items    []RegistrationBody `json:"items"`
		Total    int64              `json:"total"`
		Page     int                `json:"page"`
		PerPage  int                `json:"per_page"`
		LastPage int                `json:"last_page"`
	}
}

func (h *ReviewHandler) HandleList(ctx context.Context, input *ListRegistrationsInput) (*ListRegistrationsOutput, error) {
	page, err := h.service.List(ctx, registration.ListFilter{
		Status:     models.RegistrationStatus(input.Status),
		FiscalYear: input.FiscalYear,
		Search:     input.Search,
		Page:       input.Page,
		PerPage:    input.PerPage,
	})
	if err != nil {
		return nil, apiError(ctx, err)
	}

	resp := &ListRegistrationsOutput{}
	resp.Body.Items = make([]RegistrationBody, 0, len(page.Items))
	for _, r := range page.Items {
		resp.Body.Items = append(resp.Body.Items, registrationBody(r))
	}
	resp.Body.Total = page.Total
	resp.Body.Page = page.Page
	resp.Body.PerPage = page.PerPage
	resp.Body.LastPage = int((page.Total + int64(page.PerPage) - 1) / int64(page.PerPage))
	if resp.Body.LastPage == 0 {
		resp.Body.LastPage = 1
	}
	return resp, nil
}

type StatsInput struct {
	FiscalYear string `query:"fiscal_year"`
}

type StatsOutput struct {
	Body struct {
		Total    int64            `json:"total"`
		ByStatus map[string]int64 `json:"by_status"`
	}
}

func (h *ReviewHandler) HandleStats(ctx context.Context, input *StatsInput) (*StatsOutput, error) {
	stats, err := h.service.Stats(ctx, input.FiscalYear)
	if err != nil {
		return nil, apiError(ctx, err)
	}
	resp := &StatsOutput{}
	resp.Body.Total = stats.Total
	resp.Body.ByStatus = make(map[string]int64, len(stats.ByStatus))
	for status, n := range stats.ByStatus {
		resp.Body.ByStatus[string(status)] = n
	}
	return resp, nil
}

type RegistrationIDInput struct {
	ID uint `path:"id"`
}

type RegistrationOutput struct {
	Body RegistrationBody
}

func (h *ReviewHandler) HandleGet(ctx context.Context, input *RegistrationIDInput) (*RegistrationOutput, error) {
	reg, err := h.service.Get(ctx, input.ID)
	if err != nil {
		return nil, apiError(ctx, err)
	}
	return &RegistrationOutput{Body: registrationBody(*reg)}, nil
}

type ReviewInput struct {
	ID   uint `path:"id"`
	Body struct {
		Note string `json:"note,omitempty" maxLength:"2000" doc:"Reviewer note shown to the student"`
	}
}

// ApproveInput takes an optional body; an empty note is replaced by a default.
type ApproveInput struct {
	ID   uint `path:"id"`
	Body struct {
		Note string `json:"note,omitempty" maxLength:"2000"`
	} `required:"false"`
}

type ReviewOutput struct {
	Body struct {
		Registration RegistrationBody `json:"registration"`
		Log          LogEntry         `json:"log"`
	}
}

func reviewOutput(out *registration.Outcome) *ReviewOutput {
	resp := &ReviewOutput{}
	resp.Body.Registration = registrationBody(out.Registration)
	resp.Body.Log = logEntry(out.Log)
	return resp
}

type reviewFunc func(ctx context.Context, actor registration.Actor, id uint, note string) (*registration.Outcome, error)

func (h *ReviewHandler) run(ctx context.Context, fn reviewFunc, id uint, note string) (*ReviewOutput, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	out, err := fn(ctx, actor, id, note)
	if err != nil {
		return nil, apiError(ctx, err)
	}
	return reviewOutput(out), nil
}

func (h *ReviewHandler) HandleApprove(ctx context.Context, input *ApproveInput) (*ReviewOutput, error) {
	return h.run(ctx, h.service.Approve, input.ID, input.Body.Note)
}

func (h *ReviewHandler) HandleReject(ctx context.Context, input *ReviewInput) (*ReviewOutput, error) {
	return h.run(ctx, h.service.Reject, input.ID, input.Body.Note)
}

func (h *ReviewHandler) HandleRequestRevision(ctx context.Context, input *ReviewInput) (*ReviewOutput, error) {
	return h.run(ctx, h.service.RequestRevision, input.ID, input.Body.Note)
}

func (h *ReviewHandler) HandleAddNote(ctx context.Context, input *ReviewInput) (*ReviewOutput, error) {
	return h.run(ctx, h.service.AddNote, input.ID, input.Body.Note)
}
