package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/lppm-portal/kkn-api/internal/auth"
	"github.com/lppm-portal/kkn-api/internal/registration"
)

// RegistrationHandler serves the student side of KKN registrations.
type RegistrationHandler struct {
	service *registration.Service
}

func NewRegistrationHandler(service *registration.Service) *RegistrationHandler {
	return &RegistrationHandler{service: service}
}

type SubmitRegistrationInput struct {
	RawBody multipart.Form
}

type ReuploadDocumentsInput struct {
	ID      uint `path:"id"`
	RawBody multipart.Form
}

// formUploads opens the document files of a multipart form. The returned
// function closes every opened file.
func formUploads(form *multipart.Form) ([]registration.Upload, func(), error) {
	var (
		uploads []registration.Upload
		files   []io.Closer
	)
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}

	for field, headers := range form.File {
		kind, ok := registration.KindForField(field)
		if !ok || len(headers) == 0 {
			continue
		}
		fh := headers[0]
		f, err := fh.Open()
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		files = append(files, f)
		uploads = append(uploads, registration.Upload{
			Kind:     kind,
			Filename: fh.Filename,
			Size:     fh.Size,
			Content:  f,
		})
	}
	return uploads, closeAll, nil
}

func formValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

func (h *RegistrationHandler) HandleSubmit(ctx context.Context, input *SubmitRegistrationInput) (*RegistrationOutput, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}

	in := registration.SubmitInput{FiscalYear: formValue(&input.RawBody, "fiscal_year")}
	if raw := formValue(&input.RawBody, "location_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			return nil, huma.Error422UnprocessableEntity("Validation failed", &huma.ErrorDetail{
				Message:  "location_id must be a positive integer",
				Location: "body.location_id",
				Value:    raw,
			})
		}
		locationID := uint(id)
		in.LocationID = &locationID
	}

	uploads, closeFiles, err := formUploads(&input.RawBody)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open uploaded file", slog.String("error", err.Error()))
		return nil, huma.Error400BadRequest("Failed to read uploaded files")
	}
	defer closeFiles()
	in.Uploads = uploads

	reg, err := h.service.Submit(ctx, actor, in)
	if err != nil {
		return nil, apiError(ctx, err)
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		reg.Student = p.User
	}
	return &RegistrationOutput{Body: registrationBody(*reg)}, nil
}

func (h *RegistrationHandler) HandleMine(ctx context.Context, input *struct{}) (*RegistrationOutput, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	reg, err := h.service.Latest(ctx, actor.ID)
	if err != nil {
		return nil, apiError(ctx, err)
	}
	return &RegistrationOutput{Body: registrationBody(*reg)}, nil
}

type ListLocationsInput struct {
	FiscalYear string `query:"fiscal_year" doc:"Fiscal year, e.g. 2025"`
}

type ListLocationsOutput struct {
	Body struct {
		Items []LocationSummary `json:"items"`
	}
}

func (h *RegistrationHandler) HandleLocations(ctx context.Context, input *ListLocationsInput) (*ListLocationsOutput, error) {
	locations, err := h.service.Locations(ctx, input.FiscalYear)
	if err != nil {
		return nil, apiError(ctx, err)
	}
	resp := &ListLocationsOutput{}
	resp.Body.Items = make([]LocationSummary, 0, len(locations))
	for _, l := range locations {
		resp.Body.Items = append(resp.Body.Items, locationSummary(l))
	}
	return resp, nil
}

func (h *RegistrationHandler) HandleReupload(ctx context.Context, input *ReuploadDocumentsInput) (*ReviewOutput, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}

	uploads, closeFiles, err := formUploads(&input.RawBody)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open uploaded file", slog.String("error", err.Error()))
		return nil, huma.Error400BadRequest("Failed to read uploaded files")
	}
	defer closeFiles()

	out, err := h.service.ReuploadDocuments(ctx, actor, input.ID, uploads)
	if err != nil {
		return nil, apiError(ctx, err)
	}
	return reviewOutput(out), nil
}

type DocumentInput struct {
	ID   uint   `path:"id"`
	Kind string `path:"kind" enum:"krs,health,transcript,photo"`
}

type DocumentOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               []byte
}

func (h *RegistrationHandler) openDocument(ctx context.Context, input *DocumentInput, anyStudent bool) (*DocumentOutput, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := h.service.OpenDocument(ctx, actor, input.ID, registration.DocumentKind(input.Kind), anyStudent)
	if err != nil {
		return nil, apiError(ctx, err)
	}
	defer doc.Content.Close()

	data, err := io.ReadAll(doc.Content)
	if err != nil {
		return nil, apiError(ctx, err)
	}
	return &DocumentOutput{
		ContentType:        doc.ContentType,
		ContentDisposition: fmt.Sprintf("inline; filename=%q", doc.Filename),
		Body:               data,
	}, nil
}

// HandleDocument serves a document to the student who owns the registration.
func (h *RegistrationHandler) HandleDocument(ctx context.Context, input *DocumentInput) (*DocumentOutput, error) {
	return h.openDocument(ctx, input, false)
}

// HandleReviewDocument serves any registration's document to a reviewer.
func (h *RegistrationHandler) HandleReviewDocument(ctx context.Context, input *DocumentInput) (*DocumentOutput, error) {
	return h.openDocument(ctx, input, true)
}
