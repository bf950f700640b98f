package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/reelcut/reelcut/internal/admission"
	"github.com/reelcut/reelcut/internal/service"
)

// CredentialHandler manages the caller's stored model API key.
type CredentialHandler struct {
	svc    *service.JobService
	limits *admission.Controller
}

// NewCredentialHandler creates a credential handler.
func NewCredentialHandler(svc *service.JobService, limits *admission.Controller) *CredentialHandler {
	return &CredentialHandler{svc: svc, limits: limits}
}

// PutCredentialInput carries the model API key to store.
type PutCredentialInput struct {
	Body struct {
		APIKey string `json:"api_key" doc:"Model provider API key; stored encrypted" minLength:"1"`
	}
}

// PutCredentialOutput is the (empty) output for storing a key.
type PutCredentialOutput struct{}

// DeleteCredentialOutput is the (empty) output for removing a key.
type DeleteCredentialOutput struct{}

// Register registers the credential routes with the API.
func (h *CredentialHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "putCredential",
		Method:        "PUT",
		Path:          "/api/v1/credentials",
		Summary:       "Store your model API key",
		Description:   "Encrypts and stores the key; required before submitting jobs",
		Tags:          []string{"Credentials"},
		DefaultStatus: 204,
	}, h.Put)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteCredential",
		Method:        "DELETE",
		Path:          "/api/v1/credentials",
		Summary:       "Delete your stored model API key",
		Tags:          []string{"Credentials"},
		DefaultStatus: 204,
	}, h.Delete)
}

// Put stores the caller's model API key.
func (h *CredentialHandler) Put(ctx context.Context, input *PutCredentialInput) (*PutCredentialOutput, error) {
	principal, err := admit(ctx, h.limits, admission.ClassSubmit)
	if err != nil {
		return nil, err
	}
	if err := h.svc.PutCredential(ctx, principal, input.Body.APIKey); err != nil {
		return nil, apiError(err)
	}
	return &PutCredentialOutput{}, nil
}

// Delete removes the caller's stored model API key.
func (h *CredentialHandler) Delete(ctx context.Context, _ *struct{}) (*DeleteCredentialOutput, error) {
	principal, err := admit(ctx, h.limits, admission.ClassSubmit)
	if err != nil {
		return nil, err
	}
	if err := h.svc.DeleteCredential(ctx, principal); err != nil {
		return nil, apiError(err)
	}
	return &DeleteCredentialOutput{}, nil
}
