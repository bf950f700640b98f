package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/reelcut/reelcut/internal/admission"
	"github.com/reelcut/reelcut/internal/models"
	"github.com/reelcut/reelcut/internal/service"
)

// JobHandler exposes the job lifecycle endpoints.
type JobHandler struct {
	svc    *service.JobService
	limits *admission.Controller
}

// NewJobHandler creates a job handler.
func NewJobHandler(svc *service.JobService, limits *admission.Controller) *JobHandler {
	return &JobHandler{svc: svc, limits: limits}
}

// SubmitJobBody is the client's job submission.
type SubmitJobBody struct {
	Filename       string `json:"filename" doc:"Original media filename" maxLength:"255"`
	FileSize       int64  `json:"file_size" doc:"Declared size in bytes"`
	ContentType    string `json:"content_type" doc:"Declared MIME type"`
	Resolution     string `json:"resolution,omitempty" enum:",480p,720p,1080p,4k" doc:"Target clip resolution; empty keeps the source resolution"`
	ProcessingMode string `json:"processing_mode,omitempty" enum:",audio,vision" doc:"audio (default) or vision"`
	RateLimitMode  bool   `json:"rate_limit_mode,omitempty" doc:"Serialize model calls for constrained API keys"`
	Prompt         string `json:"prompt,omitempty" doc:"Optional hint forwarded to content analysis" maxLength:"2048"`
}

// SubmitJobInput is the input for job submission.
type SubmitJobInput struct {
	Body SubmitJobBody
}

// UploadGrantResponse tells the client where and how to PUT the media.
type UploadGrantResponse struct {
	Key       string    `json:"key" doc:"Blob key to upload to"`
	ExpiresAt time.Time `json:"expires_at"`
	Signature string    `json:"signature"`
	URL       string    `json:"url" doc:"Relative upload URL with the grant encoded"`
}

// SubmitJobOutput is the output for job submission.
type SubmitJobOutput struct {
	Body struct {
		Job    JobResponse         `json:"job"`
		Upload UploadGrantResponse `json:"upload"`
	}
}

// GetJobInput identifies a job by path.
type GetJobInput struct {
	ID string `path:"id" doc:"Job ID (ULID)"`
}

// GetJobOutput is the output for the job status endpoint.
type GetJobOutput struct {
	Body JobResponse
}

// ListJobsInput is the input for listing the caller's jobs.
type ListJobsInput struct {
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"200" doc:"Maximum jobs to return, newest first"`
}

// ListJobsOutput is the output for listing the caller's jobs.
type ListJobsOutput struct {
	Body struct {
		Jobs []JobResponse `json:"jobs"`
	}
}

// ResultsOutput is the output for the results endpoint.
type ResultsOutput struct {
	Body struct {
		Job     JobResponse            `json:"job"`
		Clips   []ClipResponse         `json:"clips"`
		Summary *SummaryResponse       `json:"summary,omitempty"`
		Quiz    []QuizQuestionResponse `json:"quiz,omitempty"`
	}
}

// CancelJobOutput is the (empty) output for cancellation.
type CancelJobOutput struct{}

// CompleteUploadOutput is the output for marking the upload done.
type CompleteUploadOutput struct {
	Body JobResponse
}

// AdminListJobsInput is the input for the admin job listing.
type AdminListJobsInput struct {
	Offset int `query:"offset" default:"0" minimum:"0"`
	Limit  int `query:"limit" default:"50" minimum:"1" maximum:"200"`
}

// AdminListJobsOutput is the output for the admin job listing.
type AdminListJobsOutput struct {
	Body struct {
		Jobs  []JobResponse `json:"jobs"`
		Total int64         `json:"total"`
	}
}

// Register registers the job routes with the API.
func (h *JobHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "submitJob",
		Method:        "POST",
		Path:          "/api/v1/jobs",
		Summary:       "Submit a processing job",
		Description:   "Creates a queued job and returns a signed upload grant for the original media",
		Tags:          []string{"Jobs"},
		DefaultStatus: 201,
	}, h.Submit)

	huma.Register(api, huma.Operation{
		OperationID: "listJobs",
		Method:      "GET",
		Path:        "/api/v1/jobs",
		Summary:     "List your jobs",
		Tags:        []string{"Jobs"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getJob",
		Method:      "GET",
		Path:        "/api/v1/jobs/{id}",
		Summary:     "Get job status",
		Tags:        []string{"Jobs"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "completeUpload",
		Method:      "POST",
		Path:        "/api/v1/jobs/{id}/upload-complete",
		Summary:     "Mark the original media as uploaded",
		Description: "Makes the job eligible for worker pickup once the media is in the blob store",
		Tags:        []string{"Jobs"},
	}, h.CompleteUpload)

	huma.Register(api, huma.Operation{
		OperationID:   "cancelJob",
		Method:        "POST",
		Path:          "/api/v1/jobs/{id}/cancel",
		Summary:       "Cancel a job",
		Description:   "Stops a queued or running job; terminal jobs are unaffected",
		Tags:          []string{"Jobs"},
		DefaultStatus: 204,
	}, h.Cancel)

	huma.Register(api, huma.Operation{
		OperationID: "getJobResults",
		Method:      "GET",
		Path:        "/api/v1/jobs/{id}/results",
		Summary:     "Get job results",
		Description: "Returns the compiled clips, summary and quiz of a completed job",
		Tags:        []string{"Jobs"},
	}, h.Results)

	huma.Register(api, huma.Operation{
		OperationID: "adminListJobs",
		Method:      "GET",
		Path:        "/api/v1/admin/jobs",
		Summary:     "List all jobs",
		Description: "Admin-only paginated listing across all principals",
		Tags:        []string{"Admin"},
	}, h.AdminList)
}

// Submit creates a job and its upload grant.
func (h *JobHandler) Submit(ctx context.Context, input *SubmitJobInput) (*SubmitJobOutput, error) {
	principal, err := admit(ctx, h.limits, admission.ClassSubmit)
	if err != nil {
		return nil, err
	}
	if h.limits != nil {
		if err := h.limits.CheckConcurrency(ctx, principal); err != nil {
			return nil, apiError(err)
		}
	}

	result, err := h.svc.Submit(ctx, principal, service.SubmitRequest{
		Filename:    input.Body.Filename,
		FileSize:    input.Body.FileSize,
		ContentType: input.Body.ContentType,
		Config: models.ProcessingConfig{
			Resolution:     input.Body.Resolution,
			ProcessingMode: models.ProcessingMode(input.Body.ProcessingMode),
			RateLimitMode:  input.Body.RateLimitMode,
			Prompt:         input.Body.Prompt,
		},
	})
	if err != nil {
		return nil, apiError(err)
	}

	out := &SubmitJobOutput{}
	out.Body.Job = JobFromModel(result.Job)
	out.Body.Upload = uploadGrantResponse(result.Grant.Key, result.Grant.ExpiresAt, result.Grant.Signature)
	return out, nil
}

// List returns the caller's jobs, newest first.
func (h *JobHandler) List(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
	principal, err := admit(ctx, h.limits, admission.ClassStatus)
	if err != nil {
		return nil, err
	}
	jobs, err := h.svc.ListForPrincipal(ctx, principal, input.Limit)
	if err != nil {
		return nil, apiError(err)
	}
	out := &ListJobsOutput{}
	out.Body.Jobs = make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		out.Body.Jobs = append(out.Body.Jobs, JobFromModel(job))
	}
	return out, nil
}

// Get returns one job's status.
func (h *JobHandler) Get(ctx context.Context, input *GetJobInput) (*GetJobOutput, error) {
	principal, err := admit(ctx, h.limits, admission.ClassStatus)
	if err != nil {
		return nil, err
	}
	jobID, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error404NotFound("job not found")
	}
	job, err := h.svc.Get(ctx, principal, jobID)
	if err != nil {
		return nil, apiError(err)
	}
	return &GetJobOutput{Body: JobFromModel(job)}, nil
}

// CompleteUpload marks the original media as landed.
func (h *JobHandler) CompleteUpload(ctx context.Context, input *GetJobInput) (*CompleteUploadOutput, error) {
	principal, err := admit(ctx, h.limits, admission.ClassSubmit)
	if err != nil {
		return nil, err
	}
	jobID, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error404NotFound("job not found")
	}
	job, err := h.svc.CompleteUpload(ctx, principal, jobID)
	if err != nil {
		return nil, apiError(err)
	}
	return &CompleteUploadOutput{Body: JobFromModel(job)}, nil
}

// Cancel stops a job.
func (h *JobHandler) Cancel(ctx context.Context, input *GetJobInput) (*CancelJobOutput, error) {
	principal, err := admit(ctx, h.limits, admission.ClassStatus)
	if err != nil {
		return nil, err
	}
	jobID, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error404NotFound("job not found")
	}
	if err := h.svc.Cancel(ctx, principal, jobID); err != nil {
		return nil, apiError(err)
	}
	return &CancelJobOutput{}, nil
}

// Results returns the artifacts of a completed job.
func (h *JobHandler) Results(ctx context.Context, input *GetJobInput) (*ResultsOutput, error) {
	principal, err := admit(ctx, h.limits, admission.ClassResults)
	if err != nil {
		return nil, err
	}
	jobID, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error404NotFound("job not found")
	}
	results, err := h.svc.ResultsFor(ctx, principal, jobID)
	if err != nil {
		return nil, apiError(err)
	}

	out := &ResultsOutput{}
	out.Body.Job = JobFromModel(results.Job)
	out.Body.Clips = make([]ClipResponse, 0, len(results.Clips))
	for _, clip := range results.Clips {
		out.Body.Clips = append(out.Body.Clips, ClipFromModel(clip))
	}
	if results.Summary != nil {
		out.Body.Summary = &SummaryResponse{
			Overview:  results.Summary.Overview,
			KeyPoints: results.Summary.KeyPoints,
		}
	}
	for _, q := range results.Quiz {
		out.Body.Quiz = append(out.Body.Quiz, QuizQuestionResponse{
			Order:    q.Order,
			Question: q.Question,
			Options:  q.Options,
			Answer:   q.Answer,
		})
	}
	return out, nil
}

// AdminList returns a page of all jobs.
func (h *JobHandler) AdminList(ctx context.Context, input *AdminListJobsInput) (*AdminListJobsOutput, error) {
	principal, err := admit(ctx, h.limits, admission.ClassAdmin)
	if err != nil {
		return nil, err
	}
	jobs, total, err := h.svc.ListAll(ctx, principal, input.Offset, input.Limit)
	if err != nil {
		return nil, apiError(err)
	}
	out := &AdminListJobsOutput{}
	out.Body.Total = total
	out.Body.Jobs = make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		out.Body.Jobs = append(out.Body.Jobs, JobFromModel(job))
	}
	return out, nil
}
