package dto

// SubmitAnalysisRequest asks for an analysis of one repository.
type SubmitAnalysisRequest struct {
	RepoURL string `json:"repo_url" binding:"required,max=500"`
	Mode    string `json:"mode,omitempty" binding:"omitempty,oneof=standard deep"`
}

// SubmitAnalysisResponse carries the job identity the caller polls with.
type SubmitAnalysisResponse struct {
	JobID   string `json:"job_id"`
	RepoURL string `json:"repo_url"`
}

// ProgressResponse is the wire form of one progress snapshot.
type ProgressResponse struct {
	JobID     string `json:"job_id"`
	RepoURL   string `json:"repo_url"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	Stage     string `json:"stage,omitempty"`
	Detail    string `json:"detail,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// StatusResponse reports whether a reference has an active job and, if
// not, whether a durable result exists for it.
type StatusResponse struct {
	JobID     string            `json:"job_id"`
	Active    bool              `json:"active"`
	HasResult bool              `json:"has_result"`
	Progress  *ProgressResponse `json:"progress,omitempty"`
}
