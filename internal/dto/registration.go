package dto

// UpdateFrequencyRequest changes the automatic update interval of a course.
type UpdateFrequencyRequest struct {
	UpdateFrequency *int `json:"update_frequency" validate:"required,min=0,max=3"`
}

// ManualUpdateResponse acknowledges a queued export.
type ManualUpdateResponse struct {
	JobID    string `json:"job_id"`
	CourseID int64  `json:"course_id"`
}

// DeclarationUploadResponse summarises a roster upload.
type DeclarationUploadResponse struct {
	CourseID     int64 `json:"course_id"`
	Participants int   `json:"participants"`
	Declarations int   `json:"declarations"`
	Pages        int   `json:"pages"`
}
