package models

import "time"

// UpdateFrequency selects how often a registered course is exported automatically.
type UpdateFrequency int

const (
	UpdateFrequencyNone    UpdateFrequency = 0
	UpdateFrequencyDaily   UpdateFrequency = 1
	UpdateFrequencyWeekly  UpdateFrequency = 2
	UpdateFrequencyMonthly UpdateFrequency = 3
)

// String returns the label shown in the frequency selector.
func (f UpdateFrequency) String() string {
	switch f {
	case UpdateFrequencyNone:
		return "none"
	case UpdateFrequencyDaily:
		return "daily"
	case UpdateFrequencyWeekly:
		return "weekly"
	default:
		return "monthly"
	}
}

// CourseRegistration is a lecturer's opt-in of one course. Timestamps are epoch seconds, 0 when unset.
type CourseRegistration struct {
	ID               int64           `db:"id" json:"id"`
	CourseID         int64           `db:"course_id" json:"course_id"`
	UserID           int64           `db:"user_id" json:"user_id"`
	Username         string          `db:"username" json:"username"`
	UpdateFrequency  UpdateFrequency `db:"update_frequency" json:"update_frequency"`
	AutoUpdateTime   int64           `db:"auto_update_time" json:"auto_update_time"`
	ManualUpdateTime int64           `db:"manual_update_time" json:"manual_update_time"`
	TimeLastDataSent int64           `db:"time_last_data_sent" json:"time_last_data_sent"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

// RegistrationStatus is the lecturer-facing view of a course registration.
type RegistrationStatus struct {
	Registered       bool            `json:"registered"`
	CourseID         int64           `json:"course_id"`
	UpdateFrequency  UpdateFrequency `json:"update_frequency"`
	Frequency        string          `json:"frequency"`
	LastDataSent     string          `json:"last_data_sent,omitempty"`
	LastManualUpdate string          `json:"last_manual_update,omitempty"`
	LastAutoUpdate   string          `json:"last_auto_update,omitempty"`
}
