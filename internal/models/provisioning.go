package models

import "time"

// ProvisioningStep names one remote call of the onboarding saga.
type ProvisioningStep string

const (
	StepCreateUser    ProvisioningStep = "create_user"
	StepCreateSpace   ProvisioningStep = "create_space"
	StepCreateRole    ProvisioningStep = "create_role"
	StepCopyDashboard ProvisioningStep = "copy_dashboard"
)

// ProvisioningSteps lists the saga in execution order.
var ProvisioningSteps = []ProvisioningStep{StepCreateUser, StepCreateSpace, StepCreateRole, StepCopyDashboard}

// ProvisioningState is the persisted progress of one identity.
type ProvisioningState struct {
	Identity        string     `db:"identity" json:"identity"`
	UserCreatedAt   *time.Time `db:"user_created_at" json:"user_created_at,omitempty"`
	SpaceCreatedAt  *time.Time `db:"space_created_at" json:"space_created_at,omitempty"`
	RoleCreatedAt   *time.Time `db:"role_created_at" json:"role_created_at,omitempty"`
	DashboardCopied *time.Time `db:"dashboard_copied_at" json:"dashboard_copied_at,omitempty"`
	LastError       *string    `db:"last_error" json:"last_error,omitempty"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Done reports whether step has completed.
func (s *ProvisioningState) Done(step ProvisioningStep) bool {
	if s == nil {
		return false
	}
	switch step {
	case StepCreateUser:
		return s.UserCreatedAt != nil
	case StepCreateSpace:
		return s.SpaceCreatedAt != nil
	case StepCreateRole:
		return s.RoleCreatedAt != nil
	case StepCopyDashboard:
		return s.DashboardCopied != nil
	}
	return false
}

// Complete reports whether every step has completed.
func (s *ProvisioningState) Complete() bool {
	for _, step := range ProvisioningSteps {
		if !s.Done(step) {
			return false
		}
	}
	return true
}

// ProvisioningStepStatus describes one step in status responses.
type ProvisioningStepStatus struct {
	Step        ProvisioningStep `json:"step"`
	Done        bool             `json:"done"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// ProvisioningStatus summarises onboarding for the lecturer.
type ProvisioningStatus struct {
	Identity      string                   `json:"identity"`
	AccountExists bool                     `json:"account_exists"`
	Steps         []ProvisioningStepStatus `json:"steps"`
	Complete      bool                     `json:"complete"`
	LastError     *string                  `json:"last_error,omitempty"`
}
