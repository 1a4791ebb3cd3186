package dto

// SettingItem represents a setting entry exposed via API.
type SettingItem struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Masked      bool   `json:"masked,omitempty"`
}

// UpdateSettingRequest describes payload for updating a single setting.
type UpdateSettingRequest struct {
	Value string `json:"value" validate:"required,max=2048"`
}
