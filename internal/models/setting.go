package models

import "time"

// SettingType defines supported value types.
type SettingType string

const (
	SettingTypeURL    SettingType = "URL"
	SettingTypeSecret SettingType = "SECRET"
	SettingTypeString SettingType = "STRING"
)

// Setting keys editable by site administrators.
const (
	SettingLogstashURL         = "logstash_url"
	SettingKibanaURL           = "kibana_url"
	SettingElasticsearchURL    = "elasticsearch_url"
	SettingKibanaAPIKey        = "kibana_api_key"
	SettingTemplateDashboardID = "template_dashboard_id"
)

// Setting represents a persisted administrator setting.
type Setting struct {
	Key         string      `db:"key" json:"key"`
	Value       string      `db:"value" json:"value"`
	Type        SettingType `db:"type" json:"type"`
	Description *string     `db:"description" json:"description,omitempty"`
	UpdatedBy   *string     `db:"updated_by" json:"updated_by,omitempty"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}
