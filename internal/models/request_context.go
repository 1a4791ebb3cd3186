package models

// Endpoints are the analytics service locations resolved from settings.
type Endpoints struct {
	LogstashURL         string
	KibanaURL           string
	ElasticsearchURL    string
	APIKey              string
	TemplateDashboardID string
}

// RequestContext carries the acting lecturer and endpoints through one request or job.
type RequestContext struct {
	UserID    int64
	Login     string
	Identity  string
	RequestID string
	Endpoints Endpoints
}
