package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/study-analytics-api/internal/models"
	"github.com/noah-isme/study-analytics-api/pkg/sink"
)

const passwordHashCost = 12

var disabledSpaceFeatures = []string{
	"maps", "ml", "enterpriseSearch", "logs", "infrastructure", "apm", "uptime",
	"observabilityCases", "siem", "securitySolutionCases", "osquery", "actions",
	"generalCases", "rulesSettings", "stackAlerts", "fleetv2", "monitoring",
}

var roleFeatures = []string{
	"discover", "visualize", "dashboard", "indexPatterns", "fleet", "canvas", "dev_tools",
	"advancedSettings", "filesManagement", "filesSharedImage", "savedObjectsManagement",
	"savedObjectsTagging",
}

type sinkDoer interface {
	Post(ctx context.Context, target string, body []byte, headers map[string]string) (sink.Result, error)
	Put(ctx context.Context, target string, body []byte, headers map[string]string) (sink.Result, error)
	Get(ctx context.Context, target string, headers map[string]string) (sink.Result, error)
	Delete(ctx context.Context, target string, headers map[string]string) (sink.Result, error)
}

// StackClientConfig tunes the analytics stack client.
type StackClientConfig struct {
	ExampleDataIndex string
}

// StackClient performs the typed calls against Logstash, Kibana and Elasticsearch.
type StackClient struct {
	sink         sinkDoer
	logger       *zap.Logger
	exampleIndex string
}

// NewStackClient constructs a StackClient.
func NewStackClient(s sinkDoer, logger *zap.Logger, cfg StackClientConfig) *StackClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ExampleDataIndex == "" {
		cfg.ExampleDataIndex = "example_data"
	}
	return &StackClient{sink: s, logger: logger, exampleIndex: cfg.ExampleDataIndex}
}

// Ingest posts one page of records to the ingestion endpoint.
func (c *StackClient) Ingest(ctx context.Context, rc models.RequestContext, records []models.ExportRecord) (sink.Result, error) {
	body, err := json.Marshal(records)
	if err != nil {
		return sink.Result{}, fmt.Errorf("encode records: %w", err)
	}
	headers := map[string]string{
		"Content-Type":   "application/json",
		"Content-Length": strconv.Itoa(len(body)),
		"Accept":         "application/json",
	}
	return c.sink.Post(ctx, rc.Endpoints.LogstashURL, body, headers)
}

// CreateUser registers the identity on Elasticsearch with a bcrypt password hash.
func (c *StackClient) CreateUser(ctx context.Context, rc models.RequestContext, password string) (sink.Result, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordHashCost)
	if err != nil {
		return sink.Result{}, fmt.Errorf("hash password: %w", err)
	}
	body, err := json.Marshal(map[string]interface{}{
		"password_hash": string(hash),
		"roles":         []string{rc.Identity},
	})
	if err != nil {
		return sink.Result{}, err
	}
	headers := map[string]string{
		"Content-Type":  "application/json;charset=UTF-8",
		"Authorization": apiKeyHeader(rc),
	}
	return c.sink.Post(ctx, joinURL(rc.Endpoints.ElasticsearchURL, "_security", "user", rc.Identity), body, headers)
}

// UserExists reports whether Elasticsearch knows the identity. A 404 means it does not.
func (c *StackClient) UserExists(ctx context.Context, rc models.RequestContext) (bool, error) {
	res, err := c.sink.Get(ctx, joinURL(rc.Endpoints.ElasticsearchURL, "_security", "user", rc.Identity), map[string]string{
		"Authorization": apiKeyHeader(rc),
	})
	if err != nil {
		if res.Status == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	var users map[string]json.RawMessage
	if err := json.Unmarshal([]byte(res.Body), &users); err != nil {
		c.logger.Debug("user lookup returned non-object body", zap.String("identity", rc.Identity), zap.Error(err))
		return false, nil
	}
	_, ok := users[rc.Identity]
	return ok, nil
}

// CreateSpace creates the identity's dashboard space.
func (c *StackClient) CreateSpace(ctx context.Context, rc models.RequestContext) (sink.Result, error) {
	body, err := json.Marshal(map[string]interface{}{
		"id":               rc.Identity,
		"name":             rc.Identity,
		"description":      fmt.Sprintf("This is the %s Space", rc.Identity),
		"disabledFeatures": disabledSpaceFeatures,
	})
	if err != nil {
		return sink.Result{}, err
	}
	return c.sink.Post(ctx, joinURL(rc.Endpoints.KibanaURL, "api", "spaces", "space"), body, kibanaHeaders(rc))
}

// PutRole grants the identity access to its own indices and space.
func (c *StackClient) PutRole(ctx context.Context, rc models.RequestContext) (sink.Result, error) {
	features := make(map[string][]string, len(roleFeatures))
	for _, feature := range roleFeatures {
		features[feature] = []string{"all"}
	}
	body, err := json.Marshal(map[string]interface{}{
		"metadata": map[string]int{"version": 1},
		"elasticsearch": map[string]interface{}{
			"cluster": []string{"manage_index_templates", "manage_pipeline"},
			"indices": []map[string][]string{
				{"names": {rc.Identity + "_*"}, "privileges": {"all"}},
				{"names": {c.exampleIndex}, "privileges": {"read"}},
			},
		},
		"kibana": []map[string]interface{}{
			{
				"base":    []string{},
				"feature": features,
				"spaces":  []string{rc.Identity},
			},
		},
	})
	if err != nil {
		return sink.Result{}, err
	}
	return c.sink.Put(ctx, joinURL(rc.Endpoints.KibanaURL, "api", "security", "role", rc.Identity), body, kibanaHeaders(rc))
}

// CopyDashboard copies the template dashboard into the identity's space.
func (c *StackClient) CopyDashboard(ctx context.Context, rc models.RequestContext) (sink.Result, error) {
	body, err := json.Marshal(map[string]interface{}{
		"spaces":            []string{rc.Identity},
		"objects":           []map[string]string{{"type": "dashboard", "id": rc.Endpoints.TemplateDashboardID}},
		"includeReferences": true,
		"overwrite":         true,
	})
	if err != nil {
		return sink.Result{}, err
	}
	return c.sink.Post(ctx, joinURL(rc.Endpoints.KibanaURL, "api", "spaces", "_copy_saved_objects"), body, kibanaHeaders(rc))
}

// DeleteIndex drops the identity's index of courseID.
func (c *StackClient) DeleteIndex(ctx context.Context, rc models.RequestContext, courseID int64) (sink.Result, error) {
	index := fmt.Sprintf("%s_%d", rc.Identity, courseID)
	return c.sink.Delete(ctx, joinURL(rc.Endpoints.ElasticsearchURL, index), map[string]string{
		"Authorization": apiKeyHeader(rc),
	})
}

func apiKeyHeader(rc models.RequestContext) string {
	return "ApiKey " + rc.Endpoints.APIKey
}

func kibanaHeaders(rc models.RequestContext) map[string]string {
	return map[string]string{
		"Content-Type":  "application/json;charset=UTF-8",
		"kbn-xsrf":      "true",
		"Authorization": apiKeyHeader(rc),
	}
}

func joinURL(base string, segments ...string) string {
	escaped := make([]string, len(segments))
	for i, segment := range segments {
		escaped[i] = url.PathEscape(segment)
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(escaped, "/")
}
