package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/study-analytics-api/internal/models"
	"github.com/noah-isme/study-analytics-api/pkg/sink"
)

type recordedRequest struct {
	Method  string
	Path    string
	Headers http.Header
	Body    []byte
}

type stackServer struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   map[string]int
	bodies   map[string]string
}

func newStackServer(t *testing.T) (*stackServer, *httptest.Server) {
	t.Helper()
	s := &stackServer{status: map[string]int{}, bodies: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.requests = append(s.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Headers: r.Header.Clone(), Body: body})
		key := r.Method + " " + r.URL.Path
		status, ok := s.status[key]
		payload := s.bodies[key]
		s.mu.Unlock()
		if !ok {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		if payload == "" {
			payload = "ok"
		}
		_, _ = w.Write([]byte(payload))
	}))
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *stackServer) respond(key string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status != 0 {
		s.status[key] = status
	}
	s.bodies[key] = body
}

func (s *stackServer) calls(method, path string) []recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []recordedRequest
	for _, req := range s.requests {
		if req.Method == method && req.Path == path {
			out = append(out, req)
		}
	}
	return out
}

func testRequestContext(base string) models.RequestContext {
	return models.RequestContext{
		UserID:   3,
		Login:    "jane.doe@example.com",
		Identity: "jane_doe",
		Endpoints: models.Endpoints{
			LogstashURL:         base + "/logstash",
			KibanaURL:           base + "/kibana/",
			ElasticsearchURL:    base + "/es",
			APIKey:              "k3y",
			TemplateDashboardID: "tpl-1",
		},
	}
}

func newTestStackClient(srv *httptest.Server) *StackClient {
	return NewStackClient(sink.NewClient(srv.Client(), nil, nil, sink.Config{}), nil, StackClientConfig{})
}

func TestStackClientIngestHeaders(t *testing.T) {
	rec, srv := newStackServer(t)
	client := newTestStackClient(srv)

	res, err := client.Ingest(context.Background(), testRequestContext(srv.URL), []models.ExportRecord{{"userid": 1}})
	require.NoError(t, err)
	assert.True(t, res.Success)

	calls := rec.calls(http.MethodPost, "/logstash")
	require.Len(t, calls, 1)
	assert.Equal(t, "application/json", calls[0].Headers.Get("Content-Type"))
	assert.Equal(t, "application/json", calls[0].Headers.Get("Accept"))
	assert.JSONEq(t, `[{"userid":1}]`, string(calls[0].Body))
}

func TestStackClientCreateUserHashesPassword(t *testing.T) {
	rec, srv := newStackServer(t)
	client := newTestStackClient(srv)

	_, err := client.CreateUser(context.Background(), testRequestContext(srv.URL), "s3cretpass")
	require.NoError(t, err)

	calls := rec.calls(http.MethodPost, "/es/_security/user/jane_doe")
	require.Len(t, calls, 1)
	assert.Equal(t, "ApiKey k3y", calls[0].Headers.Get("Authorization"))

	var body struct {
		PasswordHash string   `json:"password_hash"`
		Roles        []string `json:"roles"`
	}
	require.NoError(t, json.Unmarshal(calls[0].Body, &body))
	assert.Equal(t, []string{"jane_doe"}, body.Roles)
	cost, err := bcrypt.Cost([]byte(body.PasswordHash))
	require.NoError(t, err)
	assert.Equal(t, 12, cost)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(body.PasswordHash), []byte("s3cretpass")))
}

func TestStackClientUserExists(t *testing.T) {
	rec, srv := newStackServer(t)
	client := newTestStackClient(srv)
	rc := testRequestContext(srv.URL)

	rec.respond("GET /es/_security/user/jane_doe", 0, `{"jane_doe":{"roles":["jane_doe"]}}`)
	exists, err := client.UserExists(context.Background(), rc)
	require.NoError(t, err)
	assert.True(t, exists)

	rec.respond("GET /es/_security/user/jane_doe", 0, `{}`)
	exists, err = client.UserExists(context.Background(), rc)
	require.NoError(t, err)
	assert.False(t, exists)

	rec.respond("GET /es/_security/user/jane_doe", http.StatusNotFound, `{}`)
	exists, err = client.UserExists(context.Background(), rc)
	require.NoError(t, err)
	assert.False(t, exists)

	rec.respond("GET /es/_security/user/jane_doe", http.StatusUnauthorized, `{}`)
	_, err = client.UserExists(context.Background(), rc)
	assert.Error(t, err)
}

func TestStackClientCreateSpaceBody(t *testing.T) {
	rec, srv := newStackServer(t)
	client := newTestStackClient(srv)

	_, err := client.CreateSpace(context.Background(), testRequestContext(srv.URL))
	require.NoError(t, err)

	calls := rec.calls(http.MethodPost, "/kibana/api/spaces/space")
	require.Len(t, calls, 1)
	assert.Equal(t, "true", calls[0].Headers.Get("kbn-xsrf"))
	assert.Equal(t, "application/json;charset=UTF-8", calls[0].Headers.Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(calls[0].Body, &body))
	assert.Equal(t, "jane_doe", body["id"])
	assert.Equal(t, "This is the jane_doe Space", body["description"])
	assert.Len(t, body["disabledFeatures"], 17)
}

func TestStackClientPutRoleBody(t *testing.T) {
	rec, srv := newStackServer(t)
	client := newTestStackClient(srv)

	_, err := client.PutRole(context.Background(), testRequestContext(srv.URL))
	require.NoError(t, err)

	calls := rec.calls(http.MethodPut, "/kibana/api/security/role/jane_doe")
	require.Len(t, calls, 1)
	var body struct {
		Metadata      map[string]int `json:"metadata"`
		Elasticsearch struct {
			Cluster []string `json:"cluster"`
			Indices []struct {
				Names      []string `json:"names"`
				Privileges []string `json:"privileges"`
			} `json:"indices"`
		} `json:"elasticsearch"`
		Kibana []struct {
			Base    []string            `json:"base"`
			Feature map[string][]string `json:"feature"`
			Spaces  []string            `json:"spaces"`
		} `json:"kibana"`
	}
	require.NoError(t, json.Unmarshal(calls[0].Body, &body))
	assert.Equal(t, 1, body.Metadata["version"])
	assert.Equal(t, []string{"manage_index_templates", "manage_pipeline"}, body.Elasticsearch.Cluster)
	require.Len(t, body.Elasticsearch.Indices, 2)
	assert.Equal(t, []string{"jane_doe_*"}, body.Elasticsearch.Indices[0].Names)
	assert.Equal(t, []string{"example_data"}, body.Elasticsearch.Indices[1].Names)
	assert.Equal(t, []string{"read"}, body.Elasticsearch.Indices[1].Privileges)
	require.Len(t, body.Kibana, 1)
	assert.Empty(t, body.Kibana[0].Base)
	assert.Len(t, body.Kibana[0].Feature, 12)
	assert.Equal(t, []string{"all"}, body.Kibana[0].Feature["dev_tools"])
	assert.Equal(t, []string{"jane_doe"}, body.Kibana[0].Spaces)
}

func TestStackClientCopyDashboardAndDeleteIndex(t *testing.T) {
	rec, srv := newStackServer(t)
	client := newTestStackClient(srv)
	rc := testRequestContext(srv.URL)

	_, err := client.CopyDashboard(context.Background(), rc)
	require.NoError(t, err)
	copies := rec.calls(http.MethodPost, "/kibana/api/spaces/_copy_saved_objects")
	require.Len(t, copies, 1)
	assert.Contains(t, string(copies[0].Body), `"id":"tpl-1"`)

	_, err = client.DeleteIndex(context.Background(), rc, 7)
	require.NoError(t, err)
	deletes := rec.calls(http.MethodDelete, "/es/jane_doe_7")
	require.Len(t, deletes, 1)
	assert.Equal(t, "ApiKey k3y", deletes[0].Headers.Get("Authorization"))
}
