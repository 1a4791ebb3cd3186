package lms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const restPath = "webservice/rest/server.php"

// GradeItem is one column of the user grade report.
type GradeItem struct {
	ID             int64   `json:"id"`
	ItemName       *string `json:"itemname"`
	ItemType       string  `json:"itemtype"`
	GradeRaw       float64 `json:"graderaw"`
	GradeFormatted string  `json:"gradeformatted"`
}

// UserGrades groups the grade items reported for one course participant.
type UserGrades struct {
	UserID       int64       `json:"userid"`
	UserFullName string      `json:"userfullname"`
	GradeItems   []GradeItem `json:"gradeitems"`
}

// Role is a course role assignment.
type Role struct {
	RoleID    int64  `json:"roleid"`
	Name      string `json:"name"`
	ShortName string `json:"shortname"`
}

// UserProfile is the course-scoped profile of a participant.
type UserProfile struct {
	ID         int64  `json:"id"`
	Username   string `json:"username"`
	FirstName  string `json:"firstname"`
	LastName   string `json:"lastname"`
	Email      string `json:"email"`
	LastAccess int64  `json:"lastaccess"`
	Roles      []Role `json:"roles"`
}

// HasAnyRole reports whether the profile holds one of the role short names.
func (p UserProfile) HasAnyRole(shortNames []string) bool {
	for _, role := range p.Roles {
		for _, name := range shortNames {
			if strings.EqualFold(role.ShortName, name) {
				return true
			}
		}
	}
	return false
}

// Exception is the error document returned by the webservice.
type Exception struct {
	Exception string `json:"exception"`
	ErrorCode string `json:"errorcode"`
	Message   string `json:"message"`
}

func (e *Exception) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("lms %s: %s", e.ErrorCode, e.Message)
	}
	return "lms exception: " + e.Exception
}

// ErrUnavailable marks transport level failures.
var ErrUnavailable = errors.New("lms unavailable")

// Config configures the webservice client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client calls the Moodle REST webservice.
type Client struct {
	base   string
	token  string
	http   *http.Client
	logger *zap.Logger
}

// NewClient constructs a webservice client. httpClient may be nil.
func NewClient(httpClient *http.Client, logger *zap.Logger, cfg Config) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	base := cfg.BaseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return &Client{base: base, token: cfg.Token, http: httpClient, logger: logger}
}

// GradeItems lists the grade report of every participant in the course.
func (c *Client) GradeItems(ctx context.Context, courseID int64) ([]UserGrades, error) {
	params := url.Values{}
	params.Set("courseid", strconv.FormatInt(courseID, 10))

	var result struct {
		UserGrades []UserGrades `json:"usergrades"`
	}
	if err := c.call(ctx, "gradereport_user_get_grade_items", params, &result); err != nil {
		return nil, err
	}
	return result.UserGrades, nil
}

// CourseUserProfile fetches one participant profile within the course.
func (c *Client) CourseUserProfile(ctx context.Context, userID, courseID int64) (*UserProfile, error) {
	params := url.Values{}
	params.Set("userlist[0][userid]", strconv.FormatInt(userID, 10))
	params.Set("userlist[0][courseid]", strconv.FormatInt(courseID, 10))

	var profiles []UserProfile
	if err := c.call(ctx, "core_user_get_course_user_profiles", params, &profiles); err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, fmt.Errorf("lms: no profile for user %d in course %d", userID, courseID)
	}
	return &profiles[0], nil
}

// EnrolledUsers lists course participants with their roles.
func (c *Client) EnrolledUsers(ctx context.Context, courseID int64) ([]UserProfile, error) {
	params := url.Values{}
	params.Set("courseid", strconv.FormatInt(courseID, 10))

	var users []UserProfile
	if err := c.call(ctx, "core_enrol_get_enrolled_users", params, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) call(ctx context.Context, function string, params url.Values, out interface{}) error {
	params.Set("wstoken", c.token)
	params.Set("wsfunction", function)
	params.Set("moodlewsrestformat", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+restPath+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, function, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, function, err)
	}
	c.logger.Debug("lms call", zap.String("function", function), zap.Int("status", resp.StatusCode), zap.Duration("duration", time.Since(start)))

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: %s: status %d", ErrUnavailable, function, resp.StatusCode)
	}
	if exc := readException(body); exc != nil {
		return exc
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("lms %s: unexpected response: %w", function, err)
	}
	return nil
}

func readException(body []byte) *Exception {
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, `{"exception":`) {
		return nil
	}
	var exc Exception
	if err := json.Unmarshal([]byte(trimmed), &exc); err != nil || exc.Exception == "" {
		return nil
	}
	return &exc
}
