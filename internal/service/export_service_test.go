package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/study-analytics-api/internal/models"
	appErrors "github.com/noah-isme/study-analytics-api/pkg/errors"
	"github.com/noah-isme/study-analytics-api/pkg/lms"
	"github.com/noah-isme/study-analytics-api/pkg/sink"
)

type gradeSourceStub struct {
	grades      []lms.UserGrades
	enrolled    []lms.UserProfile
	gradesErr   error
	profileErr  error
	profileHits int
}

func (s *gradeSourceStub) GradeItems(ctx context.Context, courseID int64) ([]lms.UserGrades, error) {
	return s.grades, s.gradesErr
}

func (s *gradeSourceStub) CourseUserProfile(ctx context.Context, userID, courseID int64) (*lms.UserProfile, error) {
	s.profileHits++
	if s.profileErr != nil {
		return nil, s.profileErr
	}
	return &lms.UserProfile{
		ID:        userID,
		Username:  fmt.Sprintf("student%d@example.com", userID),
		FirstName: "Student",
		LastName:  fmt.Sprint(userID),
	}, nil
}

func (s *gradeSourceStub) EnrolledUsers(ctx context.Context, courseID int64) ([]lms.UserProfile, error) {
	return s.enrolled, nil
}

type dataSentStub struct {
	touches []int64
	err     error
}

func (s *dataSentStub) TouchDataSent(ctx context.Context, courseID, userID, at int64) error {
	s.touches = append(s.touches, at)
	return s.err
}

type capturingSender struct {
	pages  [][]models.ExportRecord
	failOn int
}

func (s *capturingSender) Ingest(ctx context.Context, rc models.RequestContext, records []models.ExportRecord) (sink.Result, error) {
	s.pages = append(s.pages, records)
	if s.failOn > 0 && len(s.pages) == s.failOn {
		return sink.Result{Status: http.StatusBadGateway}, &sink.StatusError{Status: http.StatusBadGateway}
	}
	return sink.Result{Success: true, Status: http.StatusOK}, nil
}

func makeGrades(n int) []lms.UserGrades {
	rows := make([]lms.UserGrades, n)
	for i := range rows {
		rows[i] = lms.UserGrades{
			UserID:     int64(i + 1),
			GradeItems: []lms.GradeItem{{ItemName: strRef("Quiz"), GradeFormatted: "5"}},
		}
	}
	return rows
}

func newExportFixture(source *gradeSourceStub, sender *capturingSender, ledger *dataSentStub) *ExportService {
	batcher := NewBatcher(sender, nil, nil, BatcherConfig{})
	svc := NewExportService(source, ledger, batcher, NewTransformer(time.UTC), nil, ExportServiceConfig{
		LecturerRoles: []string{"editingteacher", "teacher"},
	})
	svc.now = func() time.Time { return time.Unix(1700000000, 0) }
	return svc
}

func TestExportCourseSendsPagesAndTouchesLedger(t *testing.T) {
	source := &gradeSourceStub{grades: makeGrades(250)}
	sender := &capturingSender{}
	ledger := &dataSentStub{}
	svc := newExportFixture(source, sender, ledger)

	res, err := svc.ExportCourse(context.Background(), lecturerContext(), 7)
	require.NoError(t, err)

	require.Len(t, sender.pages, 3)
	assert.Len(t, sender.pages[0], 100)
	assert.Len(t, sender.pages[1], 100)
	assert.Len(t, sender.pages[2], 50)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, 250, source.profileHits)
	assert.Equal(t, []int64{1700000000, 1700000000, 1700000000}, ledger.touches)

	first := sender.pages[0][0]
	assert.Equal(t, "student1", first[models.FieldUniID])
	assert.Equal(t, "jane_doe", first[models.FieldLecturerUsername])
	assert.Equal(t, "Quiz,", first[models.FieldGradeName])
}

func TestExportCourseSendsRemainingPagesAfterFailure(t *testing.T) {
	source := &gradeSourceStub{grades: makeGrades(250)}
	sender := &capturingSender{failOn: 2}
	ledger := &dataSentStub{}
	svc := newExportFixture(source, sender, ledger)

	res, err := svc.ExportCourse(context.Background(), lecturerContext(), 7)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrSinkFailed))
	assert.Len(t, sender.pages, 3)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 1, res.Failed)
	assert.Len(t, ledger.touches, 2)
}

func TestExportCourseNoParticipants(t *testing.T) {
	sender := &capturingSender{}
	ledger := &dataSentStub{}
	svc := newExportFixture(&gradeSourceStub{}, sender, ledger)

	res, err := svc.ExportCourse(context.Background(), lecturerContext(), 7)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Pages)
	assert.Empty(t, sender.pages)
	assert.Empty(t, ledger.touches)
}

func TestExportCourseLMSFailure(t *testing.T) {
	svc := newExportFixture(&gradeSourceStub{gradesErr: lms.ErrUnavailable}, &capturingSender{}, &dataSentStub{})
	_, err := svc.ExportCourse(context.Background(), lecturerContext(), 7)
	assert.True(t, errors.Is(err, appErrors.ErrLMSUnavailable))
}

func TestExportCourseProfileFailure(t *testing.T) {
	sender := &capturingSender{}
	svc := newExportFixture(&gradeSourceStub{grades: makeGrades(3), profileErr: lms.ErrUnavailable}, sender, &dataSentStub{})
	_, err := svc.ExportCourse(context.Background(), lecturerContext(), 7)
	assert.True(t, errors.Is(err, appErrors.ErrLMSUnavailable))
	assert.Empty(t, sender.pages)
}

func TestCollectGradeRecords(t *testing.T) {
	sender := &capturingSender{}
	svc := newExportFixture(&gradeSourceStub{grades: makeGrades(2)}, sender, &dataSentStub{})
	records, err := svc.CollectGradeRecords(context.Background(), lecturerContext(), 7)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Empty(t, sender.pages)
}

func TestUploadDeclarationsSendsParticipantsThenRoster(t *testing.T) {
	source := &gradeSourceStub{enrolled: []lms.UserProfile{
		{Username: "teach@example.com", Roles: []lms.Role{{ShortName: "editingteacher"}}},
		{Username: "jane.doe@example.com", Roles: []lms.Role{{ShortName: "student"}}},
		{Username: "mari@example.com"},
	}}
	sender := &capturingSender{}
	ledger := &dataSentStub{}
	svc := newExportFixture(source, sender, ledger)

	resp, err := svc.UploadDeclarations(context.Background(), lecturerContext(), 7, "roster.csv", []byte(sampleRoster))
	require.NoError(t, err)

	require.Len(t, sender.pages, 2)
	participants := sender.pages[0]
	require.Len(t, participants, 2)
	assert.Equal(t, "jane.doe", participants[0][models.FieldUniID])
	assert.Equal(t, false, participants[0][models.FieldDeclaration])

	roster := sender.pages[1]
	require.Len(t, roster, 2)
	assert.Equal(t, true, roster[0][models.FieldDeclaration])
	assert.Equal(t, int64(7), roster[0][models.FieldCourseID])
	assert.Equal(t, "jane_doe", roster[0][models.FieldLecturerUsername])

	assert.Equal(t, 2, resp.Participants)
	assert.Equal(t, 2, resp.Declarations)
	assert.Equal(t, 2, resp.Pages)
	assert.Empty(t, ledger.touches)
}

func TestUploadDeclarationsRejectsBeforeSending(t *testing.T) {
	sender := &capturingSender{}
	svc := newExportFixture(&gradeSourceStub{enrolled: []lms.UserProfile{{Username: "a"}}}, sender, &dataSentStub{})

	_, err := svc.UploadDeclarations(context.Background(), lecturerContext(), 7, "roster.txt", []byte(sampleRoster))
	assert.True(t, errors.Is(err, appErrors.ErrUnsupportedUpload))

	_, err = svc.UploadDeclarations(context.Background(), lecturerContext(), 7, "roster.csv", []byte("name\njane\n"))
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Empty(t, sender.pages)
}

func TestUploadDeclarationsSendsRosterWhenParticipantsFail(t *testing.T) {
	sender := &capturingSender{failOn: 1}
	svc := newExportFixture(&gradeSourceStub{enrolled: []lms.UserProfile{{Username: "a"}}}, sender, &dataSentStub{})

	resp, err := svc.UploadDeclarations(context.Background(), lecturerContext(), 7, "roster.csv", []byte(sampleRoster))
	assert.True(t, errors.Is(err, appErrors.ErrSinkFailed))
	require.Len(t, sender.pages, 2)
	assert.Equal(t, true, sender.pages[1][0][models.FieldDeclaration])
	require.NotNil(t, resp)
	assert.Equal(t, 0, resp.Participants)
	assert.Equal(t, 2, resp.Declarations)
}
