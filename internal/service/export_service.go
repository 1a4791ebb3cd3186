package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/study-analytics-api/internal/dto"
	"github.com/noah-isme/study-analytics-api/internal/models"
	appErrors "github.com/noah-isme/study-analytics-api/pkg/errors"
	"github.com/noah-isme/study-analytics-api/pkg/lms"
	"github.com/noah-isme/study-analytics-api/pkg/sink"
)

type gradeSource interface {
	GradeItems(ctx context.Context, courseID int64) ([]lms.UserGrades, error)
	CourseUserProfile(ctx context.Context, userID, courseID int64) (*lms.UserProfile, error)
	EnrolledUsers(ctx context.Context, courseID int64) ([]lms.UserProfile, error)
}

type dataSentRecorder interface {
	TouchDataSent(ctx context.Context, courseID, userID, at int64) error
}

// ExportServiceConfig tunes the grade and declaration exports.
type ExportServiceConfig struct {
	LecturerRoles []string
	Uploads       RosterUploadConfig
}

// ExportService gathers course data from the LMS and ships it through the batcher.
type ExportService struct {
	source      gradeSource
	ledger      dataSentRecorder
	batcher     *Batcher
	transformer *Transformer
	logger      *zap.Logger
	cfg         ExportServiceConfig
	now         func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(source gradeSource, ledger dataSentRecorder, batcher *Batcher, transformer *Transformer, logger *zap.Logger, cfg ExportServiceConfig) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if transformer == nil {
		transformer = NewTransformer(nil)
	}
	return &ExportService{
		source:      source,
		ledger:      ledger,
		batcher:     batcher,
		transformer: transformer,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
	}
}

// ExportCourse sends every participant's grade report for courseID. The data sent
// timestamp advances after each accepted page; rejected pages are reported together
// once the run is over.
func (s *ExportService) ExportCourse(ctx context.Context, rc models.RequestContext, courseID int64) (*BatchResult, error) {
	grades, err := s.source.GradeItems(ctx, courseID)
	if err != nil {
		return nil, lmsError(err, "failed to load grade items")
	}

	lecturer := ExternalIdentity(rc.Login)
	next := func(ctx context.Context, i int) (models.ExportRecord, error) {
		profile, err := s.source.CourseUserProfile(ctx, grades[i].UserID, courseID)
		if err != nil {
			return nil, lmsError(err, "failed to load user profile")
		}
		return s.transformer.GradeRecord(grades[i], *profile, courseID, lecturer), nil
	}
	onSent := func(ctx context.Context, page int, _ sink.Result) error {
		return s.ledger.TouchDataSent(ctx, courseID, rc.UserID, s.now().Unix())
	}

	result, err := s.batcher.Export(ctx, rc, len(grades), next, onSent)
	if err != nil {
		return result, sinkError(err, "grade export failed")
	}
	s.logger.Info("grade export finished",
		zap.Int64("course_id", courseID),
		zap.String("identity", rc.Identity),
		zap.Int("pages", result.Pages),
		zap.Int("records", result.Records),
	)
	return result, nil
}

// CollectGradeRecords builds the records ExportCourse would send without sending them.
func (s *ExportService) CollectGradeRecords(ctx context.Context, rc models.RequestContext, courseID int64) ([]models.ExportRecord, error) {
	grades, err := s.source.GradeItems(ctx, courseID)
	if err != nil {
		return nil, lmsError(err, "failed to load grade items")
	}
	lecturer := ExternalIdentity(rc.Login)
	records := make([]models.ExportRecord, 0, len(grades))
	for _, row := range grades {
		profile, err := s.source.CourseUserProfile(ctx, row.UserID, courseID)
		if err != nil {
			return nil, lmsError(err, "failed to load user profile")
		}
		records = append(records, s.transformer.GradeRecord(row, *profile, courseID, lecturer))
	}
	return records, nil
}

// UploadDeclarations resets every student's declaration flag and then sends the uploaded
// roster. Rejected pages of the reset do not keep the roster from being sent.
func (s *ExportService) UploadDeclarations(ctx context.Context, rc models.RequestContext, courseID int64, filename string, content []byte) (*dto.DeclarationUploadResponse, error) {
	if err := ValidateRosterUpload(filename, content, s.cfg.Uploads); err != nil {
		return nil, err
	}
	rows, err := ParseRoster(content)
	if err != nil {
		return nil, err
	}

	enrolled, err := s.source.EnrolledUsers(ctx, courseID)
	if err != nil {
		return nil, lmsError(err, "failed to load course participants")
	}
	lecturer := ExternalIdentity(rc.Login)
	participants := make([]models.ExportRecord, 0, len(enrolled))
	for _, user := range enrolled {
		if user.HasAnyRole(s.cfg.LecturerRoles) {
			continue
		}
		participants = append(participants, s.transformer.ParticipantRecord(user, courseID, lecturer))
	}

	resp := &dto.DeclarationUploadResponse{CourseID: courseID}
	sent, resetErr := s.batcher.ExportRecords(ctx, rc, participants, nil)
	if sent != nil {
		resp.Participants = sent.Records
		resp.Pages += sent.Pages
	}
	if resetErr != nil && !isPageError(resetErr) {
		return resp, sinkError(resetErr, "declarations were not updated")
	}

	declarations := make([]models.ExportRecord, 0, len(rows))
	for _, row := range rows {
		declarations = append(declarations, s.transformer.RosterRecord(row, courseID, lecturer))
	}
	sent, err = s.batcher.ExportRecords(ctx, rc, declarations, nil)
	if sent != nil {
		resp.Declarations = sent.Records
		resp.Pages += sent.Pages
	}
	if resetErr != nil {
		return resp, sinkError(resetErr, "declarations were not updated")
	}
	if err != nil {
		return resp, sinkError(err, "declarations were not updated")
	}

	s.logger.Info("declarations uploaded",
		zap.Int64("course_id", courseID),
		zap.String("identity", rc.Identity),
		zap.Int("participants", resp.Participants),
		zap.Int("declarations", resp.Declarations),
	)
	return resp, nil
}

func isPageError(err error) bool {
	var pageErr *PageError
	return errors.As(err, &pageErr)
}

func lmsError(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return appErrors.Wrap(err, appErrors.ErrLMSUnavailable.Code, appErrors.ErrLMSUnavailable.Status, message)
}

func sinkError(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return appErrors.Wrap(err, appErrors.ErrSinkFailed.Code, appErrors.ErrSinkFailed.Status, message)
}
