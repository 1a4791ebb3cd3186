package service

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/study-analytics-api/internal/models"
	"github.com/noah-isme/study-analytics-api/pkg/lms"
)

const (
	// courseTotalName labels grade items without a name, which is the course total.
	courseTotalName  = "Kursus kokku"
	lastAccessLayout = "02-01-2006 15:04:05"
)

var (
	gradeNameDisallowed = regexp.MustCompile(`[^A-Za-z0-9ÕÄÖÜõäöüŠš ]`)
	leadingNumber       = regexp.MustCompile(`^\s*[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?`)
)

// Transformer shapes LMS data into export records.
type Transformer struct {
	loc *time.Location
}

// NewTransformer builds a transformer rendering last access in loc (UTC when nil).
func NewTransformer(loc *time.Location) *Transformer {
	if loc == nil {
		loc = time.UTC
	}
	return &Transformer{loc: loc}
}

// GradeRecord builds the record of one participant's grade report row.
func (t *Transformer) GradeRecord(grades lms.UserGrades, profile lms.UserProfile, courseID int64, lecturer string) models.ExportRecord {
	var names strings.Builder
	values := make([]float64, 0, len(grades.GradeItems))
	for _, item := range grades.GradeItems {
		name := courseTotalName
		if item.ItemName != nil && *item.ItemName != "" {
			name = *item.ItemName
		}
		names.WriteString(SanitizeGradeName(name))
		names.WriteString(",")
		values = append(values, LeadingFloat(item.GradeFormatted))
	}

	return models.ExportRecord{
		models.FieldUserID:           grades.UserID,
		models.FieldFirstName:        profile.FirstName,
		models.FieldLastName:         profile.LastName,
		models.FieldUniID:            LocalPart(profile.Username),
		models.FieldEmail:            profile.Email,
		models.FieldLastAccess:       t.FormatLastAccess(profile.LastAccess),
		models.FieldCourseID:         courseID,
		models.FieldLecturerUsername: lecturer,
		models.FieldGradeName:        names.String(),
		models.FieldGrade:            values,
	}
}

// ParticipantRecord marks a participant as not having declared the course.
func (t *Transformer) ParticipantRecord(profile lms.UserProfile, courseID int64, lecturer string) models.ExportRecord {
	return models.ExportRecord{
		models.FieldUniID:            LocalPart(profile.Username),
		models.FieldDeclaration:      false,
		models.FieldCourseID:         courseID,
		models.FieldLecturerUsername: lecturer,
	}
}

// RosterRecord extends one uploaded roster row.
func (t *Transformer) RosterRecord(row map[string]string, courseID int64, lecturer string) models.ExportRecord {
	record := make(models.ExportRecord, len(row)+3)
	for key, value := range row {
		record[key] = value
	}
	record[models.FieldCourseID] = courseID
	record[models.FieldLecturerUsername] = lecturer
	record[models.FieldDeclaration] = true
	return record
}

// FormatLastAccess renders an epoch, truncated to its first ten digits, as dd-mm-yyyy HH:MM:SS.
func (t *Transformer) FormatLastAccess(epoch int64) string {
	digits := strconv.FormatInt(epoch, 10)
	if len(digits) > 10 {
		digits = digits[:10]
	}
	seconds, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		seconds = 0
	}
	return time.Unix(seconds, 0).In(t.loc).Format(lastAccessLayout)
}

// SanitizeGradeName replaces every rune outside the allowed set with a space.
func SanitizeGradeName(name string) string {
	return gradeNameDisallowed.ReplaceAllString(name, " ")
}

// LeadingFloat parses the numeric prefix of s, returning 0 when there is none.
func LeadingFloat(s string) float64 {
	match := leadingNumber.FindString(s)
	if match == "" {
		return 0
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(match), 64)
	if err != nil {
		return 0
	}
	return value
}
