package models

// ExportRecord is one flat JSON object sent to the ingestion endpoint.
type ExportRecord map[string]interface{}

// Record field names shared by the grade, participant and roster variants.
const (
	FieldUserID           = "userid"
	FieldFirstName        = "firstname"
	FieldLastName         = "lastname"
	FieldUniID            = "UNI-ID"
	FieldEmail            = "email"
	FieldLastAccess       = "lastaccess"
	FieldCourseID         = "courseid"
	FieldLecturerUsername = "lecturerusername"
	FieldGradeName        = "gradename"
	FieldGrade            = "grade"
	FieldDeclaration      = "declaration"
)
