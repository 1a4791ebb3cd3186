package service

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/noah-isme/study-analytics-api/internal/models"
	appErrors "github.com/noah-isme/study-analytics-api/pkg/errors"
)

const (
	rosterDelimiter = ';'
	rosterExtension = ".csv"
)

var (
	rosterHeaderDisallowed = regexp.MustCompile(`[^A-Za-z0-9ÕÄÖÜõäöüŠš -]`)
	utf8BOM                = []byte{0xEF, 0xBB, 0xBF}
)

// DefaultRosterMIMEs are the content types accepted for declaration uploads.
var DefaultRosterMIMEs = []string{"text/csv", "application/csv", "application/vnd.ms-excel", "text/plain"}

// RosterUploadConfig limits declaration uploads.
type RosterUploadConfig struct {
	MaxFileSize  int64
	AllowedMIMEs []string
}

// ValidateRosterUpload checks the file name, size and sniffed content type before parsing.
func ValidateRosterUpload(filename string, content []byte, cfg RosterUploadConfig) error {
	if !strings.EqualFold(filepath.Ext(filename), rosterExtension) {
		return appErrors.ErrUnsupportedUpload
	}
	if cfg.MaxFileSize > 0 && int64(len(content)) > cfg.MaxFileSize {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes", cfg.MaxFileSize))
	}
	if len(content) == 0 {
		return appErrors.Clone(appErrors.ErrValidation, "file is empty")
	}

	allowed := cfg.AllowedMIMEs
	if len(allowed) == 0 {
		allowed = DefaultRosterMIMEs
	}
	for detected := mimetype.Detect(content); detected != nil; detected = detected.Parent() {
		for _, candidate := range allowed {
			if detected.Is(candidate) {
				return nil
			}
		}
	}
	return appErrors.Clone(appErrors.ErrUnsupportedUpload, "invalid file type")
}

// ParseRoster reads a semicolon separated roster. Header tokens are stripped of unexpected
// characters and every row is keyed by them.
func ParseRoster(content []byte) ([]map[string]string, error) {
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(content, utf8BOM)))
	reader.Comma = rosterDelimiter
	reader.FieldsPerRecord = -1

	rawHeader, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "roster has no header row")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "roster is not valid CSV")
	}
	header := make([]string, len(rawHeader))
	hasUniID := false
	for i, token := range rawHeader {
		header[i] = rosterHeaderDisallowed.ReplaceAllString(token, "")
		if header[i] == models.FieldUniID {
			hasUniID = true
		}
	}
	if !hasUniID {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("roster header must include %q", models.FieldUniID))
	}

	var rows []map[string]string
	for line := 2; ; line++ {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "roster is not valid CSV")
		}
		if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" {
			continue
		}
		if len(fields) != len(header) {
			return nil, appErrors.Clone(appErrors.ErrValidation,
				fmt.Sprintf("roster line %d has %d columns, header has %d", line, len(fields), len(header)))
		}
		row := make(map[string]string, len(header))
		for i, key := range header {
			row[key] = fields[i]
		}
		rows = append(rows, row)
	}
	return rows, nil
}
