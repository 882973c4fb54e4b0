package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Lllllllleong/collectionadmin/internal/models"
)

// Date layouts accepted for date-typed fields submitted as strings.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
}

// FieldError is one validation failure, keyed by field id.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors aggregates per-field failures.
type ValidationErrors []FieldError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, fe := range e {
		msgs[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Validate checks a document's fields against the schema. The rules are
// advisory, enforced only at the edit boundary; the store accepts any shape.
// Returns nil when every field passes, otherwise ValidationErrors.
func Validate(fields []models.FieldDef, doc map[string]any) error {
	var errs ValidationErrors
	for _, f := range fields {
		v := doc[f.ID]
		if isEmpty(v) {
			if f.Required {
				errs = append(errs, FieldError{Field: f.ID, Message: f.Name + " is required"})
			}
			continue
		}
		if msg := checkType(f, v); msg != "" {
			errs = append(errs, FieldError{Field: f.ID, Message: msg})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidatePartial checks only the fields present in doc, for merge updates
// where absent fields keep their stored values.
func ValidatePartial(fields []models.FieldDef, doc map[string]any) error {
	var errs ValidationErrors
	for _, f := range fields {
		v, present := doc[f.ID]
		if !present {
			continue
		}
		if isEmpty(v) {
			if f.Required {
				errs = append(errs, FieldError{Field: f.ID, Message: f.Name + " is required"})
			}
			continue
		}
		if msg := checkType(f, v); msg != "" {
			errs = append(errs, FieldError{Field: f.ID, Message: msg})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func isEmpty(v any) bool {
	return v == nil || v == ""
}

func checkType(f models.FieldDef, v any) string {
	switch f.Type {
	case models.FieldTypeNumber:
		if !isNumeric(v) {
			return fmt.Sprintf("%s must be a number", f.Name)
		}
	case models.FieldTypeBoolean:
		if !isBoolean(v) {
			return fmt.Sprintf("%s must be true or false", f.Name)
		}
	case models.FieldTypeDate:
		if !isDate(v) {
			return fmt.Sprintf("%s must be a valid date", f.Name)
		}
	case models.FieldTypeText, models.FieldTypeImage:
		// Free-form; image fields hold a storage path or URL.
	}
	return ""
}

func isNumeric(v any) bool {
	switch n := v.(type) {
	case int, int32, int64, float32, float64:
		return true
	case string:
		_, err := strconv.ParseFloat(n, 64)
		return err == nil
	}
	return false
}

// isBoolean accepts only the JSON literals true and false; string
// renditions do not count.
func isBoolean(v any) bool {
	_, ok := v.(bool)
	return ok
}

func isDate(v any) bool {
	switch d := v.(type) {
	case time.Time:
		return true
	case string:
		for _, layout := range dateLayouts {
			if _, err := time.Parse(layout, d); err == nil {
				return true
			}
		}
	}
	return false
}
