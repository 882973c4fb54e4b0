package models

import "time"

// FieldType enumerates the value kinds a schema field can declare.
type FieldType string

const (
	FieldTypeText    FieldType = "text"
	FieldTypeNumber  FieldType = "number"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeDate    FieldType = "date"
	FieldTypeImage   FieldType = "image"
)

// KnownFieldType reports whether t is one of the recognized field types.
func KnownFieldType(t FieldType) bool {
	switch t {
	case FieldTypeText, FieldTypeNumber, FieldTypeBoolean, FieldTypeDate, FieldTypeImage:
		return true
	}
	return false
}

// FieldDef describes one column of a collection schema. ID is a stable slug
// derived from the display name and must be unique within the schema.
type FieldDef struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
}

// Schema is the ordered field-definition sequence for one collection.
// Order is significant and preserved; the whole schema is replaced on write.
type Schema struct {
	Collection string     `json:"collection"`
	Fields     []FieldDef `json:"fields"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}
