package models

import "time"

// Document is one schema-less record inside a collection. The store assigns
// the ID on creation and it is immutable afterwards; Fields carries the
// arbitrary user-defined shape.
type Document struct {
	ID        string         `json:"id"`
	Fields    map[string]any `json:"fields"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Field returns the named field value, or nil when absent.
func (d *Document) Field(name string) any {
	if d.Fields == nil {
		return nil
	}
	return d.Fields[name]
}
