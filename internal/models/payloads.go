package models

// These structs define the JSON payloads for the gateway's HTTP surface.

// BatchCreateRequest is the body of POST /api/{collection}/batch.
type BatchCreateRequest struct {
	Documents []map[string]any `json:"documents" binding:"required,min=1"`
}

// BatchUpdateItem pairs a document id with the partial data to merge into it.
type BatchUpdateItem struct {
	ID   string         `json:"id" binding:"required"`
	Data map[string]any `json:"data" binding:"required"`
}

// BatchUpdateRequest is the body of PUT /api/{collection}/batch.
type BatchUpdateRequest struct {
	Updates []BatchUpdateItem `json:"updates" binding:"required,min=1,dive"`
}

// BatchDeleteRequest is the body of DELETE /api/{collection}/batch.
type BatchDeleteRequest struct {
	IDs []string `json:"ids" binding:"required,min=1"`
}

// SchemaRequest is the body of PUT /api/schemas/{collection}. Field order in
// the slice is the column order.
type SchemaRequest struct {
	Fields []SchemaFieldPayload `json:"fields" binding:"required,dive"`
}

// SchemaFieldPayload is one field definition as submitted by the UI.
type SchemaFieldPayload struct {
	Name     string `json:"name" binding:"required"`
	Type     string `json:"type" binding:"required,fieldtype"`
	Required bool   `json:"required"`
}

// FileAccessRequest toggles the public flag on a stored object.
type FileAccessRequest struct {
	IsPublic bool `json:"isPublic"`
}

// FileLinkRequest writes a document back-reference into object metadata.
type FileLinkRequest struct {
	RecordID   string `json:"recordId" binding:"required"`
	RecordType string `json:"recordType" binding:"required"`
}
