package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Lllllllleong/collectionadmin/internal/blob"
	"github.com/Lllllllleong/collectionadmin/internal/database"
	"github.com/Lllllllleong/collectionadmin/internal/models"
	"github.com/Lllllllleong/collectionadmin/internal/schema"
)

// Handler carries the gateway's collaborators.
type Handler struct {
	db      database.Database
	files   blob.Store
	schemas *schema.Registry
}

// NewHandler creates the gateway handler.
func NewHandler(db database.Database, files blob.Store, schemas *schema.Registry) *Handler {
	return &Handler{db: db, files: files, schemas: schemas}
}

// storeError translates store sentinels into an HTTP response.
func storeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, database.ErrDocumentNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", "Document not found")
	case errors.Is(err, database.ErrInvalidOperator):
		respondError(c, http.StatusBadRequest, "INVALID_FILTER", err.Error())
	case errors.Is(err, database.ErrBatchFailed):
		respondError(c, http.StatusConflict, "BATCH_FAILED", "Batch rejected; no operation was applied")
	case errors.Is(err, database.ErrStoreUnavailable):
		respondError(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Document store unavailable")
	case errors.Is(err, blob.ErrObjectNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", "File not found")
	case errors.Is(err, blob.ErrUploadFailed):
		respondError(c, http.StatusBadGateway, "UPLOAD_FAILED", "Upload failed; retry the request")
	default:
		respondError(c, http.StatusInternalServerError, "INTERNAL", "Internal server error")
	}
}

// ListDocuments handles GET /api/{collection}. With page_size it paginates;
// otherwise it runs a filtered query. Filters are repeated
// "field:op:value" params ANDed together.
func (h *Handler) ListDocuments(c *gin.Context) {
	collection := c.Param("collection")

	if pageSizeParam := c.Query("page_size"); pageSizeParam != "" {
		pageSize, err := strconv.Atoi(pageSizeParam)
		if err != nil || pageSize < 1 {
			respondError(c, http.StatusBadRequest, "INVALID_PAGE_SIZE", "page_size must be a positive integer")
			return
		}
		page, err := h.db.Paginate(c.Request.Context(), collection, pageSize, c.Query("cursor"))
		if err != nil {
			storeError(c, err)
			return
		}
		respondOK(c, http.StatusOK, page)
		return
	}

	filters, err := parseFilters(c.QueryArray("filter"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_FILTER", err.Error())
		return
	}

	var sortBy *database.Sort
	if field := c.Query("sort"); field != "" {
		sortBy = &database.Sort{Field: field, Desc: c.Query("order") == "desc"}
	}

	limit := 0
	if limitParam := c.Query("limit"); limitParam != "" {
		limit, err = strconv.Atoi(limitParam)
		if err != nil || limit < 0 {
			respondError(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a non-negative integer")
			return
		}
	}

	docs, err := h.db.Query(c.Request.Context(), collection, filters, sortBy, limit)
	if err != nil {
		storeError(c, err)
		return
	}
	respondOK(c, http.StatusOK, docs)
}

// CreateDocument handles POST /api/{collection}, validating against the
// collection schema when one is defined.
func (h *Handler) CreateDocument(c *gin.Context) {
	collection := c.Param("collection")

	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body")
		return
	}

	if !h.validateAgainstSchema(c, collection, fields, false) {
		return
	}

	doc, err := h.db.Create(c.Request.Context(), collection, fields)
	if err != nil {
		storeError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, doc)
}

// UpdateDocument handles PUT /api/{collection}/{id}: a field merge with
// last-write-wins semantics and no conflict token.
func (h *Handler) UpdateDocument(c *gin.Context) {
	collection := c.Param("collection")

	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body")
		return
	}

	if !h.validateAgainstSchema(c, collection, fields, true) {
		return
	}

	doc, err := h.db.Update(c.Request.Context(), collection, c.Param("id"), fields)
	if err != nil {
		storeError(c, err)
		return
	}
	respondOK(c, http.StatusOK, doc)
}

// DeleteDocument handles DELETE /api/{collection}/{id}. Deletes are
// idempotent, so a missing id still returns success.
func (h *Handler) DeleteDocument(c *gin.Context) {
	if err := h.db.Delete(c.Request.Context(), c.Param("collection"), c.Param("id")); err != nil {
		storeError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"id": c.Param("id")})
}

// validateAgainstSchema applies the advisory edit-boundary validation.
// Partial mode skips absent fields, for merge updates.
func (h *Handler) validateAgainstSchema(c *gin.Context, collection string, fields map[string]any, partial bool) bool {
	s, err := h.schemas.Get(c.Request.Context(), collection)
	if err != nil {
		storeError(c, err)
		return false
	}
	if s == nil {
		return true
	}

	var verr error
	if partial {
		verr = schema.ValidatePartial(s.Fields, fields)
	} else {
		verr = schema.Validate(s.Fields, fields)
	}
	if verr != nil {
		var fieldErrs schema.ValidationErrors
		if errors.As(verr, &fieldErrs) {
			respondError(c, http.StatusUnprocessableEntity, "VALIDATION_FAILED", fieldErrs)
		} else {
			respondError(c, http.StatusUnprocessableEntity, "VALIDATION_FAILED", verr.Error())
		}
		return false
	}
	return true
}

// BatchCreate handles POST /api/{collection}/batch.
func (h *Handler) BatchCreate(c *gin.Context) {
	var req models.BatchCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body")
		return
	}

	docs, err := h.db.BatchCreate(c.Request.Context(), c.Param("collection"), req.Documents)
	if err != nil {
		storeError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, docs)
}

// BatchUpdate handles PUT /api/{collection}/batch.
func (h *Handler) BatchUpdate(c *gin.Context) {
	var req models.BatchUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body")
		return
	}

	if err := h.db.BatchUpdate(c.Request.Context(), c.Param("collection"), req.Updates); err != nil {
		storeError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"updated": len(req.Updates)})
}

// BatchDelete handles DELETE /api/{collection}/batch.
func (h *Handler) BatchDelete(c *gin.Context) {
	var req models.BatchDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body")
		return
	}

	if err := h.db.BatchDelete(c.Request.Context(), c.Param("collection"), req.IDs); err != nil {
		storeError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"deleted": len(req.IDs)})
}

// Search handles GET /api/search/{collection}?field=&term=.
func (h *Handler) Search(c *gin.Context) {
	field := c.Query("field")
	term := c.Query("term")
	if field == "" || term == "" {
		respondError(c, http.StatusBadRequest, "MISSING_PARAMS", "field and term query parameters are required")
		return
	}

	limit := 10
	if limitParam := c.Query("limit"); limitParam != "" {
		n, err := strconv.Atoi(limitParam)
		if err != nil || n < 1 {
			respondError(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = n
	}

	docs, err := h.db.Search(c.Request.Context(), c.Param("collection"), field, term, limit)
	if err != nil {
		storeError(c, err)
		return
	}
	respondOK(c, http.StatusOK, docs)
}

// GetSchema handles GET /api/schemas/{collection}. Data is null when the
// collection has no schema yet.
func (h *Handler) GetSchema(c *gin.Context) {
	s, err := h.schemas.Get(c.Request.Context(), c.Param("collection"))
	if err != nil {
		storeError(c, err)
		return
	}
	respondOK(c, http.StatusOK, s)
}

// PutSchema handles PUT /api/schemas/{collection}, replacing the schema
// wholesale.
func (h *Handler) PutSchema(c *gin.Context) {
	var req models.SchemaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusUnprocessableEntity, "VALIDATION_FAILED", err.Error())
		return
	}

	fields := make([]models.FieldDef, len(req.Fields))
	for i, f := range req.Fields {
		fields[i] = models.FieldDef{
			Name:     f.Name,
			Type:     models.FieldType(f.Type),
			Required: f.Required,
		}
	}

	s, err := h.schemas.Set(c.Request.Context(), c.Param("collection"), fields)
	if err != nil {
		if errors.Is(err, database.ErrStoreUnavailable) {
			storeError(c, err)
			return
		}
		respondError(c, http.StatusUnprocessableEntity, "VALIDATION_FAILED", err.Error())
		return
	}
	respondOK(c, http.StatusOK, s)
}

// UploadFile handles POST /api/files/upload (multipart: file, collection,
// path, and an optional metadata field holding a JSON string map).
func (h *Handler) UploadFile(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "MISSING_FILE", "multipart 'file' part is required")
		return
	}
	collection := c.PostForm("collection")
	if collection == "" {
		respondError(c, http.StatusBadRequest, "MISSING_COLLECTION", "multipart 'collection' field is required")
		return
	}

	var metadata map[string]string
	if raw := c.PostForm("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_METADATA", "metadata must be a JSON object of string values")
			return
		}
	}

	dir := collection
	if subPath := strings.Trim(c.PostForm("path"), "/"); subPath != "" {
		dir = collection + "/" + subPath
	}

	f, err := fileHeader.Open()
	if err != nil {
		respondError(c, http.StatusBadRequest, "UNREADABLE_FILE", "could not read uploaded file")
		return
	}
	defer f.Close()

	result, err := h.files.Upload(
		c.Request.Context(),
		dir,
		fileHeader.Filename,
		f,
		fileHeader.Size,
		fileHeader.Header.Get("Content-Type"),
		metadata,
		nil,
	)
	if err != nil {
		storeError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, result)
}

// ListFiles handles GET /api/files?collection=&path=&page_size=&page_token=.
func (h *Handler) ListFiles(c *gin.Context) {
	collection := c.Query("collection")
	if collection == "" {
		respondError(c, http.StatusBadRequest, "MISSING_COLLECTION", "collection query parameter is required")
		return
	}

	dir := collection
	if subPath := strings.Trim(c.Query("path"), "/"); subPath != "" {
		dir = collection + "/" + subPath
	}

	pageSize := 20
	if sizeParam := c.Query("page_size"); sizeParam != "" {
		n, err := strconv.Atoi(sizeParam)
		if err != nil || n < 1 {
			respondError(c, http.StatusBadRequest, "INVALID_PAGE_SIZE", "page_size must be a positive integer")
			return
		}
		pageSize = n
	}

	var page *blob.ListPage
	var err error
	if recordID := c.Query("record_id"); recordID != "" {
		files, ferr := h.files.FilesByRecord(c.Request.Context(), recordID)
		if ferr != nil {
			storeError(c, ferr)
			return
		}
		page = &blob.ListPage{Files: files}
	} else {
		page, err = h.files.List(c.Request.Context(), dir, pageSize, c.Query("page_token"))
		if err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_PAGE_TOKEN", err.Error())
			return
		}
	}
	respondOK(c, http.StatusOK, page)
}

// FileMetadata handles GET /api/files/metadata/{path}.
func (h *Handler) FileMetadata(c *gin.Context) {
	info, err := h.files.Metadata(c.Request.Context(), strings.TrimPrefix(c.Param("path"), "/"))
	if err != nil {
		storeError(c, err)
		return
	}
	respondOK(c, http.StatusOK, info)
}

// DeleteFile handles DELETE /api/files/{path}. A missing object is treated
// as already deleted.
func (h *Handler) DeleteFile(c *gin.Context) {
	objectPath := strings.TrimPrefix(c.Param("path"), "/")
	err := h.files.Delete(c.Request.Context(), objectPath)
	if err != nil && !errors.Is(err, blob.ErrObjectNotFound) {
		storeError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"path": objectPath})
}

// SetFileAccess handles PUT /api/files/access/{path}.
func (h *Handler) SetFileAccess(c *gin.Context) {
	var req models.FileAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body")
		return
	}

	objectPath := strings.TrimPrefix(c.Param("path"), "/")
	if err := h.files.SetAccess(c.Request.Context(), objectPath, req.IsPublic); err != nil {
		storeError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"path": objectPath, "isPublic": req.IsPublic})
}

// LinkFile handles PUT /api/files/link/{path}, writing a document
// back-reference into the object's metadata.
func (h *Handler) LinkFile(c *gin.Context) {
	var req models.FileLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body")
		return
	}

	objectPath := strings.TrimPrefix(c.Param("path"), "/")
	if err := h.files.LinkToRecord(c.Request.Context(), objectPath, req.RecordID, req.RecordType); err != nil {
		storeError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"path": objectPath, "recordId": req.RecordID})
}

// parseFilters decodes repeated "field:op:value" query parameters. Values
// parsing as numbers or booleans are typed accordingly.
func parseFilters(params []string) ([]database.Filter, error) {
	var filters []database.Filter
	for _, p := range params {
		parts := strings.SplitN(p, ":", 3)
		if len(parts) != 3 || parts[0] == "" {
			return nil, errors.New("filter must be 'field:op:value'")
		}
		if !database.ValidOperator(parts[1]) {
			return nil, errors.New("unsupported filter operator " + parts[1])
		}
		filters = append(filters, database.Filter{
			Field: parts[0],
			Op:    parts[1],
			Value: parseFilterValue(parts[2]),
		})
	}
	return filters, nil
}

func parseFilterValue(s string) any {
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	if s == "true" {
		return true
	}
	if s == "false" {
		return false
	}
	return s
}
