package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/Lllllllleong/collectionadmin/internal/blob"
	"github.com/Lllllllleong/collectionadmin/internal/database"
	"github.com/Lllllllleong/collectionadmin/internal/models"
	"github.com/Lllllllleong/collectionadmin/internal/realtime"
	"github.com/Lllllllleong/collectionadmin/internal/schema"
)

// RouterConfig carries everything the gateway needs to serve.
type RouterConfig struct {
	DB        database.Database
	Files     blob.Store
	Schemas   *schema.Registry
	Hub       *realtime.Hub
	JWTSecret []byte
}

// registerFieldType teaches the binding validator the schema field-type
// enum used by SchemaFieldPayload.
func registerFieldType() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("fieldtype", func(fl validator.FieldLevel) bool {
			return models.KnownFieldType(models.FieldType(fl.Field().String()))
		})
	}
}

// NewRouter builds the gin engine with the full API surface.
func NewRouter(cfg RouterConfig) *gin.Engine {
	registerFieldType()

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	h := NewHandler(cfg.DB, cfg.Files, cfg.Schemas)

	api := r.Group("/api", BearerAuth(cfg.JWTSecret), apiLog(cfg.DB))
	{
		if cfg.Hub != nil {
			api.GET("/realtime", func(c *gin.Context) {
				cfg.Hub.ServeWS(c.Writer, c.Request)
			})
		}

		api.POST("/files/upload", h.UploadFile)
		api.GET("/files", h.ListFiles)
		api.GET("/files/metadata/*path", h.FileMetadata)
		api.PUT("/files/access/*path", h.SetFileAccess)
		api.PUT("/files/link/*path", h.LinkFile)
		api.DELETE("/files/*path", h.DeleteFile)

		api.GET("/schemas/:collection", h.GetSchema)
		api.PUT("/schemas/:collection", h.PutSchema)

		api.GET("/search/:collection", h.Search)

		api.GET("/:collection", h.ListDocuments)
		api.POST("/:collection", h.CreateDocument)
		api.POST("/:collection/batch", h.BatchCreate)
		api.PUT("/:collection/batch", h.BatchUpdate)
		api.DELETE("/:collection/batch", h.BatchDelete)
		api.PUT("/:collection/:id", h.UpdateDocument)
		api.DELETE("/:collection/:id", h.DeleteDocument)
	}

	return r
}
