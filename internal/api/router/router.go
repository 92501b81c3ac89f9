package router

import (
	"github.com/wb-go/wbf/ginext"

	"github.com/seilylook/Image-Filter-Resize-Service/internal/api/handlers/image"
	"github.com/seilylook/Image-Filter-Resize-Service/internal/middleware"
)

func Setup(h *image.Handler) *ginext.Engine {
	r := ginext.New()

	r.Use(middleware.CORSMiddleware())
	r.Use(ginext.Logger())
	r.Use(ginext.Recovery())

	r.GET("/health", h.Health)

	api := r.Group("/api/v1/images")

	api.POST("/upload", h.Upload)        // uploading image
	api.POST("/process", h.Process)      // requesting a transform
	api.GET("", h.List)                  // listing images
	api.GET("/:id", h.GetMeta)           // getting metadata by id
	api.GET("/:id/download", h.Download) // getting processed or original bytes
	api.DELETE("/:id", h.Delete)         // deleting image by id

	return r
}
