package router

import (
	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/thumbnailer/internal/api/handlers/upload"
)

// Setup registers the upload routes.
func Setup(h *upload.Handler) *ginext.Engine {
	r := ginext.New()

	r.Use(ginext.Logger())
	r.Use(ginext.Recovery())

	r.GET("/", h.Health)             // liveness
	r.POST("/upload", h.Upload)      // uploading images
	r.GET("/files/:id", h.GetMeta)   // stored row of an upload
	r.DELETE("/files/:id", h.Delete) // deleting an upload

	return r
}
