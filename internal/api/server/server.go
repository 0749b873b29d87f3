package server

import (
	"net/http"
	"time"

	"github.com/aliskhannn/thumbnailer/internal/config"
)

// New builds the HTTP server for the upload API.
func New(cfg config.Server, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
