package model

import "time"

const (
	// FileTypeImage is the only file type accepted by the upload endpoint.
	FileTypeImage = "image"
	// OriginWeb marks files received through the HTTP upload endpoint.
	OriginWeb = "web"
)

// File represents a stored upload as recorded in the files table.
type File struct {
	ID           uint64    `json:"id"`
	FileName     string    `json:"file_name"`     // generated storage name
	Directory    string    `json:"directory"`     // storage root
	Type         string    `json:"type"`          // "image"
	OriginalName string    `json:"original_name"` // name sent by the client
	Origin       string    `json:"origin"`        // "web"
	CreatedAt    time.Time `json:"created_at"`
}
