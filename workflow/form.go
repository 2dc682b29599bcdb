package workflow

import "github.com/nexus-link/durable/id"

// Form is a named, versionless workflow definition.
type Form struct {
	ID             id.ID  `json:"id"`
	CapabilityName string `json:"capability_name"`
	Title          string `json:"title"`
	Etag           string `json:"etag"`
}

// Version is a published major.minor release of a Form.
type Version struct {
	ID            id.ID  `json:"id"`
	FormID        id.ID  `json:"form_id"`
	MajorVersion  int    `json:"major_version"`
	MinorVersion  int    `json:"minor_version"`
	DynamicCreate bool   `json:"dynamic_create"`
	Etag          string `json:"etag"`
}
