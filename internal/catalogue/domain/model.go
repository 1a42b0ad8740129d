package domain

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Parameter locations as stored by the specification importers.
const (
	LocationPath   = "path"
	LocationQuery  = "query"
	LocationHeader = "header"
	LocationCookie = "cookie"
	LocationBody   = "body"
)

// Endpoint is one HTTP method+path operation of an imported specification.
type Endpoint struct {
	ID              uuid.UUID `json:"id"`
	SpecificationID uuid.UUID `json:"specification_id"`
	HTTPMethod      string    `json:"http_method"`
	Path            string    `json:"path"`
	OperationID     string    `json:"operation_id,omitempty"`
	Summary         string    `json:"summary,omitempty"`
	IsDeprecated    bool      `json:"is_deprecated"`
}

// Parameter is a request input. Body payloads are stored as a parameter with
// Location "body".
type Parameter struct {
	ID         uuid.UUID       `json:"id"`
	EndpointID uuid.UUID       `json:"endpoint_id"`
	Name       string          `json:"name"`
	Location   string          `json:"location"`
	IsRequired bool            `json:"is_required"`
	Schema     json.RawMessage `json:"schema,omitempty"`
}

// Response is a documented response of an endpoint.
// StatusCode 0 stands for the "default" response.
type Response struct {
	ID          uuid.UUID       `json:"id"`
	EndpointID  uuid.UUID       `json:"endpoint_id"`
	StatusCode  int             `json:"status_code"`
	ContentType string          `json:"content_type,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// SecurityRequirement references a security scheme required by an endpoint.
type SecurityRequirement struct {
	EndpointID uuid.UUID `json:"endpoint_id"`
	SchemeName string    `json:"scheme_name"`
	Scopes     []string  `json:"scopes,omitempty"`
}

// EndpointDetail bundles an endpoint with the records the ordering
// heuristics read.
type EndpointDetail struct {
	Endpoint   Endpoint
	Parameters []Parameter
	Responses  []Response
	Security   []SecurityRequirement
}
