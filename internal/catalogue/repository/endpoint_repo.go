package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/apiforge-labs/testorder-backend/internal/catalogue/domain"
)

// EndpointRepository reads the endpoint catalogue. It never writes.
type EndpointRepository struct {
	db *sql.DB
}

// NewEndpointRepository creates a new endpoint repository
func NewEndpointRepository(db *sql.DB) *EndpointRepository {
	return &EndpointRepository{db: db}
}

// LoadEndpointDetails returns the requested endpoints of a specification with
// their parameters, responses and security requirements. Ids that do not
// belong to the specification are simply absent from the result.
func (r *EndpointRepository) LoadEndpointDetails(ctx context.Context, specificationID uuid.UUID, endpointIDs []uuid.UUID) ([]domain.EndpointDetail, error) {
	if len(endpointIDs) == 0 {
		return nil, nil
	}
	ids := toStrings(endpointIDs)

	endpoints, err := r.listEndpoints(ctx, specificationID, ids)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	if len(endpoints) == 0 {
		return nil, nil
	}

	found := make([]string, 0, len(endpoints))
	byID := make(map[uuid.UUID]*domain.EndpointDetail, len(endpoints))
	out := make([]domain.EndpointDetail, len(endpoints))
	for i, ep := range endpoints {
		out[i].Endpoint = ep
		byID[ep.ID] = &out[i]
		found = append(found, ep.ID.String())
	}

	params, err := r.listParameters(ctx, found)
	if err != nil {
		return nil, fmt.Errorf("list parameters: %w", err)
	}
	for _, p := range params {
		if d, ok := byID[p.EndpointID]; ok {
			d.Parameters = append(d.Parameters, p)
		}
	}

	responses, err := r.listResponses(ctx, found)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	for _, resp := range responses {
		if d, ok := byID[resp.EndpointID]; ok {
			d.Responses = append(d.Responses, resp)
		}
	}

	security, err := r.listSecurity(ctx, found)
	if err != nil {
		return nil, fmt.Errorf("list security requirements: %w", err)
	}
	for _, s := range security {
		if d, ok := byID[s.EndpointID]; ok {
			d.Security = append(d.Security, s)
		}
	}

	return out, nil
}

func (r *EndpointRepository) listEndpoints(ctx context.Context, specificationID uuid.UUID, ids []string) ([]domain.Endpoint, error) {
	const q = `
SELECT id, specification_id, http_method, path, coalesce(operation_id, ''), coalesce(summary, ''), is_deprecated
FROM endpoints
WHERE specification_id = $1 AND id = ANY($2::uuid[]) AND deleted_at IS NULL
ORDER BY path, http_method;
`
	rows, err := r.db.QueryContext(ctx, q, specificationID, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Endpoint, 0, len(ids))
	for rows.Next() {
		var ep domain.Endpoint
		if err := rows.Scan(&ep.ID, &ep.SpecificationID, &ep.HTTPMethod, &ep.Path, &ep.OperationID, &ep.Summary, &ep.IsDeprecated); err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

func (r *EndpointRepository) listParameters(ctx context.Context, ids []string) ([]domain.Parameter, error) {
	const q = `
SELECT id, endpoint_id, name, location, is_required, coalesce(schema::text, '')
FROM endpoint_parameters
WHERE endpoint_id = ANY($1::uuid[])
ORDER BY endpoint_id, position;
`
	rows, err := r.db.QueryContext(ctx, q, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Parameter
	for rows.Next() {
		var p domain.Parameter
		var schemaText string
		if err := rows.Scan(&p.ID, &p.EndpointID, &p.Name, &p.Location, &p.IsRequired, &schemaText); err != nil {
			return nil, err
		}
		p.Schema = rawOrNil(schemaText)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *EndpointRepository) listResponses(ctx context.Context, ids []string) ([]domain.Response, error) {
	const q = `
SELECT id, endpoint_id, status_code, coalesce(content_type, ''), coalesce(schema::text, '')
FROM endpoint_responses
WHERE endpoint_id = ANY($1::uuid[])
ORDER BY endpoint_id, status_code;
`
	rows, err := r.db.QueryContext(ctx, q, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Response
	for rows.Next() {
		var resp domain.Response
		var schemaText string
		if err := rows.Scan(&resp.ID, &resp.EndpointID, &resp.StatusCode, &resp.ContentType, &schemaText); err != nil {
			return nil, err
		}
		resp.Schema = rawOrNil(schemaText)
		out = append(out, resp)
	}
	return out, rows.Err()
}

func (r *EndpointRepository) listSecurity(ctx context.Context, ids []string) ([]domain.SecurityRequirement, error) {
	const q = `
SELECT endpoint_id, scheme_name, scopes
FROM endpoint_security_requirements
WHERE endpoint_id = ANY($1::uuid[])
ORDER BY endpoint_id, scheme_name;
`
	rows, err := r.db.QueryContext(ctx, q, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SecurityRequirement
	for rows.Next() {
		var s domain.SecurityRequirement
		var scopes pq.StringArray
		if err := rows.Scan(&s.EndpointID, &s.SchemeName, &scopes); err != nil {
			return nil, err
		}
		s.Scopes = []string(scopes)
		out = append(out, s)
	}
	return out, rows.Err()
}

func toStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func rawOrNil(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}
