package metadata

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	catdomain "github.com/apiforge-labs/testorder-backend/internal/catalogue/domain"
	"github.com/apiforge-labs/testorder-backend/internal/testorder/domain"
)

// Catalogue loads endpoint descriptions of one specification.
type Catalogue interface {
	LoadEndpointDetails(ctx context.Context, specificationID uuid.UUID, endpointIDs []uuid.UUID) ([]catdomain.EndpointDetail, error)
}

// Resolver derives per-endpoint ordering facts from the catalogue.
// It is read-only.
type Resolver struct {
	catalogue Catalogue
	log       logrus.FieldLogger
}

func NewResolver(catalogue Catalogue, log logrus.FieldLogger) *Resolver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Resolver{catalogue: catalogue, log: log}
}

// GetEndpointMetadata returns one EndpointMetadata per distinct requested id,
// in request order. Dependencies only reference ids of the same request.
func (r *Resolver) GetEndpointMetadata(ctx context.Context, specificationID uuid.UUID, endpointIDs []uuid.UUID) ([]domain.EndpointMetadata, error) {
	if len(endpointIDs) == 0 {
		return nil, domain.Validation(domain.ReasonEmptyEndpointSet, "at least one endpoint is required")
	}
	if lo.Contains(endpointIDs, uuid.Nil) {
		return nil, domain.Validation(domain.ReasonInvalidEndpointID, "endpoint ids must not be empty")
	}
	ids := lo.Uniq(endpointIDs)

	details, err := r.catalogue.LoadEndpointDetails(ctx, specificationID, ids)
	if err != nil {
		return nil, fmt.Errorf("load endpoint details: %w", err)
	}

	byID := lo.KeyBy(details, func(d catdomain.EndpointDetail) uuid.UUID { return d.Endpoint.ID })
	missing := lo.Filter(ids, func(id uuid.UUID, _ int) bool {
		_, ok := byID[id]
		return !ok
	})
	if len(missing) > 0 {
		return nil, domain.NotFound(domain.ReasonEndpointNotInSpecification,
			"%d endpoint(s) do not belong to specification %s", len(missing), specificationID).
			WithDetails(map[string][]string{
				"missing": lo.Map(missing, func(id uuid.UUID, _ int) string { return id.String() }),
			})
	}

	ordered := make([]catdomain.EndpointDetail, len(ids))
	auth := make([]bool, len(ids))
	for i, id := range ids {
		ordered[i] = byID[id]
		auth[i] = IsAuthRelated(ordered[i])
	}
	edges := inferDependencies(ordered, auth)

	out := make([]domain.EndpointMetadata, len(ordered))
	for i, d := range ordered {
		deps := edges.sorted(i)
		out[i] = domain.EndpointMetadata{
			EndpointID:           d.Endpoint.ID,
			HTTPMethod:           d.Endpoint.HTTPMethod,
			Path:                 d.Endpoint.Path,
			OperationID:          d.Endpoint.OperationID,
			IsAuthRelated:        auth[i],
			DependsOnEndpointIDs: lo.Map(deps, func(j int, _ int) uuid.UUID { return ordered[j].Endpoint.ID }),
		}
	}

	r.log.WithFields(logrus.Fields{
		"specification_id": specificationID,
		"endpoints":        len(out),
		"auth_endpoints":   lo.Count(auth, true),
	}).Debug("resolved endpoint metadata")

	return out, nil
}
