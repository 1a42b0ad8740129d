package builder

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/apiforge-labs/testorder-backend/internal/testorder/domain"
)

// MetadataResolver is the read side the builder orders over.
type MetadataResolver interface {
	GetEndpointMetadata(ctx context.Context, specificationID uuid.UUID, endpointIDs []uuid.UUID) ([]domain.EndpointMetadata, error)
}

// Builder turns endpoint metadata into a deterministic execution order.
type Builder struct {
	resolver MetadataResolver
	log      logrus.FieldLogger
}

func NewBuilder(resolver MetadataResolver, log logrus.FieldLogger) *Builder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Builder{resolver: resolver, log: log}
}

// BuildProposalOrder resolves metadata for endpointIDs and returns them
// topologically ordered, auth endpoints first, ties in input order.
// OrderIndex starts at 1.
func (b *Builder) BuildProposalOrder(ctx context.Context, suiteID, specificationID uuid.UUID, endpointIDs []uuid.UUID) ([]domain.OrderItem, error) {
	meta, err := b.resolver.GetEndpointMetadata(ctx, specificationID, endpointIDs)
	if err != nil {
		return nil, err
	}

	byID := lo.KeyBy(meta, func(m domain.EndpointMetadata) uuid.UUID { return m.EndpointID })
	nodes := make([]domain.EndpointMetadata, 0, len(meta))
	for _, id := range lo.Uniq(endpointIDs) {
		m, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("metadata missing for endpoint %s", id)
		}
		nodes = append(nodes, m)
	}

	items, forced := Order(nodes)
	if len(forced) > 0 {
		b.log.WithFields(logrus.Fields{
			"suite_id":         suiteID,
			"specification_id": specificationID,
			"endpoint_ids":     forced,
		}).Warn("dependency cycle detected; placed endpoints in input order")
	}
	return items, nil
}

// Order computes the execution order of nodes, which must be given in input
// order. It also returns the ids placed by the cycle fallback.
//
// Each step picks, among unplaced nodes whose dependencies are all placed:
// auth endpoints, then prerequisites of auth endpoints, then everything else,
// each by input position. When nothing is ready the graph has a cycle and the
// lowest-positioned unplaced node is forced, priority nodes first.
func Order(nodes []domain.EndpointMetadata) ([]domain.OrderItem, []uuid.UUID) {
	n := len(nodes)
	if n == 0 {
		return []domain.OrderItem{}, nil
	}

	pos := make(map[uuid.UUID]int, n)
	for i, node := range nodes {
		pos[node.EndpointID] = i
	}
	deps := make([][]int, n)
	for i, node := range nodes {
		for _, dep := range lo.Uniq(node.DependsOnEndpointIDs) {
			if j, ok := pos[dep]; ok && j != i {
				deps[i] = append(deps[i], j)
			}
		}
	}

	prereq := authPrerequisites(nodes, deps)
	rank := func(i int) int {
		switch {
		case nodes[i].IsAuthRelated:
			return 0
		case prereq[i]:
			return 1
		default:
			return 2
		}
	}

	placed := make([]bool, n)
	items := make([]domain.OrderItem, 0, n)
	var forced []uuid.UUID

	for len(items) < n {
		next, cycle := -1, false
		for i := 0; i < n; i++ {
			if placed[i] || !ready(deps[i], placed) {
				continue
			}
			if next < 0 || rank(i) < rank(next) {
				next = i
			}
		}
		if next < 0 {
			cycle = true
			for i := 0; i < n; i++ {
				if placed[i] {
					continue
				}
				if next < 0 || min(rank(i), 1) < min(rank(next), 1) {
					next = i
				}
			}
		}

		placed[next] = true
		node := nodes[next]
		var reasons []string
		if node.IsAuthRelated {
			reasons = append(reasons, domain.ReasonAuthFirst)
		} else if prereq[next] {
			reasons = append(reasons, domain.ReasonAuthPrerequisite)
		}
		if len(deps[next]) > 0 {
			reasons = append(reasons, domain.ReasonDependencyOrdered)
		}
		if cycle {
			reasons = append(reasons, domain.ReasonCycleFallback)
			forced = append(forced, node.EndpointID)
		}
		items = append(items, domain.OrderItem{
			EndpointID:  node.EndpointID,
			HTTPMethod:  node.HTTPMethod,
			Path:        node.Path,
			OrderIndex:  len(items) + 1,
			ReasonCodes: reasons,
		})
	}
	return items, forced
}

// authPrerequisites marks the non-auth nodes that some auth node depends on,
// directly or transitively.
func authPrerequisites(nodes []domain.EndpointMetadata, deps [][]int) []bool {
	out := make([]bool, len(nodes))
	seen := make([]bool, len(nodes))
	var stack []int
	for i, node := range nodes {
		if node.IsAuthRelated {
			stack = append(stack, i)
			seen[i] = true
		}
	}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, d := range deps[cur] {
			if seen[d] {
				continue
			}
			seen[d] = true
			out[d] = !nodes[d].IsAuthRelated
			stack = append(stack, d)
		}
	}
	return out
}

func ready(deps []int, placed []bool) bool {
	for _, d := range deps {
		if !placed[d] {
			return false
		}
	}
	return true
}
