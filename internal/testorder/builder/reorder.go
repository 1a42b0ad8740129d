package builder

import (
	"github.com/google/uuid"

	"github.com/apiforge-labs/testorder-backend/internal/testorder/domain"
)

// ValidateReorderedEndpointSet checks that candidate is a permutation of the
// endpoint ids in original and returns it unchanged. Any duplicate, missing
// or foreign id fails with INVALID_ORDER_SET and is named in the details.
func ValidateReorderedEndpointSet(original []domain.OrderItem, candidate []uuid.UUID) ([]uuid.UUID, error) {
	want := make(map[uuid.UUID]bool, len(original))
	for _, item := range original {
		want[item.EndpointID] = true
	}

	seen := make(map[uuid.UUID]int, len(candidate))
	var unexpected, duplicate []string
	for _, id := range candidate {
		seen[id]++
		switch {
		case !want[id]:
			if seen[id] == 1 {
				unexpected = append(unexpected, id.String())
			}
		case seen[id] == 2:
			duplicate = append(duplicate, id.String())
		}
	}

	var missing []string
	for _, item := range original {
		if seen[item.EndpointID] == 0 {
			missing = append(missing, item.EndpointID.String())
			seen[item.EndpointID] = -1
		}
	}

	if len(missing) == 0 && len(unexpected) == 0 && len(duplicate) == 0 {
		return candidate, nil
	}

	details := make(map[string][]string)
	if len(missing) > 0 {
		details["missing"] = missing
	}
	if len(unexpected) > 0 {
		details["unexpected"] = unexpected
	}
	if len(duplicate) > 0 {
		details["duplicate"] = duplicate
	}
	return nil, domain.Validation(domain.ReasonInvalidOrderSet,
		"reordered endpoints must be a permutation of the proposed order (missing=%d unexpected=%d duplicate=%d)",
		len(missing), len(unexpected), len(duplicate)).WithDetails(details)
}

// ApplyReorder lays out the items of original in the sequence of ids, which
// must already be validated. OrderIndex is reassigned from 1; method, path
// and reason codes are kept.
func ApplyReorder(original []domain.OrderItem, ids []uuid.UUID) []domain.OrderItem {
	byID := make(map[uuid.UUID]domain.OrderItem, len(original))
	for _, item := range original {
		byID[item.EndpointID] = item
	}
	out := make([]domain.OrderItem, 0, len(ids))
	for i, id := range ids {
		item := byID[id]
		item.ReasonCodes = append([]string(nil), item.ReasonCodes...)
		item.OrderIndex = i + 1
		out = append(out, item)
	}
	return out
}
