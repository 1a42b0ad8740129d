package metadata

import (
	"net/http"
	"sort"
	"strings"

	catdomain "github.com/apiforge-labs/testorder-backend/internal/catalogue/domain"
)

// edgeSet maps a dependent endpoint index to the set of indexes it depends on.
type edgeSet map[int]map[int]struct{}

func (e edgeSet) add(dependent, dependency int) {
	if dependent == dependency {
		return
	}
	if e[dependent] == nil {
		e[dependent] = make(map[int]struct{})
	}
	e[dependent][dependency] = struct{}{}
}

// sorted returns the dependency indexes of i in ascending order.
func (e edgeSet) sorted(i int) []int {
	out := make([]int, 0, len(e[i]))
	for dep := range e[i] {
		out = append(out, dep)
	}
	sort.Ints(out)
	return out
}

// inferDependencies combines every heuristic over one requested endpoint set.
// Indexes refer to positions in details.
func inferDependencies(details []catdomain.EndpointDetail, auth []bool) edgeSet {
	edges := make(edgeSet)
	addSchemaEdges(edges, details)
	addPathEdges(edges, details)
	addSecurityEdges(edges, details, auth)
	return edges
}

// addSchemaEdges links consumers of a named schema to the endpoints that
// produce it. When a POST produces the name only POST producers count;
// otherwise a producer must not itself consume the name.
func addSchemaEdges(edges edgeSet, details []catdomain.EndpointDetail) {
	produces := make([]map[string]struct{}, len(details))
	consumes := make([]map[string]struct{}, len(details))
	all := make(map[string]struct{})
	for i, d := range details {
		produces[i] = make(map[string]struct{})
		for _, resp := range d.Responses {
			if !isSuccess(resp.StatusCode) {
				continue
			}
			for name := range schemaNames(resp.Schema) {
				produces[i][name] = struct{}{}
				all[name] = struct{}{}
			}
		}
		consumes[i] = make(map[string]struct{})
		for _, p := range d.Parameters {
			for name := range schemaNames(p.Schema) {
				consumes[i][name] = struct{}{}
			}
		}
	}

	for name := range all {
		var producers, postProducers []int
		for i := range details {
			if _, ok := produces[i][name]; !ok {
				continue
			}
			producers = append(producers, i)
			if strings.EqualFold(details[i].Endpoint.HTTPMethod, http.MethodPost) {
				postProducers = append(postProducers, i)
			}
		}
		if len(postProducers) > 0 {
			producers = postProducers
		} else {
			producers = filterOut(producers, func(i int) bool {
				_, ok := consumes[i][name]
				return ok
			})
		}
		if len(producers) == 0 {
			continue
		}
		isProducer := make(map[int]bool, len(producers))
		for _, p := range producers {
			isProducer[p] = true
		}
		for j := range details {
			if _, ok := consumes[j][name]; !ok || isProducer[j] {
				continue
			}
			for _, p := range producers {
				edges.add(j, p)
			}
		}
	}
}

// addPathEdges applies the REST resource conventions:
// "GET /users/{id}" follows "POST /users", and a DELETE follows the other
// non-creating operations on the same templated path.
func addPathEdges(edges edgeSet, details []catdomain.EndpointDetail) {
	creators := make(map[string][]int)
	byTemplate := make(map[string][]int)
	for i, d := range details {
		tmpl := templatePath(d.Endpoint.Path)
		method := strings.ToUpper(d.Endpoint.HTTPMethod)
		if method == http.MethodPost {
			creators[tmpl] = append(creators[tmpl], i)
		} else {
			byTemplate[tmpl] = append(byTemplate[tmpl], i)
		}
	}

	for i, d := range details {
		method := strings.ToUpper(d.Endpoint.HTTPMethod)
		segments := splitPath(templatePath(d.Endpoint.Path))
		for k, seg := range segments {
			if seg != "{}" || k == 0 {
				continue
			}
			prefix := "/" + strings.Join(segments[:k], "/")
			for _, c := range creators[prefix] {
				edges.add(i, c)
			}
		}
		if method != http.MethodDelete {
			continue
		}
		for _, other := range byTemplate[templatePath(d.Endpoint.Path)] {
			if strings.EqualFold(details[other].Endpoint.HTTPMethod, http.MethodDelete) {
				continue
			}
			edges.add(i, other)
		}
	}
}

// addSecurityEdges makes every secured, non-auth endpoint follow the auth
// endpoints of the set.
func addSecurityEdges(edges edgeSet, details []catdomain.EndpointDetail, auth []bool) {
	var authIdx []int
	for i, isAuth := range auth {
		if isAuth {
			authIdx = append(authIdx, i)
		}
	}
	if len(authIdx) == 0 {
		return
	}
	for i, d := range details {
		if auth[i] || len(d.Security) == 0 {
			continue
		}
		for _, a := range authIdx {
			edges.add(i, a)
		}
	}
}

// templatePath lower-cases a path, trims trailing slashes and replaces every
// parameter segment ("{id}", ":id") with "{}".
func templatePath(p string) string {
	segments := splitPath(p)
	for i, seg := range segments {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") || strings.HasPrefix(seg, ":") {
			segments[i] = "{}"
			continue
		}
		segments[i] = strings.ToLower(seg)
	}
	return "/" + strings.Join(segments, "/")
}

func splitPath(p string) []string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func filterOut(in []int, drop func(int) bool) []int {
	out := in[:0:0]
	for _, v := range in {
		if !drop(v) {
			out = append(out, v)
		}
	}
	return out
}
