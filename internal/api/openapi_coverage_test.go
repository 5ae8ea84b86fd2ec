package api_test

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	specpkg "github.com/windseeker5/minipass-env-sub001/api"
	"github.com/windseeker5/minipass-env-sub001/internal/api"
)

// openAPISpec is the minimal structure needed to extract paths from the spec.
type openAPISpec struct {
	Paths map[string]map[string]interface{} `yaml:"paths"`
}

func TestOpenAPISpec_RoutesCoverAllPaths(t *testing.T) {
	t.Parallel()

	var spec openAPISpec
	err := yaml.Unmarshal(specpkg.OpenAPISpec, &spec)
	require.NoError(t, err, "embedded spec must parse")

	specRoutes := extractSpecRoutes(t, spec)
	require.NotEmpty(t, specRoutes, "spec should define at least one route")

	// Full deps so every route group is mounted
	router := api.NewRouter(fullDeps())

	chiRoutes := extractChiRoutes(t, router)
	require.NotEmpty(t, chiRoutes, "Chi router should have at least one route")

	// Every spec path+method must have a matching Chi route
	for _, sr := range specRoutes {
		t.Run(fmt.Sprintf("spec_%s_%s_has_Chi_route", sr.method, sr.path), func(t *testing.T) {
			found := false
			for _, cr := range chiRoutes {
				if cr.method == sr.method && cr.path == sr.path {
					found = true
					break
				}
			}
			assert.True(t, found, "spec route %s %s not found in Chi router", sr.method, sr.path)
		})
	}

	// Every Chi route must have a matching spec path+method
	for _, cr := range chiRoutes {
		t.Run(fmt.Sprintf("Chi_%s_%s_has_spec_path", cr.method, cr.path), func(t *testing.T) {
			found := false
			for _, sr := range specRoutes {
				if sr.method == cr.method && sr.path == cr.path {
					found = true
					break
				}
			}
			assert.True(t, found, "Chi route %s %s not found in OpenAPI spec", cr.method, cr.path)
		})
	}
}

type route struct {
	method string
	path   string
}

func extractSpecRoutes(t *testing.T, spec openAPISpec) []route {
	t.Helper()
	var routes []route
	for path, methods := range spec.Paths {
		for method := range methods {
			routes = append(routes, route{
				method: strings.ToUpper(method),
				path:   path,
			})
		}
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].path == routes[j].path {
			return routes[i].method < routes[j].method
		}
		return routes[i].path < routes[j].path
	})
	return routes
}

func extractChiRoutes(t *testing.T, r *chi.Mux) []route {
	t.Helper()
	var routes []route
	walkFunc := func(method, routePath string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		// Normalize: Chi subroutes produce trailing slashes (e.g. /customers/)
		// while OpenAPI uses /customers — strip trailing slash for comparison.
		normalized := strings.TrimRight(routePath, "/")
		if normalized == "" {
			normalized = "/"
		}
		routes = append(routes, route{
			method: method,
			path:   normalized,
		})
		return nil
	}
	err := chi.Walk(r, walkFunc)
	require.NoError(t, err, "chi.Walk should not error")

	sort.Slice(routes, func(i, j int) bool {
		if routes[i].path == routes[j].path {
			return routes[i].method < routes[j].method
		}
		return routes[i].path < routes[j].path
	})
	return routes
}
