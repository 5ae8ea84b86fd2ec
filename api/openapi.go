// Package api holds the embedded OpenAPI document for the control-plane
// HTTP surface. The router serves it at /openapi.json.
package api

import _ "embed"

//go:embed openapi.yaml
var OpenAPISpec []byte
