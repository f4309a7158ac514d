// Package docs ships the OpenAPI description of the public API.
package docs

import _ "embed"

// OpenAPIPath is the document location relative to the repository root.
const OpenAPIPath = "./docs/openapi.yaml"

//go:embed openapi.yaml
var OpenAPI []byte
