package docs

import (
	_ "embed"
)

// OpenAPI description of the http api
//
//go:embed openapi.json
var OpenAPI []byte
