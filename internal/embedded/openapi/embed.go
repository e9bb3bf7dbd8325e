// Package openapi embeds the OpenAPI 3.0 document of the RDDM HTTP API.
package openapi

import (
	_ "embed"
	"encoding/json"
	"sync"

	"github.com/goccy/go-yaml"
)

// SpecYAML is the OpenAPI document as written.
// Served at: GET /api/v1/openapi.yaml
//
//go:embed openapi.yaml
var SpecYAML []byte

var (
	specJSON    []byte
	specJSONErr error
	specOnce    sync.Once
)

// SpecJSON returns the document converted to JSON.
// Served at: GET /api/v1/openapi.json
func SpecJSON() ([]byte, error) {
	specOnce.Do(func() {
		var doc any
		if specJSONErr = yaml.Unmarshal(SpecYAML, &doc); specJSONErr != nil {
			return
		}
		specJSON, specJSONErr = json.Marshal(doc)
	})
	return specJSON, specJSONErr
}
