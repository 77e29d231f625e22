package recordsapi

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

const (
	schemaSearch           = "SearchResponse"
	schemaDeepQuery        = "DeepQueryResponse"
	schemaDocumentAnalysis = "DocumentAnalysisResponse"
)

//go:embed contract.yaml
var contractSpec []byte

// Contract checks backend responses against the embedded OpenAPI document before
// they are decoded into domain types.
type Contract struct {
	doc *openapi3.T
}

func LoadContract() (*Contract, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(contractSpec)
	if err != nil {
		return nil, fmt.Errorf("load records contract: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate records contract: %w", err)
	}
	return &Contract{doc: doc}, nil
}

func (c *Contract) Validate(schema string, body []byte) error {
	if c == nil || c.doc == nil || c.doc.Components == nil {
		return nil
	}
	ref, ok := c.doc.Components.Schemas[schema]
	if !ok || ref == nil || ref.Value == nil {
		return fmt.Errorf("contract schema %q is not defined", schema)
	}

	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	if err := ref.Value.VisitJSON(value); err != nil {
		return fmt.Errorf("%s: %w", schema, err)
	}
	return nil
}
