package extract

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const invoiceSchemaURL = "invoice.json"

// Models return numbers or strings for amounts depending on the document, so
// every field accepts both and normalization converts them.
const invoiceSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["invoice_number", "invoice_date", "company", "product", "total_value", "currency"],
  "properties": {
    "invoice_number": {"type": ["string", "number", "null"]},
    "invoice_date":   {"type": ["string", "null"]},
    "company":        {"type": ["string", "null"]},
    "product":        {"type": ["string", "null"]},
    "total_value":    {"type": ["string", "number", "null"]},
    "currency":       {"type": ["string", "null"]},
    "taxes_paid":     {"type": ["string", "number", "null"]},
    "language":       {"type": ["string", "null"]}
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func invoiceValidator() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(invoiceSchema))
		if err != nil {
			schemaErr = fmt.Errorf("parse invoice schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(invoiceSchemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("add invoice schema: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(invoiceSchemaURL)
	})
	return compiledSchema, schemaErr
}

// validatePayload checks a decoded reply against the invoice schema.
func validatePayload(obj map[string]any) error {
	sch, err := invoiceValidator()
	if err != nil {
		return err
	}
	return sch.Validate(obj)
}
