package x402

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// paymentRequiredSchema is the minimal shape a 402 body must have before the
// client will consider paying it.
const paymentRequiredSchema = `{
  "type": "object",
  "required": ["x402Version", "accepts"],
  "properties": {
    "x402Version": {"type": "integer", "minimum": 1},
    "description": {"type": "string"},
    "error": {"type": "string"},
    "accepts": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["scheme", "network", "payTo"],
        "properties": {
          "scheme": {"type": "string", "minLength": 1},
          "network": {"type": "string", "minLength": 1},
          "payTo": {"type": "string", "minLength": 1},
          "price": {"type": ["string", "number"]},
          "maxAmountRequired": {"type": "string"},
          "deadlineSeconds": {"type": "integer"},
          "maxTimeoutSeconds": {"type": "integer"}
        },
        "anyOf": [
          {"required": ["price"]},
          {"required": ["maxAmountRequired"]}
        ]
      }
    }
  }
}`

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(paymentRequiredSchema))
})

// ValidatePaymentRequired checks a raw 402 body against the requirement schema.
func ValidatePaymentRequired(body []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile payment requirement schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return NewPaymentError(ErrCodeInvalidRequirement, fmt.Sprintf("unreadable payment requirement: %v", err), nil)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return NewPaymentError(ErrCodeInvalidRequirement, strings.Join(problems, "; "), nil)
}
