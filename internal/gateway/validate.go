package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Request body schema names.
const (
	schemaRegister      = "register.json"
	schemaLogin         = "login.json"
	schemaSelectCard    = "select-card.json"
	schemaSelectProduct = "select-product.json"
	schemaOnboarding    = "onboarding.json"
	schemaSelfStats     = "self-stats.json"
	schemaGrind         = "grind.json"
	schemaTaskUpdate    = "task-update.json"
	schemaConnect       = "connect.json"
	schemaRate          = "rate.json"
)

var requestSchemas = map[string]string{
	schemaRegister: `{
		"type": "object",
		"required": ["email", "password"],
		"properties": {
			"email": {"type": "string", "minLength": 3, "maxLength": 254},
			"password": {"type": "string", "minLength": 1, "maxLength": 72},
			"name": {"type": "string", "maxLength": 80},
			"city": {"type": "string", "maxLength": 80},
			"skills": {"type": "array", "maxItems": 20, "items": {"type": "string", "maxLength": 40}}
		}
	}`,
	schemaLogin: `{
		"type": "object",
		"required": ["email", "password"],
		"properties": {
			"email": {"type": "string"},
			"password": {"type": "string"}
		}
	}`,
	schemaSelectCard: `{
		"type": "object",
		"required": ["cardId"],
		"properties": {"cardId": {"type": "string", "minLength": 1}}
	}`,
	schemaSelectProduct: `{
		"type": "object",
		"required": ["productId"],
		"properties": {"productId": {"type": "string", "minLength": 1}}
	}`,
	schemaOnboarding: `{
		"type": "object",
		"required": ["step"],
		"properties": {"step": {"type": "integer", "minimum": 0}}
	}`,
	schemaSelfStats: `{
		"type": "object",
		"required": ["build", "fund", "connect"],
		"properties": {
			"build": {"type": "number", "minimum": 0, "maximum": 100},
			"fund": {"type": "number", "minimum": 0, "maximum": 100},
			"connect": {"type": "number", "minimum": 0, "maximum": 100}
		}
	}`,
	schemaGrind: `{
		"type": "object",
		"required": ["taskId"],
		"properties": {"taskId": {"type": "string", "minLength": 1}}
	}`,
	schemaTaskUpdate: `{
		"type": "object",
		"required": ["taskId"],
		"properties": {
			"taskId": {"type": "string", "minLength": 1},
			"status": {"type": "string", "enum": ["todo", "in_progress", "in-progress", "doing", "done"]},
			"assignedTo": {"type": "string", "enum": ["", "labor", "finance", "sales"]},
			"method": {"type": "string", "maxLength": 200},
			"budget": {"type": "number", "minimum": 0},
			"actualCost": {"type": "number", "minimum": 0},
			"deadline": {"type": "string"}
		}
	}`,
	schemaConnect: `{
		"type": "object",
		"required": ["wolfId"],
		"properties": {"wolfId": {"type": "string", "minLength": 1}}
	}`,
	schemaRate: `{
		"type": "object",
		"required": ["score"],
		"properties": {"score": {"type": "integer", "minimum": 1, "maximum": 5}}
	}`,
}

// errBadBody marks malformed or schema-violating request bodies.
var errBadBody = errors.New("invalid request body")

type validator struct {
	schemas map[string]*jsonschema.Schema
}

func newValidator() (*validator, error) {
	c := jsonschema.NewCompiler()
	for name, raw := range requestSchemas {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("unmarshal schema %s: %w", name, err)
		}
		if err := c.AddResource(name, doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}
	v := &validator{schemas: make(map[string]*jsonschema.Schema, len(requestSchemas))}
	for name := range requestSchemas {
		sch, err := c.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		v.schemas[name] = sch
	}
	return v, nil
}

// decode reads the request body, validates it against the named schema and
// unmarshals it into dst.
func (v *validator) decode(r *http.Request, schema string, dst any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err // *http.MaxBytesError surfaces as 413
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return fmt.Errorf("%w: empty body", errBadBody)
	}
	// jsonschema.UnmarshalJSON keeps numbers as json.Number, which the
	// validator needs for integer checks.
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	sch, ok := v.schemas[schema]
	if !ok {
		return fmt.Errorf("unknown schema %q", schema)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("%w: %s", errBadBody, flattenValidation(err))
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return nil
}

func flattenValidation(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	lines := strings.Split(strings.TrimSpace(ve.Error()), "\n")
	// The first line names the schema URL; the rest are the causes.
	if len(lines) > 1 {
		lines = lines[1:]
	}
	for i := range lines {
		lines[i] = strings.TrimLeft(strings.TrimSpace(lines[i]), "- ")
	}
	return strings.Join(lines, "; ")
}
