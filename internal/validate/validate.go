// Package validate checks request bodies and query strings against
// kin-openapi schemas before any processing, reporting every failed rule as a
// field-level error. The same schemas are published in the OpenAPI document.
package validate

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/kitbay/kitbay/internal/model"
)

// Error carries one or more field failures. Handlers render it as a 400 with
// the fields under error.context.fields.
type Error struct {
	Fields []model.FieldError
}

func (e *Error) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Fail returns an Error for a single field.
func Fail(field, message string) *Error {
	return &Error{Fields: []model.FieldError{{Field: field, Message: message}}}
}

// Fields extracts the field failures from err, or nil if err is not a
// validation error.
func Fields(err error) []model.FieldError {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Fields
	}
	return nil
}

// Body decodes a JSON document, validates it against schema and, when valid,
// decodes it into dst.
func Body(schema *openapi3.Schema, data []byte, dst interface{}) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return Fail("body", "request body is required")
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return Fail("body", "invalid JSON: "+err.Error())
	}
	if err := Value(schema, doc); err != nil {
		return err
	}
	if dst == nil {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return Fail("body", err.Error())
	}
	return nil
}

// Query coerces the query parameters named by schema's properties to the
// declared types, validates the result and decodes it into dst. Values that
// cannot be coerced are passed through as strings so the schema reports them.
func Query(schema *openapi3.Schema, values url.Values, dst interface{}) error {
	doc := make(map[string]interface{})
	for name, ref := range schema.Properties {
		raw, ok := values[name]
		if !ok || len(raw) == 0 || ref.Value == nil {
			continue
		}
		doc[name] = coerce(ref.Value, raw)
	}
	if err := Value(schema, doc); err != nil {
		return err
	}
	if dst == nil {
		return nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return Fail("query", err.Error())
	}
	return nil
}

// Value validates an already decoded JSON value.
func Value(schema *openapi3.Schema, value interface{}) error {
	err := schema.VisitJSON(value, openapi3.MultiErrors())
	if err == nil {
		return nil
	}
	return &Error{Fields: fieldErrors(err)}
}

func coerce(s *openapi3.Schema, raw []string) interface{} {
	switch {
	case s.Type.Is(openapi3.TypeArray):
		var items []interface{}
		for _, r := range raw {
			for _, part := range strings.Split(r, ",") {
				if part = strings.TrimSpace(part); part != "" {
					if s.Items != nil && s.Items.Value != nil {
						items = append(items, coerceOne(s.Items.Value, part))
					} else {
						items = append(items, part)
					}
				}
			}
		}
		if items == nil {
			items = []interface{}{}
		}
		return items
	default:
		return coerceOne(s, raw[len(raw)-1])
	}
}

func coerceOne(s *openapi3.Schema, raw string) interface{} {
	switch {
	case s.Type.Is(openapi3.TypeInteger):
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
	case s.Type.Is(openapi3.TypeNumber):
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	case s.Type.Is(openapi3.TypeBoolean):
		if b, err := strconv.ParseBool(raw); err == nil {
			return b
		}
	}
	return raw
}

// fieldErrors flattens kin-openapi's nested errors into field failures sorted
// by field path.
func fieldErrors(err error) []model.FieldError {
	var out []model.FieldError
	var walk func(error)
	walk = func(e error) {
		switch v := e.(type) {
		case openapi3.MultiError:
			for _, inner := range v {
				walk(inner)
			}
		case *openapi3.SchemaError:
			field := strings.Join(v.JSONPointer(), ".")
			if field == "" {
				field = "body"
			}
			msg := v.Reason
			if msg == "" {
				msg = v.Error()
			}
			out = append(out, model.FieldError{Field: field, Message: msg})
		default:
			out = append(out, model.FieldError{Field: "body", Message: e.Error()})
		}
	}
	walk(err)

	sort.SliceStable(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}
