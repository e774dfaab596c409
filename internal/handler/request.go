package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/domain"
	"github.com/go-playground/validator/v10"
)

// maxBodySize caps JSON request bodies.
const maxBodySize = 64 << 10

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON reads a JSON body into dst and validates its struct tags.
func decodeJSON(r *http.Request, op string, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Invalid(op, "request body is required")
		}
		return domain.Invalid(op, "malformed JSON body")
	}
	return validateStruct(op, dst)
}

// validateStruct converts validator failures into a domain.ValidationError.
func validateStruct(op string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.Invalid(op, "invalid request")
	}
	ve := &domain.ValidationError{Op: op, Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		ve.Fields[fe.Field()] = fieldMessage(fe)
	}
	return ve
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// pathInt64 parses a numeric path wildcard.
func pathInt64(r *http.Request, op, name string) (int64, error) {
	v, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		return 0, domain.Invalid(op, name+" must be an integer")
	}
	return v, nil
}

// pathUserID parses the {id} wildcard, which must be positive.
func pathUserID(r *http.Request, op string) (int64, error) {
	id, err := pathInt64(r, op, "id")
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, domain.Invalid(op, "id must be positive")
	}
	return id, nil
}

// pathMessageKey parses the {chat} and {msg} wildcards.
func pathMessageKey(r *http.Request, op string) (domain.MessageKey, error) {
	chat, err := pathInt64(r, op, "chat")
	if err != nil {
		return domain.MessageKey{}, err
	}
	msg, err := pathInt64(r, op, "msg")
	if err != nil {
		return domain.MessageKey{}, err
	}
	return domain.MessageKey{ChatID: chat, MessageID: msg}, nil
}
