package adapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"

	"hfttools/pkg/util"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	_ = validate.RegisterValidation("date", func(fl validator.FieldLevel) bool {
		_, _, err := util.ParseDate(fl.Field().String())
		return err == nil
	})
	_ = validate.RegisterValidation("interval", func(fl validator.FieldLevel) bool {
		_, err := util.ParseInterval(fl.Field().String())
		return err == nil
	})
}

// Decode reads a request payload into req, applies `default` tags and runs
// `validate` tags. Type mismatches are InvalidInput; rule violations are
// ValidationFailed.
func Decode(payload []byte, req interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	if err := dec.Decode(req); err != nil {
		return decodeError(err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return InvalidInputf("request must be a single JSON object")
	}

	if err := defaults.Set(req); err != nil {
		return Wrap(KindInternalFailure, err, "apply request defaults")
	}

	if err := validate.Struct(req); err != nil {
		return validationError(err, "")
	}
	return nil
}

// Complete applies `default` tags to a nested block decoded on its own and
// validates it, reporting fields under prefix (e.g. "backtestConfig").
func Complete(prefix string, v interface{}) error {
	if err := defaults.Set(v); err != nil {
		return Wrap(KindInternalFailure, err, "apply defaults")
	}
	if err := validate.Struct(v); err != nil {
		return validationError(err, prefix)
	}
	return nil
}

func decodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		field := typeErr.Field
		if field == "" {
			field = "request"
		}
		return InvalidInputf("%s must be %s, got %s", field, jsonKind(typeErr.Type), typeErr.Value).WithField(field)
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return Wrap(KindInvalidInput, err, fmt.Sprintf("invalid JSON at offset %d", syntaxErr.Offset))
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return Wrap(KindInvalidInput, err, "request is empty or truncated")
	}
	return Wrap(KindInvalidInput, err, "invalid request")
}

func validationError(err error, prefix string) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) || len(validationErrors) == 0 {
		return Wrap(KindValidationFailed, err, "invalid request")
	}

	msgs := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		msgs = append(msgs, errorMessage(fe, prefix))
	}
	first := validationErrors[0]
	return NewError(KindValidationFailed, strings.Join(msgs, "; ")).
		WithField(fieldPath(first, prefix)).
		WithParam("rule", first.Tag())
}

// fieldPath drops the root struct name: "BacktestRequest.dataConfig.startDate"
// becomes "dataConfig.startDate".
func fieldPath(fe validator.FieldError, prefix string) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	if prefix != "" {
		return prefix + "." + ns
	}
	return ns
}

func errorMessage(fe validator.FieldError, prefix string) string {
	field := fieldPath(fe, prefix)
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "date":
		return fmt.Sprintf("%s must be a date (YYYY-MM-DD or RFC3339), got %q", field, fe.Value())
	case "interval":
		return fmt.Sprintf("%s must be an interval like 1m, 1h or 1d, got %q", field, fe.Value())
	case "min":
		if fe.Type().Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		if fe.Type().Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s, got %v", field, strings.ReplaceAll(fe.Param(), " ", ", "), fe.Value())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lt":
		return fmt.Sprintf("%s must be less than %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}

func jsonKind(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "a string"
	case reflect.Bool:
		return "a boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "an integer"
	case reflect.Float32, reflect.Float64:
		return "a number"
	case reflect.Slice, reflect.Array:
		return "an array"
	case reflect.Map, reflect.Struct, reflect.Ptr, reflect.Interface:
		return "an object"
	default:
		return t.String()
	}
}
