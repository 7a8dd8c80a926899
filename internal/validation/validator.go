package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/procuredata/console/internal/ngsi"
	"github.com/procuredata/console/pkg/utils"
)

var (
	once     sync.Once
	instance *validator.Validate
)

// Validator returns the shared validator with the custom rules registered.
// Field names in errors use the json tag.
func Validator() *validator.Validate {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return field.Name
			}
			return name
		})
		_ = v.RegisterValidation("ngsiurn", validateURN)
		v.RegisterStructValidation(validateGeoPoint, GeoPoint{})
		instance = v
	})
	return instance
}

// validateURN accepts urn:ngsi-ld:<Type>:<local id> only.
func validateURN(fl validator.FieldLevel) bool {
	return ngsi.IsURN(fl.Field().String())
}

func validateGeoPoint(sl validator.StructLevel) {
	p := sl.Current().Interface().(GeoPoint)
	if len(p.Coordinates) != 2 {
		return
	}
	if lon := p.Coordinates[0]; lon < -180 || lon > 180 {
		sl.ReportError(p.Coordinates, "coordinates", "Coordinates", "longitude", "")
	}
	if lat := p.Coordinates[1]; lat < -90 || lat > 90 {
		sl.ReportError(p.Coordinates, "coordinates", "Coordinates", "latitude", "")
	}
}

// Struct validates v and converts failures into a VALIDATION_ERROR carrying
// one "field: message" detail per failed rule.
func Struct(v any) error {
	err := Validator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return utils.NewAppError(utils.CodeValidation, "validation failed", err)
	}

	messages := make([]string, 0, len(verrs))
	appErr := utils.NewAppError(utils.CodeValidation, "validation failed", nil)
	for _, fe := range verrs {
		field := fieldPath(fe)
		msg := message(fe)
		messages = append(messages, field+": "+msg)
		appErr = appErr.WithDetail(field, msg)
	}
	appErr.Message = strings.Join(messages, ", ")
	return appErr
}

// fieldPath drops the top-level struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "ngsiurn":
		return "must follow urn:ngsi-ld:Type:id"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "min":
		if isCollection(fe.Kind()) {
			return "must have at least " + fe.Param() + " items"
		}
		if fe.Kind() == reflect.String {
			return "must be at least " + fe.Param() + " characters"
		}
		return "must be at least " + fe.Param()
	case "max":
		if isCollection(fe.Kind()) {
			return "must have at most " + fe.Param() + " items"
		}
		if fe.Kind() == reflect.String {
			return "must be at most " + fe.Param() + " characters"
		}
		return "must be at most " + fe.Param()
	case "len":
		return "must have exactly " + fe.Param() + " items"
	case "eq":
		return "must be " + fe.Param()
	case "email":
		return "must be a valid email address"
	case "longitude":
		return "longitude must be between -180 and 180"
	case "latitude":
		return "latitude must be between -90 and 90"
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}

func isCollection(k reflect.Kind) bool {
	return k == reflect.Slice || k == reflect.Array || k == reflect.Map
}

// ValidateKind checks a flat entity against the schema of its type and
// returns it with enum defaults filled in. Types without a schema pass
// through unchanged.
func ValidateKind(entityType string, flat ngsi.Flat) (ngsi.Flat, error) {
	s, ok := schemas[entityType]
	if !ok {
		return flat, nil
	}

	out := make(ngsi.Flat, len(flat)+len(s.defaults))
	for k, v := range flat {
		out[k] = v
	}
	for k, v := range s.defaults {
		if _, set := out[k]; !set {
			out[k] = v
		}
	}

	target := s.newTarget()
	if err := decodeInto(out, target); err != nil {
		return nil, err
	}
	if err := Struct(target); err != nil {
		return nil, err
	}
	return out, nil
}

// Decode re-reads a generic JSON value into a typed struct and validates it.
func Decode[T any](input any) (T, error) {
	var out T
	if err := decodeInto(input, &out); err != nil {
		return out, err
	}
	return out, Struct(out)
}

func decodeInto(input any, target any) error {
	raw, err := json.Marshal(input)
	if err != nil {
		return utils.NewAppError(utils.CodeValidation, "payload is not valid JSON", err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			msg := "must be a " + typeErr.Type.String()
			return utils.NewAppError(utils.CodeValidation, typeErr.Field+": "+msg, nil).
				WithDetail(typeErr.Field, msg)
		}
		return utils.NewAppError(utils.CodeValidation, "payload does not match the schema", err)
	}
	return nil
}
