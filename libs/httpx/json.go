package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Validator exposes the shared validator for query structs.
func Validator() *validator.Validate {
	return validate
}

type errorBody struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, errorBody{Error: msg})
}

// RequestError is returned by DecodeAndValidate; Details maps json field names
// to messages.
type RequestError struct {
	Msg     string
	Details map[string]string
}

func (e *RequestError) Error() string {
	if len(e.Details) == 0 {
		return e.Msg
	}
	parts := make([]string, 0, len(e.Details))
	for field, msg := range e.Details {
		parts = append(parts, field+" "+msg)
	}
	return e.Msg + ": " + strings.Join(parts, ", ")
}

// WriteRequestError writes a 400 carrying validation details when err is a
// *RequestError, and a plain 400 otherwise.
func WriteRequestError(w http.ResponseWriter, err error) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		WriteJSON(w, http.StatusBadRequest, errorBody{Error: reqErr.Msg, Details: reqErr.Details})
		return
	}
	WriteError(w, http.StatusBadRequest, err.Error())
}

// DecodeAndValidate decodes a JSON body into dst and runs validator tags.
func DecodeAndValidate(r *http.Request, dst any) error {
	if r.Body == nil {
		return &RequestError{Msg: "request body required"}
	}
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return &RequestError{Msg: "request body required"}
		}
		return &RequestError{Msg: "invalid json", Details: map[string]string{"body": err.Error()}}
	}
	return Validate(dst)
}

// Validate runs validator tags on v.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			details := make(map[string]string, len(fieldErrs))
			for _, fe := range fieldErrs {
				details[fe.Field()] = validationMessage(fe)
			}
			return &RequestError{Msg: "validation failed", Details: details}
		}
		return &RequestError{Msg: "validation failed", Details: map[string]string{"body": err.Error()}}
	}
	return nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "email":
		return "must be a valid email"
	case "uuid", "uuid4":
		return "must be a uuid"
	case "datetime":
		return fmt.Sprintf("must match %s", fe.Param())
	}
	return "is invalid"
}
