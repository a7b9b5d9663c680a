package utils

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// BindRequest decodes the request into T and validates its struct tags.
// Failures are returned as 400s.
func BindRequest[T any](c echo.Context) (T, error) {
	var body T
	if err := c.Bind(&body); err != nil {
		return body, httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return Validate(body)
}

func Validate[T any](value T) (T, error) {
	if err := validate.Struct(value); err != nil {
		return value, httperror.NewHTTPError(http.StatusBadRequest, ValidationErrorToString(err))
	}
	return value, nil
}

func ValidationErrorToString(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("field '%s' failed rule '%s=%s'", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("field '%s' failed rule '%s'", fe.Field(), fe.Tag()))
	}
	return "invalid request: " + strings.Join(msgs, "; ")
}
