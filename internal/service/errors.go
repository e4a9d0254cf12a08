package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"peregovorka/internal/apperrors"
	"peregovorka/internal/conflict"
	"peregovorka/internal/database"
	"peregovorka/internal/repository"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// validateStruct runs struct tag validation and reports failed fields as details.
func validateStruct(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.Internal("failed to validate request", err)
	}
	details := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		details[fe.Field()] = rule
	}
	return apperrors.Validation("invalid request", details)
}

// storeError maps store and lock sentinels to caller-visible errors.
// Errors that are already *apperrors.Error pass through unchanged.
func storeError(err error, resource, id string) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, database.ErrNotFound):
		return apperrors.NotFoundWithID(resource, id)
	case errors.Is(err, database.ErrConcurrentModification):
		return apperrors.InvalidState(
			fmt.Sprintf("%s was modified concurrently", resource),
			map[string]any{"id": id},
		)
	case errors.Is(err, database.ErrDuplicate):
		return apperrors.Conflict(fmt.Sprintf("%s already exists", resource), map[string]any{"id": id})
	case errors.Is(err, conflict.ErrInvalidWindow):
		return apperrors.Validation(err.Error(), map[string]any{"field": "end"})
	case errors.Is(err, database.ErrUnavailable), errors.Is(err, repository.ErrLockTimeout):
		return apperrors.Unavailable("storage is temporarily unavailable", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperrors.Unavailable("request cancelled", err)
	}
	return apperrors.Internal(fmt.Sprintf("failed to process %s", resource), err)
}
