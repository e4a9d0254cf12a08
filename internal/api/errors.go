package api

import (
	"encoding/json"
	"net/http"

	"peregovorka/internal/apperrors"
	"peregovorka/internal/models"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type errorBody struct {
	Code      apperrors.Kind         `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]any         `json:"details,omitempty"`
	Conflicts *models.ConflictReport `json:"conflicts,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError encodes any error as {"error": {...}}; internal causes are not exposed.
func writeError(w http.ResponseWriter, err error) {
	appErr := apperrors.As(err)
	body := errorBody{
		Code:      appErr.Kind,
		Message:   appErr.Message,
		Details:   appErr.Details,
		Conflicts: appErr.Conflicts,
	}
	writeJSON(w, appErr.StatusCode(), map[string]any{"error": body})
}

func writeErrorMessage(w http.ResponseWriter, statusCode int, kind apperrors.Kind, message string) {
	writeJSON(w, statusCode, map[string]any{"error": errorBody{Code: kind, Message: message}})
}

func grpcCode(kind apperrors.Kind) codes.Code {
	switch kind {
	case apperrors.KindValidation:
		return codes.InvalidArgument
	case apperrors.KindConflict:
		return codes.Aborted
	case apperrors.KindForbidden:
		return codes.PermissionDenied
	case apperrors.KindNotFound:
		return codes.NotFound
	case apperrors.KindInvalidState:
		return codes.FailedPrecondition
	case apperrors.KindUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// grpcError converts service errors to a status; statuses pass through.
func grpcError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	appErr := apperrors.As(err)
	return status.Error(grpcCode(appErr.Kind), appErr.Message)
}
