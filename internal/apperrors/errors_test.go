package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"peregovorka/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCodes(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, Validation("bad", nil).StatusCode())
	assert.Equal(t, http.StatusConflict, Conflict("dup", nil).StatusCode())
	assert.Equal(t, http.StatusConflict, BookingConflict(&models.ConflictReport{}).StatusCode())
	assert.Equal(t, http.StatusForbidden, Forbidden("no").StatusCode())
	assert.Equal(t, http.StatusNotFound, NotFoundWithID("booking", "b1").StatusCode())
	assert.Equal(t, http.StatusUnprocessableEntity, InvalidState("wrong state", nil).StatusCode())
	assert.Equal(t, http.StatusServiceUnavailable, Unavailable("store down", nil).StatusCode())
	assert.Equal(t, http.StatusInternalServerError, Internal("boom", errors.New("x")).StatusCode())
}

func TestAsAndIsKind(t *testing.T) {
	base := Forbidden("only the organizer may extend")
	wrapped := fmt.Errorf("extend: %w", base)

	assert.True(t, IsKind(wrapped, KindForbidden))
	assert.False(t, IsKind(wrapped, KindConflict))
	assert.Same(t, base, As(wrapped))

	plain := As(errors.New("disk full"))
	require.NotNil(t, plain)
	assert.Equal(t, KindInternal, plain.Kind)
	assert.Nil(t, As(nil))
}

func TestErrorMessage(t *testing.T) {
	err := Internal("failed to save", errors.New("locked"))
	assert.Equal(t, "internal: failed to save (caused by: locked)", err.Error())
	assert.ErrorContains(t, NotFoundWithID("room", "r1"), "room not found")
}
