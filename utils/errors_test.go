package utils

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError(t *testing.T) {
	cause := errors.New("bucket missing")
	err := InternalServerError("Failed to store email", cause).With("sender", int64(3))

	assert.Equal(t, "Failed to store email: bucket missing", err.Error())
	assert.True(t, err.Server())
	assert.Equal(t, map[string]interface{}{"sender": int64(3)}, err.Fields)
	assert.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("send: %w", err)
	appErr, ok := AsAppError(wrapped)
	require.True(t, ok)
	assert.Equal(t, http.StatusInternalServerError, appErr.Code)

	_, ok = AsAppError(cause)
	assert.False(t, ok)

	for _, e := range []*AppError{
		BadRequestError("x", nil),
		UnauthorizedError("x", nil),
		ForbiddenError("x", nil),
		NotFoundError("x", nil),
	} {
		assert.False(t, e.Server(), e.Code)
		assert.Equal(t, "x", e.Error())
	}
	assert.Equal(t, http.StatusBadGateway, BadGatewayError("x", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, ServiceUnavailableError("x", nil).Code)
}
