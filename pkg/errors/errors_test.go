package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneKeepsIdentity(t *testing.T) {
	err := Clone(ErrNotRegistered, "course 7 is not registered")
	assert.True(t, errors.Is(err, ErrNotRegistered))
	assert.False(t, errors.Is(err, ErrAlreadyRegistered))
	assert.Equal(t, "course 7 is not registered", err.Error())
}

func TestFromErrorWrapsUnknown(t *testing.T) {
	appErr := FromError(fmt.Errorf("boom"))
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.Status)
	assert.Nil(t, FromError(nil))
}

func TestFromErrorUnwrapsChain(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", Wrap(errors.New("dial"), ErrSinkFailed.Code, ErrSinkFailed.Status, "logstash down"))
	appErr := FromError(wrapped)
	assert.Equal(t, http.StatusBadGateway, appErr.Status)
	assert.Equal(t, "logstash down: dial", appErr.Error())
}
