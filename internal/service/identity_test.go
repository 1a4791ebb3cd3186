package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExternalIdentity(t *testing.T) {
	assert.Equal(t, "jane_doe", ExternalIdentity("jane.doe@example.com"))
	assert.Equal(t, "mari_liis_tamm", ExternalIdentity("mari.liis.tamm"))
	assert.Equal(t, "", ExternalIdentity("@example.com"))
	assert.Equal(t, "jane_doe", ExternalIdentity("jane_doe"))
}

func TestLocalPart(t *testing.T) {
	assert.Equal(t, "jane.doe", LocalPart("jane.doe@example.com"))
	assert.Equal(t, "jane", LocalPart("jane"))
	assert.Equal(t, "a", LocalPart("a@b@c"))
}
