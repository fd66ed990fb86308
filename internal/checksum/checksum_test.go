package checksum

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSum(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Sum(nil))
}

func TestETag(t *testing.T) {
	tag := ETag([]byte("x"))
	assert.Equal(t, `"`+Sum([]byte("x"))+`"`, tag)
}
