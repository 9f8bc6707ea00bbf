package errkind

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryable(t *testing.T) {
	assert.True(t, Network.Retryable())
	assert.True(t, System.Retryable())
	assert.False(t, Configuration.Retryable())
	assert.False(t, Application.Retryable())
	assert.False(t, Unknown.Retryable())
}

func TestClassifyPassesThroughClassifiedError(t *testing.T) {
	err := New(Configuration, errors.New("bad option"))
	assert.Equal(t, Configuration, Classify(err))
}

func TestClassifyMessagePatterns(t *testing.T) {
	assert.Equal(t, Network, Classify(errors.New("dial tcp: connection refused")))
	assert.Equal(t, System, Classify(errors.New("open /tmp/x: permission denied")))
	assert.Equal(t, Configuration, Classify(errors.New("invalid configuration: missing required field")))
	assert.Equal(t, Unknown, Classify(errors.New("something odd happened")))
}
