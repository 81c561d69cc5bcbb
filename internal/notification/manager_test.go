package notification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenfield-iot/agrialert/internal/logger"
)

func TestInitialize_OnlyOnce(t *testing.T) {
	Initialize(testSettings(), logger.NewNopLogger())
	first := GetDispatcher()
	require.NotNil(t, first)

	settings := testSettings()
	settings.Endpoint = "https://other.example.com"
	Initialize(settings, logger.NewNopLogger())
	assert.Same(t, first, GetDispatcher(), "second Initialize must be ignored")
}
