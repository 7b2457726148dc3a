package diffusion

import (
	"testing"

	"github.com/genforge/genforge/pkg/corerr"
	"github.com/stretchr/testify/require"
)

func TestValidateConfigKeysAcceptsKnownKeys(t *testing.T) {
	err := ValidateConfigKeys(map[string]interface{}{"modelId": "x", "port": 8081})
	require.NoError(t, err)
}

func TestValidateConfigKeysRejectsUnknownKeys(t *testing.T) {
	err := ValidateConfigKeys(map[string]interface{}{"modelId": "x", "bogus": 1})
	require.Error(t, err)
	require.Equal(t, corerr.InvalidRequest, corerr.CodeOf(err))
	require.Contains(t, err.Error(), "bogus")
	require.Contains(t, err.Error(), "modelId")
}
