package runconfig_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"galileosync/internal/runconfig"
)

func TestIncludedHonorsExcludeOverInclude(t *testing.T) {
	cfg := &runconfig.Config{
		Include: []string{"aabbcc"},
		Exclude: []string{"aabbcc"},
	}
	require.False(t, cfg.Included("aabbcc"))
}

func TestIncludedDefaultsToAllowAll(t *testing.T) {
	cfg := &runconfig.Config{}
	require.True(t, cfg.Included("anything"))
}

func TestIncludedRestrictsToIncludeList(t *testing.T) {
	cfg := &runconfig.Config{Include: []string{"aabbcc"}}
	require.True(t, cfg.Included("aabbcc"))
	require.False(t, cfg.Included("ddeeff"))
}
