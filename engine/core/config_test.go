package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
[app]
name = "sandbox"

[renderer]
frames_in_flight = 3
`))
	require.NoError(t, err)
	assert.Equal(t, "sandbox", cfg.App.Name)
	assert.Equal(t, uint32(1280), cfg.App.StartWidth)
	assert.Equal(t, 3, cfg.Renderer.FramesInFlight)
	assert.Equal(t, 3, cfg.DestroyDelay())
	assert.Equal(t, [3]uint32{16, 9, 24}, cfg.Settings.ClusterGrid)
}

func TestParseConfigDestroyDelayOverride(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
[renderer]
frames_in_flight = 2
deferred_destroy_frames = 4
`))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.DestroyDelay())
}

func TestParseConfigInvalid(t *testing.T) {
	cases := map[string]string{
		"frames in flight": "[renderer]\nframes_in_flight = 0\n",
		"shadow size":      "[settings]\nshadows = true\nshadow_map_size = 0\n",
		"cluster grid":     "[settings]\ncluster_grid = [16, 0, 24]\n",
		"unknown key":      "[renderer]\nfoo = 1\n",
		"syntax":           "[renderer\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}

func TestConfigRoundTrip(t *testing.T) {
	data, err := DefaultConfig().Marshal()
	require.NoError(t, err)
	cfg, err := ParseConfig(data)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestSetLogLevel(t *testing.T) {
	assert.NoError(t, SetLogLevel("warn"))
	assert.Error(t, SetLogLevel("loud"))
	assert.NoError(t, SetLogLevel("debug"))
}
