package engine

import (
	"errors"
	"io/fs"

	"github.com/spaghettifunk/anima/engine/core"
)

// LoadApplicationConfig reads the engine configuration at path. A missing
// file yields the defaults.
func LoadApplicationConfig(path string) (*core.Config, error) {
	cfg, err := core.LoadConfig(path)
	if errors.Is(err, fs.ErrNotExist) {
		core.LogWarn("config %s not found, using defaults", path)
		return core.DefaultConfig(), nil
	}
	return cfg, err
}
