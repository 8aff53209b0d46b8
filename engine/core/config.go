package core

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config is the engine configuration, decoded from a TOML file.
type Config struct {
	App      AppConfig      `toml:"app"`
	Log      LogConfig      `toml:"log"`
	Renderer RendererConfig `toml:"renderer"`
	Bindless BindlessConfig `toml:"bindless"`
	Settings RenderSettings `toml:"settings"`
	Assets   AssetsConfig   `toml:"assets"`
}

type AppConfig struct {
	Name        string `toml:"name"`
	StartPosX   uint32 `toml:"start_pos_x"`
	StartPosY   uint32 `toml:"start_pos_y"`
	StartWidth  uint32 `toml:"start_width"`
	StartHeight uint32 `toml:"start_height"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type RendererConfig struct {
	// Number of frames the CPU may record ahead of the GPU.
	FramesInFlight int  `toml:"frames_in_flight"`
	VSync          bool `toml:"vsync"`
	Validation     bool `toml:"validation"`
	// Upper bound for a frame fence wait.
	TimeoutMS uint64 `toml:"timeout_ms"`
	// Frames a released resource waits before it is destroyed.
	// Zero means "same as FramesInFlight".
	DeferredDestroyFrames int `toml:"deferred_destroy_frames"`
	// Frames an unused framebuffer stays cached.
	FramebufferEvictFrames int `toml:"framebuffer_evict_frames"`
}

type BindlessConfig struct {
	MaxBuffers  uint32 `toml:"max_buffers"`
	MaxImages   uint32 `toml:"max_images"`
	MaxSamplers uint32 `toml:"max_samplers"`
}

// RenderSettings toggles optional passes of the standard pipeline.
type RenderSettings struct {
	Bloom         bool      `toml:"bloom"`
	BloomMips     uint32    `toml:"bloom_mips"`
	Shadows       bool      `toml:"shadows"`
	ShadowMapSize uint32    `toml:"shadow_map_size"`
	DebugOverlay  bool      `toml:"debug_overlay"`
	ClusterGrid   [3]uint32 `toml:"cluster_grid"`
}

type AssetsConfig struct {
	ShaderDir string `toml:"shader_dir"`
	Watch     bool   `toml:"watch"`
}

func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "Anima",
			StartPosX:   100,
			StartPosY:   100,
			StartWidth:  1280,
			StartHeight: 720,
		},
		Log: LogConfig{
			Level: "info",
		},
		Renderer: RendererConfig{
			FramesInFlight:         2,
			VSync:                  true,
			TimeoutMS:              2000,
			FramebufferEvictFrames: 8,
		},
		Bindless: BindlessConfig{
			MaxBuffers:  65536,
			MaxImages:   65536,
			MaxSamplers: 256,
		},
		Settings: RenderSettings{
			Bloom:         true,
			BloomMips:     5,
			Shadows:       true,
			ShadowMapSize: 2048,
			ClusterGrid:   [3]uint32{16, 9, 24},
		},
		Assets: AssetsConfig{
			ShaderDir: "assets/shaders",
			Watch:     true,
		},
	}
}

// LoadConfig reads the TOML file at path on top of DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Renderer.FramesInFlight < 1 || c.Renderer.FramesInFlight > 3 {
		return fmt.Errorf("%w: frames_in_flight must be in [1, 3], got %d", ErrInvalidConfig, c.Renderer.FramesInFlight)
	}
	if c.Renderer.DeferredDestroyFrames < 0 {
		return fmt.Errorf("%w: deferred_destroy_frames must not be negative", ErrInvalidConfig)
	}
	if c.Settings.Shadows && c.Settings.ShadowMapSize == 0 {
		return fmt.Errorf("%w: shadow_map_size must be set when shadows are enabled", ErrInvalidConfig)
	}
	for i, n := range c.Settings.ClusterGrid {
		if n == 0 {
			return fmt.Errorf("%w: cluster_grid[%d] is zero", ErrInvalidConfig, i)
		}
	}
	return nil
}

// DestroyDelay is the number of frames a released GPU object waits before
// its native memory is freed.
func (c *Config) DestroyDelay() int {
	if c.Renderer.DeferredDestroyFrames > 0 {
		return c.Renderer.DeferredDestroyFrames
	}
	return c.Renderer.FramesInFlight
}

// Marshal encodes the configuration back to TOML.
func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}
