package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/spaghettifunk/anima/engine/assets"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/platform"
	"github.com/spaghettifunk/anima/engine/renderer"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/vulkan"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

type Engine struct {
	currentStage Stage
	gameInstance *Game
	config       *core.Config
	isRunning    bool
	isSuspended  bool
	platform     *platform.Platform
	renderer     *renderer.Renderer
	watcher      *assets.Watcher
	clock        *core.Clock
	metrics      *core.Metrics
	width        uint32
	height       uint32
	lastTime     float64
}

func New(g *Game) (*Engine, error) {
	if g.FnRender == nil {
		return nil, errors.New("game has no render function")
	}
	cfg := g.Config
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := core.SetLogLevel(cfg.Log.Level); err != nil {
		core.LogWarn("invalid log level %q: %s", cfg.Log.Level, err)
	}

	return &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		config:       cfg,
		clock:        core.NewClock(),
		metrics:      core.NewMetrics(),
		platform:     platform.New(),
		width:        cfg.App.StartWidth,
		height:       cfg.App.StartHeight,
	}, nil
}

func (e *Engine) Initialize(ctx context.Context) error {
	e.currentStage = EngineStageInitializing
	app := e.config.App
	if err := e.platform.Startup(app.Name, app.StartPosX, app.StartPosY, app.StartWidth, app.StartHeight); err != nil {
		return err
	}
	e.width, e.height = e.platform.FramebufferSize()

	device, err := vulkan.New(e.platform.Window, e.config)
	if err != nil {
		return fmt.Errorf("create vulkan device: %w", err)
	}
	r, err := renderer.New(ctx, device, e.config, e.metrics)
	if err != nil {
		device.Destroy()
		return fmt.Errorf("create renderer: %w", err)
	}
	e.renderer = r

	if err := r.LoadPrograms(e.config.Assets.ShaderDir); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		core.LogWarn("no shader directory at %s, frames will only be cleared", e.config.Assets.ShaderDir)
	}
	if e.config.Assets.Watch {
		w, err := assets.NewWatcher(e.config.Assets.ShaderDir)
		if err != nil {
			core.LogWarn("shader hot reload disabled: %s", err)
		} else {
			e.watcher = w
		}
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(r); err != nil {
			return err
		}
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
			return err
		}
	}
	e.isRunning = true
	e.currentStage = EngineStageInitialized
	return nil
}

// Run drives the game until the window closes, ctx is cancelled or the
// device is lost. Only the loss of the device is returned as an error.
func (e *Engine) Run(ctx context.Context) error {
	e.currentStage = EngineStageRunning
	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for e.isRunning {
		if ctx.Err() != nil || !e.platform.PumpMessages() {
			e.isRunning = false
			break
		}
		e.applyAssetChanges()
		e.handleResize()

		if e.isSuspended {
			e.platform.Sleep(10)
			continue
		}

		// Update clock and get delta time.
		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime
		frameStartTime := platform.GetAbsoluteTime()

		if e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(delta); err != nil {
				core.LogError("Game update failed, shutting down: %s", err)
				e.isRunning = false
				break
			}
		}

		scene, err := e.gameInstance.FnRender(delta)
		if err != nil {
			core.LogError("Game render failed, shutting down: %s", err)
			e.isRunning = false
			break
		}

		if err := e.renderer.DrawFrame(ctx, scene); err != nil {
			switch {
			case errors.Is(err, core.ErrSwapchainBooting):
				core.LogInfo("Recreating swapchain, booting.")
				e.resize()
			case errors.Is(err, gpu.ErrDeviceLost):
				core.LogError("Device lost, shutting down: %s", err)
				e.isRunning = false
				return err
			default:
				core.LogWarn("frame skipped: %s", err)
			}
		}

		e.metrics.Update(platform.GetAbsoluteTime() - frameStartTime)
		e.lastTime = currentTime
	}
	return nil
}

// applyAssetChanges drains the watcher without blocking.
func (e *Engine) applyAssetChanges() {
	if e.watcher == nil {
		return
	}
	for {
		select {
		case c, ok := <-e.watcher.Changes():
			if !ok {
				e.watcher = nil
				return
			}
			if err := e.renderer.ApplyChange(c); err != nil {
				core.LogError("reload %s: %s", c.Path, err)
			}
		default:
			return
		}
	}
}

func (e *Engine) handleResize() {
	if !e.platform.Resized() {
		return
	}
	width, height := e.platform.FramebufferSize()
	if width == e.width && height == e.height && !e.isSuspended {
		return
	}
	e.width, e.height = width, height

	// Handle minimization
	if width == 0 || height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
		return
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	e.resize()
}

func (e *Engine) resize() {
	width, height := e.platform.FramebufferSize()
	if width == 0 || height == 0 {
		e.isSuspended = true
		return
	}
	e.width, e.height = width, height
	if err := e.renderer.Resize(width, height); err != nil {
		core.LogError(err.Error())
		return
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(width, height); err != nil {
			core.LogError(err.Error())
		}
	}
}

func (e *Engine) Shutdown() error {
	e.currentStage = EngineStageShuttingDown
	var errs []error
	if e.watcher != nil {
		errs = append(errs, e.watcher.Close())
		e.watcher = nil
	}
	if e.gameInstance.FnShutdown != nil {
		errs = append(errs, e.gameInstance.FnShutdown())
	}
	if e.renderer != nil {
		errs = append(errs, e.renderer.Shutdown())
		e.renderer = nil
	}
	errs = append(errs, e.platform.Shutdown())
	return errors.Join(errs...)
}

// GetFramebufferSize returns the width and height (in this order)
// of the application Framebuffer
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

func (e *Engine) Metrics() *core.Metrics { return e.metrics }
