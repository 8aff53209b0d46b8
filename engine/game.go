package engine

import (
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer"
)

// Game is the application driven by the engine loop. Only FnRender is
// required.
type Game struct {
	Config       *core.Config
	State        interface{}
	FnInitialize Initialize
	FnUpdate     Update
	FnRender     Render
	FnOnResize   OnResize
	FnShutdown   Shutdown
}

type Initialize func(r *renderer.Renderer) error
type Update func(deltaTime float64) error

// Render returns the scene of the frame. A nil scene clears the screen.
type Render func(deltaTime float64) (*renderer.Scene, error)
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
