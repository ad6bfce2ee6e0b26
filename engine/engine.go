package engine

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/meridian-gfx/viewport/contracts"
	"github.com/meridian-gfx/viewport/engine/profiler"
	"github.com/meridian-gfx/viewport/engine/window"
	"github.com/meridian-gfx/viewport/framepass"
)

// engine implements the Engine interface.
// Coordinates engine, render, and window threads.
type engine struct {
	tickRateChannel chan time.Duration // Channel for dynamic tick rate updates

	running bool
	wg      sync.WaitGroup

	quitChannel chan struct{}
	quitOnce    sync.Once // Ensures quitChannel is only closed once

	window window.Window

	profiler         *profiler.Profiler
	profilingEnabled bool

	engineTickRate time.Duration
	tickCallback   func(deltaTime float32)
	renderCallback func(deltaTime float32)

	index  *contracts.RenderIndex
	mu     sync.Mutex
	passes map[int]framepass.FramePass

	renderFrameLimit time.Duration // minimum frame duration; 0 = uncapped
}

// Engine is the main entry point for the engine.
// It orchestrates the engine loop, render loop, and window management.
type Engine interface {
	// Window returns the underlying window.
	Window() window.Window

	// RenderIndex returns the render index shared by every registered pass.
	// Nil until a render delegate has been configured via WithRenderDelegate.
	RenderIndex() *contracts.RenderIndex

	// EnableProfiler enables performance profiling output to the log.
	EnableProfiler()

	// DisableProfiler disables performance profiling output.
	DisableProfiler()

	// SetTickRate sets the engine tick rate in frames per second.
	SetTickRate(fps float64)

	// SetTickCallback registers the function called each engine tick.
	SetTickCallback(callback func(deltaTime float32))

	// SetRenderCallback registers the function called each render frame.
	SetRenderCallback(callback func(deltaTime float32))

	// SetRenderFrameLimit sets an optional render frame rate cap in frames per second.
	// Pass 0 to uncap the render loop (default).
	SetRenderFrameLimit(fps float64)

	// AddPass registers a FramePass at the given z-index key. Passes render
	// in ascending key order during the render loop.
	AddPass(key int, p framepass.FramePass)

	// RemovePass removes the pass at the given z-index key.
	RemovePass(key int)

	// Pass retrieves the pass registered at the given z-index key, or nil.
	Pass(key int) framepass.FramePass

	// Passes returns a copy of all registered passes keyed by z-index.
	Passes() map[int]framepass.FramePass

	// Run starts the main engine loop (blocks until window closes).
	Run()

	// Quit signals all engine goroutines to stop and shuts down the engine.
	// Safe to call multiple times; subsequent calls are no-ops.
	Quit()
}

// NewEngine creates a new Engine instance with the provided options.
// Initializes message channels and profiler with sensible defaults. A
// render delegate supplied via WithRenderDelegate backs the shared render
// index every registered FramePass draws against.
func NewEngine(options ...EngineBuilderOption) Engine {
	e := &engine{
		tickRateChannel:  make(chan time.Duration, 1),
		quitChannel:      make(chan struct{}),
		passes:           make(map[int]framepass.FramePass),
		running:          false,
		wg:               sync.WaitGroup{},
		profiler:         profiler.NewProfiler(),
		profilingEnabled: false,
		engineTickRate:   time.Second / 60,
	}

	for _, opt := range options {
		opt(e)
	}

	if e.window != nil {
		e.window.SetResizeCallback(func(width, height int) {
			e.mu.Lock()
			defer e.mu.Unlock()
			for _, p := range e.passes {
				params := p.Params()
				params.RenderBufferSize = [2]int{width, height}
			}
		})
	}

	return e
}

func (e *engine) Window() window.Window {
	return e.window
}

func (e *engine) RenderIndex() *contracts.RenderIndex {
	return e.index
}

func (e *engine) Run() {
	e.handle()
	e.window.ProcessMessages()
}

// Quit signals all engine goroutines to stop and shuts down the engine.
// Safe to call multiple times; subsequent calls are no-ops due to sync.Once.
func (e *engine) Quit() {
	e.signalQuit()
}

// signalQuit closes the quit channel to signal all goroutines to exit.
// Uses sync.Once to ensure the channel is only closed once.
func (e *engine) signalQuit() {
	e.quitOnce.Do(func() {
		e.running = false
		close(e.quitChannel)
	})
}

// handle launches the engine, render, and quit goroutines.
// Each goroutine is tracked by the engine's WaitGroup.
func (e *engine) handle() {
	e.wg.Add(3)
	go e.handleEngine()
	go e.handleRender()
	go e.handleQuit()
}

// handleEngine runs the fixed-rate engine tick loop in its own goroutine.
// Fires the tick callback at the configured tick rate and listens for dynamic rate changes
// via tickRateChannel. Exits when the quit channel is closed.
func (e *engine) handleEngine() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.engineTickRate)
	defer ticker.Stop()

	lastTick := time.Now()

	for {
		select {
		case <-e.quitChannel:
			return
		case <-ticker.C:
			now := time.Now()
			dt := float32(now.Sub(lastTick).Seconds())
			lastTick = now

			if e.tickCallback != nil {
				e.tickCallback(dt)
			}
		case newRate := <-e.tickRateChannel:
			ticker.Reset(newRate)
			e.engineTickRate = newRate
		}
	}
}

// handleRender runs the uncapped (or frame-limited) render loop in its own goroutine.
// Iterates active passes in ascending z-index order, pulling each pass's
// current task list via GetRenderTasks and handing it to Render.
// Recovers from panics to avoid crashing the process and signals quit on recovery.
func (e *engine) handleRender() {
	defer e.wg.Done()
	// Recover from panics inside the render goroutine to avoid crashing the whole process.
	defer func() {
		if r := recover(); r != nil {
			log.Printf("render goroutine recovered from panic: %v", r)
			e.signalQuit()
		}
	}()

	lastRender := time.Now()

	for {
		select {
		case <-e.quitChannel:
			return
		default:
			now := time.Now()
			dt := float32(now.Sub(lastRender).Seconds())
			lastRender = now

			// Draw all registered passes in ascending z-index order. Each
			// pass owns its own managers; the render index (and therefore
			// any cross-pass mutation of SPrims/BPrims) is serialized here
			// since this goroutine is the sole driver of the frame.
			e.mu.Lock()
			keys := make([]int, 0, len(e.passes))
			for k := range e.passes {
				keys = append(keys, k)
			}
			sort.Ints(keys)
			ordered := make([]framepass.FramePass, 0, len(keys))
			for _, k := range keys {
				ordered = append(ordered, e.passes[k])
			}
			e.mu.Unlock()

			for _, p := range ordered {
				tasks, err := p.GetRenderTasks(nil)
				if err != nil {
					log.Printf("framepass: GetRenderTasks failed: %v", err)
					continue
				}
				if err := p.Render(tasks); err != nil {
					log.Printf("framepass: Render failed: %v", err)
				}
			}

			if e.renderCallback != nil {
				e.renderCallback(dt)
			}

			if e.profilingEnabled && e.profiler != nil {
				e.profiler.Tick()
			}

			// Frame rate limiting
			if e.renderFrameLimit > 0 {
				elapsed := time.Since(lastRender)
				if remaining := e.renderFrameLimit - elapsed; remaining > 0 {
					time.Sleep(remaining)
				}
			}
		}
	}
}

// handleQuit blocks until the quit channel is closed, then decrements the WaitGroup.
func (e *engine) handleQuit() {
	defer e.wg.Done()
	<-e.quitChannel
}

// EnableProfiler enables performance profiling output to the log.
func (e *engine) EnableProfiler() {
	e.profilingEnabled = true
}

// DisableProfiler disables performance profiling output.
func (e *engine) DisableProfiler() {
	e.profilingEnabled = false
}

// SetTickRate sets the engine tick rate in frames per second.
// If the engine is running, the change takes effect immediately.
func (e *engine) SetTickRate(fps float64) {
	if fps <= 0 {
		fps = 60
	}
	newRate := time.Second / time.Duration(fps)

	if e.running {
		// Send to channel for immediate update in running engine loop
		// Non-blocking send - if channel is full, replace the pending value
		select {
		case e.tickRateChannel <- newRate:
		default:
			// Channel has a pending update, drain and send new value
			select {
			case <-e.tickRateChannel:
			default:
			}
			e.tickRateChannel <- newRate
		}
	} else {
		// Engine not running, just update the field
		e.engineTickRate = newRate
	}
}

// SetTickCallback registers the function called each engine tick.
func (e *engine) SetTickCallback(callback func(deltaTime float32)) {
	e.tickCallback = callback
}

// SetRenderCallback registers the function called each render frame.
func (e *engine) SetRenderCallback(callback func(deltaTime float32)) {
	e.renderCallback = callback
}

// SetRenderFrameLimit sets an optional render frame rate cap.
// Pass 0 to uncap the render loop.
func (e *engine) SetRenderFrameLimit(fps float64) {
	if fps <= 0 {
		e.renderFrameLimit = 0
		return
	}
	e.renderFrameLimit = time.Second / time.Duration(fps)
}

func (e *engine) AddPass(key int, p framepass.FramePass) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.passes[key] = p
}

func (e *engine) RemovePass(key int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.passes, key)
}

func (e *engine) Pass(key int) framepass.FramePass {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.passes[key]
}

func (e *engine) Passes() map[int]framepass.FramePass {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := make(map[int]framepass.FramePass, len(e.passes))
	for k, v := range e.passes {
		cp[k] = v
	}
	return cp
}
