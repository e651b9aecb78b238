package geometry

import (
	"sync"
	"time"
)

// DefaultDebounce is the trailing-edge quiet period the Controller waits
// for before acting on a burst of resize notifications.
const DefaultDebounce = 500 * time.Millisecond

// Controller owns the resize-debounce timer and the auto/manual resolution
// mode state, and reports the computed Geometry plus the resolved
// resolution to its callbacks once the debounce window elapses.
type Controller struct {
	mu       sync.Mutex
	debounce time.Duration
	timer    *time.Timer

	autoResize    bool
	manualMode    bool
	manualW       int
	manualH       int
	useCSSScaling bool
	dpr           float64

	onResolution func(w, h int)
	onGeometry   func(Geometry)
}

// New creates a Controller with auto-resize enabled by default.
func New(onResolution func(w, h int), onGeometry func(Geometry)) *Controller {
	return &Controller{
		debounce:     DefaultDebounce,
		autoResize:   true,
		dpr:          1,
		onResolution: onResolution,
		onGeometry:   onGeometry,
	}
}

// SetDebounce overrides the default debounce period. Must be called before
// the first NotifyResize.
func (c *Controller) SetDebounce(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.debounce = d
}

// SetDevicePixelRatio records the window's current device pixel ratio.
func (c *Controller) SetDevicePixelRatio(dpr float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dpr = dpr
}

// SetUseCSSScaling toggles the use_css_scaling setting, which forces
// effective_dpr to 1 regardless of the reported device pixel ratio.
func (c *Controller) SetUseCSSScaling(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.useCSSScaling = enabled
}

// EnableAutoResize switches the controller to auto (window-tracking) mode.
func (c *Controller) EnableAutoResize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoResize = true
	c.manualMode = false
}

// DisableAutoResize switches the controller to manual mode with the given
// fixed target dimensions and cancels any pending resize debounce.
func (c *Controller) DisableAutoResize(width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoResize = false
	c.manualMode = true
	c.manualW = width
	c.manualH = height
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// NotifyResize records a window or container resize event. The trailing
// timer re-arms on every call within the debounce window; only the last
// event in a burst causes the onResolution and onGeometry callbacks to fire.
func (c *Controller) NotifyResize(windowW, windowH, containerW, containerH int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.debounce, func() {
		c.settle(windowW, windowH, containerW, containerH)
	})
}

func (c *Controller) settle(windowW, windowH, containerW, containerH int) {
	c.mu.Lock()
	manualMode := c.manualMode
	manualW, manualH := c.manualW, c.manualH
	useCSSScaling := c.useCSSScaling
	dpr := c.dpr
	onResolution := c.onResolution
	onGeometry := c.onGeometry
	c.mu.Unlock()

	var g Geometry
	var w, h int
	if manualMode {
		g = ApplyManualStyle(containerW, containerH, manualW, manualH, true)
		w, h = manualW, manualH
	} else {
		g = ResetToWindowResolution(windowW, windowH, useCSSScaling, dpr)
		w, h = windowW, windowH
	}

	if onResolution != nil {
		onResolution(w, h)
	}
	if onGeometry != nil {
		onGeometry(g)
	}
}
