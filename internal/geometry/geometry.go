// Package geometry computes the rendering dimensions and scale-to-fit
// layout for the video surface. It has no DOM of its own: every operation
// returns a pure Geometry value for the embedding UI layer to apply, the Go
// reformulation of what the distilled spec expresses as a CSS side effect.
package geometry

// Geometry is the computed layout for the video surface at a point in time.
type Geometry struct {
	Width          int
	Height         int
	OffsetX        int
	OffsetY        int
	ImageRendering string // "pixelated" or "smooth"
}

// roundDownEven rounds v down to the nearest even integer, never below 0.
func roundDownEven(v float64) int {
	n := int(v)
	if n%2 != 0 {
		n--
	}
	if n < 0 {
		return 0
	}
	return n
}

// effectiveDPR implements effective_dpr = (manualMode || useCSSScaling) ? 1 : dpr.
func effectiveDPR(manualMode, useCSSScaling bool, dpr float64) float64 {
	if manualMode || useCSSScaling {
		return 1
	}
	return dpr
}

func imageRendering(dpr float64) string {
	if dpr <= 1 {
		return "pixelated"
	}
	return "smooth"
}

// ResetToWindowResolution computes the Geometry for auto (non-manual) mode:
// logical dimensions track the window size directly at the given DPR.
func ResetToWindowResolution(windowW, windowH int, useCSSScaling bool, dpr float64) Geometry {
	dpr = effectiveDPR(false, useCSSScaling, dpr)
	return Geometry{
		Width:          roundDownEven(float64(windowW) * dpr),
		Height:         roundDownEven(float64(windowH) * dpr),
		ImageRendering: imageRendering(dpr),
	}
}

// ApplyManualStyle computes the Geometry for manual resolution mode: the
// stream is rendered at (targetW, targetH) and either letterboxed to fit
// within (containerW, containerH) preserving aspect ratio, or stretched to
// fill the container.
func ApplyManualStyle(containerW, containerH, targetW, targetH int, scaleToFit bool) Geometry {
	dpr := effectiveDPR(true, false, 1)
	g := Geometry{
		Width:          roundDownEven(float64(targetW) * dpr),
		Height:         roundDownEven(float64(targetH) * dpr),
		ImageRendering: imageRendering(dpr),
	}

	if !scaleToFit || containerW <= 0 || containerH <= 0 || targetW <= 0 || targetH <= 0 {
		return g
	}

	containerAspect := float64(containerW) / float64(containerH)
	targetAspect := float64(targetW) / float64(targetH)

	var renderW, renderH int
	if targetAspect > containerAspect {
		// Target is relatively wider than the container: letterbox top/bottom.
		renderW = containerW
		renderH = roundDownEven(float64(containerW) / targetAspect)
	} else {
		// Target is relatively taller: letterbox left/right.
		renderH = containerH
		renderW = roundDownEven(float64(containerH) * targetAspect)
	}

	g.Width = renderW
	g.Height = renderH
	g.OffsetX = (containerW - renderW) / 2
	g.OffsetY = (containerH - renderH) / 2
	return g
}
