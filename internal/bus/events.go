package bus

// Event names shared across the core. External collaborators may emit or
// subscribe to any of them.
const (
	LayerVisibilityChanged = "layer:visibilityChanged"
	LayerRegister          = "layer:register"
	LayerUnregister        = "layer:unregister"
	LayerShow              = "layer:show"
	LayerHide              = "layer:hide"

	RenderRequest = "render:request"
	RenderPause   = "render:pause"
	RenderResume  = "render:resume"

	CrisisEntered = "performance:crisis:entered"
	CrisisExited  = "performance:crisis:exited"

	// Alerts raised by the performance monitor; the payload is a
	// monitoring.PerformanceAlert.
	FPSLow      = "performance:fps:low"
	MemoryHigh  = "performance:memory:high"
	ObjectsHigh = "performance:objects:high"

	MemoryCleanup = "memory:cleanup"

	ViewportChanged = "viewport:changed"
)
