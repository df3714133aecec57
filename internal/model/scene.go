package model

// SceneKind selects what the renderer draws.
type SceneKind uint8

const (
	SceneWelcome SceneKind = iota
	SceneText
	SceneImage
	SceneStream
)

// Refresh is the panel update mode. Quality is the full, flashing refresh;
// Fast is the partial update used for stream traffic.
type Refresh uint8

const (
	RefreshQuality Refresh = iota
	RefreshFast
)

func (r Refresh) String() string {
	if r == RefreshFast {
		return "fast"
	}
	return "quality"
}

// Scene is everything the renderer needs for one redraw. The orchestrator
// builds it from state it owns; the renderer never reads that state directly.
type Scene struct {
	Kind     SceneKind
	Refresh  Refresh
	Viewport Viewport
	// Rotation maps the viewport back onto the native panel.
	Rotation int

	// Chrome draws the header (and footer for paginated text). Header is the
	// centred mode label.
	Chrome bool
	Header string
	// Sleeping draws the "Sleeping..." overlay (or welcome footer line).
	Sleeping bool

	// Text / MQTT.
	Page      string
	PageIndex int
	PageCount int
	FontSize  int

	// Image. Scale is the cover-fit factor, 0 when the geometry is unknown.
	Image *ImageAsset
	Scale float64

	// Stream. ClearAll forces a full-surface clear before drawing.
	Lines    []string
	ClearAll bool
}
