package model

import "errors"

// ErrInputRejected marks a request the core refused without changing state
// (empty text, missing MQTT fields, malformed JSON). HTTP maps it to 400.
var ErrInputRejected = errors.New("input rejected")

// Mode is the active display mode. Only the orchestrator mutates it; every
// per-mode branch switches over all five values.
type Mode uint8

const (
	ModeNone Mode = iota
	ModeText
	ModeImage
	ModeStream
	ModeMQTT
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "NONE"
	case ModeText:
		return "TEXT"
	case ModeImage:
		return "IMAGE"
	case ModeStream:
		return "STREAM"
	case ModeMQTT:
		return "MQTT"
	}
	return "UNKNOWN"
}

// Paginated reports whether the mode shows a paginated Document.
func (m Mode) Paginated() bool {
	return m == ModeText || m == ModeMQTT
}

// Font size bounds shared by text, MQTT and stream views.
const (
	MinFontSize     = 1
	MaxFontSize     = 6
	DefaultFontSize = 2
)

// ClampFontSize forces size into [MinFontSize, MaxFontSize].
func ClampFontSize(size int) int {
	if size < MinFontSize {
		return MinFontSize
	}
	if size > MaxFontSize {
		return MaxFontSize
	}
	return size
}

// Layout holds the fixed chrome dimensions in pixels.
type Layout struct {
	HeaderHeight int
	FooterHeight int
	Margin       int
}

// DefaultLayout matches the 960x540 panel the UI was designed for.
func DefaultLayout() Layout {
	return Layout{HeaderHeight: 44, FooterHeight: 60, Margin: 10}
}

// Viewport is the drawable area for the confirmed rotation.
type Viewport struct {
	Width         int
	Height        int
	HeaderHeight  int
	FooterHeight  int
	Margin        int
	ChromeVisible bool
}

// NewViewport derives the viewport of a native panel (nativeW x nativeH at
// rotation 0) for the given rotation. Odd rotations swap the axes.
func NewViewport(nativeW, nativeH, rotation int, l Layout, chrome bool) Viewport {
	w, h := nativeW, nativeH
	if rotation%2 == 1 {
		w, h = h, w
	}
	return Viewport{
		Width:         w,
		Height:        h,
		HeaderHeight:  l.HeaderHeight,
		FooterHeight:  l.FooterHeight,
		Margin:        l.Margin,
		ChromeVisible: chrome,
	}
}

// ContentKind distinguishes regular images from rendered maps; it only
// affects the header label.
type ContentKind uint8

const (
	ContentPlain ContentKind = iota
	ContentMap
)

// ParseContentKind maps the X-Content-Type header value.
func ParseContentKind(s string) ContentKind {
	if s == "map" {
		return ContentMap
	}
	return ContentPlain
}

func (k ContentKind) String() string {
	if k == ContentMap {
		return "map"
	}
	return "plain"
}

// ImageAsset is one uploaded image. Width/Height are filled lazily by the
// geometry resolver; Known is false until then or when the header could
// not be parsed.
type ImageAsset struct {
	Data     []byte
	Kind     ContentKind
	Width    int
	Height   int
	Known    bool
	Resolved bool
}

// MQTTSettings is the broker configuration accepted by /api/mqtt.
type MQTTSettings struct {
	Broker   string `json:"broker"`
	Port     int    `json:"port"`
	Topic    string `json:"topic"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// DefaultMQTTPort is used when the request omits "port".
const DefaultMQTTPort = 1883

// Status is the outbound status query result.
type Status struct {
	Mode          string `json:"mode"`
	PageIndex     int    `json:"page_index"`
	PageCount     int    `json:"page_count"`
	FontSize      int    `json:"font_size"`
	Rotation      int    `json:"rotation"`
	ChromeVisible bool   `json:"chrome_visible"`
	ScreenWidth   int    `json:"screen_width"`
	ScreenHeight  int    `json:"screen_height"`
	MQTTConnected *bool  `json:"mqtt_connected,omitempty"`
	MQTTBroker    string `json:"mqtt_broker,omitempty"`
	MQTTTopic     string `json:"mqtt_topic,omitempty"`
	HeapAlloc     uint64 `json:"heap_alloc"`
}
