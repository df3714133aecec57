// Package orchestrator owns the display state: the active mode, the text
// document, the stream log, the image and the MQTT session. All of it is
// mutated from one goroutine (see Run); every other component talks to it
// through the Queue.
package orchestrator

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"runtime"

	"paperpiper/internal/activity"
	"paperpiper/internal/gesture"
	"paperpiper/internal/imagegeom"
	appLog "paperpiper/internal/log"
	"paperpiper/internal/model"
	"paperpiper/internal/orient"
	"paperpiper/internal/paginate"
	"paperpiper/internal/payload"
	"paperpiper/internal/stream"
)

// ErrPoweredOff is returned once the idle timeout powered the device down.
var ErrPoweredOff = errors.New("orchestrator: powered off")

// Renderer draws one scene to the panel. A call returns when the panel
// update has completed.
type Renderer interface {
	Render(scene model.Scene) error
}

// Snapshotter is implemented by renderers that keep the last frame.
type Snapshotter interface {
	Snapshot() image.Image
}

// Power shuts the device down.
type Power interface {
	PowerOff() error
}

// Accelerometer returns one gravity sample.
type Accelerometer interface {
	Read() (orient.Sample, error)
}

// Subscription is an active MQTT link handed over on successful configure.
type Subscription interface {
	Close() error
}

// Options configures an Orchestrator. Renderer, Metrics and Power are
// required.
type Options struct {
	Renderer Renderer
	Metrics  paginate.Metrics
	Power    Power

	NativeWidth  int
	NativeHeight int
	Layout       model.Layout
	Rotation     int
	IdleTimeout  activity.Millis
}

type mqttSession struct {
	settings    model.MQTTSettings
	sub         Subscription
	connected   bool
	lastMessage string
}

// Orchestrator is the display state machine.
type Orchestrator struct {
	renderer Renderer
	metrics  paginate.Metrics
	power    Power

	nativeW, nativeH int
	layout           model.Layout

	mode       model.Mode
	chrome     bool
	doc        *paginate.Document
	stream     *stream.Buffer
	client     uint64
	claimed    bool
	image      *model.ImageAsset
	mqtt       *mqttSession
	stabilizer *orient.Stabilizer
	clock      *activity.Clock
	poweredOff bool
}

// New builds an orchestrator in mode NONE with chrome visible. now seeds
// the activity clock.
func New(opts Options, now activity.Millis) *Orchestrator {
	if opts.NativeWidth <= 0 || opts.NativeHeight <= 0 {
		opts.NativeWidth, opts.NativeHeight = 540, 960
	}
	if opts.Layout == (model.Layout{}) {
		opts.Layout = model.DefaultLayout()
	}
	return &Orchestrator{
		renderer:   opts.Renderer,
		metrics:    opts.Metrics,
		power:      opts.Power,
		nativeW:    opts.NativeWidth,
		nativeH:    opts.NativeHeight,
		layout:     opts.Layout,
		mode:       model.ModeNone,
		chrome:     true,
		doc:        paginate.NewDocument(),
		stream:     stream.NewBuffer(),
		stabilizer: orient.NewStabilizer(opts.Rotation),
		clock:      activity.NewClock(now, opts.IdleTimeout),
	}
}

// Mode returns the active mode.
func (o *Orchestrator) Mode() model.Mode { return o.mode }

// Rotation returns the confirmed rotation.
func (o *Orchestrator) Rotation() int { return o.stabilizer.Rotation() }

// PoweredOff reports whether the device has shut down.
func (o *Orchestrator) PoweredOff() bool { return o.poweredOff }

// Viewport returns the drawable area for the current rotation and chrome.
func (o *Orchestrator) Viewport() model.Viewport {
	return model.NewViewport(o.nativeW, o.nativeH, o.stabilizer.Rotation(), o.layout, o.chrome)
}

// Touch records activity without changing state.
func (o *Orchestrator) Touch(now activity.Millis) {
	o.clock.Touch(now)
}

// ShowWelcome draws the welcome screen. Used once at startup.
func (o *Orchestrator) ShowWelcome(now activity.Millis) {
	o.redraw(now, model.RefreshQuality)
}

// OnTextSubmitted switches to TEXT. Empty text after normalization is
// rejected without touching state; size is clamped, and 2 when absent.
func (o *Orchestrator) OnTextSubmitted(text string, size int, hasSize bool, now activity.Millis) error {
	if o.poweredOff {
		return ErrPoweredOff
	}
	text = payload.Normalize(text)
	if text == "" {
		return fmt.Errorf("%w: empty text", model.ErrInputRejected)
	}
	if !hasSize {
		size = model.DefaultFontSize
	}
	size = model.ClampFontSize(size)

	o.clock.Touch(now)
	if o.mode == model.ModeText && o.doc.Text == text && o.doc.FontSize == size {
		appLog.Debug("text unchanged, skipping redraw", "bytes", len(text))
		return nil
	}

	o.enter(model.ModeText)
	o.doc.Text = text
	o.doc.FontSize = size
	o.rebuild()
	appLog.Info("text displayed", "bytes", len(text), "font_size", size, "pages", o.doc.Count())
	o.redraw(now, model.RefreshQuality)
	return nil
}

// OnImageUploaded switches to IMAGE with a completed upload.
func (o *Orchestrator) OnImageUploaded(asset model.ImageAsset, now activity.Millis) error {
	if o.poweredOff {
		return ErrPoweredOff
	}
	o.clock.Touch(now)
	if len(asset.Data) == 0 {
		appLog.Warn("empty image upload ignored")
		return nil
	}
	if o.mode == model.ModeImage && o.image != nil &&
		o.image.Kind == asset.Kind && bytes.Equal(o.image.Data, asset.Data) {
		appLog.Debug("image unchanged, skipping redraw", "bytes", len(asset.Data))
		return nil
	}

	o.enter(model.ModeImage)
	o.image = &asset
	imagegeom.Resolve(o.image)
	appLog.Info("image displayed",
		"bytes", len(asset.Data),
		"kind", asset.Kind.String(),
		"width", asset.Width,
		"height", asset.Height,
		"known", asset.Known,
	)
	o.redraw(now, model.RefreshQuality)
	return nil
}

// OnStreamConnected makes client the current stream source. The log is
// cleared and the next stream redraw clears the whole surface.
func (o *Orchestrator) OnStreamConnected(client uint64, now activity.Millis) {
	if o.poweredOff {
		return
	}
	o.client = client
	o.claimed = false
	o.clock.Touch(now)
	o.stream.Reset()
}

// OnStreamBytes consumes bytes from the current client. Its first bytes
// switch to STREAM with an immediate redraw; later ones only feed the log
// and are drawn from OnTick while STREAM is still shown. Another mode
// taking over is not undone by the same client.
func (o *Orchestrator) OnStreamBytes(client uint64, data []byte, now activity.Millis) {
	if o.poweredOff || client != o.client || len(data) == 0 {
		return
	}
	o.clock.Touch(now)

	if !o.claimed {
		o.claimed = true
		o.enter(model.ModeStream)
		o.stream.Reset()
		o.stream.Consume(data)
		appLog.Info("stream mode entered", "client", client)
		o.redraw(now, model.RefreshQuality)
		return
	}
	o.stream.Consume(data)
}

// OnMQTTConfigured takes ownership of sub and switches to MQTT, showing
// the waiting screen.
func (o *Orchestrator) OnMQTTConfigured(settings model.MQTTSettings, sub Subscription, now activity.Millis) error {
	if o.poweredOff {
		if sub != nil {
			_ = sub.Close()
		}
		return ErrPoweredOff
	}
	o.clock.Touch(now)

	o.closeMQTT()
	o.enter(model.ModeMQTT)
	o.mqtt = &mqttSession{settings: settings, sub: sub, connected: true}
	o.doc.Text = fmt.Sprintf("MQTT Connected\n\nBroker: %s\nTopic: %s\n\nWaiting for messages...",
		settings.Broker, settings.Topic)
	o.doc.FontSize = model.DefaultFontSize
	o.rebuild()
	appLog.Info("mqtt mode entered", "broker", settings.Broker, "port", settings.Port, "topic", settings.Topic)
	o.redraw(now, model.RefreshQuality)
	return nil
}

// OnMQTTMessage shows a payload while in MQTT mode. Every message counts
// as activity; identical payloads are not redrawn.
func (o *Orchestrator) OnMQTTMessage(topic string, body []byte, now activity.Millis) {
	if o.poweredOff || o.mode != model.ModeMQTT || o.mqtt == nil {
		return
	}
	o.clock.Touch(now)
	text := payload.Normalize(string(body))
	if text == "" || text == o.mqtt.lastMessage {
		return
	}
	o.mqtt.lastMessage = text
	o.doc.Text = text
	o.doc.FontSize = model.DefaultFontSize
	o.rebuild()
	appLog.Info("mqtt message displayed", "topic", topic, "bytes", len(text))
	o.redraw(now, model.RefreshQuality)
}

// OnMQTTConnectivity records link state for Status.
func (o *Orchestrator) OnMQTTConnectivity(connected bool) {
	if o.mqtt == nil {
		return
	}
	o.mqtt.connected = connected
}

// OnNativeTouch maps a sample from native panel coordinates into the
// current viewport and interprets it.
func (o *Orchestrator) OnNativeTouch(s gesture.Sample, now activity.Millis) {
	rot := o.stabilizer.Rotation()
	s.X, s.Y = orient.ToViewport(s.X, s.Y, rot, o.nativeW, o.nativeH)
	s.DX, s.DY = orient.DeltaToViewport(s.DX, s.DY, rot)
	o.OnGesture(s, now)
}

// OnGesture applies a touch sample given in viewport coordinates.
func (o *Orchestrator) OnGesture(s gesture.Sample, now activity.Millis) {
	if o.poweredOff {
		return
	}
	cmd, ok := gesture.Interpret(s, o.mode, o.Viewport())
	if !ok {
		return
	}
	o.clock.Touch(now)
	appLog.Debug("gesture", "command", cmd.String(), "mode", o.mode.String())

	switch cmd {
	case gesture.NextPage:
		o.page(o.doc.Next(), now)
	case gesture.PrevPage:
		o.page(o.doc.Prev(), now)
	case gesture.FirstPage:
		o.page(o.doc.First(), now)
	case gesture.LastPage:
		o.page(o.doc.Last(), now)
	case gesture.FontUp:
		if o.doc.StepFont(+1) {
			o.layoutChanged(now)
		}
	case gesture.FontDown:
		if o.doc.StepFont(-1) {
			o.layoutChanged(now)
		}
	case gesture.ToggleChrome:
		o.chrome = !o.chrome
		o.layoutChanged(now)
	case gesture.None:
	}
}

func (o *Orchestrator) page(changed bool, now activity.Millis) {
	if changed {
		o.redraw(now, model.RefreshQuality)
	}
}

// layoutChanged handles font and chrome changes: paginated modes reflow,
// the stream view is only redrawn.
func (o *Orchestrator) layoutChanged(now activity.Millis) {
	switch o.mode {
	case model.ModeText, model.ModeMQTT:
		o.rebuild()
		o.redraw(now, model.RefreshQuality)
	case model.ModeStream:
		o.stream.ForceClear()
		o.redraw(now, model.RefreshFast)
	case model.ModeImage:
		o.redraw(now, model.RefreshQuality)
	case model.ModeNone:
	}
}

// OnAccelSample feeds the orientation stabilizer.
func (o *Orchestrator) OnAccelSample(s orient.Sample, now activity.Millis) {
	if o.poweredOff {
		return
	}
	if rot, changed := o.stabilizer.Observe(s, now); changed {
		o.OnOrientationConfirmed(rot, now)
	}
}

// OnOrientationConfirmed applies a confirmed rotation: reflow paginated
// content and redraw whatever is shown.
func (o *Orchestrator) OnOrientationConfirmed(rotation int, now activity.Millis) {
	if o.poweredOff {
		return
	}
	appLog.Info("rotation changed", "rotation", rotation)
	if o.mode.Paginated() {
		o.rebuild()
	}
	if o.mode == model.ModeStream {
		o.stream.ForceClear()
	}
	o.redraw(now, model.RefreshQuality)
}

// OnTick runs the periodic checks: idle timeout first, then the debounced
// stream redraw. It returns ErrPoweredOff once the device has shut down.
func (o *Orchestrator) OnTick(now activity.Millis) error {
	if o.poweredOff {
		return ErrPoweredOff
	}
	if o.clock.Expired(now) {
		o.sleep(now)
		return ErrPoweredOff
	}
	if o.mode == model.ModeStream && o.stream.Due(now) {
		o.redraw(now, model.RefreshFast)
	}
	return nil
}

// sleep draws the chrome-less sleeping screen, then powers down. Power-off
// runs after Render has returned, whatever its result.
func (o *Orchestrator) sleep(now activity.Millis) {
	appLog.Info("idle timeout, going to sleep",
		"mode", o.mode.String(),
		"idle_ms", uint32(activity.Since(now, o.clock.Last())),
	)
	sc := o.scene(model.RefreshQuality)
	sc.Chrome = false
	sc.Header = ""
	sc.Sleeping = true
	if err := o.renderer.Render(sc); err != nil {
		appLog.Error("sleep render failed", err)
	}

	o.closeMQTT()
	o.poweredOff = true
	if o.power != nil {
		if err := o.power.PowerOff(); err != nil {
			appLog.Error("power off failed", err)
		}
	}
}

// Shutdown releases resources without powering off.
func (o *Orchestrator) Shutdown() {
	o.closeMQTT()
}

// Status reports the externally visible state.
func (o *Orchestrator) Status() model.Status {
	v := o.Viewport()
	st := model.Status{
		Mode:          o.mode.String(),
		PageIndex:     o.doc.Index,
		PageCount:     o.doc.Count(),
		FontSize:      o.doc.FontSize,
		Rotation:      o.stabilizer.Rotation(),
		ChromeVisible: o.chrome,
		ScreenWidth:   v.Width,
		ScreenHeight:  v.Height,
	}
	if o.mode == model.ModeMQTT && o.mqtt != nil {
		connected := o.mqtt.connected
		st.MQTTConnected = &connected
		st.MQTTBroker = o.mqtt.settings.Broker
		st.MQTTTopic = o.mqtt.settings.Topic
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	st.HeapAlloc = ms.HeapAlloc
	return st
}

// Screenshot returns the last rendered frame, if the renderer keeps one.
func (o *Orchestrator) Screenshot() (image.Image, bool) {
	s, ok := o.renderer.(Snapshotter)
	if !ok {
		return nil, false
	}
	img := s.Snapshot()
	return img, img != nil
}

// enter switches mode, closing the MQTT link when leaving MQTT.
func (o *Orchestrator) enter(next model.Mode) {
	if o.mode == model.ModeMQTT && next != model.ModeMQTT {
		o.closeMQTT()
	}
	if o.mode != next {
		appLog.Debug("mode change", "from", o.mode.String(), "to", next.String())
	}
	o.mode = next
}

func (o *Orchestrator) closeMQTT() {
	if o.mqtt == nil {
		return
	}
	if o.mqtt.sub != nil {
		if err := o.mqtt.sub.Close(); err != nil {
			appLog.Warn("mqtt close failed", "err", err.Error())
		}
	}
	o.mqtt = nil
}

func (o *Orchestrator) rebuild() {
	o.doc.Rebuild(o.metrics, o.Viewport())
}

func (o *Orchestrator) redraw(now activity.Millis, refresh model.Refresh) {
	sc := o.scene(refresh)
	if err := o.renderer.Render(sc); err != nil {
		appLog.Error("render failed", err, "mode", o.mode.String())
	}
	if o.mode == model.ModeStream {
		o.stream.Rendered(now)
	}
}

// scene describes the current state for the renderer.
func (o *Orchestrator) scene(refresh model.Refresh) model.Scene {
	v := o.Viewport()
	sc := model.Scene{
		Refresh:  refresh,
		Viewport: v,
		Rotation: o.stabilizer.Rotation(),
		Chrome:   o.chrome,
		FontSize: o.doc.FontSize,
	}

	switch o.mode {
	case model.ModeNone:
		sc.Kind = model.SceneWelcome
		sc.Chrome = false
	case model.ModeText, model.ModeMQTT:
		sc.Kind = model.SceneText
		sc.Header = o.mode.String()
		sc.Page = o.doc.Page()
		sc.PageIndex = o.doc.Index
		sc.PageCount = o.doc.Count()
	case model.ModeImage:
		sc.Kind = model.SceneImage
		sc.Header = "IMAGE"
		if o.image != nil {
			if o.image.Kind == model.ContentMap {
				sc.Header = "MAP"
			}
			sc.Image = o.image
			if o.image.Known {
				sc.Scale = imagegeom.CoverScale(v.Width, v.Height, o.image.Width, o.image.Height)
			}
		}
	case model.ModeStream:
		sc.Kind = model.SceneStream
		sc.Header = "STREAM"
		sc.Lines = o.stream.Log.Lines()
		sc.ClearAll = o.stream.ClearAll()
	}

	if !sc.Chrome {
		sc.Header = ""
	}
	return sc
}
