// Package web serves the HTTP API of the display.
package web

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/draw"
	"image/png"
	"io"
	"mime/multipart"
	"net"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"golang.org/x/image/bmp"

	"paperpiper/internal/battery"
	"paperpiper/internal/config"
	"paperpiper/internal/imagegeom"
	appLog "paperpiper/internal/log"
	"paperpiper/internal/model"
	"paperpiper/internal/orchestrator"
	"paperpiper/internal/payload"
)

// uploadChunk is the size of each write into the image upload.
const uploadChunk = 32 << 10

// Device is the event inbox the handlers post to. *orchestrator.Queue
// implements it.
type Device interface {
	SubmitText(ctx context.Context, text string, size int, hasSize bool) error
	UploadImage(ctx context.Context, asset model.ImageAsset) error
	ConfigureMQTT(ctx context.Context, settings model.MQTTSettings, sub orchestrator.Subscription) error
	Status(ctx context.Context) (model.Status, error)
	Screenshot(ctx context.Context) (image.Image, error)
}

// MQTTDialer connects to a broker and subscribes. The returned
// subscription is handed to the device.
type MQTTDialer func(ctx context.Context, s model.MQTTSettings) (orchestrator.Subscription, error)

// BatteryStatus reports the last cached gauge reading.
type BatteryStatus interface {
	Status() (battery.Status, bool)
}

// Server provides the HTTP API.
type Server struct {
	cfg     *config.Config
	dev     Device
	dial    MQTTDialer
	battery BatteryStatus
	app     *fiber.App
}

// NewServer constructs a Server. bat may be nil.
func NewServer(cfg *config.Config, dev Device, dial MQTTDialer, bat BatteryStatus) *Server {
	s := &Server{cfg: cfg, dev: dev, dial: dial, battery: bat}

	// Oversize uploads are truncated by Upload, not refused by fiber.
	s.app = fiber.New(fiber.Config{
		AppName:               "paperpiper",
		DisableStartupMessage: true,
		BodyLimit:             4 * cfg.Image.MaxBytes,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return writeError(c, code, err.Error())
		},
	})

	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+cfg.Listen)
		s.app.Use(basicauth.New(basicauth.Config{
			// /health is always reachable without credentials.
			Next:  func(c *fiber.Ctx) bool { return c.Path() == "/health" },
			Users: map[string]string{cfg.BasicAuth.Username: cfg.BasicAuth.Password},
			Realm: "PaperPiper",
		}))
	}
	s.registerRoutes()
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password means disabled.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// Start listens on cfg.Listen until ctx is cancelled, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve runs the app on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	appLog.Info("starting HTTP server", "listen", "http://"+ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- s.app.Listener(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if err := s.app.Shutdown(); err != nil {
			appLog.Warn("HTTP shutdown", "err", err.Error())
		}
		<-errCh
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.app.Get("/", s.handleIndex)
	s.app.Get("/health", s.handleHealth)
	s.app.Get("/api/status", s.handleStatus)
	s.app.Get("/api/screenshot", s.handleScreenshot)
	s.app.Get("/api/battery", s.handleBattery)
	s.app.Get("/preview.png", s.handlePreview)
	s.app.Post("/api/text", s.handleText)
	s.app.Post("/api/image", s.handleImage)
	s.app.Post("/api/mqtt", s.handleMQTT)
}

func (s *Server) handleIndex(c *fiber.Ctx) error {
	return c.SendString("Paper Piper: POST /api/text, /api/image, /api/mqtt; GET /api/status, /api/screenshot\n")
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.SendString("OK")
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	st, err := s.dev.Status(c.UserContext())
	if err != nil {
		return deviceError(c, err)
	}
	return writeJSON(c, fiber.StatusOK, st)
}

// handleScreenshot returns the frame as a 24-bit BMP.
func (s *Server) handleScreenshot(c *fiber.Ctx) error {
	img, err := s.screenshot(c)
	if err != nil || img == nil {
		return err
	}
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, opaque(img)); err != nil {
		appLog.Error("screenshot encode failed", err)
		return writeError(c, fiber.StatusInternalServerError, "failed to encode screenshot")
	}
	c.Set(fiber.HeaderContentType, "image/bmp")
	c.Set(fiber.HeaderContentDisposition, `inline; filename="screenshot.bmp"`)
	return c.Send(buf.Bytes())
}

// handlePreview returns the frame as PNG for browsers.
func (s *Server) handlePreview(c *fiber.Ctx) error {
	img, err := s.screenshot(c)
	if err != nil || img == nil {
		return err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		appLog.Error("preview encode failed", err)
		return writeError(c, fiber.StatusInternalServerError, "failed to encode preview")
	}
	c.Set(fiber.HeaderContentType, "image/png")
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Send(buf.Bytes())
}

// screenshot fetches the frame. When it returns a nil image the response
// has already been written.
func (s *Server) screenshot(c *fiber.Ctx) (image.Image, error) {
	img, err := s.dev.Screenshot(c.UserContext())
	if err != nil {
		return nil, deviceError(c, err)
	}
	if img == nil {
		return nil, writeError(c, fiber.StatusServiceUnavailable, "no frame available")
	}
	return img, nil
}

// opaque converts img to RGBA so the BMP encoder writes 24-bit pixels.
func opaque(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

func (s *Server) handleBattery(c *fiber.Ctx) error {
	if s.battery == nil {
		return writeError(c, fiber.StatusServiceUnavailable, "battery reader unavailable")
	}
	st, ok := s.battery.Status()
	if !ok {
		return writeError(c, fiber.StatusServiceUnavailable, "battery not read yet")
	}
	return writeJSON(c, fiber.StatusOK, st)
}

// handleText accepts, in order: a "text" form or query field, a JSON
// object, a urlencoded body whose first key is the text (curl -d 'hello'),
// or the raw body.
func (s *Server) handleText(c *fiber.Ctx) error {
	var (
		text    string
		size    int
		hasSize bool
	)

	body := c.Body()
	if v, ok := formField(c, "text"); ok {
		text = v
		if sz, ok := formField(c, "size"); ok {
			size, hasSize = payload.ParseSize(sz)
		}
	} else if len(bytes.TrimSpace(body)) == 0 {
		return writeError(c, fiber.StatusBadRequest, "no body, 'text' field, or args")
	} else if bytes.HasPrefix(bytes.TrimLeft(body, " \t\r\n"), []byte("{")) {
		t, err := payload.DecodeText(bytes.NewReader(body))
		if err != nil {
			return deviceError(c, err)
		}
		text, size, hasSize = t.Body, t.Size, t.HasSize
	} else if isForm(c) {
		text = firstFormKey(c)
	} else {
		text = string(body)
	}

	if err := s.dev.SubmitText(c.UserContext(), text, size, hasSize); err != nil {
		return deviceError(c, err)
	}
	return writeJSON(c, fiber.StatusOK, fiber.Map{"status": "ok"})
}

// handleImage streams the body (or the first multipart file) into an
// Upload. The reply is always ok; bytes past the ceiling are dropped.
func (s *Server) handleImage(c *fiber.Ctx) error {
	up := imagegeom.NewUpload(s.cfg.Image.MaxBytes)
	up.Begin(model.ParseContentKind(c.Get("X-Content-Type")))

	src, closeSrc := s.imageSource(c)
	buf := make([]byte, uploadChunk)
	if _, err := io.CopyBuffer(up, struct{ io.Reader }{src}, buf); err != nil {
		appLog.Warn("image upload read failed", "err", err.Error())
	}
	closeSrc()

	if n := up.Dropped(); n > 0 {
		appLog.Warn("image upload truncated", "max_bytes", s.cfg.Image.MaxBytes, "dropped", n)
	}
	if err := s.dev.UploadImage(c.UserContext(), up.End()); err != nil {
		appLog.Warn("image upload not shown", "err", err.Error())
	}
	return writeJSON(c, fiber.StatusOK, fiber.Map{"status": "ok"})
}

// imageSource picks the first multipart file by field name, or the raw
// body.
func (s *Server) imageSource(c *fiber.Ctx) (io.Reader, func()) {
	noop := func() {}
	if !isMultipart(c) {
		return bytes.NewReader(c.Body()), noop
	}
	form, err := c.MultipartForm()
	if err != nil {
		appLog.Warn("multipart parse failed", "err", err.Error())
		return bytes.NewReader(nil), noop
	}
	fh := firstFile(form)
	if fh == nil {
		return bytes.NewReader(nil), noop
	}
	f, err := fh.Open()
	if err != nil {
		appLog.Warn("multipart file open failed", "field", fh.Filename, "err", err.Error())
		return bytes.NewReader(nil), noop
	}
	return f, func() { _ = f.Close() }
}

func firstFile(form *multipart.Form) *multipart.FileHeader {
	names := make([]string, 0, len(form.File))
	for name := range form.File {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if fhs := form.File[name]; len(fhs) > 0 {
			return fhs[0]
		}
	}
	return nil
}

func (s *Server) handleMQTT(c *fiber.Ctx) error {
	settings, err := payload.DecodeMQTT(bytes.NewReader(c.Body()))
	if err != nil {
		return deviceError(c, err)
	}

	sub, err := s.dial(c.UserContext(), settings)
	if err != nil {
		appLog.Error("mqtt connect failed", err, "broker", settings.Broker, "port", settings.Port)
		return writeError(c, fiber.StatusInternalServerError, "failed to connect to MQTT broker")
	}
	if err := s.dev.ConfigureMQTT(c.UserContext(), settings, sub); err != nil {
		return deviceError(c, err)
	}
	return writeJSON(c, fiber.StatusOK, fiber.Map{
		"status":    "ok",
		"connected": true,
		"broker":    settings.Broker,
		"topic":     settings.Topic,
	})
}

func isForm(c *fiber.Ctx) bool {
	return strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationForm)
}

func isMultipart(c *fiber.Ctx) bool {
	return strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm)
}

// formField looks name up in the query, a urlencoded body or a multipart
// form. ok distinguishes an empty value from a missing one.
func formField(c *fiber.Ctx, name string) (string, bool) {
	if q := c.Request().URI().QueryArgs(); q.Has(name) {
		return string(q.Peek(name)), true
	}
	if isForm(c) {
		if a := c.Request().PostArgs(); a.Has(name) {
			return string(a.Peek(name)), true
		}
	}
	if isMultipart(c) {
		if form, err := c.MultipartForm(); err == nil {
			if vs := form.Value[name]; len(vs) > 0 {
				return vs[0], true
			}
		}
	}
	return "", false
}

// firstFormKey returns the first urlencoded key, which is where curl -d
// puts a bare message.
func firstFormKey(c *fiber.Ctx) string {
	var key string
	found := false
	c.Request().PostArgs().VisitAll(func(k, _ []byte) {
		if !found {
			key, found = string(k), true
		}
	})
	return key
}

// deviceError maps core errors onto status codes.
func deviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, model.ErrInputRejected):
		return writeError(c, fiber.StatusBadRequest, strings.TrimPrefix(err.Error(), model.ErrInputRejected.Error()+": "))
	case errors.Is(err, orchestrator.ErrStopped), errors.Is(err, orchestrator.ErrPoweredOff):
		return writeError(c, fiber.StatusServiceUnavailable, "display is powered off")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return writeError(c, fiber.StatusServiceUnavailable, "request cancelled")
	default:
		appLog.Error("request failed", err, "path", c.Path())
		return writeError(c, fiber.StatusInternalServerError, "internal error")
	}
}

// writeJSON is a small helper to write JSON responses.
func writeJSON(c *fiber.Ctx, status int, v any) error {
	return c.Status(status).JSON(v)
}

// writeError writes a JSON error payload: {"error": "..."}.
func writeError(c *fiber.Ctx, status int, msg string) error {
	return writeJSON(c, status, fiber.Map{"error": msg})
}
