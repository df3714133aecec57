package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-json-experiment/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperpiper/internal/model"
)

// fakeDisplay records what the CLI sends.
type fakeDisplay struct {
	mu        sync.Mutex
	text      textRequest
	image     []byte
	imageKind string
	mqtt      model.MQTTSettings
	mqttFail  bool
}

func (d *fakeDisplay) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/text", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &d.text))
		if strings.TrimSpace(d.text.Text) == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"empty text"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/api/image", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		f, _, err := r.FormFile("file")
		require.NoError(t, err)
		d.image, _ = io.ReadAll(f)
		d.imageKind = r.Header.Get("X-Content-Type")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/api/mqtt", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &d.mqtt))
		if d.mqttFail {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"failed to connect to MQTT broker"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok","connected":true,"broker":"` + d.mqtt.Broker + `","topic":"` + d.mqtt.Topic + `"}`))
	})
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"mode":"STREAM","page_index":0,"page_count":0,"rotation":1,"screen_width":960,"screen_height":540}`))
	})
	mux.HandleFunc("/api/screenshot", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/bmp")
		_, _ = w.Write([]byte("BMfake"))
	})
	return mux
}

func runCLI(t *testing.T, stdin string, interactive bool, args ...string) (string, error) {
	t.Helper()
	opts := &rootOptions{
		stdin:       strings.NewReader(stdin),
		interactive: func() bool { return interactive },
	}
	cmd := newRootCmd(opts)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func startDisplay(t *testing.T) (*fakeDisplay, string) {
	t.Helper()
	d := &fakeDisplay{}
	srv := httptest.NewServer(d.handler(t))
	t.Cleanup(srv.Close)
	return d, strings.TrimPrefix(srv.URL, "http://")
}

func TestAddressRequired(t *testing.T) {
	t.Setenv(envAddr, "")
	_, err := runCLI(t, "", true, "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), envAddr)
}

func TestAddressFromEnv(t *testing.T) {
	_, addr := startDisplay(t)
	t.Setenv(envAddr, addr)

	out, err := runCLI(t, "", true, "status")
	require.NoError(t, err)
	assert.Contains(t, out, `"STREAM"`)
	assert.Contains(t, out, `"screen_width"`)
}

func TestTextArgument(t *testing.T) {
	d, addr := startDisplay(t)

	out, err := runCLI(t, "", true, "--ip", addr, "text", "hello", "--size", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "Success!")
	assert.Equal(t, textRequest{Text: "hello", Size: 5, Clear: true}, d.text)
}

func TestTextFromStdin(t *testing.T) {
	d, addr := startDisplay(t)

	_, err := runCLI(t, "  piped\ntext \n", false, "--ip", addr, "text")
	require.NoError(t, err)
	assert.Equal(t, "piped\ntext", d.text.Text)
	assert.Equal(t, 3, d.text.Size)
}

func TestTextNeedsInput(t *testing.T) {
	_, addr := startDisplay(t)
	_, err := runCLI(t, "", true, "--ip", addr, "text")
	assert.Error(t, err)
}

func TestTextServerError(t *testing.T) {
	_, addr := startDisplay(t)
	_, err := runCLI(t, "   ", false, "--ip", addr, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty text")
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 0x80, 0xff})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestImageResizedAndMarkedAsMap(t *testing.T) {
	d, addr := startDisplay(t)
	path := filepath.Join(t.TempDir(), "big.png")
	require.NoError(t, os.WriteFile(path, pngBytes(t, 1920, 1080), 0o600))

	out, err := runCLI(t, "", true, "--ip", addr, "image", path, "--map")
	require.NoError(t, err)
	assert.Contains(t, out, "Formatted 960x540")
	assert.Equal(t, "map", d.imageKind)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(d.image))
	require.NoError(t, err)
	assert.Equal(t, 960, cfg.Width)
	assert.Equal(t, 540, cfg.Height)
}

func TestImageFromStdin(t *testing.T) {
	d, addr := startDisplay(t)

	_, err := runCLI(t, string(pngBytes(t, 100, 300)), false, "--ip", addr, "image")
	require.NoError(t, err)
	assert.Empty(t, d.imageKind)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(d.image))
	require.NoError(t, err)
	assert.Equal(t, 320, cfg.Width)
	assert.Equal(t, 960, cfg.Height)
}

func TestImageUndecodable(t *testing.T) {
	d, addr := startDisplay(t)

	_, err := runCLI(t, "not an image", false, "--ip", addr, "image")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force-raw")
	assert.Nil(t, d.image)

	_, err = runCLI(t, "not an image", false, "--ip", addr, "image", "--force-raw")
	require.NoError(t, err)
	assert.Equal(t, []byte("not an image"), d.image)
}

func TestMQTT(t *testing.T) {
	d, addr := startDisplay(t)

	out, err := runCLI(t, "", true, "--ip", addr, "mqtt", "--broker", "10.0.0.2", "--topic", "paper/in", "--username", "u")
	require.NoError(t, err)
	assert.Contains(t, out, "Broker: 10.0.0.2")
	assert.Equal(t, model.MQTTSettings{Broker: "10.0.0.2", Port: 1883, Topic: "paper/in", Username: "u"}, d.mqtt)

	d.mqttFail = true
	_, err = runCLI(t, "", true, "--ip", addr, "mqtt", "--broker", "b", "--topic", "t")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to MQTT broker")
}

func TestMQTTRequiresFlags(t *testing.T) {
	_, addr := startDisplay(t)
	_, err := runCLI(t, "", true, "--ip", addr, "mqtt", "--broker", "b")
	assert.Error(t, err)
}

func TestScreenshot(t *testing.T) {
	_, addr := startDisplay(t)
	path := filepath.Join(t.TempDir(), "shot.bmp")

	_, err := runCLI(t, "", true, "--ip", addr, "screenshot", "-o", path)
	require.NoError(t, err)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "BMfake", string(got))
}

func TestStream(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		raw, _ := io.ReadAll(conn)
		received <- string(raw)
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	_, err = runCLI(t, "one\ntwo\nthree", false, "--ip", "127.0.0.1:80", "stream", "--port", strconv.Itoa(port))
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree", <-received)
}

func TestContainSize(t *testing.T) {
	tests := []struct {
		w, h int
		want image.Point
	}{
		{1920, 1080, image.Pt(960, 540)},
		{1080, 1920, image.Pt(540, 960)},
		{100, 100, image.Pt(960, 960)},
		{4000, 2, image.Pt(960, 1)},
		{0, 10, image.Point{}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, containSize(tt.w, tt.h, maxImageSide, maxImageSide), "%dx%d", tt.w, tt.h)
	}
}

func TestNewClientBase(t *testing.T) {
	assert.Equal(t, "http://192.168.1.5", newClient("192.168.1.5").base)
	assert.Equal(t, "http://host:8080", newClient("http://host:8080/").base)
}

func TestMultipartFieldName(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mr, err := r.MultipartReader()
		require.NoError(t, err)
		p, err := mr.NextPart()
		require.NoError(t, err)
		got = p.FormName()
		_, _ = io.Copy(io.Discard, p)
	}))
	defer srv.Close()

	require.NoError(t, newClient(srv.URL).sendImage(context.Background(), []byte{1, 2, 3}, false))
	assert.Equal(t, "file", got)
}
