package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-json-experiment/json"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"paperpiper/internal/model"
)

// Image preparation limits. Both orientations of the panel fit in the box.
const (
	maxImageSide = 960
	jpegQuality  = 85
)

// client talks to one display over its HTTP API.
type client struct {
	base string
	http *http.Client
}

func newClient(addr string) *client {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

type textRequest struct {
	Text  string `json:"text"`
	Size  int    `json:"size"`
	Clear bool   `json:"clear"`
}

type mqttReply struct {
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
	Topic     string `json:"topic"`
}

type errorReply struct {
	Error string `json:"error"`
}

func (c *client) sendText(ctx context.Context, text string, size int) error {
	body, err := json.Marshal(textRequest{Text: text, Size: size, Clear: true})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/api/text", "application/json", bytes.NewReader(body), nil, nil)
}

// sendImage uploads data as a multipart file named "file".
func (c *client) sendImage(ctx context.Context, data []byte, isMap bool) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "image.jpg")
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	var hdr http.Header
	if isMap {
		hdr = http.Header{"X-Content-Type": []string{"map"}}
	}
	return c.do(ctx, http.MethodPost, "/api/image", mw.FormDataContentType(), &buf, hdr, nil)
}

func (c *client) configureMQTT(ctx context.Context, s model.MQTTSettings) (mqttReply, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return mqttReply{}, err
	}
	var out bytes.Buffer
	if err := c.do(ctx, http.MethodPost, "/api/mqtt", "application/json", bytes.NewReader(body), nil, &out); err != nil {
		return mqttReply{}, err
	}
	var r mqttReply
	if err := json.Unmarshal(out.Bytes(), &r); err != nil {
		return mqttReply{}, fmt.Errorf("decode mqtt reply: %w", err)
	}
	return r, nil
}

func (c *client) status(ctx context.Context) (model.Status, error) {
	var out bytes.Buffer
	if err := c.do(ctx, http.MethodGet, "/api/status", "", nil, nil, &out); err != nil {
		return model.Status{}, err
	}
	var st model.Status
	if err := json.Unmarshal(out.Bytes(), &st); err != nil {
		return model.Status{}, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}

func (c *client) screenshot(ctx context.Context, w io.Writer) error {
	return c.do(ctx, http.MethodGet, "/api/screenshot", "", nil, nil, w)
}

// do performs one request. A non-2xx reply becomes an error carrying the
// server's {"error": ...} message when there is one.
func (c *client) do(ctx context.Context, method, path, contentType string, body io.Reader, hdr http.Header, out io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var er errorReply
		if json.Unmarshal(raw, &er) == nil && er.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, er.Error)
		}
		return fmt.Errorf("%s", resp.Status)
	}
	if out == nil {
		_, err = io.Copy(io.Discard, resp.Body)
		return err
	}
	_, err = io.Copy(out, resp.Body)
	return err
}

// prepareImage decodes data, fits it inside maxImageSide x maxImageSide
// keeping the aspect ratio and re-encodes it as JPEG.
func prepareImage(data []byte) ([]byte, image.Point, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, image.Point{}, err
	}
	b := src.Bounds()
	size := containSize(b.Dx(), b.Dy(), maxImageSide, maxImageSide)

	dst := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	// JPEG has no alpha; transparent areas become white.
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, image.Point{}, err
	}
	return buf.Bytes(), size, nil
}

// containSize scales w x h to the largest size fitting in maxW x maxH.
func containSize(w, h, maxW, maxH int) image.Point {
	if w <= 0 || h <= 0 {
		return image.Point{}
	}
	if w*maxH > h*maxW {
		nh := h * maxW / w
		if nh < 1 {
			nh = 1
		}
		return image.Pt(maxW, nh)
	}
	nw := w * maxH / h
	if nw < 1 {
		nw = 1
	}
	return image.Pt(nw, maxH)
}
