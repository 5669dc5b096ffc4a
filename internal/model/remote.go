package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/logger"
	"github.com/dj-oyu/animal-health-monitor/monitor-server/pkg/types"
)

var log = logger.For("Model")

// RemoteLoader connects to an HTTP inference service exposing
// GET /health and POST /predict.
type RemoteLoader struct {
	Endpoint    string
	Timeout     time.Duration
	JPEGQuality int
	HTTPClient  *http.Client
}

// Load checks that the service is healthy.
func (l RemoteLoader) Load(ctx context.Context) (Model, error) {
	endpoint := strings.TrimRight(l.Endpoint, "/")
	if endpoint == "" {
		return nil, fmt.Errorf("%w: remote endpoint is empty", ErrModelLoad)
	}

	client := l.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: l.Timeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: health check: %v", ErrModelLoad, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: health check returned status %d", ErrModelLoad, resp.StatusCode)
	}

	quality := l.JPEGQuality
	if quality <= 0 || quality > 100 {
		quality = 85
	}

	log.Info("Remote model ready at %s", endpoint)
	return &remoteModel{endpoint: endpoint, client: client, quality: quality}, nil
}

type remoteModel struct {
	endpoint string
	client   *http.Client
	quality  int
	closed   atomic.Bool
}

func (m *remoteModel) Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if frame.Image == nil {
		return nil, errors.New("frame has no image")
	}

	body, contentType, err := m.encodeFrame(frame)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint+"/predict", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("predict returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var detections []types.Detection
	if err := json.NewDecoder(resp.Body).Decode(&detections); err != nil {
		return nil, fmt.Errorf("decode predictions: %w", err)
	}
	return detections, nil
}

func (m *remoteModel) encodeFrame(frame types.Frame) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	header.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if err := jpeg.Encode(part, frame.Image, &jpeg.Options{Quality: m.quality}); err != nil {
		return nil, "", fmt.Errorf("encode frame: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func (m *remoteModel) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	m.client.CloseIdleConnections()
	return nil
}
