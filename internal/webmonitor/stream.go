package webmonitor

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/logger"
	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/video"
)

var (
	placeholderOnce sync.Once
	placeholderJPEG []byte
	placeholderErr  error
)

// placeholderFrame is the colour-bar image shown before the first cycle.
func placeholderFrame() ([]byte, error) {
	placeholderOnce.Do(func() {
		placeholderJPEG, placeholderErr = encodeJPEG(video.ColorBars(640, 480), 75)
	})
	return placeholderJPEG, placeholderErr
}

// streamMJPEGFromChannel streams MJPEG from a channel (fanout pattern).
// The placeholder is repeated whenever no frame arrives for idle.
func streamMJPEGFromChannel(w http.ResponseWriter, r *http.Request, frameCh <-chan []byte, idle time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	blank, err := placeholderFrame()
	if err != nil {
		http.Error(w, "Failed to render frame", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	jpegData := blank
	for {
		if err := writeMJPEGPart(w, jpegData); err != nil {
			logger.Debug("MJPEG", "Client disconnected during write: %v", err)
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case data, ok := <-frameCh:
			if !ok {
				// Channel closed, client should disconnect
				return
			}
			jpegData = data
		case <-time.After(idle):
			// No new frame: resend the last one to keep the connection alive
		}
	}
}

func writeMJPEGPart(w http.ResponseWriter, jpegData []byte) error {
	if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
		return err
	}
	if _, err := w.Write(jpegData); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

// streamStatusEventsFromChannel streams pre-serialized status events to an
// SSE client, with a keepalive comment after each quiet period.
func streamStatusEventsFromChannel(w http.ResponseWriter, r *http.Request, eventCh <-chan *SerializedEvent, useProtobuf bool, keepalive time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Add custom header to indicate format
	if useProtobuf {
		w.Header().Set("X-Content-Format", "application/protobuf")
	} else {
		w.Header().Set("X-Content-Format", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return

		case event, ok := <-eventCh:
			if !ok {
				return
			}

			data := event.JSONData
			if useProtobuf {
				data = event.ProtobufData
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				logger.Debug("SSE", "Client disconnected during status event write: %v", err)
				return
			}
			flusher.Flush()

		case <-time.After(keepalive):
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				logger.Debug("SSE", "Client disconnected during keepalive: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}
