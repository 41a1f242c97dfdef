package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mikeyg42/vigilcam/internal/camera"
)

const streamInactiveBody = "stream inactive - waiting for motion"

type connKey struct{}

// withConn is the server's ConnContext hook.
func withConn(ctx context.Context, c net.Conn) context.Context {
	return context.WithValue(ctx, connKey{}, c)
}

func connFrom(ctx context.Context) net.Conn {
	c, _ := ctx.Value(connKey{}).(net.Conn)
	return c
}

// handleStream serves multipart MJPEG for as long as the gate stays open.
// Any acquisition or write failure ends the stream; nothing is retried.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	if !s.deps.Gate.IsActive() {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(streamInactiveBody))
		return
	}

	ctx := r.Context()
	log := s.logger.With(
		zap.String("session_id", uuid.NewString()),
		zap.String("remote", r.RemoteAddr))

	if c := connFrom(ctx); c != nil {
		if err := setNoDelay(c); err != nil {
			log.Debug("Failed to set TCP_NODELAY", zap.Error(err))
		}
	}

	w.Header().Set("Content-Type", camera.StreamContentType)
	noCache(w)
	rc := http.NewResponseController(w)
	// The server read timeout would otherwise end the stream.
	_ = rc.SetReadDeadline(time.Time{})

	var pace <-chan time.Time
	if s.cfg.StreamFrameInterval > 0 {
		t := time.NewTicker(s.cfg.StreamFrameInterval)
		defer t.Stop()
		pace = t.C
	}

	var (
		part   []byte
		frames int
		sent   int64
		start  = time.Now()
		reason string
	)
	log.Info("Stream started")

loop:
	for {
		if !s.deps.Gate.IsActive() {
			reason = "gate closed"
			break
		}

		frame, err := s.deps.Frames.Acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				reason = "client gone"
			} else {
				reason = "camera failure"
				log.Warn("Frame acquisition failed", zap.Error(err))
			}
			break
		}
		part = camera.AppendPart(part[:0], frame.Data)
		s.deps.Frames.Release(frame)

		// Errors mean the writer has no deadline support; keep going.
		_ = rc.SetWriteDeadline(time.Now().Add(s.streamSendTimeout()))
		if _, err := w.Write(part); err != nil {
			reason = "send failed"
			log.Warn("Stream write failed", zap.Int("frames", frames), zap.Error(err))
			break
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			reason = "send failed"
			log.Warn("Stream flush failed", zap.Error(err))
			break
		}
		frames++
		sent += int64(len(part))

		if pace != nil {
			select {
			case <-ctx.Done():
				reason = "client gone"
				break loop
			case <-pace:
			}
		}
	}

	elapsed := time.Since(start)
	fps := 0.0
	if elapsed > 0 {
		fps = float64(frames) / elapsed.Seconds()
	}
	log.Info("Stream ended",
		zap.String("reason", reason),
		zap.Int("frames", frames),
		zap.Int64("bytes", sent),
		zap.Duration("duration", elapsed),
		zap.Float64("fps", fps))
}
