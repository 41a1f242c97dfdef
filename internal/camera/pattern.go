package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// PatternSensor synthesizes a moving test pattern with a timestamp overlay.
// It paces Capture at the configured frame rate like a real sensor.
type PatternSensor struct {
	// Now is the clock used for the overlay and pacing; nil means time.Now.
	Now func() time.Time

	mu       sync.Mutex
	cfg      SensorConfig
	img      *image.RGBA
	interval time.Duration
	next     time.Time
	frame    uint64
	closed   bool
}

func (p *PatternSensor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *PatternSensor) Configure(cfg SensorConfig) error {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Quality < 1 || cfg.Quality > 100 {
		return fmt.Errorf("invalid quality %d", cfg.Quality)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
	p.img = image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	if cfg.FrameRate > 0 {
		p.interval = time.Second / time.Duration(cfg.FrameRate)
	}
	p.closed = false
	return nil
}

func (p *PatternSensor) Capture(ctx context.Context, dst []byte) ([]byte, error) {
	if err := p.pace(ctx); err != nil {
		return dst, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.img == nil {
		return dst, fmt.Errorf("pattern sensor not configured")
	}
	p.frame++
	p.render(p.now())

	buf := bytes.NewBuffer(dst)
	if err := jpeg.Encode(buf, p.img, &jpeg.Options{Quality: p.cfg.Quality}); err != nil {
		return dst, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// pace reserves the next frame time and sleeps until it.
func (p *PatternSensor) pace(ctx context.Context) error {
	p.mu.Lock()
	if p.interval == 0 {
		p.mu.Unlock()
		return nil
	}
	now := p.now()
	at := p.next
	if at.Before(now) {
		at = now
	}
	p.next = at.Add(p.interval)
	p.mu.Unlock()

	wait := at.Sub(now)
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PatternSensor) render(ts time.Time) {
	b := p.img.Bounds()
	w, h := b.Dx(), b.Dy()

	// Vertical gradient background
	for y := 0; y < h; y++ {
		c := color.RGBA{R: uint8(40 + y*80/h), G: uint8(60 + y*60/h), B: 90, A: 255}
		draw.Draw(p.img, image.Rect(0, y, w, y+1), image.NewUniform(c), image.Point{}, draw.Src)
	}

	// Bar sweeping left to right, one step per frame
	barW := w / 16
	if barW < 4 {
		barW = 4
	}
	x := int(p.frame*uint64(barW/2)) % w
	draw.Draw(p.img, image.Rect(x, 0, x+barW, h), image.NewUniform(color.RGBA{R: 230, G: 200, B: 40, A: 255}), image.Point{}, draw.Src)

	// Timestamp overlay on a dark strip
	face := basicfont.Face7x13
	draw.Draw(p.img, image.Rect(0, 0, w, 20), image.NewUniform(color.RGBA{A: 255}), image.Point{}, draw.Src)
	d := &font.Drawer{
		Dst:  p.img,
		Src:  image.NewUniform(color.White),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(6), Y: fixed.I(15)},
	}
	d.DrawString(fmt.Sprintf("%s  #%d", ts.Format("2006-01-02 15:04:05.000"), p.frame))
}

func (p *PatternSensor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
