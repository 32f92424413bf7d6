// Package hostui is the ebiten-driven window and input/audio bridge for
// the emulation core: polls keys into button state, steps the machine,
// blits its framebuffer, and streams its resampled audio to the speakers.
package hostui

import (
	"fmt"
	"image/color"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"github.com/arcreed/gba/internal/gba"
	"github.com/arcreed/gba/internal/keypad"
)

const (
	screenW = 240
	screenH = 160
	sampleHz = 48000
)

// AudioSink is the subset of *apu.APU the audio bridge needs, narrowed to
// an interface so hostui has no import-cycle dependency on internal/apu.
type AudioSink interface {
	DrainSamples(dst []float32) int
}

// App implements ebiten.Game around a *gba.Machine.
type App struct {
	cfg     Config
	m       *gba.Machine
	tex     *ebiten.Image
	paused  bool
	turbo   int

	audioCtx    *audio.Context
	audioPlayer *audio.Player
	audioMuted  bool

	wav interface{ WriteSamples([]float32) }

	keymap map[ebiten.Key]keypad.Buttons
}

// NewApp builds an App around an already-initialized Machine.
func NewApp(cfg Config, m *gba.Machine) *App {
	cfg.defaults()
	ebiten.SetWindowTitle(cfg.Title)
	ebiten.SetWindowSize(screenW*cfg.Scale, screenH*cfg.Scale)
	a := &App{
		cfg:        cfg,
		m:          m,
		tex:        ebiten.NewImage(screenW, screenH),
		turbo:      1,
		audioCtx:   audio.NewContext(sampleHz),
		audioMuted: cfg.AudioMuted,
	}
	a.keymap = defaultKeymap()
	return a
}

// SetWAVSink routes the APU's output stream to an additional recorder
// (wired by -dumpwav), in parallel with live playback.
func (a *App) SetWAVSink(w interface{ WriteSamples([]float32) }) { a.wav = w }

func defaultKeymap() map[ebiten.Key]keypad.Buttons {
	return map[ebiten.Key]keypad.Buttons{
		ebiten.KeyZ:         keypad.A,
		ebiten.KeyX:         keypad.B,
		ebiten.KeyBackspace: keypad.Select,
		ebiten.KeyEnter:     keypad.Start,
		ebiten.KeyRight:     keypad.Right,
		ebiten.KeyLeft:      keypad.Left,
		ebiten.KeyUp:        keypad.Up,
		ebiten.KeyDown:      keypad.Down,
		ebiten.KeyA:         keypad.L,
		ebiten.KeyS:         keypad.R,
	}
}

func (a *App) Run() error { return ebiten.RunGame(a) }

func (a *App) pollButtons() keypad.Buttons {
	var b keypad.Buttons
	for key, btn := range a.keymap {
		if ebiten.IsKeyPressed(key) {
			b |= btn
		}
	}
	return b
}

func (a *App) Update() error {
	if inpututil.IsKeyJustPressed(ebiten.KeyP) {
		a.paused = !a.paused
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyM) {
		a.audioMuted = !a.audioMuted
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyTab) {
		if a.turbo == 1 {
			a.turbo = 4
		} else {
			a.turbo = 1
		}
	}

	if a.audioPlayer == nil {
		src := &apuStream{m: a.m, muted: &a.audioMuted, wav: &a.wav}
		if p, err := a.audioCtx.NewPlayer(src); err == nil {
			a.audioPlayer = p
			a.audioPlayer.Play()
		}
	}

	if !a.paused {
		a.m.SetButtons(a.pollButtons())
		for i := 0; i < a.turbo; i++ {
			a.m.RunFrame()
		}
	}
	return nil
}

func (a *App) Draw(screen *ebiten.Image) {
	pix := a.m.Screen()
	buf := make([]byte, screenW*screenH*4)
	for i, c := range pix {
		r, g, b := bgr555ToRGB(c)
		buf[i*4] = r
		buf[i*4+1] = g
		buf[i*4+2] = b
		buf[i*4+3] = 0xFF
	}
	a.tex.WritePixels(buf)

	op := &ebiten.DrawImageOptions{}
	sw, sh := screen.Bounds().Dx(), screen.Bounds().Dy()
	op.GeoM.Scale(float64(sw)/screenW, float64(sh)/screenH)
	screen.Fill(color.Black)
	screen.DrawImage(a.tex, op)

	if a.paused {
		ebitenutil.DebugPrint(screen, "paused")
	} else {
		ebitenutil.DebugPrint(screen, fmt.Sprintf("turbo=%dx", a.turbo))
	}
}

func (a *App) Layout(outsideWidth, outsideHeight int) (int, int) {
	return outsideWidth, outsideHeight
}

// bgr555ToRGB expands a BGR555 pixel (bit15 unused, 5 bits per channel,
// blue in the high bits) to 8-bit-per-channel RGB.
func bgr555ToRGB(v uint16) (r, g, b byte) {
	r5 := v & 0x1F
	g5 := (v >> 5) & 0x1F
	b5 := (v >> 10) & 0x1F
	expand := func(c uint16) byte { return byte((c << 3) | (c >> 2)) }
	return expand(r5), expand(g5), expand(b5)
}

// apuStream adapts the APU's float32 interleaved-stereo ring buffer to the
// io.Reader ebiten's audio.Player expects (16-bit signed little-endian
// stereo PCM).
type apuStream struct {
	m     *gba.Machine
	muted *bool
	wav   *interface{ WriteSamples([]float32) }
	f32   [4096]float32
}

func (s *apuStream) Read(p []byte) (int, error) {
	n := len(p) / 4 // 2 bytes/sample * 2 channels
	if n > len(s.f32)/2 {
		n = len(s.f32) / 2
	}
	got := s.m.Bus().APU.DrainSamples(s.f32[:n*2])
	if *s.wav != nil && got > 0 {
		(*s.wav).WriteSamples(s.f32[:got*2])
	}
	for i := 0; i < got; i++ {
		l, r := s.f32[i*2], s.f32[i*2+1]
		if *s.muted {
			l, r = 0, 0
		}
		li, ri := floatToInt16(l), floatToInt16(r)
		p[i*4] = byte(li)
		p[i*4+1] = byte(li >> 8)
		p[i*4+2] = byte(ri)
		p[i*4+3] = byte(ri >> 8)
	}
	// Pad silence for any shortfall so the player never blocks waiting
	// for more samples than a frame produced.
	for i := got; i < n; i++ {
		p[i*4], p[i*4+1], p[i*4+2], p[i*4+3] = 0, 0, 0, 0
	}
	return n * 4, nil
}

func floatToInt16(f float32) int16 {
	v := f * 32767
	if v > 32767 {
		v = 32767
	}
	if v < -32768 {
		v = -32768
	}
	return int16(v)
}
