package main

import (
	"flag"
	"fmt"
	"hash/crc32"
	"image"
	"image/png"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-echarts/statsview"

	"github.com/arcreed/gba/cmd/gbaemu/internal/hostui"
	"github.com/arcreed/gba/cmd/gbaemu/internal/wavdump"
	"github.com/arcreed/gba/internal/gba"
)

type cliFlags struct {
	ROMPath  string
	BIOSPath string
	Scale    int
	Trace    bool
	SaveRAM  bool
	BootBIOS bool

	Headless bool
	Frames   int
	PNGOut   string
	Expect   string

	DumpWAV   string
	StatsView bool
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.ROMPath, "rom", "", "path to ROM (.gba)")
	flag.StringVar(&f.BIOSPath, "bios", "", "optional BIOS image")
	flag.IntVar(&f.Scale, "scale", 3, "window scale")
	flag.BoolVar(&f.Trace, "trace", false, "accepted but has no effect in this command")
	flag.BoolVar(&f.SaveRAM, "save", true, "persist battery save data to ROM.sav on exit and load on start")
	flag.BoolVar(&f.BootBIOS, "bootbios", false, "run the BIOS boot sequence instead of skipping to the cartridge entry point")

	flag.BoolVar(&f.Headless, "headless", false, "run without a window")
	flag.IntVar(&f.Frames, "frames", 300, "frames to run in headless mode")
	flag.StringVar(&f.PNGOut, "outpng", "", "write the last framebuffer to PNG at path")
	flag.StringVar(&f.Expect, "expect", "", "assert the framebuffer's CRC32 (hex)")

	flag.StringVar(&f.DumpWAV, "dumpwav", "", "record the APU's output stream to a WAV file at path")
	flag.BoolVar(&f.StatsView, "statsview", false, "serve a live stats dashboard at :18066/debug/statsview")
	flag.Parse()
	return f
}

func mustRead(path string) []byte {
	if path == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read %s: %v", path, err)
	}
	return b
}

func runHeadless(m *gba.Machine, frames int, pngPath, expectCRC string) error {
	if frames <= 0 {
		frames = 1
	}
	start := time.Now()
	for i := 0; i < frames; i++ {
		m.RunFrame()
	}
	dur := time.Since(start)

	fb := m.Screen()
	crcBuf := make([]byte, len(fb)*2)
	for i, px := range fb {
		crcBuf[i*2] = byte(px)
		crcBuf[i*2+1] = byte(px >> 8)
	}
	crc := crc32.ChecksumIEEE(crcBuf)
	fps := float64(frames) / dur.Seconds()
	log.Printf("headless: frames=%d elapsed=%s fps=%.2f fb_crc32=%08x",
		frames, dur.Truncate(time.Millisecond), fps, crc)

	if pngPath != "" {
		if err := saveFramePNG(fb, 240, 160, pngPath); err != nil {
			return fmt.Errorf("write PNG: %w", err)
		}
		log.Printf("wrote %s", pngPath)
	}
	if expectCRC != "" {
		want := strings.TrimPrefix(strings.ToLower(expectCRC), "0x")
		got := fmt.Sprintf("%08x", crc)
		if got != want {
			return fmt.Errorf("checksum mismatch: got %s, want %s", got, want)
		}
	}
	return nil
}

func saveFramePNG(pix []uint16, w, h int, path string) error {
	img := &image.RGBA{Pix: make([]byte, w*h*4), Stride: 4 * w, Rect: image.Rect(0, 0, w, h)}
	for i, v := range pix {
		r5, g5, b5 := v&0x1F, (v>>5)&0x1F, (v>>10)&0x1F
		expand := func(c uint16) byte { return byte((c << 3) | (c >> 2)) }
		img.Pix[i*4] = expand(r5)
		img.Pix[i*4+1] = expand(g5)
		img.Pix[i*4+2] = expand(b5)
		img.Pix[i*4+3] = 0xFF
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func savePath(romPath string) string {
	if romPath == "" {
		return ""
	}
	if i := strings.LastIndex(romPath, "."); i >= 0 {
		return romPath[:i] + ".sav"
	}
	return romPath + ".sav"
}

func main() {
	f := parseFlags()
	if f.ROMPath == "" {
		log.Fatal("-rom is required")
	}
	rom := mustRead(f.ROMPath)
	bios := mustRead(f.BIOSPath)

	if f.StatsView {
		mgr := statsview.New()
		go mgr.Start()
		log.Printf("statsview dashboard at http://localhost:18066/debug/statsview")
	}

	m := gba.New()
	if err := m.Init(rom, bios, f.BootBIOS); err != nil {
		log.Fatalf("init: %v", err)
	}

	sav := savePath(f.ROMPath)
	if f.SaveRAM && sav != "" {
		if data, err := os.ReadFile(sav); err == nil {
			m.LoadSaveFile(data)
			log.Printf("loaded save: %s (%d bytes)", sav, len(data))
		}
	}

	var wavRec *wavdump.Recorder
	if f.DumpWAV != "" {
		var err error
		wavRec, err = wavdump.Create(f.DumpWAV)
		if err != nil {
			log.Fatalf("create wav: %v", err)
		}
		defer wavRec.Close()
	}

	persistSave := func() {
		if f.SaveRAM && sav != "" {
			if data := m.SaveFile(); data != nil {
				if err := os.WriteFile(sav, data, 0644); err == nil {
					log.Printf("wrote %s", sav)
				}
			}
		}
	}

	if f.Headless {
		if err := runHeadless(m, f.Frames, f.PNGOut, f.Expect); err != nil {
			log.Fatal(err)
		}
		persistSave()
		return
	}

	cfg := hostui.LoadConfig()
	cfg.Scale = f.Scale
	app := hostui.NewApp(cfg, m)
	if wavRec != nil {
		app.SetWAVSink(wavRec)
	}
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
	_ = cfg.Save()
	persistSave()
}
