// Command armrunner is a headless test-ROM harness for the ARM7TDMI core,
// adapted from cmd/cpurunner's serial-output polling to the GBA's BIOS-less
// boot: test ROMs signal pass/fail by writing a fixed marker word to a
// known IWRAM address instead of driving a serial port.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/bradleyjkemp/memviz"

	"github.com/arcreed/gba/internal/gba"
)

func main() {
	romPath := flag.String("rom", "", "path to a GBA test ROM")
	biosPath := flag.String("bios", "", "optional BIOS image; empty skips straight to the cartridge entry point")
	steps := flag.Int("steps", 50_000_000, "max CPU steps to run")
	trace := flag.Bool("trace", false, "print PC/cycles for every step")
	timeout := flag.Duration("timeout", 30*time.Second, "wall-clock timeout; 0 disables")
	passAddr := flag.Uint("passaddr", 0x03007FF0, "IWRAM address polled for the pass marker")
	failAddr := flag.Uint("failaddr", 0x03007FF4, "IWRAM address polled for the fail marker")
	passVal := flag.Uint("passval", 0x50415353, "expected 32-bit value at -passaddr on success ('PASS')")
	memvizPath := flag.String("memviz", "", "optional path to dump a Graphviz graph of the live Machine struct graph")
	flag.Parse()

	if *romPath == "" {
		log.Fatal("-rom is required")
	}
	rom, err := os.ReadFile(*romPath)
	if err != nil {
		log.Fatalf("read rom: %v", err)
	}
	var bios []byte
	if *biosPath != "" {
		bios, err = os.ReadFile(*biosPath)
		if err != nil {
			log.Fatalf("read bios: %v", err)
		}
	}

	m := gba.New()
	if err := m.Init(rom, bios, len(bios) > 0); err != nil {
		log.Fatalf("init: %v", err)
	}

	if *memvizPath != "" {
		f, err := os.Create(*memvizPath)
		if err != nil {
			log.Fatalf("create memviz output: %v", err)
		}
		memviz.Map(f, m)
		f.Close()
		fmt.Printf("wrote struct graph to %s\n", *memvizPath)
	}

	start := time.Now()
	var deadline time.Time
	if *timeout > 0 {
		deadline = start.Add(*timeout)
	}

	var cycles int
	for i := 0; i < *steps; i++ {
		pc := m.CPU().Reg(15)
		c := m.Step()
		cycles += c
		if *trace {
			fmt.Printf("PC=%08X cyc=%d R0=%08X R1=%08X SP=%08X CPSR=%08X\n",
				pc, c, m.CPU().Reg(0), m.CPU().Reg(1), m.CPU().Reg(13), uint32(m.CPU().CPSR()))
		}

		if v := m.Bus().Read32(uint32(*passAddr)); v == uint32(*passVal) {
			fmt.Printf("\nPASS at step %d (cycles~=%d, elapsed=%s)\n", i+1, cycles, time.Since(start).Truncate(time.Millisecond))
			os.Exit(0)
		}
		if v := m.Bus().Read32(uint32(*failAddr)); v != 0 {
			fmt.Printf("\nFAIL marker=%#08x at step %d (cycles~=%d, elapsed=%s)\n", v, i+1, cycles, time.Since(start).Truncate(time.Millisecond))
			os.Exit(1)
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			fmt.Printf("\nTimeout after %s.\n", time.Since(start).Truncate(time.Millisecond))
			os.Exit(2)
		}
	}
	fmt.Printf("\nDone: steps=%d cycles~=%d elapsed=%s (no pass/fail marker observed)\n",
		*steps, cycles, time.Since(start).Truncate(time.Millisecond))
}
