package emu

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/nwillard/gbcore/internal/bus"
	"github.com/nwillard/gbcore/internal/cart"
	"github.com/nwillard/gbcore/internal/cpu"
)

// cyclesPerFrame is the T-state count of one DMG frame: 154 scanlines of 456
// dots each, at the 4.194304 MHz system clock.
const cyclesPerFrame = 70224

// Buttons represents the instantaneous state of the eight Game Boy inputs.
type Buttons struct {
	A, B, Start, Select   bool
	Up, Down, Left, Right bool
}

func (b Buttons) mask() byte {
	var m byte
	if b.Right {
		m |= bus.JoypRight
	}
	if b.Left {
		m |= bus.JoypLeft
	}
	if b.Up {
		m |= bus.JoypUp
	}
	if b.Down {
		m |= bus.JoypDown
	}
	if b.A {
		m |= bus.JoypA
	}
	if b.B {
		m |= bus.JoypB
	}
	if b.Select {
		m |= bus.JoypSelectBtn
	}
	if b.Start {
		m |= bus.JoypStart
	}
	return m
}

// Machine wires together the CPU, Bus (and through it the PPU, APU, and
// cartridge) into a single runnable Game Boy.
type Machine struct {
	cfg Config

	bus *bus.Bus
	cpu *cpu.CPU

	romPath string
	bootROM []byte

	useFetcherBG bool // retained for settings round-trip; the PPU only implements the fetcher path

	fatalErr error // set and latched once an IllegalOpcodeError is hit
}

// New constructs a Machine with no cartridge loaded. Call LoadCartridge or
// LoadROMFromFile before stepping frames.
func New(cfg Config) *Machine {
	m := &Machine{cfg: cfg, useFetcherBG: cfg.UseFetcherBG}
	m.attach(bus.New(nil))
	return m
}

// attach wires a fresh Bus and CPU pair into the machine, applying any
// previously configured boot ROM.
func (m *Machine) attach(b *bus.Bus) {
	m.bus = b
	if len(m.bootROM) > 0 {
		m.bus.SetBootROM(m.bootROM)
	}
	m.cpu = cpu.New(m.bus)
	if len(m.bootROM) >= 0x100 {
		m.cpu.SetPC(0x0000)
	}
}

// SetBootROM configures a DMG boot ROM image to be mapped at reset. Pass nil
// to run with the documented post-boot register/IO state instead.
func (m *Machine) SetBootROM(data []byte) {
	if len(data) == 0 {
		m.bootROM = nil
		return
	}
	m.bootROM = append([]byte(nil), data...)
}

// LoadCartridge builds a fresh Bus/CPU around rom and resets to the DMG
// post-boot state (or the start of the boot ROM, if one is configured).
func (m *Machine) LoadCartridge(rom []byte, bootROM []byte) error {
	if len(rom) < 0x150 {
		return errors.New("emu: ROM image too small to contain a header")
	}
	if _, err := cart.ParseHeader(rom); err != nil {
		return fmt.Errorf("emu: parse header: %w", err)
	}
	if len(bootROM) > 0 {
		m.SetBootROM(bootROM)
	}
	c := cart.NewCartridge(rom)
	m.attach(bus.NewWithCartridge(c))
	m.fatalErr = nil
	if m.cfg.Trace {
		log.Printf("emu: cartridge loaded (%d bytes)", len(rom))
	}
	return nil
}

// LoadROMFromFile reads a .gb/.gbc ROM from disk and loads it, recording the
// path so save states and battery RAM can be derived alongside it.
func (m *Machine) LoadROMFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := m.LoadCartridge(data, m.bootROM); err != nil {
		return err
	}
	m.romPath = path
	return nil
}

// ROMPath returns the path passed to LoadROMFromFile, or "" if the current
// cartridge was loaded directly from bytes (or none is loaded).
func (m *Machine) ROMPath() string { return m.romPath }

// ROMTitle returns the cartridge header title for the currently loaded ROM,
// or "" if no cartridge (or an unparseable one) is loaded.
func (m *Machine) ROMTitle() string {
	if m.bus == nil {
		return ""
	}
	rc := m.bus.Cart()
	var title strings.Builder
	for addr := uint16(0x0134); addr <= 0x0143; addr++ {
		b := rc.Read(addr)
		if b == 0 {
			break
		}
		title.WriteByte(b)
	}
	return title.String()
}

// SetUseFetcherBG is a settings passthrough retained for UI compatibility;
// the PPU renders the background through the pixel-FIFO fetcher exclusively,
// so this no longer selects between two code paths. The value is stored on
// the Machine and nothing reads it back.
func (m *Machine) SetUseFetcherBG(v bool) { m.useFetcherBG = v }

// SetButtons applies the given input state for the next StepFrame(s).
func (m *Machine) SetButtons(b Buttons) {
	if m.bus != nil {
		m.bus.SetJoypadState(b.mask())
	}
}

// SetSerialWriter attaches a sink for bytes written to the serial port
// (0xFF01 with an 0x81 write to 0xFF02), used by test ROMs that report
// pass/fail over the link cable.
func (m *Machine) SetSerialWriter(w io.Writer) {
	if m.bus != nil {
		m.bus.SetSerialWriter(w)
	}
}

// IllegalOpcodeError is re-exported so callers can type-assert without
// importing internal/cpu directly.
type IllegalOpcodeError = cpu.IllegalOpcodeError

// StepFrame runs one frame's worth of CPU cycles (70224 T-states) and
// returns the rendered framebuffer via Framebuffer(). A fatal error (an
// illegal opcode) latches: once set, further Step calls are no-ops and the
// same error is returned every time.
func (m *Machine) StepFrame() error { return m.runFrame() }

// StepFrameNoRender behaves like StepFrame but is used by headless/test
// callers that only care about CPU/bus/timer/serial progress, not pixels;
// the PPU still renders internally (rendering cost is negligible), the name
// only documents intent at call sites.
func (m *Machine) StepFrameNoRender() error { return m.runFrame() }

func (m *Machine) runFrame() error {
	if m.fatalErr != nil {
		return m.fatalErr
	}
	cycles := 0
	for cycles < cyclesPerFrame {
		n, err := m.cpu.Step()
		if err != nil {
			m.fatalErr = err
			if m.cfg.Trace {
				log.Printf("emu: fatal: %v", err)
			}
			return err
		}
		cycles += n
	}
	return nil
}

// Framebuffer returns the current RGBA (160x144x4) pixel buffer.
func (m *Machine) Framebuffer() []byte { return m.bus.PPU().Framebuffer() }

// ResetPostBoot reinitializes CPU registers to the documented DMG post-boot
// state without re-parsing the cartridge, equivalent to pressing the power
// switch on a real DMG with no boot ROM wired in.
func (m *Machine) ResetPostBoot() {
	if m.cpu == nil {
		return
	}
	m.cpu.ResetNoBoot()
	m.fatalErr = nil
}

// ResetWithBoot restarts execution from the configured boot ROM at 0x0000.
// If no boot ROM is configured this behaves like ResetPostBoot.
func (m *Machine) ResetWithBoot() {
	if m.cpu == nil {
		return
	}
	if len(m.bootROM) >= 0x100 {
		m.cpu.ResetNoBoot()
		m.cpu.SetPC(0x0000)
	} else {
		m.cpu.ResetNoBoot()
	}
	m.fatalErr = nil
}

// --- Battery-backed cartridge RAM ---

// LoadBattery loads previously saved cartridge RAM (e.g. from a .sav file).
// Returns false if the cartridge has no battery-backed RAM.
func (m *Machine) LoadBattery(data []byte) bool {
	bb, ok := m.bus.Cart().(cart.BatteryBacked)
	if !ok {
		return false
	}
	bb.LoadRAM(data)
	return true
}

// SaveBattery returns a copy of the cartridge's external RAM for persistence.
// ok is false if the cartridge has no battery-backed RAM.
func (m *Machine) SaveBattery() (data []byte, ok bool) {
	bb, isBB := m.bus.Cart().(cart.BatteryBacked)
	if !isBB {
		return nil, false
	}
	d := bb.SaveRAM()
	if d == nil {
		return nil, false
	}
	return d, true
}

// --- APU sample pulling ---

// APUBufferedStereo reports how many stereo sample frames are currently
// queued in the APU's output ring buffer.
func (m *Machine) APUBufferedStereo() int {
	if m.bus == nil || m.bus.APU() == nil {
		return 0
	}
	return m.bus.APU().StereoAvailable()
}

// APUPullStereo removes and returns up to max stereo frames (interleaved
// L,R int16 samples, so len(result) <= 2*max).
func (m *Machine) APUPullStereo(max int) []int16 {
	if m.bus == nil || m.bus.APU() == nil || max <= 0 {
		return nil
	}
	return m.bus.APU().PullStereo(max)
}

// APUClearAudioLatency discards any buffered audio, used when pausing,
// opening a menu, or resyncing after fast-forward.
func (m *Machine) APUClearAudioLatency() {
	if m.bus == nil || m.bus.APU() == nil {
		return
	}
	for m.bus.APU().StereoAvailable() > 0 {
		if len(m.bus.APU().PullStereo(4096)) == 0 {
			break
		}
	}
}

// APUCapBufferedStereo trims the buffered stereo sample count down to max,
// discarding the oldest excess samples.
func (m *Machine) APUCapBufferedStereo(max int) {
	if m.bus == nil || m.bus.APU() == nil {
		return
	}
	a := m.bus.APU()
	for a.StereoAvailable() > max {
		want := a.StereoAvailable() - max
		if len(a.PullStereo(want)) == 0 {
			break
		}
	}
}

// --- Save states ---

type machineState struct {
	BootROM  []byte
	ROMPath  string
	BusState []byte
	CPU      cpuState
}

type cpuState struct {
	A, F, B, C, D, E, H, L byte
	SP, PC                 uint16
	IME                    bool
}

// SaveStateToFile serializes the full machine (bus/PPU/APU/cartridge and CPU
// registers) to path using gob encoding.
func (m *Machine) SaveStateToFile(path string) error {
	data, err := m.saveState()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadStateFromFile restores a machine previously written by
// SaveStateToFile. The currently loaded cartridge's ROM bytes are kept; only
// banking/RAM/RTC/PPU/APU/CPU state is restored.
func (m *Machine) LoadStateFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return m.loadState(data)
}

func (m *Machine) saveState() ([]byte, error) {
	s := machineState{
		BootROM:  m.bootROM,
		ROMPath:  m.romPath,
		BusState: m.bus.SaveState(),
		CPU: cpuState{
			A: m.cpu.A, F: m.cpu.F,
			B: m.cpu.B, C: m.cpu.C,
			D: m.cpu.D, E: m.cpu.E,
			H: m.cpu.H, L: m.cpu.L,
			SP: m.cpu.SP, PC: m.cpu.PC,
			IME: m.cpu.IME,
		},
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m *Machine) loadState(data []byte) error {
	var s machineState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return err
	}
	m.bus.LoadState(s.BusState)
	m.romPath = s.ROMPath
	m.bootROM = s.BootROM
	m.cpu.A, m.cpu.F = s.CPU.A, s.CPU.F
	m.cpu.B, m.cpu.C = s.CPU.B, s.CPU.C
	m.cpu.D, m.cpu.E = s.CPU.D, s.CPU.E
	m.cpu.H, m.cpu.L = s.CPU.H, s.CPU.L
	m.cpu.SP, m.cpu.PC = s.CPU.SP, s.CPU.PC
	m.cpu.IME = s.CPU.IME
	m.fatalErr = nil
	return nil
}
