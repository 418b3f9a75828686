package emu

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/nwillard/gbcore/internal/bus"
)

// minimalROM builds a ROM-only cartridge image big enough to hold a valid
// header, with a Nintendo logo that doesn't matter (parsing tolerates a
// mismatch) and cart type 0x00.
func minimalROM(size int) []byte {
	rom := make([]byte, size)
	rom[0x0147] = 0x00 // ROM ONLY
	rom[0x0148] = 0x00 // 32KB
	rom[0x0149] = 0x00 // no RAM
	return rom
}

func TestMachine_StepFrame_ProducesFullFramebuffer(t *testing.T) {
	rom := minimalROM(0x8000) // all zero past the header -> all NOP
	m := New(Config{})
	if err := m.LoadCartridge(rom, nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	if err := m.StepFrame(); err != nil {
		t.Fatalf("StepFrame: %v", err)
	}
	fb := m.Framebuffer()
	if len(fb) != 160*144*4 {
		t.Fatalf("framebuffer size got %d want %d", len(fb), 160*144*4)
	}
}

func TestMachine_IllegalOpcode_Latches(t *testing.T) {
	rom := minimalROM(0x8000)
	rom[0x0100] = 0xD3 // unused opcode, always illegal
	m := New(Config{})
	if err := m.LoadCartridge(rom, nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}

	err := m.StepFrame()
	if err == nil {
		t.Fatalf("expected IllegalOpcodeError, got nil")
	}
	if _, ok := err.(*IllegalOpcodeError); !ok {
		t.Fatalf("expected *IllegalOpcodeError, got %T (%v)", err, err)
	}

	// The error must latch: subsequent calls return the same fatal error
	// without attempting to execute anything further.
	err2 := m.StepFrame()
	if err2 != err {
		t.Fatalf("expected latched error to be identical, got %v vs %v", err, err2)
	}
}

func TestMachine_LoadCartridge_ResetsLatchedError(t *testing.T) {
	rom := minimalROM(0x8000)
	rom[0x0100] = 0xD3
	m := New(Config{})
	if err := m.LoadCartridge(rom, nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	if err := m.StepFrame(); err == nil {
		t.Fatalf("expected a fatal error on first load")
	}

	good := minimalROM(0x8000) // all NOPs
	if err := m.LoadCartridge(good, nil); err != nil {
		t.Fatalf("LoadCartridge (second): %v", err)
	}
	if err := m.StepFrame(); err != nil {
		t.Fatalf("StepFrame after reload should succeed, got %v", err)
	}
}

func TestMachine_SaveAndLoadState_RoundTrip(t *testing.T) {
	rom := minimalROM(0x8000)
	m := New(Config{})
	if err := m.LoadCartridge(rom, nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	if err := m.StepFrame(); err != nil {
		t.Fatalf("StepFrame: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "state.sav")
	if err := m.SaveStateToFile(path); err != nil {
		t.Fatalf("SaveStateToFile: %v", err)
	}

	wantPC := m.cpu.PC
	wantSP := m.cpu.SP

	m2 := New(Config{})
	if err := m2.LoadCartridge(rom, nil); err != nil {
		t.Fatalf("LoadCartridge (restore target): %v", err)
	}
	if err := m2.LoadStateFromFile(path); err != nil {
		t.Fatalf("LoadStateFromFile: %v", err)
	}
	if m2.cpu.PC != wantPC || m2.cpu.SP != wantSP {
		t.Fatalf("restored registers got PC=%04X SP=%04X want PC=%04X SP=%04X",
			m2.cpu.PC, m2.cpu.SP, wantPC, wantSP)
	}
}

func TestMachine_LoadROMFromFile_SetsROMPath(t *testing.T) {
	rom := minimalROM(0x8000)
	dir := t.TempDir()
	path := filepath.Join(dir, "game.gb")
	if err := os.WriteFile(path, rom, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	m := New(Config{})
	if err := m.LoadROMFromFile(path); err != nil {
		t.Fatalf("LoadROMFromFile: %v", err)
	}
	if m.ROMPath() != path {
		t.Fatalf("ROMPath got %q want %q", m.ROMPath(), path)
	}
}

func TestMachine_LoadCartridge_RejectsUndersizedROM(t *testing.T) {
	m := New(Config{})
	if err := m.LoadCartridge(make([]byte, 0x10), nil); err == nil {
		t.Fatalf("expected an error loading an undersized ROM")
	}
}

func TestButtons_Mask(t *testing.T) {
	b := Buttons{A: true, Up: true}
	got := b.mask()
	want := byte(bus.JoypA | bus.JoypUp)
	if got != want {
		t.Fatalf("mask got %08b want %08b", got, want)
	}
}

func TestMachine_SetButtons_ReachesBus(t *testing.T) {
	rom := minimalROM(0x8000)
	m := New(Config{})
	if err := m.LoadCartridge(rom, nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	m.SetButtons(Buttons{Start: true, B: true})

	// Select the button group (P15=0) and confirm Start/B read back as pressed.
	m.bus.Write(0xFF00, 0x10)
	got := m.bus.Read(0xFF00)
	if got&0x08 != 0 { // Start bit cleared when pressed
		t.Fatalf("Start not reflected in JOYP: got %08b", got)
	}
	if got&0x02 != 0 { // B bit cleared when pressed
		t.Fatalf("B not reflected in JOYP: got %08b", got)
	}
}

func TestMachine_SaveBattery_NoBatteryCartridge(t *testing.T) {
	rom := minimalROM(0x8000) // ROM ONLY has no battery-backed RAM
	m := New(Config{})
	if err := m.LoadCartridge(rom, nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	if _, ok := m.SaveBattery(); ok {
		t.Fatalf("expected ok=false for a ROM-only cartridge")
	}
	if m.LoadBattery([]byte{1, 2, 3}) {
		t.Fatalf("expected LoadBattery to report false for a ROM-only cartridge")
	}
}

func TestMachine_SaveBattery_MBC1RoundTrip(t *testing.T) {
	rom := minimalROM(0x8000)
	rom[0x0147] = 0x03 // MBC1+RAM+BATTERY
	rom[0x0149] = 0x02 // 8KB RAM
	m := New(Config{})
	if err := m.LoadCartridge(rom, nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}

	// Enable RAM and write a byte through the bus, matching the address
	// windows an MBC1 cartridge exposes.
	m.bus.Write(0x0000, 0x0A) // RAM enable
	m.bus.Write(0xA000, 0x77)

	data, ok := m.SaveBattery()
	if !ok {
		t.Fatalf("expected ok=true for an MBC1+BATTERY cartridge")
	}
	if !bytes.Contains(data, []byte{0x77}) {
		t.Fatalf("saved battery data does not contain the written byte")
	}

	m2 := New(Config{})
	if err := m2.LoadCartridge(rom, nil); err != nil {
		t.Fatalf("LoadCartridge (restore target): %v", err)
	}
	if !m2.LoadBattery(data) {
		t.Fatalf("expected LoadBattery to report true for an MBC1+BATTERY cartridge")
	}
	m2.bus.Write(0x0000, 0x0A)
	if got := m2.bus.Read(0xA000); got != 0x77 {
		t.Fatalf("restored RAM byte got %02X want 77", got)
	}
}
