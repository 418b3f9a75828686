package cart

import "testing"

func TestMBC1_ROMBanking(t *testing.T) {
	// Build a 128KB ROM with distinct bytes per bank at start of each bank
	rom := make([]byte, 128*1024)
	for bank := 0; bank < 8; bank++ {
		rom[bank*0x4000] = byte(bank)
	}
	m := NewMBC1(rom, 0)

	// Bank0 region reads from bank 0 in mode 0
	if got := m.Read(0x0000); got != 0x00 {
		t.Fatalf("bank0 read got %02X want 00", got)
	}

	// Switchable bank defaults to 1
	if got := m.Read(0x4000); got != 0x01 {
		t.Fatalf("bank1 read got %02X want 01", got)
	}

	// Select bank 3
	m.Write(0x2000, 0x03)
	if got := m.Read(0x4000); got != 0x03 {
		t.Fatalf("bank3 read got %02X want 03", got)
	}

	// Writing 0 maps to 1
	m.Write(0x2000, 0x00)
	if got := m.Read(0x4000); got != 0x01 {
		t.Fatalf("bank0->1 remap failed: got %02X", got)
	}
}

func TestMBC1_RAMBanking_Mode0(t *testing.T) {
	rom := make([]byte, 128*1024)
	m := NewMBC1(rom, 32*1024)

	// Enable RAM
	m.Write(0x0000, 0x0A)

	// Mode 0 (default): the RAM bank register selects the active bank.
	m.Write(0x4000, 0x02)
	m.Write(0xA000, 0x77)
	if got := m.Read(0xA000); got != 0x77 {
		t.Fatalf("RAM bank2 RW failed: got %02X", got)
	}

	// A different bank must not see bank 2's byte.
	m.Write(0x4000, 0x01)
	if got := m.Read(0xA000); got == 0x77 {
		t.Fatalf("RAM bank1 unexpectedly aliases bank2's data")
	}
}

func TestMBC1_RAMBanking_Mode1ForcesBank0(t *testing.T) {
	rom := make([]byte, 128*1024)
	m := NewMBC1(rom, 32*1024)

	m.Write(0x0000, 0x0A) // RAM enable
	m.Write(0x4000, 0x02) // would select bank 2 in mode 0
	m.Write(0x6000, 0x01) // mode 1: RAM forced to bank 0 regardless of the register

	m.Write(0xA000, 0x55)
	if got := m.Read(0xA000); got != 0x55 {
		t.Fatalf("RAM bank0 RW in mode1 failed: got %02X", got)
	}

	// Changing the register while in mode 1 must not move which bank is hit.
	m.Write(0x4000, 0x03)
	if got := m.Read(0xA000); got != 0x55 {
		t.Fatalf("mode1 RAM access moved off bank0: got %02X want 55", got)
	}
}

func TestMBC1_Mode1_HighBitsExtendROMWindow(t *testing.T) {
	rom := make([]byte, 1024*1024) // 1MB, banks 0x00-0x3F
	for bank := 0; bank < 64; bank++ {
		rom[bank*0x4000] = byte(bank)
	}
	m := NewMBC1(rom, 0)

	m.Write(0x6000, 0x01) // mode 1
	m.Write(0x2000, 0x05) // low 5 bits -> 0x05
	m.Write(0x4000, 0x01) // high 2 bits -> 0x01 -> bank 0x25

	if got := m.Read(0x4000); got != 0x25 {
		t.Fatalf("mode1 high-bits bank select got %02X want 25", got)
	}

	// Bank 0 region (0x0000-0x3FFF) always reads bank 0, even in mode 1.
	if got := m.Read(0x0000); got != 0x00 {
		t.Fatalf("bank0 region got %02X want 00 regardless of mode", got)
	}

	// In mode 0 the high bits don't apply; only the low 5 bits select the bank.
	m.Write(0x6000, 0x00)
	if got := m.Read(0x4000); got != 0x05 {
		t.Fatalf("mode0 bank select got %02X want 05 (high bits ignored)", got)
	}
}
