package cart

import (
	"bytes"
	"encoding/gob"
	"time"
)

// nowUnix is swappable in tests to drive the RTC deterministically.
var nowUnix = func() int64 { return time.Now().Unix() }

// MBC3 implements ROM/RAM banking plus the MBC3 real-time clock.
// Banking behavior:
// - 0000-1FFF: RAM/RTC enable (0x0A in low nibble)
// - 2000-3FFF: ROM bank low 7 bits (0 maps to 1)
// - 4000-5FFF: RAM bank (0-3) or RTC register select (08-0C)
// - 6000-7FFF: latch-clock trigger, a 0 then 1 write snapshots the live
//   RTC registers into the latched registers the CPU actually reads
// - A000-BFFF: external RAM, or the selected latched RTC register
type MBC3 struct {
	rom []byte
	ram []byte

	ramEnabled bool
	romBank    byte // 7 bits (1..127)
	bankSel    byte // 0x00-0x03 RAM bank, or 0x08-0x0C RTC register select

	latchPrev byte // last byte written to 0x6000-0x7FFF, for the 0->1 edge

	// Live RTC counters, advanced lazily from wall-clock deltas.
	rtcSec, rtcMin, rtcHour byte
	rtcDay                  uint16 // 9-bit day counter
	rtcHalt, rtcCarry       bool
	lastRTCWallSec          int64

	// Latched snapshot, what the CPU actually reads back at 0xA000 when a
	// register is selected, until the next latch sequence.
	latchSec, latchMin, latchHour byte
	latchDay                      uint16
	latchHalt, latchCarry         bool
}

func NewMBC3(rom []byte, ramSize int) *MBC3 {
	m := &MBC3{rom: rom}
	if ramSize > 0 {
		m.ram = make([]byte, ramSize)
	}
	m.romBank = 1
	m.lastRTCWallSec = nowUnix()
	return m
}

// updateRTC advances the live RTC counters by the elapsed wall-clock time
// since the last update. Called on every access so reads/writes always see
// a current clock without needing a dedicated ticking goroutine.
func (m *MBC3) updateRTC() {
	now := nowUnix()
	delta := now - m.lastRTCWallSec
	m.lastRTCWallSec = now
	if m.rtcHalt || delta <= 0 {
		return
	}
	total := int64(m.rtcSec) + int64(m.rtcMin)*60 + int64(m.rtcHour)*3600 + int64(m.rtcDay&0x1FF)*86400
	total += delta
	day := total / 86400
	rem := total % 86400
	if day > 511 {
		day %= 512
		m.rtcCarry = true
	}
	m.rtcDay = uint16(day)
	m.rtcHour = byte(rem / 3600)
	rem %= 3600
	m.rtcMin = byte(rem / 60)
	m.rtcSec = byte(rem % 60)
}

func (m *MBC3) latch() {
	m.updateRTC()
	m.latchSec, m.latchMin, m.latchHour = m.rtcSec, m.rtcMin, m.rtcHour
	m.latchDay, m.latchHalt, m.latchCarry = m.rtcDay, m.rtcHalt, m.rtcCarry
}

func (m *MBC3) Read(addr uint16) byte {
	m.updateRTC()
	switch {
	case addr < 0x4000:
		if int(addr) < len(m.rom) {
			return m.rom[addr]
		}
		return 0xFF
	case addr < 0x8000:
		bank := int(m.romBank & 0x7F)
		if bank == 0 {
			bank = 1
		}
		off := bank*0x4000 + int(addr-0x4000)
		if off >= 0 && off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return 0xFF
		}
		switch {
		case m.bankSel <= 0x03:
			if len(m.ram) == 0 {
				return 0xFF
			}
			off := int(m.bankSel)*0x2000 + int(addr-0xA000)
			if off >= 0 && off < len(m.ram) {
				return m.ram[off]
			}
			return 0xFF
		case m.bankSel == 0x08:
			return m.latchSec
		case m.bankSel == 0x09:
			return m.latchMin
		case m.bankSel == 0x0A:
			return m.latchHour
		case m.bankSel == 0x0B:
			return byte(m.latchDay & 0xFF)
		case m.bankSel == 0x0C:
			v := byte((m.latchDay >> 8) & 0x01)
			if m.latchHalt {
				v |= 1 << 6
			}
			if m.latchCarry {
				v |= 1 << 7
			}
			return v
		}
		return 0xFF
	default:
		return 0xFF
	}
}

func (m *MBC3) Write(addr uint16, value byte) {
	switch {
	case addr < 0x2000:
		m.ramEnabled = (value & 0x0F) == 0x0A
	case addr < 0x4000:
		v := value & 0x7F
		if v == 0 {
			v = 1
		}
		m.romBank = v
	case addr < 0x6000:
		if value <= 0x03 || (value >= 0x08 && value <= 0x0C) {
			m.bankSel = value
		}
	case addr < 0x8000:
		if m.latchPrev == 0x00 && value == 0x01 {
			m.latch()
		}
		m.latchPrev = value
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return
		}
		switch {
		case m.bankSel <= 0x03:
			if len(m.ram) == 0 {
				return
			}
			off := int(m.bankSel)*0x2000 + int(addr-0xA000)
			if off >= 0 && off < len(m.ram) {
				m.ram[off] = value
			}
		case m.bankSel == 0x08:
			m.updateRTC()
			m.rtcSec = value
		case m.bankSel == 0x09:
			m.updateRTC()
			m.rtcMin = value
		case m.bankSel == 0x0A:
			m.updateRTC()
			m.rtcHour = value
		case m.bankSel == 0x0B:
			m.updateRTC()
			m.rtcDay = (m.rtcDay & 0x100) | uint16(value)
		case m.bankSel == 0x0C:
			m.updateRTC()
			m.rtcDay = (m.rtcDay & 0x0FF) | (uint16(value&0x01) << 8)
			m.rtcHalt = (value & 0x40) != 0
			m.rtcCarry = (value & 0x80) != 0
		}
	}
}

// --- RTC + RAM persistence ---

type mbc3RAMState struct {
	RAM                     []byte
	Sec, Min, Hour          byte
	Day                     uint16
	Halt, Carry             bool
	LastWall                int64
}

func (m *MBC3) SaveRAM() []byte {
	s := mbc3RAMState{
		RAM: append([]byte(nil), m.ram...),
		Sec: m.rtcSec, Min: m.rtcMin, Hour: m.rtcHour, Day: m.rtcDay,
		Halt: m.rtcHalt, Carry: m.rtcCarry, LastWall: m.lastRTCWallSec,
	}
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(s)
	return buf.Bytes()
}

func (m *MBC3) LoadRAM(data []byte) {
	if len(data) == 0 {
		return
	}
	var s mbc3RAMState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	if len(m.ram) > 0 && len(s.RAM) == len(m.ram) {
		copy(m.ram, s.RAM)
	}
	m.rtcSec, m.rtcMin, m.rtcHour, m.rtcDay = s.Sec, s.Min, s.Hour, s.Day
	m.rtcHalt, m.rtcCarry = s.Halt, s.Carry
	m.lastRTCWallSec = s.LastWall
}

type mbc3State struct {
	RAMState                      mbc3RAMState
	RAMEnabled                    bool
	ROMBank, BankSel, LatchPrev   byte
	LatchSec, LatchMin, LatchHour byte
	LatchDay                      uint16
	LatchHalt, LatchCarry         bool
}

func (m *MBC3) SaveState() []byte {
	s := mbc3State{
		RAMState: mbc3RAMState{
			RAM: append([]byte(nil), m.ram...),
			Sec: m.rtcSec, Min: m.rtcMin, Hour: m.rtcHour, Day: m.rtcDay,
			Halt: m.rtcHalt, Carry: m.rtcCarry, LastWall: m.lastRTCWallSec,
		},
		RAMEnabled: m.ramEnabled,
		ROMBank:    m.romBank, BankSel: m.bankSel, LatchPrev: m.latchPrev,
		LatchSec: m.latchSec, LatchMin: m.latchMin, LatchHour: m.latchHour,
		LatchDay: m.latchDay, LatchHalt: m.latchHalt, LatchCarry: m.latchCarry,
	}
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(s)
	return buf.Bytes()
}

func (m *MBC3) LoadState(data []byte) {
	if len(data) == 0 {
		return
	}
	var s mbc3State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	if len(m.ram) > 0 && len(s.RAMState.RAM) == len(m.ram) {
		copy(m.ram, s.RAMState.RAM)
	}
	m.rtcSec, m.rtcMin, m.rtcHour, m.rtcDay = s.RAMState.Sec, s.RAMState.Min, s.RAMState.Hour, s.RAMState.Day
	m.rtcHalt, m.rtcCarry = s.RAMState.Halt, s.RAMState.Carry
	m.lastRTCWallSec = s.RAMState.LastWall
	m.ramEnabled = s.RAMEnabled
	m.romBank, m.bankSel, m.latchPrev = s.ROMBank, s.BankSel, s.LatchPrev
	m.latchSec, m.latchMin, m.latchHour = s.LatchSec, s.LatchMin, s.LatchHour
	m.latchDay, m.latchHalt, m.latchCarry = s.LatchDay, s.LatchHalt, s.LatchCarry
}
