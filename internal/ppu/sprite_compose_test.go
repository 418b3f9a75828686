package ppu

import "testing"

// identityBGP is a BGP value where palette(BGP, ci) == ci, so raw color
// indices can stand in for rendered shades in these tests.
const identityBGP = 0xE4

func TestComposeSpriteLinePriorityAndTransparency(t *testing.T) {
	mem := mockVRAM{}
	// Sprite tile with a single opaque leftmost pixel at bit7: lo=0x01<<7 -> 0x80, hi=0
	base := uint16(0x8000)
	mem[base+0] = 0x80
	mem[base+1] = 0x00
	sprites := []Sprite{{X: 10, Y: 5, Tile: 0, Attr: 0, OAMIndex: 0}}
	var bgci [160]byte
	out := ComposeSpriteLine(mem, sprites, 5, bgci, identityBGP, false)
	if out[10] == 0 {
		t.Fatalf("expected sprite pixel at x=10")
	}
	// With priority behind a BG pixel that isn't palette(BGP, 0), the sprite
	// pixel must be skipped.
	sprites[0].Attr = 1 << 7
	bgci[10] = 1
	out = ComposeSpriteLine(mem, sprites, 5, bgci, identityBGP, false)
	if out[10] != 0 {
		t.Fatalf("expected sprite pixel to be hidden behind BG")
	}
}

func TestComposeSpriteLineOAMIndexPriority(t *testing.T) {
	mem := mockVRAM{}
	// Two sprites overlap at x=20; both opaque full row (lo=0xFF, hi=0).
	base := uint16(0x8000)
	mem[base+0] = 0xFF
	mem[base+1] = 0x00
	// s0 is the lower OAM index and must win at x=20, where it overlaps s1.
	s0 := Sprite{X: 13, Y: 0, Tile: 0, Attr: attrPalette, OAMIndex: 3}
	s1 := Sprite{X: 20, Y: 0, Tile: 0, Attr: 0, OAMIndex: 5}
	var bgci [160]byte
	// Slice order is OAM order: s0 (index 3) before s1 (index 5).
	out := ComposeSpriteLine(mem, []Sprite{s0, s1}, 0, bgci, identityBGP, false)
	// s0 spans x=13..20, s1 spans x=20..27; at x=20 both contribute, and the
	// lower-index sprite (s0) must win, so the palette-select bit is set.
	if out[20]&0x04 == 0 {
		t.Fatalf("expected lower OAM-index sprite (palette bit set) to win at x=20, got %02X", out[20])
	}
}
