package ppu

// DMG palette: index 0 is lightest, 3 is darkest, emitted as opaque RGBA.
var paletteColors = [4][4]byte{
	{0xFF, 0xFF, 0xFF, 0xFF},
	{0xAA, 0xAA, 0xAA, 0xFF},
	{0x55, 0x55, 0x55, 0xFF},
	{0x00, 0x00, 0x00, 0xFF},
}

func decodeColor(ci byte) [4]byte { return paletteColors[ci&0x03] }

// paletteLookup maps a raw 2-bit color index through a BGP/OBPn-style
// palette byte (four 2-bit shades packed low-to-high).
func paletteLookup(paletteByte, ci byte) byte {
	return (paletteByte >> (ci * 2)) & 0x03
}

// renderScanline composites BG, window, and sprites for line y using the
// registers latched at mode-3 entry, and writes the result into the
// framebuffer.
func (p *PPU) renderScanline(y byte) {
	if int(y) >= 144 {
		return
	}
	lr := p.lineRegs[y]

	var bgci [160]byte
	if (lr.LCDC & 0x01) != 0 {
		tileData8000 := (lr.LCDC & 0x10) != 0
		bgMapBase := uint16(0x9800)
		if (lr.LCDC & 0x08) != 0 {
			bgMapBase = 0x9C00
		}
		bgci = RenderBGScanlineUsingFetcher(p, bgMapBase, tileData8000, lr.SCX, lr.SCY, y)

		if (lr.LCDC&0x20) != 0 && y >= lr.WY && lr.WX <= 166 {
			winMapBase := uint16(0x9800)
			if (lr.LCDC & 0x40) != 0 {
				winMapBase = 0x9C00
			}
			wxStart := int(lr.WX) - 7
			winCi := RenderWindowScanlineUsingFetcher(p, winMapBase, tileData8000, wxStart, byte(lr.WinLine))
			start := wxStart
			if start < 0 {
				start = 0
			}
			for x := start; x < 160; x++ {
				bgci[x] = winCi[x]
			}
		}
	}

	var spriteOut [160]byte
	if (lr.LCDC & 0x02) != 0 {
		tall := (lr.LCDC & 0x04) != 0
		sprites := p.scanOAMForLine(y, tall)
		spriteOut = ComposeSpriteLine(p, sprites, y, bgci, lr.BGP, tall)
	}

	rowOff := int(y) * 160 * 4
	for x := 0; x < 160; x++ {
		var shade byte
		if sp := spriteOut[x]; sp != 0 {
			ci := sp & 0x03
			pal := lr.OBP0
			if (sp & 0x04) != 0 {
				pal = lr.OBP1
			}
			shade = paletteLookup(pal, ci)
		} else if (lr.LCDC & 0x01) != 0 {
			shade = paletteLookup(lr.BGP, bgci[x])
		} else {
			shade = 0
		}
		c := decodeColor(shade)
		o := rowOff + x*4
		p.fb[o+0] = c[0]
		p.fb[o+1] = c[1]
		p.fb[o+2] = c[2]
		p.fb[o+3] = c[3]
	}
}
