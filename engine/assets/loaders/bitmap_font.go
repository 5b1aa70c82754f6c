package loaders

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fzipp/bmfont"
	"github.com/spaghettifunk/penumbra/engine/resources"
	"golang.org/x/exp/slices"
)

// BitmapFontLoader reads AngelCode .fnt descriptors. Atlas pages are
// returned as paths next to the descriptor and uploaded like any texture.
type BitmapFontLoader struct{}

func (fl *BitmapFontLoader) Load(path string, params interface{}) (*resources.Resource, error) {
	font, err := bmfont.Load(path)
	if err != nil {
		return nil, fmt.Errorf("bitmap font %s: %w", path, err)
	}
	desc := font.Descriptor
	dir := filepath.Dir(path)

	data := &resources.BitmapFontResourceData{
		Face:       desc.Info.Face,
		Size:       int(desc.Info.Size),
		LineHeight: int(desc.Common.LineHeight),
		Baseline:   int(desc.Common.Base),
		AtlasSizeX: int(desc.Common.ScaleW),
		AtlasSizeY: int(desc.Common.ScaleH),
		Pages:      make([]string, len(desc.Pages)),
	}
	for _, p := range desc.Pages {
		id := int(p.ID)
		if id < 0 || id >= len(data.Pages) {
			return nil, fmt.Errorf("bitmap font %s: page id %d out of range", path, id)
		}
		data.Pages[id] = filepath.Join(dir, p.File)
	}
	for _, g := range desc.Chars {
		data.Glyphs = append(data.Glyphs, resources.FontGlyph{
			Codepoint: rune(g.ID),
			X:         uint16(g.X),
			Y:         uint16(g.Y),
			Width:     uint16(g.Width),
			Height:    uint16(g.Height),
			XOffset:   int16(g.XOffset),
			YOffset:   int16(g.YOffset),
			XAdvance:  int16(g.XAdvance),
			PageID:    uint8(g.Page),
		})
	}
	for pair, k := range desc.Kerning {
		data.Kernings = append(data.Kernings, resources.FontKerning{
			Codepoint0: rune(pair.First),
			Codepoint1: rune(pair.Second),
			Amount:     int16(k.Amount),
		})
	}
	// Map iteration order is random; keep the output stable for lookups.
	slices.SortFunc(data.Glyphs, func(a, b resources.FontGlyph) int {
		return int(a.Codepoint - b.Codepoint)
	})
	slices.SortFunc(data.Kernings, func(a, b resources.FontKerning) int {
		if a.Codepoint0 != b.Codepoint0 {
			return int(a.Codepoint0 - b.Codepoint0)
		}
		return int(a.Codepoint1 - b.Codepoint1)
	})

	return &resources.Resource{
		Type:     resources.ResourceTypeBitmapFont,
		Name:     strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		FullPath: path,
		DataSize: uint64(len(data.Glyphs)),
		Data:     data,
	}, nil
}

func (fl *BitmapFontLoader) Unload(resource *resources.Resource) error {
	return unload(resource)
}
