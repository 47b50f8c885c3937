// Package tilemap extracts collision geometry and entity placements from
// Tiled TMX documents. Three sources merge into one flat rectangle set:
// objects on a layer named "collision", full cells for tiles whose
// metadata marks them collides, and offset sub-shapes attached to tiles.
package tilemap

import (
	"fmt"
	"io/fs"
	"strings"

	"github.com/lafriks/go-tiled"
)

// Rect is an axis-aligned rectangle in map pixels.
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// ChestSpawn places a chest from a map object.
type ChestSpawn struct {
	X      float64
	Y      float64
	Rarity string
}

// Point is a named location on the map.
type Point struct {
	X float64
	Y float64
}

// Data is everything the world server needs from one map document.
type Data struct {
	Width      float64
	Height     float64
	Collisions []Rect
	Chests     []ChestSpawn
	Spawn      *Point
}

// Load parses the TMX document at path within fsys. Callers pass
// os.DirFS for on-disk maps or an embed.FS in tests.
func Load(fsys fs.FS, path string) (*Data, error) {
	m, err := tiled.LoadFile(path, tiled.WithFileSystem(fsys))
	if err != nil {
		return nil, fmt.Errorf("load TMX %s: %w", path, err)
	}

	data := &Data{
		Width:  float64(m.Width * m.TileWidth),
		Height: float64(m.Height * m.TileHeight),
	}
	tileW := float64(m.TileWidth)
	tileH := float64(m.TileHeight)

	for _, layer := range m.Layers {
		for y := 0; y < m.Height; y++ {
			for x := 0; x < m.Width; x++ {
				t := layer.Tiles[y*m.Width+x]
				if t.IsNil() || t.Tileset == nil {
					continue
				}
				tt, err := t.Tileset.GetTilesetTile(t.ID)
				if err != nil {
					continue
				}
				ox := float64(x) * tileW
				oy := float64(y) * tileH
				if tt.Properties.GetBool("collides") {
					data.Collisions = append(data.Collisions, Rect{X: ox, Y: oy, Width: tileW, Height: tileH})
					continue
				}
				for _, og := range tt.ObjectGroups {
					for _, o := range og.Objects {
						if o.Width <= 0 || o.Height <= 0 {
							continue
						}
						data.Collisions = append(data.Collisions, Rect{X: ox + o.X, Y: oy + o.Y, Width: o.Width, Height: o.Height})
					}
				}
			}
		}
	}

	for _, og := range m.ObjectGroups {
		switch strings.ToLower(og.Name) {
		case "collision":
			for _, o := range og.Objects {
				if o.Width <= 0 || o.Height <= 0 {
					continue
				}
				data.Collisions = append(data.Collisions, Rect{X: o.X, Y: o.Y, Width: o.Width, Height: o.Height})
			}
		case "chests":
			for _, o := range og.Objects {
				data.Chests = append(data.Chests, ChestSpawn{X: o.X, Y: o.Y, Rarity: o.Properties.GetString("rarity")})
			}
		case "spawn":
			if len(og.Objects) > 0 {
				o := og.Objects[0]
				data.Spawn = &Point{X: o.X, Y: o.Y}
			}
		}
	}

	return data, nil
}
