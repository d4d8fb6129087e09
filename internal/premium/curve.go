// Package premium maps a (strike gap, duration) tier and an implied
// volatility to a call premium rate, expressed in basis points of the
// underlying price.
package premium

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

const (
	// ColumnWidth is the vol span of one mesh column: 10% in basis points.
	ColumnWidth = 1000
	// MaxRate caps a mesh entry. A call is never worth more than the asset.
	MaxRate = 10_000
)

// Curve is an immutable premium mesh. Row r is a pricing tier; column j holds
// the rate at vol j*ColumnWidth. Rates between columns are interpolated.
type Curve struct {
	mesh [][]uint64
}

// NewCurve validates mesh and copies it into a Curve. Every row must have the
// same number of columns (at least two) and be non-decreasing in vol.
func NewCurve(mesh [][]uint64) (*Curve, error) {
	if len(mesh) == 0 {
		return nil, fmt.Errorf("premium: empty mesh: %w", domain.ErrInvalidArgument)
	}
	cols := len(mesh[0])
	if cols < 2 {
		return nil, fmt.Errorf("premium: mesh needs at least 2 columns, got %d: %w", cols, domain.ErrInvalidArgument)
	}

	c := &Curve{mesh: make([][]uint64, len(mesh))}
	for r, row := range mesh {
		if len(row) != cols {
			return nil, fmt.Errorf("premium: row %d has %d columns, want %d: %w",
				r, len(row), cols, domain.ErrInvalidArgument)
		}
		for j, v := range row {
			if v > MaxRate {
				return nil, fmt.Errorf("premium: row %d column %d rate %d above %d: %w",
					r, j, v, MaxRate, domain.ErrInvalidArgument)
			}
			if j > 0 && v < row[j-1] {
				return nil, fmt.Errorf("premium: row %d decreases at column %d: %w",
					r, j, domain.ErrInvalidArgument)
			}
		}
		c.mesh[r] = append([]uint64(nil), row...)
	}
	return c, nil
}

// Rows returns the number of pricing tiers.
func (c *Curve) Rows() int { return len(c.mesh) }

// Columns returns the number of vol columns.
func (c *Curve) Columns() int { return len(c.mesh[0]) }

// MaxVol is the first vol the curve cannot price.
func (c *Curve) MaxVol() uint64 { return uint64(c.Columns()-1) * ColumnWidth }

// GetPremium returns the premium rate for row at vol (basis points).
func (c *Curve) GetPremium(row int, vol uint64) (uint64, error) {
	if row < 0 || row >= len(c.mesh) {
		return 0, fmt.Errorf("premium: row %d: %w", row, domain.ErrInvalidIndex)
	}
	if vol >= c.MaxVol() {
		return 0, fmt.Errorf("premium: vol %d: %w", vol, domain.ErrVolatilityOutOfRange)
	}
	j := vol / ColumnWidth
	rem := vol % ColumnWidth
	lo, hi := c.mesh[row][j], c.mesh[row][j+1]
	return lo + (hi-lo)*rem/ColumnWidth, nil
}

type meshFile struct {
	Rows [][]uint64 `toml:"rows"`
}

// LoadMesh reads a mesh from a TOML file of the form rows = [[...], ...].
func LoadMesh(path string) ([][]uint64, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("premium: mesh file: %w", err)
	}
	var mf meshFile
	if _, err := toml.DecodeFile(path, &mf); err != nil {
		return nil, fmt.Errorf("premium: decode mesh %s: %w", path, err)
	}
	return mf.Rows, nil
}

// Load builds a curve from path, or the default mesh for the given tiers when
// path is empty.
func Load(path string, strikeGaps []uint64, durations []uint64) (*Curve, error) {
	if path == "" {
		return NewCurve(DefaultMesh(strikeGaps, durations, DefaultColumns))
	}
	mesh, err := LoadMesh(path)
	if err != nil {
		return nil, err
	}
	return NewCurve(mesh)
}

var _ domain.PremiumSource = (*Curve)(nil)
