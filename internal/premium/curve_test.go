package premium

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

// testMesh is mesh[i][j] = i*100+j.
func testMesh() [][]uint64 {
	mesh := make([][]uint64, 24)
	for i := range mesh {
		mesh[i] = make([]uint64, 100)
		for j := range mesh[i] {
			mesh[i][j] = uint64(i*100 + j)
		}
	}
	return mesh
}

func TestGetPremium(t *testing.T) {
	c, err := NewCurve(testMesh())
	if err != nil {
		t.Fatalf("new curve: %v", err)
	}

	tests := []struct {
		row  int
		vol  uint64
		want uint64
	}{
		{0, 0, 0},
		{0, 5000, 5},
		{0, 5500, 5},
		{0, 98999, 98},
		{3, 1000, 301},
		{23, 0, 2300},
	}
	for _, tt := range tests {
		got, err := c.GetPremium(tt.row, tt.vol)
		if err != nil {
			t.Fatalf("row %d vol %d: %v", tt.row, tt.vol, err)
		}
		if got != tt.want {
			t.Fatalf("row %d vol %d: expected %d, got %d", tt.row, tt.vol, tt.want, got)
		}
	}
}

func TestGetPremiumInterpolates(t *testing.T) {
	c, err := NewCurve([][]uint64{{0, 100, 300}})
	if err != nil {
		t.Fatalf("new curve: %v", err)
	}
	got, _ := c.GetPremium(0, 500)
	if got != 50 {
		t.Fatalf("expected 50, got %d", got)
	}
	got, _ = c.GetPremium(0, 1250)
	if got != 150 {
		t.Fatalf("expected 150, got %d", got)
	}
}

func TestGetPremiumRejects(t *testing.T) {
	c, _ := NewCurve(testMesh())

	if _, err := c.GetPremium(0, 99000); !errors.Is(err, domain.ErrVolatilityOutOfRange) {
		t.Fatalf("expected vol out of range, got %v", err)
	}
	if _, err := c.GetPremium(24, 0); !errors.Is(err, domain.ErrInvalidIndex) {
		t.Fatalf("expected invalid index, got %v", err)
	}
	if _, err := c.GetPremium(-1, 0); !errors.Is(err, domain.ErrInvalidIndex) {
		t.Fatalf("expected invalid index, got %v", err)
	}
}

func TestNewCurveValidation(t *testing.T) {
	tests := []struct {
		name string
		mesh [][]uint64
	}{
		{"empty", nil},
		{"one column", [][]uint64{{1}}},
		{"ragged", [][]uint64{{1, 2}, {1, 2, 3}}},
		{"decreasing", [][]uint64{{1, 3, 2}}},
		{"above max", [][]uint64{{1, MaxRate + 1}}},
	}
	for _, tt := range tests {
		if _, err := NewCurve(tt.mesh); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("%s: expected invalid argument, got %v", tt.name, err)
		}
	}
}

func TestDefaultMesh(t *testing.T) {
	gaps := []uint64{0, 1000, 2000, 3000, 5000, 10000}
	day := uint64(24 * 60 * 60)
	durations := []uint64{3 * day, 7 * day, 14 * day, 28 * day}

	mesh := DefaultMesh(gaps, durations, DefaultColumns)
	c, err := NewCurve(mesh)
	if err != nil {
		t.Fatalf("default mesh should be valid: %v", err)
	}
	if c.Rows() != 24 || c.Columns() != DefaultColumns {
		t.Fatalf("expected 24x%d mesh, got %dx%d", DefaultColumns, c.Rows(), c.Columns())
	}

	for r := range mesh {
		if mesh[r][0] != 0 {
			t.Fatalf("row %d: out-of-the-money call at zero vol should be free, got %d", r, mesh[r][0])
		}
	}

	// At-the-money, 28 days, 100% vol: roughly 0.4*sigma*sqrt(T) of spot.
	atm, _ := c.GetPremium(3, 10_000)
	if atm < 1000 || atm > 1200 {
		t.Fatalf("unexpected ATM 28d premium %d bps", atm)
	}

	// Longer tenor costs more, a higher strike costs less.
	short, _ := c.GetPremium(0, 10_000)
	if short >= atm {
		t.Fatalf("3d premium %d should be below 28d premium %d", short, atm)
	}
	otm, _ := c.GetPremium(4*len(durations)+3, 10_000)
	if otm >= atm {
		t.Fatalf("50%% OTM premium %d should be below ATM premium %d", otm, atm)
	}
}

func TestLoadMesh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mesh.toml")
	data := "rows = [\n  [0, 10, 20],\n  [5, 15, 25],\n]\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write mesh: %v", err)
	}

	c, err := Load(path, nil, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Rows() != 2 || c.Columns() != 3 {
		t.Fatalf("unexpected shape %dx%d", c.Rows(), c.Columns())
	}
	got, _ := c.GetPremium(1, 1500)
	if got != 20 {
		t.Fatalf("expected 20, got %d", got)
	}

	if _, err := LoadMesh(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing mesh file")
	}
}
