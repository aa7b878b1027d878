package objectfifo

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/txtar"

	"fifolower/internal/config"
	"fifolower/internal/diag"
	"fifolower/internal/frontend"
	"fifolower/internal/ir"
)

// Each testdata archive holds a design.yaml and either the expected
// "trace" of the lowered design or the expected "error" diagnostic.
func TestGoldenLowerings(t *testing.T) {
	paths := must.M1(filepath.Glob("testdata/*.txtar"))
	require.NotEmpty(t, paths)
	for _, path := range paths {
		t.Run(strings.TrimSuffix(filepath.Base(path), ".txtar"), func(t *testing.T) {
			ar := must.M1(txtar.ParseFile(path))
			files := make(map[string]string)
			for _, f := range ar.Files {
				files[f.Name] = string(f.Data)
			}
			d, err := frontend.ParseDesign("design.yaml", []byte(files["design.yaml"]))
			require.NoError(t, err)

			var diags bytes.Buffer
			_, err = Lower(d, config.Default(), diag.NewReporter(&diags, "text"))
			if want, ok := files["error"]; ok {
				require.Error(t, err)
				require.Equal(t, strings.TrimSpace(want), strings.TrimSpace(diags.String()))
				return
			}
			require.NoError(t, err, diags.String())
			if diff := cmp.Diff(strings.TrimSpace(files["trace"]), renderLowered(t, d)); diff != "" {
				t.Fatalf("lowered design mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func renderLowered(t *testing.T, d *ir.Design) string {
	t.Helper()
	var lines []string
	for _, mem := range d.Mems {
		for _, chain := range mem.Chains {
			bds := make([]string, 0, len(chain.Descriptors))
			for _, bd := range chain.Descriptors {
				bds = append(bds, fmt.Sprintf("%s(%s)", bd.Buffer.Name, bd.Lock))
			}
			first := chain.Descriptors[0]
			lines = append(lines, fmt.Sprintf("dma %s %s %s: %s acquire=%d release=%d len=%d",
				mem.Tile.Coord, chain.Channel, chain.Fifo, strings.Join(bds, " "),
				first.AcquireValue, first.ReleaseValue, first.Len))
		}
	}
	for _, mc := range d.Multicasts {
		dests := make([]string, 0, len(mc.Dests))
		for _, dest := range mc.Dests {
			dests = append(dests, fmt.Sprintf("%s:%s", dest.Tile.Coord, dest.Channel))
		}
		lines = append(lines, fmt.Sprintf("multicast %s %s:%s -> %s", mc.Fifo, mc.Source.Coord, mc.Channel, strings.Join(dests, " ")))
	}
	for _, core := range d.Cores {
		lines = append(lines, fmt.Sprintf("core %s", core.Tile.Coord))
		lines = append(lines, simulate(t, core)...)
	}
	return strings.Join(lines, "\n")
}
