package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/inertial_stylus/internal/config"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestInitPrintEmitsDefaults(t *testing.T) {
	out, err := run(t, "init", "--print")
	require.NoError(t, err)

	var got config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	assert.Equal(t, config.Default(), got)
}

func TestInitWritesAndRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	_, err := run(t, "init", "-o", path)
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err)

	_, err = run(t, "init", "-o", path)
	assert.Error(t, err)

	_, err = run(t, "init", "-o", path, "-y")
	assert.NoError(t, err)
}

func TestDecodeReferenceFrame(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, config.WriteTemplate(cfgPath, false))

	out, err := run(t, "decode", "--config", cfgPath, "NTF>c401010e740000012c000afff6080080007fff0000")
	require.NoError(t, err)
	assert.Contains(t, out, "rssi        -60 dBm")
	assert.Contains(t, out, "battery     3.700 V")
	assert.Contains(t, out, "r_vcc       300")
	assert.Contains(t, out, "gyro raw    -32768  32767      0")

	_, err = run(t, "decode", "--config", cfgPath, "zz")
	assert.Error(t, err)
}

func TestUnknownArgsRejected(t *testing.T) {
	_, err := run(t, "produce", "extra")
	assert.Error(t, err)
}

func TestEachRunSeesItsOwnConfig(t *testing.T) {
	dir := t.TempDir()
	var seen []string

	for _, device := range []string{"alpha", "beta"} {
		path := filepath.Join(dir, device+".yaml")
		require.NoError(t, os.WriteFile(path, []byte("device: "+device+"\n"), 0o644))

		c := &cobra.Command{Use: "test"}
		c.Flags().String("config", "", "")
		c.Flags().Bool("debug", false, "")
		require.NoError(t, c.ParseFlags([]string{"--config", path}))
		c.SetContext(context.Background())

		err := withConfig(func(ctx context.Context, cfg *config.Config) error {
			seen = append(seen, cfg.Device)
			return ctx.Err()
		})(c, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"alpha", "beta"}, seen)
}
