package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thzlab/lightscan/lockin"
)

func TestDefaultPorts(t *testing.T) {
	lia, stage := defaultPorts("windows")
	assert.Equal(t, "COM3", lia)
	assert.Equal(t, "COM4", stage)
	lia, stage = defaultPorts("darwin")
	assert.Equal(t, "/dev/tty.usbserial", lia)
	assert.Equal(t, "/dev/tty.usbmodem1421", stage)
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	c, err := loadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), c)
	require.NoError(t, c.Validate())

	p, err := c.Scan.Parameters()
	require.NoError(t, err)
	assert.Equal(t, lockin.TimeConstant(7), p.TimeConstant)
	assert.Equal(t, lockin.Sensitivity(18), p.Sensitivity)
}

func TestFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lightscan.yml")
	yml := `
mode: real
scan:
  stop: 20
  timeconstant: 300 ms
stage:
  movetimeout: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	t.Setenv("LIGHTSCAN_SCAN_AVERAGING", "4")
	t.Setenv("LIGHTSCAN_ADDR", ":9000")

	c, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, modeReal, c.Mode)
	assert.Equal(t, 20., c.Scan.Stop)
	assert.Equal(t, 4, c.Scan.Averaging)
	assert.Equal(t, ":9000", c.Addr)
	assert.Equal(t, 5*time.Second, c.Stage.MoveTimeout)
	// untouched keys keep their defaults
	assert.Equal(t, "100 mV", c.Scan.Sensitivity)

	p, err := c.Scan.Parameters()
	require.NoError(t, err)
	assert.Equal(t, lockin.TimeConstant(5), p.TimeConstant)
}

func TestValidate(t *testing.T) {
	c := defaultConfig()
	c.Mode = "simulated"
	assert.Error(t, c.Validate())

	c = defaultConfig()
	c.Source = "scope"
	assert.Error(t, c.Validate())

	c = defaultConfig()
	c.Mode, c.Source = modeReal, sourceDigitizer
	assert.Error(t, c.Validate())

	c = defaultConfig()
	c.Scan.Sensitivity = "7 V"
	assert.Error(t, c.Validate())
}
