package camera

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeJPEG is a minimal byte string carrying the SOI/EOI signatures.
var fakeJPEG = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x01, 0x02, 0xFF, 0xD9}

func writeFakeImage(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fallback.jpg")
	require.NoError(t, os.WriteFile(path, fakeJPEG, 0o644))

	return path
}

func TestLookupResolution(t *testing.T) {
	table := DefaultResolutions()

	res, ok := LookupResolution(table, "FULL_HD")
	assert.True(t, ok)
	assert.Equal(t, Resolution{Width: 1920, Height: 1080}, res)

	res, ok = LookupResolution(table, " full_hd ")
	assert.True(t, ok)
	assert.Equal(t, 1920, res.Width)

	res, ok = LookupResolution(table, "NOPE")
	assert.False(t, ok)
	assert.Equal(t, Resolution{Width: 320, Height: 240}, res)
}

func TestLoadResolutions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolutions.yaml")
	doc := `
resolutions:
  square:
    width: 1000
    height: 1000
  THUMBNAIL:
    width: 160
    height: 120
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	table, err := LoadResolutions(path)
	require.NoError(t, err)

	// New entry, upper-cased.
	assert.Equal(t, Resolution{Width: 1000, Height: 1000}, table["SQUARE"])
	// Default overridden.
	assert.Equal(t, Resolution{Width: 160, Height: 120}, table["THUMBNAIL"])
	// Untouched default survives.
	assert.Equal(t, Resolution{Width: 1920, Height: 1080}, table["FULL_HD"])
}

func TestLoadResolutions_InvalidDimensions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolutions.yaml")
	doc := "resolutions:\n  bad: {width: 0, height: 100}\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, err := LoadResolutions(path)
	assert.Error(t, err)
}

func TestLoadResolutions_MissingFile(t *testing.T) {
	_, err := LoadResolutions(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestCapture_FallbackWhenHardwareDisabled(t *testing.T) {
	cam, err := New(
		WithHardware(false),
		WithFallbackImage(writeFakeImage(t)),
	)
	require.NoError(t, err)

	data, err := cam.Capture(context.Background(), "THUMBNAIL")
	require.NoError(t, err)
	assert.Equal(t, fakeJPEG, data)
}

func TestCapture_FallbackWhenBinaryFails(t *testing.T) {
	cam, err := New(
		WithBinary("false"), // exits non-zero, produces nothing
		WithFallbackImage(writeFakeImage(t)),
	)
	require.NoError(t, err)

	data, err := cam.Capture(context.Background(), "THUMBNAIL")
	require.NoError(t, err)
	assert.Equal(t, fakeJPEG, data)
}

func TestCapture_NoImage(t *testing.T) {
	cam, err := New(WithHardware(false))
	require.NoError(t, err)

	_, err = cam.Capture(context.Background(), "THUMBNAIL")
	require.ErrorIs(t, err, ErrNoImage)
}

func TestCaptureToFile(t *testing.T) {
	cam, err := New(
		WithHardware(false),
		WithFallbackImage(writeFakeImage(t)),
	)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "out.jpg")
	n, err := cam.CaptureToFile(context.Background(), out, "FULL_HD")
	require.NoError(t, err)
	assert.Equal(t, len(fakeJPEG), n)

	written, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, fakeJPEG, written)
}

func TestNew_InvalidOptions(t *testing.T) {
	_, err := New(WithBinary(""))
	assert.Error(t, err)

	_, err = New(WithCaptureTimeout(0))
	assert.Error(t, err)

	_, err = New(WithResolutions(nil))
	assert.Error(t, err)

	_, err = New(WithResolutions(map[string]Resolution{"ONLY": {Width: 1, Height: 1}}))
	assert.Error(t, err)

	_, err = New(WithLogger(nil))
	assert.Error(t, err)
}

func TestProbeJPEG(t *testing.T) {
	assert.NoError(t, ProbeJPEG(fakeJPEG))

	assert.Error(t, ProbeJPEG(nil))
	assert.Error(t, ProbeJPEG([]byte{0xFF, 0xD8}))
	assert.Error(t, ProbeJPEG([]byte{0x00, 0x01, 0x02, 0x03}))

	truncated := append([]byte(nil), fakeJPEG[:len(fakeJPEG)-1]...)
	assert.Error(t, ProbeJPEG(truncated))
}
