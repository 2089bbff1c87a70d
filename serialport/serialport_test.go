package serialport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.bug.st/serial"

	"github.com/davroz/fotolink/logger"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()

	assert.Equal(t, 57600, s.BaudRate)
	assert.Equal(t, 8, s.DataBits)
	assert.Equal(t, "none", s.Parity)
	assert.Equal(t, 1, s.StopBits)
	assert.Equal(t, 5, s.ScrubCycles)
}

func TestSettingsMode(t *testing.T) {
	mode, err := DefaultSettings().mode()
	require.NoError(t, err)

	assert.Equal(t, 57600, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
	assert.Equal(t, serial.NoParity, mode.Parity)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)
}

func TestSettingsMode_ParityAndStopBits(t *testing.T) {
	s := DefaultSettings()
	s.Parity = "even"
	s.StopBits = 2

	mode, err := s.mode()
	require.NoError(t, err)
	assert.Equal(t, serial.EvenParity, mode.Parity)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)

	s.Parity = "odd"
	mode, err = s.mode()
	require.NoError(t, err)
	assert.Equal(t, serial.OddParity, mode.Parity)
}

func TestSettingsMode_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"zero baud", func(s *Settings) { s.BaudRate = 0 }},
		{"negative baud", func(s *Settings) { s.BaudRate = -9600 }},
		{"data bits too low", func(s *Settings) { s.DataBits = 4 }},
		{"data bits too high", func(s *Settings) { s.DataBits = 9 }},
		{"unknown parity", func(s *Settings) { s.Parity = "mark" }},
		{"bad stop bits", func(s *Settings) { s.StopBits = 3 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)

			_, err := s.mode()
			assert.Error(t, err)
		})
	}
}

func TestOpen_EmptyDevice(t *testing.T) {
	_, err := Open("", DefaultSettings(), logger.GetLogger())
	assert.Error(t, err)
}

func TestOpen_MissingDevice(t *testing.T) {
	_, err := Open("/dev/ttyDOESNOTEXIST0", DefaultSettings(), logger.GetLogger())
	assert.Error(t, err)
}
