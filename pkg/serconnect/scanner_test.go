// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package serconnect_test

import (
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/vestat/pkg/serconnect"
	"github.com/Thermoquad/vestat/pkg/vedirect"
)

func memFs(t *testing.T, files ...string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for _, f := range files {
		require.NoError(t, afero.WriteFile(fs, f, nil, 0o600))
	}
	return fs
}

func listPorts(ports ...string) func() ([]string, error) {
	return func() ([]string, error) {
		return ports, nil
	}
}

func TestScanner_Match(t *testing.T) {
	t.Parallel()

	unix := serconnect.NewScanner(serconnect.WithGOOS("linux"))
	for _, p := range []string{"/dev/ttyUSB0", "/dev/ttyACM12", "/tmp/vmodem0", "/tmp/ttyUSB3"} {
		assert.True(t, unix.Match(p), p)
	}
	for _, p := range []string{"/dev/ttyS0", "/dev/ttyUSB", "/home/ttyUSB0", "COM3", "/dev/ttyUSB0x", "/tmp/vmodem"} {
		assert.False(t, unix.Match(p), p)
	}

	windows := serconnect.NewScanner(serconnect.WithGOOS("windows"))
	assert.True(t, windows.Match("COM3"))
	assert.True(t, windows.Match("COM12"))
	assert.False(t, windows.Match("/dev/ttyUSB0"))
	assert.False(t, windows.Match("COM"))
}

func TestScanner_Unix(t *testing.T) {
	t.Parallel()

	fs := memFs(t,
		"/dev/ttyUSB1",
		"/dev/ttyUSB0",
		"/dev/ttyS0",
		"/dev/null",
		"/tmp/vmodem0",
		"/tmp/notes.txt",
	)
	s := serconnect.NewScanner(
		serconnect.WithGOOS("linux"),
		serconnect.WithFs(fs),
		serconnect.WithPortLister(listPorts("/dev/ttyACM0", "/dev/ttyS0", "/dev/ttyUSB1")),
	)

	ports, err := s.Scan()
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/ttyACM0", "/dev/ttyUSB1", "/dev/ttyUSB0", "/tmp/vmodem0"}, ports)
}

func TestScanner_UnixListError(t *testing.T) {
	t.Parallel()

	s := serconnect.NewScanner(
		serconnect.WithGOOS("linux"),
		serconnect.WithFs(memFs(t, "/dev/ttyUSB0")),
		serconnect.WithPortLister(func() ([]string, error) { return nil, errors.New("enumeration failed") }),
	)

	ports, err := s.Scan()
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/ttyUSB0"}, ports)
}

func TestScanner_MissingDirectories(t *testing.T) {
	t.Parallel()

	s := serconnect.NewScanner(
		serconnect.WithGOOS("linux"),
		serconnect.WithFs(afero.NewMemMapFs()),
		serconnect.WithPortLister(listPorts()),
	)

	ports, err := s.Scan()
	require.NoError(t, err)
	assert.Empty(t, ports)
}

func TestScanner_NoCache(t *testing.T) {
	t.Parallel()

	fs := memFs(t, "/dev/ttyUSB0")
	s := serconnect.NewScanner(serconnect.WithGOOS("linux"), serconnect.WithFs(fs), serconnect.WithPortLister(listPorts()))

	ports, err := s.Scan()
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/ttyUSB0"}, ports)

	require.NoError(t, afero.WriteFile(fs, "/tmp/vmodem1", nil, 0o600))
	ports, err = s.Scan()
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/ttyUSB0", "/tmp/vmodem1"}, ports)
}

func TestScanner_Windows(t *testing.T) {
	t.Parallel()

	s := serconnect.NewScanner(
		serconnect.WithGOOS("windows"),
		serconnect.WithFs(memFs(t, "/dev/ttyUSB0")),
		serconnect.WithPortLister(listPorts("COM3", "COM1", "COM3", "LPT1")),
	)
	ports, err := s.Scan()
	require.NoError(t, err)
	assert.Equal(t, []string{"COM3", "COM1"}, ports)

	failing := serconnect.NewScanner(
		serconnect.WithGOOS("windows"),
		serconnect.WithPortLister(func() ([]string, error) { return nil, errors.New("enumeration failed") }),
	)
	_, err = failing.Scan()
	assert.ErrorIs(t, err, vedirect.ErrSerialDevice)
}
