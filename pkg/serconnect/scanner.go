// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package serconnect

import (
	"errors"
	"io/fs"
	"path"
	"regexp"
	"runtime"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"go.bug.st/serial"

	"github.com/Thermoquad/vestat/pkg/vedirect"
)

var (
	unixPortPattern    = regexp.MustCompile(`^(/dev/|/tmp/)(tty(USB|ACM)\d+|vmodem\d+)$`)
	windowsPortPattern = regexp.MustCompile(`^COM\d+$`)
)

// Scanner lists the serial ports that may carry a VE.Direct device.
// Virtual ports in /tmp (vmodemN, as created by socat) are included so a
// simulator can be discovered.
type Scanner struct {
	fs     afero.Fs
	list   func() ([]string, error)
	goos   string
	dirs   []string
	logger zerolog.Logger
}

// ScannerOption configures a Scanner
type ScannerOption func(*Scanner)

// WithFs sets the filesystem searched for device entries
func WithFs(fs afero.Fs) ScannerOption {
	return func(s *Scanner) {
		s.fs = fs
	}
}

// WithPortLister replaces the OS port enumeration
func WithPortLister(list func() ([]string, error)) ScannerOption {
	return func(s *Scanner) {
		s.list = list
	}
}

// WithGOOS overrides the platform used to select the port pattern
func WithGOOS(goos string) ScannerOption {
	return func(s *Scanner) {
		s.goos = goos
	}
}

// WithScanLogger sets the scanner logger
func WithScanLogger(logger zerolog.Logger) ScannerOption {
	return func(s *Scanner) {
		s.logger = logger
	}
}

// NewScanner creates a scanner for the running platform
func NewScanner(opts ...ScannerOption) *Scanner {
	s := &Scanner{
		fs:     afero.NewOsFs(),
		list:   serial.GetPortsList,
		goos:   runtime.GOOS,
		dirs:   []string{"/dev", "/tmp"},
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Match reports whether path looks like a VE.Direct candidate on this platform
func (s *Scanner) Match(path string) bool {
	if s.goos == "windows" {
		return windowsPortPattern.MatchString(path)
	}
	return unixPortPattern.MatchString(path)
}

// Scan returns the candidate ports: OS enumerated ports first, then the matching
// entries of /dev and /tmp on unix. The result is de-duplicated and nothing is cached.
func (s *Scanner) Scan() ([]string, error) {
	seen := make(map[string]bool)
	var ports []string
	add := func(p string) {
		if !seen[p] && s.Match(p) {
			seen[p] = true
			ports = append(ports, p)
		}
	}

	listed, listErr := s.list()
	for _, p := range listed {
		add(p)
	}

	if s.goos == "windows" {
		if listErr != nil {
			return nil, &vedirect.Error{Kind: vedirect.KindSerialDevice, Op: "scan", Err: listErr}
		}
		return ports, nil
	}

	if listErr != nil {
		s.logger.Debug().Err(listErr).Msg("serial port enumeration failed, using device directories")
	}

	for _, dir := range s.dirs {
		entries, err := afero.ReadDir(s.fs, dir)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				s.logger.Debug().Err(err).Str("dir", dir).Msg("failed to read device directory")
			}
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			add(path.Join(dir, e.Name()))
		}
	}

	return ports, nil
}
