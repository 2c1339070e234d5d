// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// setupLogging sends logs to stderr and, when file is set, to a rotating log file
func setupLogging(level, file string) error {
	lvl := zerolog.InfoLevel
	if level != "" {
		var err error
		lvl, err = zerolog.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}
	zerolog.SetGlobalLevel(lvl)

	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}}
	if file != "" {
		writers = append(writers, logFileWriter(file))
	}

	log.Logger = zerolog.New(io.MultiWriter(writers...)).With().Timestamp().Logger()
	return nil
}

func logFileWriter(file string) io.Writer {
	return &lumberjack.Logger{
		Filename:   file,
		MaxSize:    1,
		MaxBackups: 2,
	}
}

// quietLogging drops the console writer while a full-screen UI owns the terminal
func quietLogging() {
	if cfg.Logging.File == "" {
		log.Logger = zerolog.Nop()
		return
	}
	log.Logger = zerolog.New(logFileWriter(cfg.Logging.File)).With().Timestamp().Logger()
}
