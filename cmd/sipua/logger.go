// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package main

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/emiago/sipua"
	slogconsole "github.com/phsym/console-slog"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	slogformatter "github.com/samber/slog-formatter"
)

// redactedKeys are attributes never written in clear
var redactedKeys = []string{"password", "secret", "token"}

func newSlogHandler(out io.Writer, lev slog.Level) slog.Handler {
	formatters := []slogformatter.Formatter{
		slogformatter.ErrorFormatter("error"),
		slogformatter.FormatByType(func(u sip.Uri) slog.Value {
			return slog.StringValue(u.String())
		}),
	}
	for _, k := range redactedKeys {
		formatters = append(formatters, slogformatter.FormatByKey(k, func(v slog.Value) slog.Value {
			if v.String() == "" {
				return v
			}
			return slog.StringValue("*****")
		}))
	}

	return slogformatter.NewFormatterHandler(formatters...)(
		slogconsole.NewHandler(out, &slogconsole.HandlerOptions{
			AddSource:  lev == slog.LevelDebug,
			Level:      lev,
			TimeFormat: time.StampMicro,
		}),
	)
}

// setupLogging configures zerolog global logger used on media path and
// returns slog logger for control plane. Level is read from LOG_LEVEL.
func setupLogging(out io.Writer) (*slog.Logger, sipua.LogLevel) {
	lev, err := zerolog.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL")))
	if err != nil || lev == zerolog.NoLevel {
		lev = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.StampMicro,
	}).With().Timestamp().Logger().Level(lev)

	sip.SIPDebug = os.Getenv("SIP_DEBUG") == "true"

	slev, ulev := levels(lev)
	return slog.New(newSlogHandler(out, slev)), ulev
}

func levels(lev zerolog.Level) (slog.Level, sipua.LogLevel) {
	switch {
	case lev <= zerolog.DebugLevel:
		return slog.LevelDebug, sipua.LogDebug
	case lev == zerolog.InfoLevel:
		return slog.LevelInfo, sipua.LogInfo
	case lev == zerolog.WarnLevel:
		return slog.LevelWarn, sipua.LogWarn
	case lev == zerolog.Disabled:
		return slog.LevelError + 4, sipua.LogNone
	}
	return slog.LevelError, sipua.LogError
}
