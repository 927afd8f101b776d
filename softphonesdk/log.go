/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package softphonesdk

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Logger is the logging contract used across the SDK. It is satisfied by
// *logrus.Logger, *logrus.Entry and anything else implementing logrus.FieldLogger.
type Logger = logrus.FieldLogger

var (
	baseLogger     *logrus.Logger
	baseLoggerOnce sync.Once
	loggersMu      sync.Mutex
	loggers        = make(map[string]*logrus.Entry)
)

func base() *logrus.Logger {
	baseLoggerOnce.Do(func() {
		l := logrus.New()
		l.Level = logrus.InfoLevel
		l.Formatter = &prefixed.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
			ForceFormatting: true,
		}
		baseLogger = l
	})
	return baseLogger
}

// NewLogger returns the shared logger for a component prefix.
func NewLogger(prefix string) *logrus.Entry {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	if entry, ok := loggers[prefix]; ok {
		return entry
	}
	entry := base().WithField("prefix", prefix)
	loggers[prefix] = entry
	return entry
}

// SetLogLevel sets the level of the shared logger from a logrus level name
func SetLogLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	base().SetLevel(lvl)
	return nil
}

// ForceColors toggles colored output, used by the CLI when attached to a terminal
func ForceColors(enabled bool) {
	if f, ok := base().Formatter.(*prefixed.TextFormatter); ok {
		f.ForceColors = enabled
	}
}
