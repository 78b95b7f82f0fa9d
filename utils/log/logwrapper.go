/*
 * Copyright 2019 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package log

import (
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	// PanicLevel level, logs and then calls panic.
	PanicLevel logrus.Level = iota
	// FatalLevel level, logs and then calls `os.Exit(1)`.
	FatalLevel
	// ErrorLevel level, used for errors that should definitely be noted.
	ErrorLevel
	// WarnLevel level, non-critical entries that deserve eyes.
	WarnLevel
	// InfoLevel level, general operational entries.
	InfoLevel
	// DebugLevel level, very verbose logging.
	DebugLevel
)

const modulePrefix = "github.com/CovenantSQL/creditsync/"

var (
	// PkgDebugLogFilter drops entries of the named packages which are more verbose than the level.
	PkgDebugLogFilter = map[string]logrus.Level{
		"ledger": InfoLevel,
	}
	// SimpleLog disables the caller hook, "Y" for true, "N" for false. defined in `go build`.
	SimpleLog = "N"
)

// Logger wraps logrus logger type.
type Logger logrus.Logger

// Fields defines the field map to pass to `WithFields`.
type Fields logrus.Fields

// CallerHook attaches the caller position to error level entries.
type CallerHook struct {
	StackLevels []logrus.Level
}

// StandardCallerHook returns the caller hook which dumps stacks on panic and fatal entries.
func StandardCallerHook() *CallerHook {
	if SimpleLog == "Y" {
		return &CallerHook{}
	}

	return &CallerHook{
		StackLevels: []logrus.Level{logrus.PanicLevel, logrus.FatalLevel},
	}
}

// Fire defines hook event handler.
func (hook *CallerHook) Fire(entry *logrus.Entry) error {
	funcDesc, caller := hook.caller(entry)
	fields := strings.SplitN(funcDesc, ".", 2)
	if len(fields) > 0 {
		if level, ok := PkgDebugLogFilter[fields[0]]; ok && entry.Level > level {
			nilLogger := logrus.New()
			nilLogger.Formatter = &NilFormatter{}
			entry.Logger = nilLogger
			return nil
		}
	}
	if caller != "" && entry.Level <= logrus.WarnLevel {
		entry.Data["caller"] = caller
	}
	return nil
}

// Levels define hook applicable level.
func (hook *CallerHook) Levels() []logrus.Level {
	if SimpleLog == "Y" {
		return []logrus.Level{}
	}
	return logrus.AllLevels
}

func (hook *CallerHook) caller(entry *logrus.Entry) (relFuncName, caller string) {
	pcs := make([]uintptr, 16)
	stacks := make([]runtime.Frame, 0, 16)
	if runtime.Callers(4, pcs) > 0 {
		var foundCaller bool
		frames := runtime.CallersFrames(pcs)
		for {
			f, more := frames.Next()
			if !foundCaller && !strings.Contains(f.File, "sirupsen/logrus") &&
				!strings.HasSuffix(filepath.Dir(f.File), "utils/log") {
				relFuncName = strings.TrimPrefix(f.Function, modulePrefix)
				caller = fmt.Sprintf("%s:%d %s", filepath.Base(f.File), f.Line, relFuncName)
				foundCaller = true
			}
			if foundCaller {
				stacks = append(stacks, f)
			}
			if !more {
				break
			}
		}
	}

	for _, level := range hook.StackLevels {
		if entry.Level != level {
			continue
		}
		stacksStr := make([]string, 0, len(stacks))
		for i, s := range stacks {
			if s.Line > 0 {
				fName := strings.TrimPrefix(s.Function, modulePrefix)
				stacksStr = append(stacksStr, fmt.Sprintf("#%d %s@%s:%d", i, fName, filepath.Base(s.File), s.Line))
			}
		}
		entry.Data["stack"] = stacksStr
		break
	}

	return
}

func init() {
	AddHook(StandardCallerHook())
}

// StandardLogger returns the standard logger.
func StandardLogger() *Logger {
	return (*Logger)(logrus.StandardLogger())
}

// SetOutput sets the standard logger output.
func SetOutput(out io.Writer) {
	logrus.SetOutput(out)
}

// SetFormatter sets the standard logger formatter.
func SetFormatter(formatter logrus.Formatter) {
	logrus.SetFormatter(formatter)
}

// SetStringFormat switches the standard logger between "json", "text" and "none" output.
func SetStringFormat(format string) {
	switch strings.ToLower(format) {
	case "json":
		SetFormatter(&logrus.JSONFormatter{})
	case "none":
		SetFormatter(&NilFormatter{})
	default:
		SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// SetLevel sets the standard logger level.
func SetLevel(level logrus.Level) {
	logrus.SetLevel(level)
}

// GetLevel returns the standard logger level.
func GetLevel() logrus.Level {
	return logrus.GetLevel()
}

// ParseLevel parse the level string and returns the logger level.
func ParseLevel(lvl string) (logrus.Level, error) {
	return logrus.ParseLevel(lvl)
}

// SetStringLevel enforce current log level.
func SetStringLevel(lvl string, defaultLevel logrus.Level) {
	if lvl, err := ParseLevel(lvl); err != nil {
		SetLevel(defaultLevel)
	} else {
		SetLevel(lvl)
	}
}

// AddHook adds a hook to the standard logger hooks.
func AddHook(hook logrus.Hook) {
	logrus.AddHook(hook)
}

// WithError creates an entry from the standard logger and adds an error to it.
func WithError(err error) *Entry {
	return WithField(logrus.ErrorKey, err)
}

// WithField creates an entry from the standard logger and adds a field to it.
func WithField(key string, value interface{}) *Entry {
	return (*Entry)(logrus.WithField(key, value))
}

// WithFields creates an entry from the standard logger and adds multiple fields to it.
func WithFields(fields Fields) *Entry {
	return (*Entry)(logrus.WithFields(logrus.Fields(fields)))
}

// Debug logs a message at level Debug on the standard logger.
func Debug(args ...interface{}) {
	logrus.Debug(args...)
}

// Info logs a message at level Info on the standard logger.
func Info(args ...interface{}) {
	logrus.Info(args...)
}

// Warning logs a message at level Warn on the standard logger.
func Warning(args ...interface{}) {
	logrus.Warning(args...)
}

// Error logs a message at level Error on the standard logger.
func Error(args ...interface{}) {
	logrus.Error(args...)
}

// Fatal logs a message at level Fatal on the standard logger.
func Fatal(args ...interface{}) {
	logrus.Fatal(args...)
}

// Debugf logs a message at level Debug on the standard logger.
func Debugf(format string, args ...interface{}) {
	logrus.Debugf(format, args...)
}

// Infof logs a message at level Info on the standard logger.
func Infof(format string, args ...interface{}) {
	logrus.Infof(format, args...)
}

// Warningf logs a message at level Warn on the standard logger.
func Warningf(format string, args ...interface{}) {
	logrus.Warningf(format, args...)
}

// Errorf logs a message at level Error on the standard logger.
func Errorf(format string, args ...interface{}) {
	logrus.Errorf(format, args...)
}

// Fatalf logs a message at level Fatal on the standard logger.
func Fatalf(format string, args ...interface{}) {
	logrus.Fatalf(format, args...)
}
