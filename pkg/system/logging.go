// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package system

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the CLI logger. Logs go to w (stderr when nil) so they
// never mix with command output. Verbose enables debug level with a
// development encoder; otherwise only warnings and errors are printed.
func NewLogger(verbose bool, w io.Writer) *zap.SugaredLogger {
	if w == nil {
		w = os.Stderr
	}
	level := zapcore.WarnLevel
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = ""
	if verbose {
		level = zapcore.DebugLevel
		encCfg = zap.NewDevelopmentEncoderConfig()
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), level)
	return zap.New(core).Sugar()
}

// OrNop returns log, or a no-op logger when log is nil.
func OrNop(log *zap.SugaredLogger) *zap.SugaredLogger {
	if log == nil {
		return zap.NewNop().Sugar()
	}
	return log
}

// AccountFields returns key/value pairs identifying an account for
// Infow/Debugw calls. Token values are never part of it.
func AccountFields(name, hash string) []interface{} {
	if name == "" || name == hash {
		return []interface{}{"hash", hash}
	}
	return []interface{}{"account", name, "hash", hash}
}
