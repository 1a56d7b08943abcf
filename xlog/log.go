// Package xlog wraps glog the way transport.Stream does in the teacher
// (leveled, package-scoped trace lines gated by glog.FastV), so the transfer
// engine's state transitions and governor rollovers are traceable without
// paying string-formatting cost when verbosity is low.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package xlog

import "github.com/golang/glog"

// Level mirrors glog's verbosity levels used for the per-object trace lines
// in the teacher's transport package (glog.FastV(4, ...)).
type Level glog.Level

const (
	// LevelState traces controller state transitions.
	LevelState Level = 2
	// LevelIO traces individual read/write/governor-tick events; noisy.
	LevelIO Level = 4
)

// V gates a trace statement on verbosity exactly like glog.V, so callers
// write xlog.V(xlog.LevelIO).Infof(...) the way transport/send.go writes
// glog.FastV(4, glog.SmoduleTransport).
func V(level Level) glog.Verbose { return glog.V(glog.Level(level)) }

func Infof(format string, args ...any)    { glog.Infof(format, args...) }
func Warningf(format string, args ...any) { glog.Warningf(format, args...) }
func Errorf(format string, args ...any)   { glog.Errorf(format, args...) }
func Flush()                              { glog.Flush() }
