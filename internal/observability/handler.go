// File: internal/observability/handler.go
package observability

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap/zapcore"
)

// LineHandler receives every rendered log line in addition to the default
// outputs. A host process (e.g. a desktop front end) installs one to mirror
// engine logs into its own view. Handlers must not block and must not panic.
type LineHandler func(line string)

// activeHandler holds the single installed handler, or nil.
var activeHandler atomic.Pointer[LineHandler]

// InstallLineHandler registers h as the active log line handler. Exactly one
// handler may be active at a time; install at run start, uninstall at run end.
func InstallLineHandler(h LineHandler) error {
	if h == nil {
		return fmt.Errorf("line handler must not be nil")
	}
	if !activeHandler.CompareAndSwap(nil, &h) {
		return fmt.Errorf("a line handler is already installed")
	}
	return nil
}

// UninstallLineHandler removes the active handler, if any.
func UninstallLineHandler() {
	activeHandler.Store(nil)
}

// handlerCore is a zapcore.Core that forwards rendered entries to the active
// LineHandler. It is part of the core tee built during Initialize, so the
// handler sees exactly what the console sees, but it consults the handler
// slot at write time so installation can happen after logger setup.
type handlerCore struct {
	zapcore.LevelEnabler
	enc zapcore.Encoder
}

func newHandlerCore(enc zapcore.Encoder, enab zapcore.LevelEnabler) zapcore.Core {
	return &handlerCore{LevelEnabler: enab, enc: enc}
}

func (c *handlerCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &handlerCore{LevelEnabler: c.LevelEnabler, enc: c.enc.Clone()}
	for i := range fields {
		fields[i].AddTo(clone.enc)
	}
	return clone
}

func (c *handlerCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) && activeHandler.Load() != nil {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *handlerCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	h := activeHandler.Load()
	if h == nil {
		return nil
	}
	buf, err := c.enc.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	defer buf.Free()
	line := buf.String()
	// Strip the trailing newline the encoder appends.
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}
	(*h)(line)
	return nil
}

func (c *handlerCore) Sync() error { return nil }
