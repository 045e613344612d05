// Package logging owns the single process-wide structured logger. Per the
// concurrency model's shared-resource policy, the logger and the config-root
// resolution are the only global mutable state in the gateway; everything
// else is threaded explicitly through the orchestrator instance.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures logger construction. Debug enables debug-level output;
// LogDir is where MCP-mode file logs are written (logs/ under the config
// root, per the persisted-state layout).
type Options struct {
	Debug  bool
	LogDir string
}

var (
	mu      sync.RWMutex
	current *zap.Logger
	mcpMode bool
)

func init() {
	current = zap.NewNop()
}

// Init constructs the process logger from opts and installs it as the
// current global logger. mcpMode starts false (stderr) until SetMCPMode(true)
// is called once the gateway knows it is speaking the wire protocol on
// stdio, matching the teacher's explicit setMCPMode(bool) contract.
func Init(opts Options) (*zap.Logger, error) {
	level := zap.InfoLevel
	if opts.Debug {
		level = zap.DebugLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	stderrCore := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)

	var fileCore zapcore.Core
	if opts.LogDir != "" {
		if err := os.MkdirAll(opts.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		writer := &lumberjack.Logger{
			Filename:   filepath.Join(opts.LogDir, "gateway.log"),
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		}
		fileCore = zapcore.NewCore(encoder, zapcore.AddSync(writer), level)
	}

	mu.Lock()
	defer mu.Unlock()

	logger := zap.New(routingCore{stderr: stderrCore, file: fileCore, mcpMode: &mcpMode}, zap.AddCaller())
	current = logger
	return logger, nil
}

// L returns the current process-wide logger. Safe for concurrent use.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// SetMCPMode switches diagnostic output between the log file (mcp=true,
// because stdout/stdin are the wire protocol and must never receive log
// lines) and stderr (mcp=false, CLI/debug mode).
func SetMCPMode(mcp bool) {
	mu.Lock()
	defer mu.Unlock()
	mcpMode = mcp
}

// routingCore picks between the stderr core and the file core on every log
// call based on the live mcpMode flag, rather than baking the choice in at
// construction time — Init happens before the gateway knows whether it will
// end up speaking stdio, so the routing decision has to be dynamic.
type routingCore struct {
	stderr  zapcore.Core
	file    zapcore.Core
	mcpMode *bool
}

func (r routingCore) active() zapcore.Core {
	if *r.mcpMode && r.file != nil {
		return r.file
	}
	return r.stderr
}

func (r routingCore) Enabled(lvl zapcore.Level) bool { return r.active().Enabled(lvl) }

func (r routingCore) With(fields []zapcore.Field) zapcore.Core {
	return routingCore{stderr: r.stderr.With(fields), file: withOrNil(r.file, fields), mcpMode: r.mcpMode}
}

func (r routingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	return r.active().Check(ent, ce)
}

func (r routingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	return r.active().Write(ent, fields)
}

func (r routingCore) Sync() error {
	if err := r.stderr.Sync(); err != nil {
		return err
	}
	if r.file != nil {
		return r.file.Sync()
	}
	return nil
}

func withOrNil(core zapcore.Core, fields []zapcore.Field) zapcore.Core {
	if core == nil {
		return nil
	}
	return core.With(fields)
}
