package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/afero"
	prettyconsole "github.com/thessem/zap-prettyconsole"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

type LogOpts struct {
	// Verbosity 0 logs at info, 1 or more at debug. At 2 or more, the default module levels are ignored
	// so that chatty modules (such as the pulumi engine output) are shown as well.
	Verbosity       int
	Color           string
	CategoryLogsDir string
	Encoding        string
	DefaultLevels   map[string]zapcore.Level

	// FS is used for category logs. Defaults to the OS filesystem.
	FS afero.Fs
}

func (opts LogOpts) Encoder() zapcore.Encoder {
	switch opts.Encoding {
	case "json":
		if opts.Verbosity > 0 {
			return zapcore.NewJSONEncoder(zap.NewDevelopmentEncoderConfig())
		}
		return zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())

	case "console", "pretty_console", "":
		useColor := term.IsTerminal(int(os.Stderr.Fd()))
		switch opts.Color {
		case "always", "on":
			useColor = true
		case "never", "off":
			useColor = false
		}

		if useColor {
			cfg := prettyconsole.NewEncoderConfig()
			cfg.EncodeTime = TimeOffsetFormatter(time.Now(), useColor)
			return prettyconsole.NewEncoder(cfg)
		}
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = TimeOffsetFormatter(time.Now(), useColor)
		return zapcore.NewConsoleEncoder(cfg)

	default:
		panic(fmt.Errorf("unknown encoding %q", opts.Encoding))
	}
}

// ParseLevels parses a `module=level,module2=level` string, as found in the LOG_LEVEL environment variable.
// Malformed entries are skipped.
func ParseLevels(s string) map[string]zapcore.Level {
	levels := make(map[string]zapcore.Level)
	for _, entry := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		lvl, err := zapcore.ParseLevel(v)
		if err != nil {
			continue
		}
		levels[k] = lvl
	}
	return levels
}

func (opts LogOpts) EntryLeveller(core zapcore.Core) zapcore.Core {
	levels := opts.DefaultLevels
	if opts.Verbosity >= 2 {
		levels = nil
	}
	if levelEnv, ok := os.LookupEnv("LOG_LEVEL"); ok {
		levels = ParseLevels(levelEnv)
	}
	if len(levels) > 0 {
		core = NewEntryLeveller(core, levels)
	}
	return core
}

func (opts LogOpts) CategoryCore(core zapcore.Core) zapcore.Core {
	if opts.CategoryLogsDir == "" {
		return core
	}
	var enc zapcore.Encoder
	switch opts.Encoding {
	case "json":
		enc = zapcore.NewJSONEncoder(zap.NewDevelopmentEncoderConfig())
	default:
		enc = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}
	fs := opts.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return zapcore.NewTee(core, NewCategoryWriter(enc, fs, opts.CategoryLogsDir))
}

func (opts LogOpts) NewCore(w zapcore.WriteSyncer) zapcore.Core {
	leveller := zap.NewAtomicLevelAt(zap.InfoLevel)
	if opts.Verbosity > 0 {
		leveller.SetLevel(zap.DebugLevel)
	}

	core := zapcore.NewCore(opts.Encoder(), w, leveller)
	core = opts.EntryLeveller(core)
	core = opts.CategoryCore(core)
	return core
}

func (opts LogOpts) NewLogger() *zap.Logger {
	return zap.New(opts.NewCore(os.Stderr))
}

// TimeOffsetFormatter returns a time encoder that formats the time as an offset from the start time.
// The setup run takes minutes, so offsets read better than wall clock times.
func TimeOffsetFormatter(start time.Time, color bool) zapcore.TimeEncoder {
	var colStart = "\x1b[90m"
	var colEnd = "\x1b[0m"
	if !color {
		colStart = ""
		colEnd = ""
	}
	return func(t time.Time, e zapcore.PrimitiveArrayEncoder) {
		diff := t.Sub(start)
		switch {
		case diff < time.Second:
			e.AppendString(fmt.Sprintf(" %s%3dms%s", colStart, diff.Milliseconds(), colEnd))
		case diff < 5*time.Minute:
			e.AppendString(fmt.Sprintf("%s%5.1fs%s", colStart, diff.Seconds(), colEnd))
		default:
			e.AppendString(fmt.Sprintf("%s%5.1fm%s", colStart, diff.Minutes(), colEnd))
		}
	}
}
