package logging

import (
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap/zapcore"
)

// CategoryWriter is a zapcore.Core which writes every named entry to a per-category file, where the category
// is the first segment of the logger name. For example, "warehouse.sql" is written to `warehouse.log`.
type CategoryWriter struct {
	Encoder zapcore.Encoder
	Dir     string
	FS      afero.Fs

	files *sync.Map // map[string]afero.File
}

func NewCategoryWriter(enc zapcore.Encoder, fs afero.Fs, dir string) *CategoryWriter {
	return &CategoryWriter{
		Encoder: enc,
		Dir:     dir,
		FS:      fs,
		files:   &sync.Map{},
	}
}

func (c *CategoryWriter) Enabled(zapcore.Level) bool {
	return true
}

func (c *CategoryWriter) With(fields []zapcore.Field) zapcore.Core {
	clone := &CategoryWriter{
		Encoder: c.Encoder.Clone(),
		Dir:     c.Dir,
		FS:      c.FS,
		files:   c.files,
	}
	for i := range fields {
		fields[i].AddTo(clone.Encoder)
	}
	return clone
}

func (c *CategoryWriter) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	return ce.AddCore(ent, c)
}

func (c *CategoryWriter) file(category string) (afero.File, error) {
	if f, ok := c.files.Load(category); ok {
		return f.(afero.File), nil
	}
	if err := c.FS.MkdirAll(c.Dir, 0755); err != nil {
		return nil, err
	}
	f, err := c.FS.Create(filepath.Join(c.Dir, category+".log"))
	if err != nil {
		return nil, err
	}
	existing, loaded := c.files.LoadOrStore(category, f)
	if loaded {
		// Lost the race; the winner already truncated the file.
		f.Close()
		return existing.(afero.File), nil
	}
	return f, nil
}

func (c *CategoryWriter) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	category, rest, _ := strings.Cut(ent.LoggerName, ".")
	category = strings.ReplaceAll(strings.TrimSpace(category), string(filepath.Separator), "_")
	if category == "" {
		return nil
	}
	ent.LoggerName = rest

	f, err := c.file(category)
	if err != nil {
		return err
	}
	buf, err := c.Encoder.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	defer buf.Free()
	if _, err := io.Writer(f).Write(buf.Bytes()); err != nil {
		return err
	}
	if ent.Level > zapcore.ErrorLevel {
		return f.Sync()
	}
	return nil
}

func (c *CategoryWriter) Sync() error {
	var errs error
	c.files.Range(func(_, value any) bool {
		errs = errors.Join(errs, value.(afero.File).Sync())
		return true
	})
	return errs
}

func (c *CategoryWriter) Close() error {
	var errs error
	c.files.Range(func(key, value any) bool {
		errs = errors.Join(errs, value.(afero.File).Close())
		c.files.Delete(key)
		return true
	})
	return errs
}
