package logging

import (
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

// EntryLeveller is a zapcore.Core that applies a minimum level per logger name. Names are dot separated
// (e.g. "deploy.cfn") and the most specific configured prefix wins, so "deploy=warn" quiets both
// "deploy.cfn" and "deploy.pulumi".
type EntryLeveller struct {
	zapcore.Core

	levels   map[string]zapcore.Level
	resolved *sync.Map // map[string]zapcore.Level, cache of logger name -> effective level
}

func NewEntryLeveller(core zapcore.Core, levels map[string]zapcore.Level) *EntryLeveller {
	lv := make(map[string]zapcore.Level, len(levels))
	for k, v := range levels {
		lv[k] = v
	}
	return &EntryLeveller{Core: core, levels: lv, resolved: &sync.Map{}}
}

func (el *EntryLeveller) With(f []zapcore.Field) zapcore.Core {
	return &EntryLeveller{
		Core:     el.Core.With(f),
		levels:   el.levels,
		resolved: el.resolved,
	}
}

// levelFor returns the configured level for the logger name and whether any configured prefix matched.
func (el *EntryLeveller) levelFor(name string) (zapcore.Level, bool) {
	if v, ok := el.resolved.Load(name); ok {
		m := v.(levelMatch)
		return m.level, m.found
	}
	var m levelMatch
	parts := strings.Split(name, ".")
	for i := len(parts); i > 0; i-- {
		if lvl, ok := el.levels[strings.Join(parts[:i], ".")]; ok {
			m = levelMatch{level: lvl, found: true}
			break
		}
	}
	if !m.found {
		if lvl, ok := el.levels[""]; ok {
			m = levelMatch{level: lvl, found: true}
		}
	}
	el.resolved.Store(name, m)
	return m.level, m.found
}

type levelMatch struct {
	level zapcore.Level
	found bool
}

func (el *EntryLeveller) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	lvl, ok := el.levelFor(e.LoggerName)
	if !ok {
		return el.Core.Check(e, ce)
	}
	if e.Level < lvl {
		return ce
	}
	return ce.AddCore(e, el)
}
