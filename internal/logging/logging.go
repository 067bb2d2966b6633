// Package logging defines the [slog] levels used by pkgqueue.  Resolution progress is logged at
// [LevelTrace] and [LevelDebug]; broken dependency cycles and solver fallbacks at [LevelNotice].
package logging

import (
	"fmt"
	"log/slog"
	"strings"
)

const (
	LevelTrace   = slog.LevelDebug - 4 // -8
	LevelDebug   = slog.LevelDebug     // -4
	LevelVerbose = slog.LevelDebug + 2 // -2
	LevelInfo    = slog.LevelInfo      // 0
	LevelNotice  = slog.LevelInfo + 2  // 2
	LevelWarn    = slog.LevelWarn      // 4
	LevelError   = slog.LevelError     // 8
	LevelFatal   = slog.LevelError + 4 // 12
)

var levels = []struct {
	lvl  slog.Level
	name string
}{
	{LevelTrace, "trace"},
	{LevelDebug, "debug"},
	{LevelVerbose, "verbose"},
	{LevelInfo, "info"},
	{LevelNotice, "notice"},
	{LevelWarn, "warn"},
	{LevelError, "error"},
	{LevelFatal, "fatal"},
}

// BumpLevel returns lvl bumped to the next higher (more severe) or lower (less severe) named level.
func BumpLevel(lvl slog.Level, lower bool) slog.Level {
	// The named levels are symmetric around 0.
	var orient slog.Level = 1
	if lower {
		orient = -1
		lvl *= orient
	}
	var adj slog.Level = 4
	if LevelDebug+2 <= lvl && lvl < LevelWarn+2 {
		adj = 2
	}
	return (lvl + adj) * orient
}

func StringToLevel(arg string) (slog.Level, error) {
	arg = strings.ToLower(arg)
	names := make([]string, 0, len(levels))
	for _, l := range levels {
		if l.name == arg {
			return l.lvl, nil
		}
		names = append(names, l.name)
	}
	return 0, fmt.Errorf("invalid log level; expected one of: %v", strings.Join(names, ", "))
}

// LevelName returns the name of a named level in upper case, or the [slog.Level] form otherwise.
func LevelName(lvl slog.Level) string {
	for _, l := range levels {
		if l.lvl == lvl {
			return strings.ToUpper(l.name)
		}
	}
	return lvl.String()
}

// ReplaceAttr is a [slog.HandlerOptions] ReplaceAttr function that prints level names such as
// NOTICE instead of INFO+2.
func ReplaceAttr(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 || a.Key != slog.LevelKey {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok {
		a.Value = slog.StringValue(LevelName(lvl))
	}
	return a
}
