package hooks

import (
	"runtime/debug"
	"strings"

	log "github.com/sirupsen/logrus"
)

// contextHook annotates every entry with the file:line of the logging call site.
type contextHook struct {
	// trim is the path element after which the caller's path is kept.
	trim string
}

func NewContextHook() contextHook {
	return contextHook{trim: "nodeplan/"}
}

func (hook contextHook) Levels() []log.Level {
	return log.AllLevels
}

func (hook contextHook) Fire(entry *log.Entry) error {
	if loc := hook.callSite(debug.Stack()); loc != "" {
		entry.Data["file:line"] = loc
	}
	return nil
}

// callSite walks a goroutine stack dump and returns the first frame below logrus itself.
// Stack dumps alternate function lines and "\tfile:line +0x.." lines.
func (hook contextHook) callSite(stack []byte) string {
	lines := strings.Split(string(stack), "\n")
	inLogrus := false
	for i := 1; i+1 < len(lines); i += 2 {
		fn := lines[i]
		if strings.Contains(fn, "sirupsen/logrus") {
			inLogrus = true
			continue
		}
		if !inLogrus {
			continue
		}
		loc := strings.TrimSpace(lines[i+1])
		if idx := strings.LastIndex(loc, " +0x"); idx >= 0 {
			loc = loc[:idx]
		}
		parts := strings.Split(loc, hook.trim)
		return parts[len(parts)-1]
	}
	return ""
}
