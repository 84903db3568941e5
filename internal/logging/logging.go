// Package logging installs the process-wide apex/log handler.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
)

// EnvLevel names the variable read by Init.
const EnvLevel = "STEPCACHE_LOG"

// Init installs a Handler on stderr with the level taken from STEPCACHE_LOG,
// falling back to fallback when it is unset or unparsable.
func Init(fallback string) {
	level, err := log.ParseLevel(strings.ToLower(os.Getenv(EnvLevel)))
	if err != nil {
		level, err = log.ParseLevel(strings.ToLower(fallback))
		if err != nil {
			level = log.InfoLevel
		}
	}
	log.SetHandler(NewHandler(os.Stderr))
	log.SetLevel(level)
}

// Handler writes one line per entry: timestamp, level initial, message and
// the entry's fields sorted by name.
type Handler struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

func NewHandler(w io.Writer) *Handler {
	return &Handler{w: w, now: time.Now}
}

func (h *Handler) HandleLog(e *log.Entry) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %.1s %s", h.now().Format("2006-01-02 15:04:05"), strings.ToUpper(e.Level.String()), e.Message)

	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, " %s=%v", name, e.Fields.Get(name))
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}
