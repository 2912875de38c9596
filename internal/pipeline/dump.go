package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/myaa/internal/domain"
	"github.com/ashureev/myaa/internal/store"
)

// DumpTextLimit caps the rendered dump, matching chat platforms' message size.
const DumpTextLimit = 1900

const dumpTruncatedMarker = "\n… (truncated)"

// SessionDump describes one live session for diagnostics.
type SessionDump struct {
	SessionID    uint64           `json:"session_id"`
	SessionKey   string           `json:"session_key"`
	StateID      string           `json:"state_id"`
	ResponderID  string           `json:"responder_id,omitempty"`
	Status       domain.Status    `json:"status"`
	Current      string           `json:"current_message,omitempty"`
	ThreadMemory []domain.Message `json:"thread_memory"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Dump lists every session with a live bound state, ordered by session ID.
func Dump(cache *store.Cache) []SessionDump {
	bindings := cache.Bindings()
	out := make([]SessionDump, 0, len(bindings))
	for _, b := range bindings {
		d := SessionDump{
			SessionID:    uint64(b.Session),
			SessionKey:   b.Key,
			StateID:      b.State.ID,
			ResponderID:  b.State.ResponderID,
			Status:       b.State.Status,
			ThreadMemory: b.State.Context.ThreadMemory,
			UpdatedAt:    b.State.UpdatedAt,
		}
		if b.State.Context.Current != nil {
			d.Current = b.State.Context.Current.DisplayText()
		}
		out = append(out, d)
	}
	return out
}

// FormatDump renders sessions as plain text, cut to DumpTextLimit characters.
func FormatDump(sessions []SessionDump) string {
	if len(sessions) == 0 {
		return "(no live sessions)"
	}

	var b strings.Builder
	for _, s := range sessions {
		fmt.Fprintf(&b, "Session %d (%s)\n", s.SessionID, s.SessionKey)
		fmt.Fprintf(&b, "  state: %s [%s]", s.StateID, s.Status)
		if s.ResponderID != "" {
			fmt.Fprintf(&b, " responder=%s", s.ResponderID)
		}
		b.WriteString("\n")
		if s.Current != "" {
			fmt.Fprintf(&b, "  current: %s\n", s.Current)
		}
		if len(s.ThreadMemory) == 0 {
			b.WriteString("  memory: (empty)\n")
			continue
		}
		b.WriteString("  memory:\n")
		for _, m := range s.ThreadMemory {
			fmt.Fprintf(&b, "    - %s\n", m.DisplayText())
		}
	}
	return truncateRunes(strings.TrimRight(b.String(), "\n"), DumpTextLimit)
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + dumpTruncatedMarker
}
