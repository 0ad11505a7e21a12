package dispatch

import (
	"fmt"
	"time"

	"github.com/blocklog/blocklog/internal/host"
	"github.com/blocklog/blocklog/pkg/types"
)

// Messenger sends a single line of text to an actor.
type Messenger interface {
	Send(actorID, line string)
}

// MessengerFunc adapts a function to Messenger.
type MessengerFunc func(actorID, line string)

// Send calls f.
func (f MessengerFunc) Send(actorID, line string) { f(actorID, line) }

// TextReporter renders history as plain text lines for hosts that only
// have a chat channel.
type TextReporter struct {
	out Messenger
	loc *time.Location
}

var _ host.Reporter = (*TextReporter)(nil)

// NewTextReporter renders timestamps in loc; nil means local time.
func NewTextReporter(out Messenger, loc *time.Location) *TextReporter {
	if loc == nil {
		loc = time.Local
	}
	return &TextReporter{out: out, loc: loc}
}

// Message implements host.Reporter.
func (r *TextReporter) Message(actorID, text string) {
	r.out.Send(actorID, text)
}

// History implements host.Reporter.
func (r *TextReporter) History(actorID string, pos types.BlockPos, entries []types.LogEntry, txns []types.ContainerTransaction) {
	for _, line := range HistoryLines(pos, entries, txns, r.loc) {
		r.out.Send(actorID, line)
	}
}

// HistoryLines formats a history report.
func HistoryLines(pos types.BlockPos, entries []types.LogEntry, txns []types.ContainerTransaction, loc *time.Location) []string {
	lines := []string{fmt.Sprintf("[History] (%d, %d, %d):", pos.X, pos.Y, pos.Z)}
	if len(entries) == 0 && len(txns) == 0 {
		return append(lines, "No logged actions for this block.")
	}

	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("[%s] %s %s %s (%s)",
			e.Time().In(loc).Format(time.DateTime),
			e.ActorName, actionLabel(e.Action), e.Material, e.Cause))
	}
	for _, t := range txns {
		lines = append(lines, fmt.Sprintf("[%s] %s %+d %s",
			time.UnixMilli(t.CreatedAt).In(loc).Format(time.DateTime),
			t.ActorName, t.Delta, t.ItemType))
	}
	return lines
}

func actionLabel(a types.ActionKind) string {
	if a == types.ActionInteraction {
		return "INTERACTED"
	}
	return a.String()
}
