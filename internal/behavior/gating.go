package behavior

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/YounitedCredit/younited-genaibots-sub001/internal/messaging"
)

type command int

const (
	commandNone command = iota
	commandBreak
	commandStart
	commandClearQueue
)

// gate holds the admission rules applied before anything is queued.
type gate struct {
	requireMentionNew    bool
	requireMentionThread bool
	breakKeyword         string
	startKeyword         string
	clearKeyword         string
	channels             []glob.Glob
}

func newGate(s Settings) (*gate, error) {
	g := &gate{
		requireMentionNew:    s.RequireMentionNewMessage,
		requireMentionThread: s.RequireMentionThreadMessage,
		breakKeyword:         strings.TrimSpace(s.BreakKeyword),
		startKeyword:         strings.TrimSpace(s.StartKeyword),
		clearKeyword:         strings.TrimSpace(s.ClearQueueKeyword),
	}
	for _, pattern := range s.AllowedChannels {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		compiled, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("allowed channel pattern %q: %w", pattern, err)
		}
		g.channels = append(g.channels, compiled)
	}
	return g, nil
}

func (g *gate) channelAllowed(channelID string) bool {
	if len(g.channels) == 0 {
		return true
	}
	for _, c := range g.channels {
		if c.Match(channelID) {
			return true
		}
	}
	return false
}

func (g *gate) command(text string) command {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return commandNone
	case g.breakKeyword != "" && strings.EqualFold(text, g.breakKeyword):
		return commandBreak
	case g.startKeyword != "" && strings.EqualFold(text, g.startKeyword):
		return commandStart
	case g.clearKeyword != "" && strings.EqualFold(text, g.clearKeyword):
		return commandClearQueue
	default:
		return commandNone
	}
}

// mentionSatisfied applies the mention rule for new messages or thread replies. Direct
// messages never need a mention.
func (g *gate) mentionSatisfied(event messaging.IncomingEvent) bool {
	if event.IsMention || event.IsDirect {
		return true
	}
	if event.IsThreadReply() {
		return !g.requireMentionThread
	}
	return !g.requireMentionNew
}
