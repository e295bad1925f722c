package bot

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// ConfirmEmoji is the reaction that confirms a destructive command.
const ConfirmEmoji = "✅"

type pendingConfirm struct {
	userID string
	done   chan struct{}
}

// confirmations tracks messages waiting for their author's reaction.
type confirmations struct {
	mu      sync.Mutex
	pending map[string]pendingConfirm
}

func newConfirmations() *confirmations {
	return &confirmations{pending: make(map[string]pendingConfirm)}
}

func (c *confirmations) add(messageID, userID string) <-chan struct{} {
	done := make(chan struct{}, 1)
	c.mu.Lock()
	c.pending[messageID] = pendingConfirm{userID: userID, done: done}
	c.mu.Unlock()
	return done
}

func (c *confirmations) remove(messageID string) {
	c.mu.Lock()
	delete(c.pending, messageID)
	c.mu.Unlock()
}

func (c *confirmations) resolve(messageID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[messageID]
	if !ok || p.userID != userID {
		return
	}
	select {
	case p.done <- struct{}{}:
	default:
	}
}

// awaitConfirmation adds the confirm reaction to msg and waits for userID to react with it.
func (b *Bot) awaitConfirmation(ctx context.Context, msg *discordgo.Message, userID string, timeout time.Duration) bool {
	done := b.confirm.add(msg.ID, userID)
	defer b.confirm.remove(msg.ID)

	if err := b.session.MessageReactionAdd(msg.ChannelID, msg.ID, ConfirmEmoji); err != nil {
		b.log.Warn("add confirmation reaction", "channel_id", msg.ChannelID, "error", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (b *Bot) onReaction(r *discordgo.MessageReactionAdd) {
	if r.Emoji.Name != ConfirmEmoji || r.UserID == b.self() {
		return
	}
	b.confirm.resolve(r.MessageID, r.UserID)
}
