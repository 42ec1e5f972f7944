// discordsend.go lets the model send messages to arbitrary channels,
// decoupled from the gateway through the MessageSender interface.
package tools

import (
	"context"
)

// MessageSender abstracts chat egress. Implemented by the Discord
// gateway; a stub implementation serves headless (IPC-only) runs.
type MessageSender interface {
	// SendMessage delivers text to a channel, resolving the channel by
	// id or name. Long text is chunked by the implementation.
	SendMessage(ctx context.Context, channel, text string) error

	// ChannelNames lists the channels the sender can reach.
	ChannelNames() []string
}

// DiscordSendTool sends a message through the gateway.
type DiscordSendTool struct {
	sender MessageSender
}

// NewDiscordSendTool creates the send tool.
func NewDiscordSendTool(sender MessageSender) *DiscordSendTool {
	return &DiscordSendTool{sender: sender}
}

func (t *DiscordSendTool) Name() string { return "discord_send" }
func (t *DiscordSendTool) Init() error  { return nil }

func (t *DiscordSendTool) KnownArgs() []string {
	return []string{"channel", "message", "text"}
}

func (t *DiscordSendTool) Run(ctx context.Context, args map[string]any) Result {
	if fail := requireArgs(args, "channel"); fail != nil {
		return fail
	}
	text := strArg(args, "message")
	if text == "" {
		text = strArg(args, "text")
	}
	if text == "" {
		return Errorf("missing required parameter %q", "message")
	}

	channel := strArg(args, "channel")
	if err := t.sender.SendMessage(ctx, channel, text); err != nil {
		return Errorf("sending to %s: %v", channel, err)
	}
	return OK(map[string]any{"channel": channel, "sent": len(text)})
}

func (t *DiscordSendTool) Context() string {
	return `Send a chat message. {channel: string (name or id), message: string}
→ {success, sent}`
}
