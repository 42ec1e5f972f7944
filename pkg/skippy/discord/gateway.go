// Package discord implements the chat gateway using discordgo.
//
// The platform is the conversation store: on every inbound message the
// gateway fetches recent channel history from the Discord API and hands
// it to the orchestrator as prompt prefix. Nothing is buffered locally.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/skippy-ai/skippy/pkg/skippy/config"
	"github.com/skippy-ai/skippy/pkg/skippy/orchestrator"
)

// messageLimit is Discord's per-message character cap.
const messageLimit = 2000

// typingInterval refreshes the typing indicator; Discord drops it
// after ~10s of silence.
const typingInterval = 8 * time.Second

// abortPhrases trigger an abort of the in-flight prompt chain.
var abortPhrases = map[string]bool{
	"stop": true, "abort": true, "cancel": true,
	"stop it": true, "never mind": true, "nevermind": true,
}

// statusPatterns identify the gateway's own status bubbles when
// filtering fetched history.
var statusPatterns = []string{
	"thinking…", "processing step", "running ", "done",
}

// Gateway is the Discord frontend.
type Gateway struct {
	cfg     *config.Config
	orch    *orchestrator.Orchestrator
	logger  *slog.Logger
	session *discordgo.Session
	deps    CommandDeps

	// humanCounts caches visible-human membership per channel.
	mu          sync.Mutex
	humanCounts map[string]int
}

// New creates the gateway. Start opens the connection.
func New(cfg *config.Config, orch *orchestrator.Orchestrator, logger *slog.Logger) *Gateway {
	return &Gateway{
		cfg:         cfg,
		orch:        orch,
		logger:      logger.With("component", "discord"),
		humanCounts: map[string]int{},
	}
}

// Start opens the gateway WebSocket and registers handlers and slash
// commands.
func (g *Gateway) Start() error {
	if g.cfg.Discord.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	session, err := discordgo.New("Bot " + g.cfg.Discord.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMembers

	session.AddHandler(g.onMessageCreate)
	session.AddHandler(g.onInteractionCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}
	g.session = session

	user := session.State.User
	g.logger.Info("connected", "bot", user.Username, "id", user.ID)

	if err := g.registerCommands(); err != nil {
		g.logger.Warn("registering slash commands", "error", err)
	}
	return nil
}

// Stop closes the gateway connection.
func (g *Gateway) Stop() error {
	if g.session != nil {
		return g.session.Close()
	}
	return nil
}

// ---------- tools.MessageSender ----------

// SendMessage delivers text to a channel, resolving names to ids, and
// chunks to the platform limit.
func (g *Gateway) SendMessage(_ context.Context, channel, text string) error {
	if g.session == nil {
		return fmt.Errorf("discord: not connected")
	}
	id := g.resolveChannel(channel)
	if id == "" {
		return fmt.Errorf("discord: unknown channel %q", channel)
	}
	for _, chunk := range splitMessage(text, messageLimit) {
		if _, err := g.session.ChannelMessageSend(id, chunk); err != nil {
			return err
		}
	}
	return nil
}

// ChannelNames lists the text channels of the home guild.
func (g *Gateway) ChannelNames() []string {
	if g.session == nil || g.cfg.Discord.GuildID == "" {
		return nil
	}
	channels, err := g.session.GuildChannels(g.cfg.Discord.GuildID)
	if err != nil {
		g.logger.Warn("listing guild channels", "error", err)
		return nil
	}
	var names []string
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildText {
			names = append(names, ch.Name)
		}
	}
	return names
}

// resolveChannel maps a name or id onto a channel id.
func (g *Gateway) resolveChannel(channel string) string {
	if _, err := g.session.State.Channel(channel); err == nil {
		return channel
	}
	if g.cfg.Discord.GuildID == "" {
		return channel
	}
	channels, err := g.session.GuildChannels(g.cfg.Discord.GuildID)
	if err != nil {
		return ""
	}
	name := strings.TrimPrefix(strings.ToLower(channel), "#")
	for _, ch := range channels {
		if strings.ToLower(ch.Name) == name {
			return ch.ID
		}
	}
	// Fall back to treating the input as an id.
	return channel
}

// ---------- ingress ----------

func (g *Gateway) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.ID == s.State.User.ID || m.Author.Bot {
		return
	}

	if !g.shouldRespond(s, m) {
		return
	}

	// Strip the mention that triggered us.
	content := stripMention(strings.TrimSpace(m.Content), s.State.User.ID)
	if content == "" {
		return
	}

	// Abort requests go through the same gate as prompts, so a bystander's
	// "stop" in a shared channel never touches the running chain. Chains
	// are keyed by channel name; the id covers DMs.
	if isAbortPhrase(content) {
		g.orch.Aborts().Request(g.channelName(m.ChannelID))
		g.orch.Aborts().Request(m.ChannelID)
		g.reply(m.ChannelID, "Stopping.")
		return
	}

	go g.handlePrompt(m, content)
}

// shouldRespond implements the ingress gate: DMs always, mentions in
// multi-member channels, everything in a single-human channel.
func (g *Gateway) shouldRespond(s *discordgo.Session, m *discordgo.MessageCreate) bool {
	if m.GuildID == "" {
		return true
	}
	for _, u := range m.Mentions {
		if u.ID == s.State.User.ID {
			return true
		}
	}
	return g.humanMembers(m.ChannelID, m.GuildID) == 1
}

// humanMembers counts the visible non-bot members of a channel,
// resolving through the guild member list and caching the result.
func (g *Gateway) humanMembers(channelID, guildID string) int {
	g.mu.Lock()
	if n, ok := g.humanCounts[channelID]; ok {
		g.mu.Unlock()
		return n
	}
	g.mu.Unlock()

	count := 0
	members, err := g.session.GuildMembers(guildID, "", 1000)
	if err != nil {
		g.logger.Warn("fetching guild members", "error", err)
		return -1
	}
	for _, member := range members {
		if member.User == nil || member.User.Bot {
			continue
		}
		perms, err := g.session.UserChannelPermissions(member.User.ID, channelID)
		if err != nil {
			continue
		}
		if perms&discordgo.PermissionViewChannel != 0 {
			count++
		}
	}

	g.mu.Lock()
	g.humanCounts[channelID] = count
	g.mu.Unlock()
	return count
}

// handlePrompt runs one prompt chain with typing refresh and status
// bubbles, then delivers the answer.
func (g *Gateway) handlePrompt(m *discordgo.MessageCreate, content string) {
	channelName := g.channelName(m.ChannelID)

	prompt := content
	if history := g.fetchHistory(m.ChannelID, m.ID); history != "" {
		prompt = "Recent conversation:\n" + history + "\n\nCurrent request: " + content
	}

	stopTyping := g.startTyping(m.ChannelID)
	defer stopTyping()

	sink := &statusSink{gateway: g, channelID: m.ChannelID}

	var imageSources []string
	for _, att := range m.Attachments {
		if strings.HasPrefix(att.ContentType, "image/") {
			imageSources = append(imageSources, att.URL)
		}
	}

	answer, err := g.orch.Run(context.Background(), orchestrator.Request{
		Prompt:       prompt,
		Channel:      channelName,
		User:         m.Author.Username,
		Status:       sink,
		ImageSources: imageSources,
	})
	stopTyping()

	if err != nil {
		if err == orchestrator.ErrChannelBusy {
			g.reply(m.ChannelID, "I'm still working on the previous request here. Say \"stop\" to abort it.")
			return
		}
		g.logger.Error("prompt failed", "channel", channelName, "error", err)
		g.reply(m.ChannelID, "Something went wrong: "+err.Error())
		sink.cleanup()
		return
	}

	if answer != "" {
		g.reply(m.ChannelID, answer)
		// Status bubbles disappear only once a real answer replaced them.
		sink.cleanup()
	}
}

// fetchHistory pulls the recent channel messages, filters the gateway's
// own status bubbles, and formats author: content lines oldest-first.
func (g *Gateway) fetchHistory(channelID, beforeID string) string {
	limit := g.cfg.Discord.MessageHistoryLimit
	msgs, err := g.session.ChannelMessages(channelID, limit, beforeID, "", "")
	if err != nil {
		g.logger.Warn("fetching history", "error", err)
		return ""
	}

	var lines []string
	// The API returns newest-first.
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		if msg.Content == "" || isStatusBubble(msg.Content) {
			continue
		}
		lines = append(lines, msg.Author.Username+": "+msg.Content)
	}
	return strings.Join(lines, "\n")
}

func isStatusBubble(content string) bool {
	for _, p := range statusPatterns {
		if strings.HasPrefix(content, p) {
			return true
		}
	}
	return false
}

// startTyping refreshes the typing indicator until the returned stop
// function is called.
func (g *Gateway) startTyping(channelID string) func() {
	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(typingInterval)
		defer ticker.Stop()
		g.session.ChannelTyping(channelID)
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				g.session.ChannelTyping(channelID)
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

// reply sends text, chunked to the platform limit.
func (g *Gateway) reply(channelID, text string) {
	for _, chunk := range splitMessage(text, messageLimit) {
		if _, err := g.session.ChannelMessageSend(channelID, chunk); err != nil {
			g.logger.Warn("sending reply", "error", err)
			return
		}
	}
}

// channelName resolves an id to a name, falling back to the id for DMs.
func (g *Gateway) channelName(channelID string) string {
	ch, err := g.session.State.Channel(channelID)
	if err != nil {
		ch, err = g.session.Channel(channelID)
	}
	if err == nil && ch.Name != "" {
		return ch.Name
	}
	return channelID
}

// ---------- status bubbles ----------

// statusSink posts progress messages and remembers them for deletion
// once the final answer lands.
type statusSink struct {
	gateway   *Gateway
	channelID string

	mu  sync.Mutex
	ids []string
}

func (s *statusSink) Status(text string) {
	msg, err := s.gateway.session.ChannelMessageSend(s.channelID, text)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.ids = append(s.ids, msg.ID)
	s.mu.Unlock()
}

// cleanup deletes every recorded status bubble.
func (s *statusSink) cleanup() {
	s.mu.Lock()
	ids := s.ids
	s.ids = nil
	s.mu.Unlock()
	for _, id := range ids {
		if err := s.gateway.session.ChannelMessageDelete(s.channelID, id); err != nil {
			s.gateway.logger.Debug("deleting status bubble", "error", err)
		}
	}
}

// ---------- helpers ----------

// isAbortPhrase reports whether a message is a bare stop request,
// tolerating trailing punctuation.
func isAbortPhrase(content string) bool {
	return abortPhrases[strings.ToLower(strings.TrimRight(content, ".!"))]
}

// stripMention removes the bot mention from the message text.
func stripMention(content, botID string) string {
	for _, form := range []string{"<@" + botID + ">", "<@!" + botID + ">"} {
		content = strings.ReplaceAll(content, form, "")
	}
	return strings.TrimSpace(content)
}

// splitMessage chunks text to the platform limit, preferring newline
// boundaries.
func splitMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}
