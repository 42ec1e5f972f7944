package discord

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/skippy-ai/skippy/pkg/skippy/config"
	"github.com/skippy-ai/skippy/pkg/skippy/ctxitems"
	"github.com/skippy-ai/skippy/pkg/skippy/llm"
)

// CommandDeps are the extra services the slash commands need beyond the
// orchestrator.
type CommandDeps struct {
	LLM    *llm.Client
	Items  *ctxitems.Manager
	Window int // effective context window for /context status
}

// SetCommandDeps wires the slash command dependencies. Call before Start.
func (g *Gateway) SetCommandDeps(deps CommandDeps) { g.deps = deps }

// clearCutoff is Discord's bulk-delete age limit.
const clearCutoff = 14 * 24 * time.Hour

// registerCommands installs the slash command surface on the home guild.
func (g *Gateway) registerCommands() error {
	appID := g.session.State.User.ID
	guildID := g.cfg.Discord.GuildID

	commands := []*discordgo.ApplicationCommand{
		{Name: "stop", Description: "Abort the in-flight request in this channel"},
		{Name: "clear", Description: "Delete recent messages in this channel"},
		{
			Name:        "model",
			Description: "List installed models or switch the default",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "name",
				Description: "Model to switch to (omit to list)",
			}},
		},
		{
			Name:        "loop_limit",
			Description: "Show or change the step limit",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "value",
				Description: fmt.Sprintf("New limit (%d..%d, omit to show)", config.MinLoopLimit, config.MaxLoopLimit),
			}},
		},
		{
			Name:        "context",
			Description: "Manage pinned context files and images",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "action",
					Description: "add | remove | list | status | clear",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "arg",
					Description: "path for add, 1-based index for remove",
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "type",
					Description: "file | image (for add, default file)",
				},
			},
		},
	}

	for _, cmd := range commands {
		if _, err := g.session.ApplicationCommandCreate(appID, guildID, cmd); err != nil {
			return fmt.Errorf("creating /%s: %w", cmd.Name, err)
		}
	}
	return nil
}

func (g *Gateway) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()

	var response string
	switch data.Name {
	case "stop":
		g.orch.Aborts().Request(g.channelName(i.ChannelID))
		g.orch.Aborts().Request(i.ChannelID)
		response = "Stopping."
	case "clear":
		response = g.cmdClear(i.ChannelID)
	case "model":
		response = g.cmdModel(optionString(data, "name"))
	case "loop_limit":
		response = g.cmdLoopLimit(data)
	case "context":
		response = g.cmdContext(data, interactionUser(i))
	default:
		return
	}

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: response},
	})
	if err != nil {
		g.logger.Warn("responding to command", "command", data.Name, "error", err)
	}
}

// cmdClear deletes messages in batches up to the 14-day bulk cutoff.
func (g *Gateway) cmdClear(channelID string) string {
	cutoff := time.Now().Add(-clearCutoff)
	deleted := 0
	for {
		msgs, err := g.session.ChannelMessages(channelID, 100, "", "", "")
		if err != nil {
			return "Could not fetch messages: " + err.Error()
		}
		var ids []string
		for _, msg := range msgs {
			if msg.Timestamp.After(cutoff) {
				ids = append(ids, msg.ID)
			}
		}
		if len(ids) == 0 {
			break
		}
		if err := g.session.ChannelMessagesBulkDelete(channelID, ids); err != nil {
			return fmt.Sprintf("Deleted %d messages, then failed: %v", deleted, err)
		}
		deleted += len(ids)
		if len(msgs) < 100 {
			break
		}
	}
	return fmt.Sprintf("Deleted %d messages.", deleted)
}

// cmdModel lists installed models or switches and persists the default.
func (g *Gateway) cmdModel(name string) string {
	if g.deps.LLM == nil {
		return "Model management is not available."
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if name == "" {
		models, err := g.deps.LLM.ListModels(ctx)
		if err != nil {
			return "Could not list models: " + err.Error()
		}
		var b strings.Builder
		b.WriteString("Installed models (current: " + g.cfg.Ollama.Model + "):\n")
		for _, m := range models {
			fmt.Fprintf(&b, "- %s (%s, %s)\n", m.Name, m.ParamSize, m.Quantization)
		}
		return b.String()
	}

	info, err := g.deps.LLM.Introspect(ctx, name)
	if err != nil {
		return fmt.Sprintf("Model %q not available: %v", name, err)
	}
	g.cfg.Ollama.Model = name
	if err := g.cfg.Save(); err != nil {
		return "Switched for this session, but saving config failed: " + err.Error()
	}
	return fmt.Sprintf("Switched to %s (%s, %s, context %d).",
		info.Name, info.ParamSize, info.Quantization, info.ContextLength)
}

// cmdLoopLimit shows or persists the step limit.
func (g *Gateway) cmdLoopLimit(data discordgo.ApplicationCommandInteractionData) string {
	value := optionInt(data, "value")
	if value == 0 {
		return fmt.Sprintf("Step limit is %d.", g.cfg.Prompt.LoopLimit)
	}
	if value < config.MinLoopLimit || value > config.MaxLoopLimit {
		return fmt.Sprintf("Step limit must be between %d and %d.",
			config.MinLoopLimit, config.MaxLoopLimit)
	}
	g.cfg.Prompt.LoopLimit = value
	if err := g.cfg.Save(); err != nil {
		return "Changed for this session, but saving config failed: " + err.Error()
	}
	return fmt.Sprintf("Step limit set to %d. Takes effect on the next prompt.", value)
}

// cmdContext manages the pinned context list.
func (g *Gateway) cmdContext(data discordgo.ApplicationCommandInteractionData, user string) string {
	items := g.deps.Items
	if items == nil {
		return "Context management is not available."
	}

	action := strings.ToLower(optionString(data, "action"))
	arg := optionString(data, "arg")

	switch action {
	case "add":
		if arg == "" {
			return "Usage: /context add <path> [type]"
		}
		itemType := strings.ToLower(optionString(data, "type"))
		if itemType == "" {
			itemType = ctxitems.TypeFile
		}
		if err := items.Add(itemType, arg, user); err != nil {
			return "Could not add: " + err.Error()
		}
		return "Added " + arg + " to the context."
	case "remove":
		var pos int
		if _, err := fmt.Sscanf(arg, "%d", &pos); err != nil {
			return "Usage: /context remove <1-based index>"
		}
		removed, err := items.Remove(pos)
		if err != nil {
			return "Could not remove: " + err.Error()
		}
		return "Removed " + removed.Path + "."
	case "list":
		list := items.List()
		if len(list) == 0 {
			return "The context list is empty."
		}
		var b strings.Builder
		for i, item := range list {
			fmt.Fprintf(&b, "%d. [%s] %s (added by %s)\n", i+1, item.Type, item.Path, item.AddedBy)
		}
		return b.String()
	case "status":
		list, estTokens := items.Status()
		window := g.deps.Window
		if window <= 0 {
			window = 1
		}
		return fmt.Sprintf("%d items, ~%d tokens (%.1f%% of the %d-token window).",
			len(list), estTokens, float64(estTokens)/float64(window)*100, g.deps.Window)
	case "clear":
		if err := items.Clear(); err != nil {
			return "Could not clear: " + err.Error()
		}
		return "Context cleared."
	default:
		return "Usage: /context <add|remove|list|status|clear>"
	}
}

// ---------- option helpers ----------

func optionString(data discordgo.ApplicationCommandInteractionData, name string) string {
	for _, opt := range data.Options {
		if opt.Name == name && opt.Type == discordgo.ApplicationCommandOptionString {
			return opt.StringValue()
		}
	}
	return ""
}

func optionInt(data discordgo.ApplicationCommandInteractionData, name string) int {
	for _, opt := range data.Options {
		if opt.Name == name && opt.Type == discordgo.ApplicationCommandOptionInteger {
			return int(opt.IntValue())
		}
	}
	return 0
}

func interactionUser(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.Username
	}
	if i.User != nil {
		return i.User.Username
	}
	return ""
}
