// Package discord is the platform adapter: it turns slash commands and
// moderation-channel reactions into orchestrator calls, renders routing
// messages, and delivers notifications. All message parsing (extracting
// requester ids from embeds) lives here; the core never sees rendered text.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/quingcraft/gatekeeper/internal/roles"
	"github.com/quingcraft/gatekeeper/internal/whitelist"
	"github.com/quingcraft/gatekeeper/pkg/models"
)

const (
	emojiApprove = "✅" // white heavy check mark
	emojiReject  = "❌" // cross mark
)

// mentionPattern extracts the requester id embedded in a routing message.
var mentionPattern = regexp.MustCompile(`<@!?(\d+)>`)

// discordSession is the subset of discordgo.Session the adapter uses,
// extracted so tests can substitute a mock.
type discordSession interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	ApplicationCommandBulkOverwrite(appID, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	MessageReactionAdd(channelID, messageID, emoji string, options ...discordgo.RequestOption) error
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

// Orchestrator is the whitelist service surface the adapter drives.
type Orchestrator interface {
	Submit(ctx context.Context, requesterID, target, reason string) (int64, error)
	DecideByMessage(ctx context.Context, messageID, moderatorID string, outcome models.DecisionOutcome) (models.Disposition, error)
	Revoke(ctx context.Context, target, moderatorID string) (bool, error)
	RegisterRoutingMessage(ctx context.Context, requestID int64, requesterID, messageID string) error
}

// AllowList is the direct allow-list surface behind the staff commands.
type AllowList interface {
	Add(ctx context.Context, username string) (bool, error)
	Remove(ctx context.Context, username string) (bool, error)
	Check(ctx context.Context, username string) (bool, error)
}

// Config holds adapter parameters.
type Config struct {
	// Token is the bot token from the Discord developer portal.
	Token string

	// GuildID scopes slash-command registration.
	GuildID string

	// ModChannelID is the moderation channel for routing messages.
	ModChannelID string

	// StaffRoleIDs may decide requests and run staff commands.
	StaffRoleIDs []string

	// HistoryScanLimit bounds moderation-channel scans during rebuild.
	HistoryScanLimit int

	// Logger is an optional slog.Logger instance.
	Logger *slog.Logger
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("token is required")
	}
	if c.ModChannelID == "" {
		return fmt.Errorf("mod channel id is required")
	}
	if c.HistoryScanLimit <= 0 {
		c.HistoryScanLimit = 200
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter connects the orchestrator to Discord.
type Adapter struct {
	config    Config
	session   discordSession
	service   Orchestrator
	allowList AllowList
	resolver  *roles.Resolver
	logger    *slog.Logger

	mu        sync.RWMutex
	botUserID string
	started   bool
}

// NewAdapter creates a Discord adapter.
func NewAdapter(service Orchestrator, allowList AllowList, resolver *roles.Resolver, config Config) (*Adapter, error) {
	if service == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Adapter{
		config:    config,
		service:   service,
		allowList: allowList,
		resolver:  resolver,
		logger:    config.Logger.With("adapter", "discord"),
	}, nil
}

// Start opens the gateway connection and registers event handlers. The
// caller must have completed the approval-index rebuild first: reactions
// start flowing as soon as the connection opens.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return fmt.Errorf("adapter already started")
	}

	if a.session == nil {
		dg, err := discordgo.New("Bot " + a.config.Token)
		if err != nil {
			return fmt.Errorf("create discord session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuilds |
			discordgo.IntentsGuildMessages |
			discordgo.IntentsGuildMessageReactions |
			discordgo.IntentsDirectMessages
		a.session = dg
	}

	a.session.AddHandler(a.handleReady)
	a.session.AddHandler(a.handleInteractionCreate)
	a.session.AddHandler(a.handleReactionAdd)

	if err := a.session.Open(); err != nil {
		return fmt.Errorf("connect to discord: %w", err)
	}
	a.started = true
	a.logger.Info("discord adapter started", "mod_channel", a.config.ModChannelID)
	return nil
}

// Stop closes the gateway connection.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return nil
	}
	a.started = false
	return a.session.Close()
}

func (a *Adapter) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	a.mu.Lock()
	a.botUserID = r.User.ID
	a.mu.Unlock()

	if _, err := a.session.ApplicationCommandBulkOverwrite(r.User.ID, a.config.GuildID, commands()); err != nil {
		a.logger.Error("slash command registration failed", "error", err)
		return
	}
	a.logger.Info("slash commands registered", "guild_id", a.config.GuildID)
}

func commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "whitelist",
			Description: "Request to be added to the server whitelist",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "username",
					Description: "Your Minecraft username (Java Edition)",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "reason",
					Description: "Anything the team should know",
					Required:    false,
				},
			},
		},
		{
			Name:        "qc",
			Description: "Staff whitelist management",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "operation",
					Description: "The operation to run",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "add", Value: "add"},
						{Name: "remove", Value: "remove"},
						{Name: "check", Value: "check"},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "username",
					Description: "Minecraft username",
					Required:    true,
				},
			},
		},
		{
			Name:        "role",
			Description: "Sync your in-game group from your Discord roles",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "username",
					Description: "Your Minecraft username",
					Required:    true,
				},
			},
		},
	}
}

func (a *Adapter) handleInteractionCreate(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// Acknowledge immediately: approvals can poll the game server for
	// tens of seconds, far past the 3s interaction deadline.
	if err := a.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}); err != nil {
		a.logger.Warn("interaction ack failed", "command", data.Name, "error", err)
		return
	}

	var reply string
	switch data.Name {
	case "whitelist":
		reply = a.handleWhitelistCommand(ctx, i, data)
	case "qc":
		reply = a.handleStaffCommand(ctx, i, data)
	case "role":
		reply = a.handleRoleCommand(ctx, i, data)
	default:
		return
	}

	if _, err := a.session.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: reply,
		Flags:   discordgo.MessageFlagsEphemeral,
	}); err != nil {
		a.logger.Warn("interaction reply failed", "command", data.Name, "error", err)
	}
}

func (a *Adapter) handleWhitelistCommand(ctx context.Context, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) string {
	requesterID := interactionUserID(i)
	username := optionValue(data, "username")
	reason := optionValue(data, "reason")

	requestID, err := a.service.Submit(ctx, requesterID, username, reason)
	switch {
	case errors.Is(err, whitelist.ErrInvalidUsername):
		return textInvalidUsername
	case errors.Is(err, whitelist.ErrDuplicateRequester):
		return textRequestPending
	case errors.Is(err, whitelist.ErrDuplicateTarget):
		return textRequestDuplicate
	case err != nil:
		a.logger.Error("submission failed", "requester_id", requesterID, "error", err)
		return textErrorGeneric
	}

	if err := a.postRoutingMessage(ctx, requestID, requesterID, username, reason); err != nil {
		a.logger.Error("routing message failed", "request_id", requestID, "error", err)
	}
	return textRequestSubmitted
}

// postRoutingMessage renders the moderation embed, seeds the decision
// reactions, and registers the message with the orchestrator. The store
// write inside RegisterRoutingMessage is what makes a crash here
// recoverable: the rebuild path can re-extract the requester id from the
// embed we just posted.
func (a *Adapter) postRoutingMessage(ctx context.Context, requestID int64, requesterID, username, reason string) error {
	description := fmt.Sprintf("**Minecraft Username:** %s\n**Discord:** <@%s>", username, requesterID)
	if reason != "" {
		description += fmt.Sprintf("\n**Reason:** %s", reason)
	}
	message, err := a.session.ChannelMessageSendComplex(a.config.ModChannelID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       textModRequestTitle,
			Description: description,
			Color:       0xE67E22,
		}},
	})
	if err != nil {
		return fmt.Errorf("post routing message: %w", err)
	}

	for _, emoji := range []string{emojiApprove, emojiReject} {
		if err := a.session.MessageReactionAdd(a.config.ModChannelID, message.ID, emoji); err != nil {
			a.logger.Warn("seed reaction failed", "message_id", message.ID, "error", err)
		}
	}

	return a.service.RegisterRoutingMessage(ctx, requestID, requesterID, message.ID)
}

func (a *Adapter) handleStaffCommand(ctx context.Context, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) string {
	if !a.isStaff(i.Member) {
		return textErrorPermission
	}
	if a.allowList == nil {
		return textErrorGeneric
	}
	operation := optionValue(data, "operation")
	username := optionValue(data, "username")
	moderatorID := interactionUserID(i)

	switch operation {
	case "add":
		ok, err := a.allowList.Add(ctx, username)
		if err != nil || !ok {
			a.logger.Error("staff add failed", "username", username, "error", err)
			return textErrorRemote
		}
		return fmt.Sprintf(textWhitelistAdded, username)
	case "remove":
		// Revocation goes through the orchestrator so an approved
		// request record transitions to removed alongside the
		// remote mutation.
		revoked, err := a.service.Revoke(ctx, username, moderatorID)
		if err != nil {
			a.logger.Error("revoke failed", "username", username, "error", err)
			return textErrorRemote
		}
		if !revoked {
			// No approved record; fall back to a direct console remove
			// for entries added outside the bot.
			present, err := a.allowList.Check(ctx, username)
			if err != nil {
				return textErrorRemote
			}
			if !present {
				return fmt.Sprintf(textRevokeNothing, username)
			}
			ok, err := a.allowList.Remove(ctx, username)
			if err != nil || !ok {
				a.logger.Error("staff remove failed", "username", username, "error", err)
				return textErrorRemote
			}
		}
		return fmt.Sprintf(textWhitelistRemoved, username)
	case "check":
		present, err := a.allowList.Check(ctx, username)
		if err != nil {
			return textErrorRemote
		}
		if present {
			return fmt.Sprintf(textWhitelistCheckOn, username)
		}
		return fmt.Sprintf(textWhitelistCheckOff, username)
	}
	return textErrorGeneric
}

func (a *Adapter) handleRoleCommand(ctx context.Context, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) string {
	if a.resolver == nil || i.Member == nil {
		return textErrorGeneric
	}
	username := optionValue(data, "username")

	group, ok := a.resolver.Resolve(i.Member.Roles)
	if !ok {
		return textRoleNoneMaps
	}
	applied, err := a.resolver.Apply(ctx, username, group)
	if err != nil {
		a.logger.Error("role apply failed", "username", username, "group", group, "error", err)
		return textErrorRemote
	}
	if !applied {
		return textErrorRemote
	}
	return fmt.Sprintf(textRoleApplied, group, username)
}

func (a *Adapter) handleReactionAdd(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
	a.mu.RLock()
	self := a.botUserID
	a.mu.RUnlock()

	if r.UserID == self || r.ChannelID != a.config.ModChannelID {
		return
	}

	var outcome models.DecisionOutcome
	switch r.Emoji.Name {
	case emojiApprove:
		outcome = models.OutcomeApproved
	case emojiReject:
		outcome = models.OutcomeRejected
	default:
		return
	}

	// The moderator predicate lives here, on the platform side; the
	// orchestrator trusts decision signals it receives.
	if r.Member == nil || !a.isStaff(r.Member) {
		a.logger.Debug("reaction from non-staff ignored",
			"user_id", r.UserID, "message_id", r.MessageID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	_, err := a.service.DecideByMessage(ctx, r.MessageID, r.UserID, outcome)
	switch {
	case err == nil:
	case errors.Is(err, whitelist.ErrAlreadyProcessed):
		a.logger.Debug("duplicate decision signal", "message_id", r.MessageID)
	case errors.Is(err, whitelist.ErrIndexMiss):
		a.logger.Warn("reaction on unmapped message", "message_id", r.MessageID)
	case errors.Is(err, whitelist.ErrRemoteFailure):
		a.logger.Warn("decision blocked by game server", "message_id", r.MessageID, "error", err)
	default:
		a.logger.Error("decision failed", "message_id", r.MessageID, "error", err)
	}
}

func (a *Adapter) isStaff(member *discordgo.Member) bool {
	if member == nil {
		return false
	}
	for _, role := range member.Roles {
		for _, staff := range a.config.StaffRoleIDs {
			if role == staff {
				return true
			}
		}
	}
	return false
}

// NotifyRequester delivers a decision outcome by direct message.
func (a *Adapter) NotifyRequester(ctx context.Context, requesterID string, outcome models.DecisionOutcome, target string) error {
	channel, err := a.session.UserChannelCreate(requesterID)
	if err != nil {
		return fmt.Errorf("open dm channel: %w", err)
	}
	content := textRequestRejected
	if outcome == models.OutcomeApproved {
		content = fmt.Sprintf(textRequestApproved, target)
	}
	if _, err := a.session.ChannelMessageSend(channel.ID, content); err != nil {
		return fmt.Errorf("send dm: %w", err)
	}
	return nil
}

// NotifyModerators posts an escalation to the moderation channel.
func (a *Adapter) NotifyModerators(ctx context.Context, message string) error {
	if _, err := a.session.ChannelMessageSend(a.config.ModChannelID, message); err != nil {
		return fmt.Errorf("notify moderators: %w", err)
	}
	return nil
}

// ScanRoutingMessages walks the moderation channel backwards, extracting
// the requester id from each routing embed this bot posted. Newest first.
func (a *Adapter) ScanRoutingMessages(ctx context.Context, limit int) ([]whitelist.RoutingRef, error) {
	a.mu.RLock()
	self := a.botUserID
	a.mu.RUnlock()

	var (
		refs   []whitelist.RoutingRef
		before string
	)
	remaining := limit
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := remaining
		if page > 100 {
			page = 100
		}
		messages, err := a.session.ChannelMessages(a.config.ModChannelID, page, before, "", "")
		if err != nil {
			return nil, fmt.Errorf("fetch channel history: %w", err)
		}
		if len(messages) == 0 {
			break
		}
		for _, message := range messages {
			before = message.ID
			if self != "" && (message.Author == nil || message.Author.ID != self) {
				continue
			}
			requesterID, ok := extractRequesterID(message)
			if !ok {
				continue
			}
			refs = append(refs, whitelist.RoutingRef{
				MessageID:   message.ID,
				RequesterID: requesterID,
			})
		}
		remaining -= len(messages)
		if len(messages) < page {
			break
		}
	}
	return refs, nil
}

// extractRequesterID pulls the requester mention out of a routing embed.
func extractRequesterID(message *discordgo.Message) (string, bool) {
	for _, embed := range message.Embeds {
		if embed.Title != textModRequestTitle {
			continue
		}
		if m := mentionPattern.FindStringSubmatch(embed.Description); m != nil {
			return m[1], true
		}
	}
	return "", false
}

func optionValue(data discordgo.ApplicationCommandInteractionData, name string) string {
	for _, option := range data.Options {
		if option.Name == name {
			return strings.TrimSpace(option.StringValue())
		}
	}
	return ""
}

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
