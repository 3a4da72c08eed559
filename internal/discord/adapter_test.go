package discord

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/quingcraft/gatekeeper/internal/whitelist"
	"github.com/quingcraft/gatekeeper/pkg/models"
)

type mockSession struct {
	mu sync.Mutex

	sentComplex   []*discordgo.MessageSend
	sentChannels  []string
	sentMessages  []string
	reactions     []string
	followups     []string
	dmChannels    map[string]string
	history       []*discordgo.Message
	historyErr    error
	historyCalls  int
	nextMessageID int
}

func newMockSession() *mockSession {
	return &mockSession{dmChannels: map[string]string{}, nextMessageID: 1000}
}

func (m *mockSession) Open() error  { return nil }
func (m *mockSession) Close() error { return nil }
func (m *mockSession) AddHandler(handler interface{}) func() {
	return func() {}
}

func (m *mockSession) ApplicationCommandBulkOverwrite(appID, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error) {
	return commands, nil
}

func (m *mockSession) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	return nil
}

func (m *mockSession) FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.followups = append(m.followups, data.Content)
	return &discordgo.Message{}, nil
}

func (m *mockSession) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentChannels = append(m.sentChannels, channelID)
	m.sentMessages = append(m.sentMessages, content)
	return &discordgo.Message{}, nil
}

func (m *mockSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentComplex = append(m.sentComplex, data)
	m.nextMessageID++
	return &discordgo.Message{ID: fmt.Sprintf("msg-%d", m.nextMessageID)}, nil
}

func (m *mockSession) ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.historyCalls++
	if m.historyErr != nil {
		return nil, m.historyErr
	}
	if beforeID != "" {
		// Single-page histories in these tests.
		return nil, nil
	}
	if limit < len(m.history) {
		return m.history[:limit], nil
	}
	return m.history, nil
}

func (m *mockSession) MessageReactionAdd(channelID, messageID, emoji string, options ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactions = append(m.reactions, emoji)
	return nil
}

func (m *mockSession) UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := "dm-" + recipientID
	m.dmChannels[recipientID] = id
	return &discordgo.Channel{ID: id}, nil
}

type mockOrchestrator struct {
	mu sync.Mutex

	submitID    int64
	submitErr   error
	submissions []string

	decisions  []string
	decideErr  error
	registered []string

	revoked   bool
	revokeErr error
}

func (o *mockOrchestrator) Submit(ctx context.Context, requesterID, target, reason string) (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.submissions = append(o.submissions, requesterID+":"+target)
	return o.submitID, o.submitErr
}

func (o *mockOrchestrator) DecideByMessage(ctx context.Context, messageID, moderatorID string, outcome models.DecisionOutcome) (models.Disposition, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.decisions = append(o.decisions, messageID+":"+string(outcome))
	return models.Disposition{Outcome: outcome}, o.decideErr
}

func (o *mockOrchestrator) Revoke(ctx context.Context, target, moderatorID string) (bool, error) {
	return o.revoked, o.revokeErr
}

func (o *mockOrchestrator) RegisterRoutingMessage(ctx context.Context, requestID int64, requesterID, messageID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.registered = append(o.registered, fmt.Sprintf("%d:%s:%s", requestID, requesterID, messageID))
	return nil
}

func newTestAdapter(t *testing.T, session *mockSession, service Orchestrator) *Adapter {
	t.Helper()
	adapter, err := NewAdapter(service, nil, nil, Config{
		Token:        "test-token",
		ModChannelID: "mod-1",
		StaffRoleIDs: []string{"staff-role"},
	})
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	adapter.session = session
	adapter.botUserID = "bot-1"
	return adapter
}

func routingEmbed(requesterID string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       textModRequestTitle,
		Description: fmt.Sprintf("**Minecraft Username:** Steve\n**Discord:** <@%s>", requesterID),
	}
}

func TestExtractRequesterID(t *testing.T) {
	tests := []struct {
		name    string
		message *discordgo.Message
		want    string
		ok      bool
	}{
		{
			name:    "plain mention",
			message: &discordgo.Message{Embeds: []*discordgo.MessageEmbed{routingEmbed("42")}},
			want:    "42",
			ok:      true,
		},
		{
			name: "nickname mention form",
			message: &discordgo.Message{Embeds: []*discordgo.MessageEmbed{{
				Title:       textModRequestTitle,
				Description: "requested by <@!77>",
			}}},
			want: "77",
			ok:   true,
		},
		{
			name: "unrelated embed ignored",
			message: &discordgo.Message{Embeds: []*discordgo.MessageEmbed{{
				Title:       "Server status",
				Description: "<@99> restarted the server",
			}}},
			ok: false,
		},
		{
			name:    "no embeds",
			message: &discordgo.Message{Content: "<@13>"},
			ok:      false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractRequesterID(tt.message)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("extractRequesterID = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func whitelistInteraction(requesterID, username, reason string) *discordgo.InteractionCreate {
	options := []*discordgo.ApplicationCommandInteractionDataOption{
		{Name: "username", Type: discordgo.ApplicationCommandOptionString, Value: username},
	}
	if reason != "" {
		options = append(options, &discordgo.ApplicationCommandInteractionDataOption{
			Name: "reason", Type: discordgo.ApplicationCommandOptionString, Value: reason,
		})
	}
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type: discordgo.InteractionApplicationCommand,
		Data: discordgo.ApplicationCommandInteractionData{
			Name:    "whitelist",
			Options: options,
		},
		Member: &discordgo.Member{User: &discordgo.User{ID: requesterID}},
	}}
}

func TestWhitelistCommandPostsRoutingMessage(t *testing.T) {
	session := newMockSession()
	service := &mockOrchestrator{submitID: 7}
	adapter := newTestAdapter(t, session, service)

	i := whitelistInteraction("101", "Steve", "friend of Alex")
	data := i.ApplicationCommandData()
	reply := adapter.handleWhitelistCommand(context.Background(), i, data)

	if reply != textRequestSubmitted {
		t.Fatalf("reply = %q", reply)
	}
	if len(session.sentComplex) != 1 {
		t.Fatalf("routing messages posted = %d, want 1", len(session.sentComplex))
	}
	embed := session.sentComplex[0].Embeds[0]
	if embed.Title != textModRequestTitle {
		t.Errorf("embed title = %q", embed.Title)
	}
	if got, ok := extractRequesterID(&discordgo.Message{Embeds: []*discordgo.MessageEmbed{embed}}); !ok || got != "101" {
		t.Errorf("posted embed does not round-trip the requester id: (%q, %v)", got, ok)
	}
	if len(session.reactions) != 2 || session.reactions[0] != emojiApprove || session.reactions[1] != emojiReject {
		t.Errorf("seeded reactions = %v", session.reactions)
	}
	if len(service.registered) != 1 {
		t.Fatalf("registered = %v, want one routing registration", service.registered)
	}
}

func TestWhitelistCommandMapsServiceErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"invalid username", whitelist.ErrInvalidUsername, textInvalidUsername},
		{"own pending request", whitelist.ErrDuplicateRequester, textRequestPending},
		{"target already requested", whitelist.ErrDuplicateTarget, textRequestDuplicate},
		{"storage failure", fmt.Errorf("disk full"), textErrorGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := newMockSession()
			service := &mockOrchestrator{submitErr: tt.err}
			adapter := newTestAdapter(t, session, service)

			i := whitelistInteraction("user-1", "Steve", "")
			reply := adapter.handleWhitelistCommand(context.Background(), i, i.ApplicationCommandData())
			if reply != tt.want {
				t.Fatalf("reply = %q, want %q", reply, tt.want)
			}
			if len(session.sentComplex) != 0 {
				t.Fatal("routing message posted for a failed submission")
			}
		})
	}
}

func reaction(userID, channelID, messageID, emoji string, roles []string) *discordgo.MessageReactionAdd {
	return &discordgo.MessageReactionAdd{
		MessageReaction: &discordgo.MessageReaction{
			UserID:    userID,
			ChannelID: channelID,
			MessageID: messageID,
			Emoji:     discordgo.Emoji{Name: emoji},
		},
		Member: &discordgo.Member{User: &discordgo.User{ID: userID}, Roles: roles},
	}
}

func TestReactionRoutesDecisions(t *testing.T) {
	tests := []struct {
		name     string
		reaction *discordgo.MessageReactionAdd
		want     []string
	}{
		{
			name:     "staff approval",
			reaction: reaction("mod-9", "mod-1", "msg-5", emojiApprove, []string{"staff-role"}),
			want:     []string{"msg-5:approved"},
		},
		{
			name:     "staff rejection",
			reaction: reaction("mod-9", "mod-1", "msg-5", emojiReject, []string{"staff-role"}),
			want:     []string{"msg-5:rejected"},
		},
		{
			name:     "non-staff ignored",
			reaction: reaction("user-2", "mod-1", "msg-5", emojiApprove, []string{"member"}),
		},
		{
			name:     "bot's own seed reaction ignored",
			reaction: reaction("bot-1", "mod-1", "msg-5", emojiApprove, []string{"staff-role"}),
		},
		{
			name:     "other channel ignored",
			reaction: reaction("mod-9", "general", "msg-5", emojiApprove, []string{"staff-role"}),
		},
		{
			name:     "unrelated emoji ignored",
			reaction: reaction("mod-9", "mod-1", "msg-5", "👍", []string{"staff-role"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := &mockOrchestrator{}
			adapter := newTestAdapter(t, newMockSession(), service)

			adapter.handleReactionAdd(nil, tt.reaction)

			if len(service.decisions) != len(tt.want) {
				t.Fatalf("decisions = %v, want %v", service.decisions, tt.want)
			}
			for i := range tt.want {
				if service.decisions[i] != tt.want[i] {
					t.Fatalf("decisions = %v, want %v", service.decisions, tt.want)
				}
			}
		})
	}
}

func TestReactionToleratesStaleSignals(t *testing.T) {
	service := &mockOrchestrator{decideErr: whitelist.ErrAlreadyProcessed}
	adapter := newTestAdapter(t, newMockSession(), service)

	// Must not panic or notify; the duplicate signal is simply dropped.
	adapter.handleReactionAdd(nil, reaction("mod-9", "mod-1", "msg-5", emojiApprove, []string{"staff-role"}))

	if len(service.decisions) != 1 {
		t.Fatalf("decisions = %v", service.decisions)
	}
}

func TestScanRoutingMessages(t *testing.T) {
	session := newMockSession()
	session.history = []*discordgo.Message{
		{ID: "m-30", Author: &discordgo.User{ID: "bot-1"}, Embeds: []*discordgo.MessageEmbed{routingEmbed("3")}},
		{ID: "m-20", Author: &discordgo.User{ID: "someone"}, Embeds: []*discordgo.MessageEmbed{routingEmbed("9")}},
		{ID: "m-10", Author: &discordgo.User{ID: "bot-1"}, Content: "plain chatter"},
		{ID: "m-05", Author: &discordgo.User{ID: "bot-1"}, Embeds: []*discordgo.MessageEmbed{routingEmbed("1")}},
	}
	adapter := newTestAdapter(t, session, &mockOrchestrator{})

	refs, err := adapter.ScanRoutingMessages(context.Background(), 50)
	if err != nil {
		t.Fatalf("ScanRoutingMessages: %v", err)
	}
	want := []whitelist.RoutingRef{
		{MessageID: "m-30", RequesterID: "3"},
		{MessageID: "m-05", RequesterID: "1"},
	}
	if len(refs) != len(want) {
		t.Fatalf("refs = %v, want %v", refs, want)
	}
	for i := range want {
		if refs[i] != want[i] {
			t.Fatalf("refs[%d] = %v, want %v", i, refs[i], want[i])
		}
	}
}

func TestScanRoutingMessagesHonorsLimit(t *testing.T) {
	session := newMockSession()
	for i := 0; i < 5; i++ {
		session.history = append(session.history, &discordgo.Message{
			ID:     fmt.Sprintf("m-%d", 100-i),
			Author: &discordgo.User{ID: "bot-1"},
			Embeds: []*discordgo.MessageEmbed{routingEmbed(fmt.Sprintf("%d", i))},
		})
	}
	adapter := newTestAdapter(t, session, &mockOrchestrator{})

	refs, err := adapter.ScanRoutingMessages(context.Background(), 3)
	if err != nil {
		t.Fatalf("ScanRoutingMessages: %v", err)
	}
	if len(refs) != 3 {
		t.Fatalf("refs = %d, want the scan capped at 3", len(refs))
	}
}

func TestNotifyRequesterSendsDM(t *testing.T) {
	session := newMockSession()
	adapter := newTestAdapter(t, session, &mockOrchestrator{})

	if err := adapter.NotifyRequester(context.Background(), "user-1", models.OutcomeApproved, "Steve"); err != nil {
		t.Fatalf("NotifyRequester: %v", err)
	}
	if session.dmChannels["user-1"] == "" {
		t.Fatal("no DM channel opened")
	}
	if len(session.sentMessages) != 1 || session.sentChannels[0] != "dm-user-1" {
		t.Fatalf("messages = %v on %v", session.sentMessages, session.sentChannels)
	}
	if session.sentMessages[0] != fmt.Sprintf(textRequestApproved, "Steve") {
		t.Fatalf("dm content = %q", session.sentMessages[0])
	}
}

func TestNotifyModeratorsPostsToModChannel(t *testing.T) {
	session := newMockSession()
	adapter := newTestAdapter(t, session, &mockOrchestrator{})

	if err := adapter.NotifyModerators(context.Background(), "escalation"); err != nil {
		t.Fatalf("NotifyModerators: %v", err)
	}
	if len(session.sentChannels) != 1 || session.sentChannels[0] != "mod-1" {
		t.Fatalf("channels = %v", session.sentChannels)
	}
}

func TestIsStaff(t *testing.T) {
	adapter := newTestAdapter(t, newMockSession(), &mockOrchestrator{})

	if adapter.isStaff(nil) {
		t.Error("nil member counted as staff")
	}
	if adapter.isStaff(&discordgo.Member{Roles: []string{"member"}}) {
		t.Error("unprivileged member counted as staff")
	}
	if !adapter.isStaff(&discordgo.Member{Roles: []string{"member", "staff-role"}}) {
		t.Error("staff member not recognized")
	}
}
