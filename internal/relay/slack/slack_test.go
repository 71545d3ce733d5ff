package slack

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/zulandar/backchannel/internal/relay"
)

// --- Mock Slack client ---

type mockSlackClient struct {
	mu       sync.Mutex
	authResp *slackapi.AuthTestResponse
	authErr  error
	posted   []postedMessage
	postErrs []error // popped per PostMessage call
	users    map[string]*slackapi.User
	channels map[string]bool // created channel names
	archived []string
	imOpened []string
	groups   map[string][]string // usergroup → members
}

type postedMessage struct {
	channelID string
	options   []slackapi.MsgOption
}

func newMockSlackClient() *mockSlackClient {
	return &mockSlackClient{
		authResp: &slackapi.AuthTestResponse{UserID: "U_BOT"},
		users:    make(map[string]*slackapi.User),
		channels: make(map[string]bool),
		groups:   make(map[string][]string),
	}
}

func (m *mockSlackClient) AuthTest() (*slackapi.AuthTestResponse, error) {
	return m.authResp, m.authErr
}

func (m *mockSlackClient) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.postErrs) > 0 {
		err := m.postErrs[0]
		m.postErrs = m.postErrs[1:]
		if err != nil {
			return "", "", err
		}
	}
	m.posted = append(m.posted, postedMessage{channelID: channelID, options: options})
	return channelID, "1234567890.123456", nil
}

func (m *mockSlackClient) GetUserInfo(userID string) (*slackapi.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		return u, nil
	}
	return &slackapi.User{ID: userID}, nil
}

func (m *mockSlackClient) CreateConversation(params slackapi.CreateConversationParams) (*slackapi.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[params.ChannelName] = params.IsPrivate
	ch := &slackapi.Channel{}
	ch.ID = "C_" + params.ChannelName
	return ch, nil
}

func (m *mockSlackClient) ArchiveConversation(channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archived = append(m.archived, channelID)
	return nil
}

func (m *mockSlackClient) OpenConversation(params *slackapi.OpenConversationParameters) (*slackapi.Channel, bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imOpened = append(m.imOpened, params.Users...)
	ch := &slackapi.Channel{}
	ch.ID = "D_" + params.Users[0]
	return ch, false, false, nil
}

func (m *mockSlackClient) GetUserGroupMembers(userGroup string, options ...slackapi.GetUserGroupMembersOption) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.groups[userGroup]...), nil
}

func (m *mockSlackClient) UpdateUserGroupMembers(userGroup string, members string, options ...slackapi.UpdateUserGroupMembersOption) (slackapi.UserGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[userGroup] = strings.Split(members, ",")
	return slackapi.UserGroup{ID: userGroup}, nil
}

func (m *mockSlackClient) postedChannels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.posted))
	for i, p := range m.posted {
		out[i] = p.channelID
	}
	return out
}

// --- Mock Socket Mode client ---

type mockSocketClient struct {
	events chan socketmode.Event
	acked  int
	mu     sync.Mutex
}

func newMockSocketClient() *mockSocketClient {
	return &mockSocketClient{events: make(chan socketmode.Event, 10)}
}

func (m *mockSocketClient) Run() error                        { return nil }
func (m *mockSocketClient) EventsChan() chan socketmode.Event { return m.events }
func (m *mockSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked++
}

func setupAdapter(t *testing.T) (*Adapter, *mockSlackClient, <-chan relay.Event) {
	t.Helper()
	client := newMockSlackClient()
	socket := newMockSocketClient()
	a, err := New(AdapterOpts{Client: client, Socket: socket})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return a, client, a.inbound
}

func recvEvent(t *testing.T, events <-chan relay.Event) relay.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return relay.Event{}
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(AdapterOpts{AppToken: "xapp-1"}); err == nil {
		t.Error("expected error without bot token or client")
	}
	if _, err := New(AdapterOpts{BotToken: "xoxb-1"}); err == nil {
		t.Error("expected error without app token or socket")
	}
}

func TestConnect_ResolvesBotUserID(t *testing.T) {
	a, _, _ := setupAdapter(t)
	if a.BotUserID() != "U_BOT" {
		t.Errorf("bot user ID = %s", a.BotUserID())
	}
}

func TestHandleMessage_DirectVsChannel(t *testing.T) {
	a, _, events := setupAdapter(t)

	a.handleMessage(&slackevents.MessageEvent{
		Channel:     "D123",
		ChannelType: "im",
		User:        "U1",
		Text:        "hello",
		TimeStamp:   "1700000000.000100",
	})
	ev := recvEvent(t, events)
	if ev.Type != relay.EventDirectMessage {
		t.Errorf("type = %s, want direct message", ev.Type)
	}
	if ev.Message.UserID != "U1" || ev.Message.Text != "hello" {
		t.Errorf("message = %+v", ev.Message)
	}
	if ev.Message.Timestamp.Unix() != 1700000000 {
		t.Errorf("timestamp = %v", ev.Message.Timestamp)
	}

	a.handleMessage(&slackevents.MessageEvent{
		Channel:     "C456",
		ChannelType: "group",
		User:        "U2",
		Text:        "reply",
	})
	ev = recvEvent(t, events)
	if ev.Type != relay.EventChannelMessage || ev.Message.ChannelID != "C456" {
		t.Errorf("event = %+v", ev)
	}
}

func TestHandleMessage_FiltersSelfBotAndSubtypes(t *testing.T) {
	a, _, events := setupAdapter(t)

	a.handleMessage(&slackevents.MessageEvent{Channel: "D1", ChannelType: "im", User: "U_BOT", Text: "echo"})
	a.handleMessage(&slackevents.MessageEvent{Channel: "D1", ChannelType: "im", BotID: "B1", Text: "bot"})
	a.handleMessage(&slackevents.MessageEvent{Channel: "D1", ChannelType: "im", User: "U1", SubType: "message_changed"})

	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestChannelDeleted(t *testing.T) {
	a, _, events := setupAdapter(t)

	a.handleEventsAPI(slackevents.EventsAPIEvent{
		Type: slackevents.CallbackEvent,
		InnerEvent: slackevents.EventsAPIInnerEvent{
			Data: &slackevents.ChannelDeletedEvent{Channel: "C_gone"},
		},
	})
	ev := recvEvent(t, events)
	if ev.Type != relay.EventChannelDeleted || ev.DeletedChannel != "C_gone" {
		t.Errorf("event = %+v", ev)
	}
}

func TestHandleSlashCommand(t *testing.T) {
	a, client, events := setupAdapter(t)
	client.users["U_ADMIN"] = &slackapi.User{ID: "U_ADMIN", IsAdmin: true}

	a.handleSlashCommand(slackapi.SlashCommand{
		Command:   "/bc",
		Text:      "inbox set <#C123|staff-inbox>",
		UserID:    "U_ADMIN",
		ChannelID: "C_origin",
	})

	ev := recvEvent(t, events)
	if ev.Type != relay.EventCommand {
		t.Fatalf("type = %s", ev.Type)
	}
	inv := ev.Command
	if inv.Name != "inbox" || inv.Subcommand != "set" {
		t.Errorf("command = %s %s", inv.Name, inv.Subcommand)
	}
	if inv.Options["channel"] != "C123" {
		t.Errorf("options = %v", inv.Options)
	}
	if !inv.Caps.CanManageRoles() || !inv.Caps.CanManageChannels() {
		t.Error("workspace admins hold both capabilities")
	}

	// The reply lands in the channel the command was typed in.
	if err := a.RespondCommand(context.Background(), inv.Token, "Inbox channel updated."); err != nil {
		t.Fatalf("respond: %v", err)
	}
	if got := client.postedChannels(); len(got) != 1 || got[0] != "C_origin" {
		t.Errorf("posted to %v", got)
	}
	if err := a.RespondCommand(context.Background(), inv.Token, "again"); err == nil {
		t.Error("expected error on reused token")
	}
}

func TestHandleSlashCommand_NonAdminHasNoCaps(t *testing.T) {
	a, _, events := setupAdapter(t)

	a.handleSlashCommand(slackapi.SlashCommand{
		Command:   "/bc",
		Text:      "close quiet-falcon",
		UserID:    "U_PLEB",
		ChannelID: "C_origin",
	})

	inv := recvEvent(t, events).Command
	if inv.Caps.CanManageRoles() || inv.Caps.CanManageChannels() {
		t.Error("non-admin invoker must hold no capabilities")
	}
	if inv.Options["codename"] != "quiet-falcon" {
		t.Errorf("options = %v", inv.Options)
	}
}

func TestHandleSlashCommand_IgnoresOtherCommands(t *testing.T) {
	a, _, events := setupAdapter(t)

	a.handleSlashCommand(slackapi.SlashCommand{Command: "/weather", Text: "tomorrow"})
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestParseCommandText(t *testing.T) {
	cases := []struct {
		text    string
		name    string
		sub     string
		options map[string]string
	}{
		{"blockrole set <!subteam^S99|blocked>", "blockrole", "set", map[string]string{"role": "S99"}},
		{"blockrole unset", "blockrole", "unset", map[string]string{}},
		{"inbox set <#C123|inbox>", "inbox", "set", map[string]string{"channel": "C123"}},
		{"inbox unset", "inbox", "unset", map[string]string{}},
		{"block quiet-falcon", "block", "", map[string]string{"codename": "quiet-falcon"}},
		{"close quiet-falcon", "close", "", map[string]string{"codename": "quiet-falcon"}},
		{"", "", "", map[string]string{}},
		{"   ", "", "", map[string]string{}},
	}
	for _, tc := range cases {
		name, sub, options := parseCommandText(tc.text)
		if name != tc.name || sub != tc.sub || !reflect.DeepEqual(options, tc.options) {
			t.Errorf("parseCommandText(%q) = %q %q %v", tc.text, name, sub, options)
		}
	}
}

func TestUnwrapMention(t *testing.T) {
	cases := map[string]string{
		"<#C123|staff-inbox>":   "C123",
		"<#C123>":               "C123",
		"<@U456>":               "U456",
		"<!subteam^S99|banned>": "S99",
		"C789":                  "C789",
		"plain":                 "plain",
	}
	for in, want := range cases {
		if got := unwrapMention(in); got != want {
			t.Errorf("unwrapMention(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCreateRoomChannel(t *testing.T) {
	a, client, _ := setupAdapter(t)

	id, err := a.CreateRoomChannel(context.Background(), "C_inbox", "quiet-falcon")
	if err != nil {
		t.Fatalf("create room channel: %v", err)
	}
	if id != "C_bc-quiet-falcon" {
		t.Errorf("channel ID = %s", id)
	}

	client.mu.Lock()
	private, created := client.channels["bc-quiet-falcon"]
	client.mu.Unlock()
	if !created || !private {
		t.Error("room channel must be created private")
	}

	// A pointer is announced in the inbox.
	if got := client.postedChannels(); len(got) != 1 || got[0] != "C_inbox" {
		t.Errorf("announced in %v", got)
	}
}

func TestArchiveChannel(t *testing.T) {
	a, client, _ := setupAdapter(t)

	if err := a.ArchiveChannel(context.Background(), "C_room"); err != nil {
		t.Fatalf("archive: %v", err)
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.archived) != 1 || client.archived[0] != "C_room" {
		t.Errorf("archived = %v", client.archived)
	}
}

func TestSendDirect_OpensIM(t *testing.T) {
	a, client, _ := setupAdapter(t)

	if err := a.SendDirect(context.Background(), "U1", "your codename"); err != nil {
		t.Fatalf("send direct: %v", err)
	}
	client.mu.Lock()
	opened := append([]string(nil), client.imOpened...)
	client.mu.Unlock()
	if len(opened) != 1 || opened[0] != "U1" {
		t.Errorf("opened IMs = %v", opened)
	}
	if got := client.postedChannels(); len(got) != 1 || got[0] != "D_U1" {
		t.Errorf("posted to %v", got)
	}
}

func TestGrantRoleIsIdempotent(t *testing.T) {
	a, client, _ := setupAdapter(t)

	if err := a.GrantRole(context.Background(), "U1", "S_blocked"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := a.GrantRole(context.Background(), "U1", "S_blocked"); err != nil {
		t.Fatalf("second grant: %v", err)
	}

	client.mu.Lock()
	members := append([]string(nil), client.groups["S_blocked"]...)
	client.mu.Unlock()
	if len(members) != 1 || members[0] != "U1" {
		t.Errorf("members = %v", members)
	}

	held, err := a.HasRole(context.Background(), "U1", "S_blocked")
	if err != nil || !held {
		t.Errorf("has role = %v, %v", held, err)
	}
	held, err = a.HasRole(context.Background(), "U2", "S_blocked")
	if err != nil || held {
		t.Errorf("stranger has role = %v, %v", held, err)
	}
}

func TestEscapeText(t *testing.T) {
	a, _, _ := setupAdapter(t)

	got := a.EscapeText("<@U1> says 1 < 2 & 3 > 2")
	want := "&lt;@U1&gt; says 1 &lt; 2 &amp; 3 &gt; 2"
	if got != want {
		t.Errorf("EscapeText = %q, want %q", got, want)
	}
}

func TestRetryOnRateLimit(t *testing.T) {
	a, client, _ := setupAdapter(t)
	rateLimited := &slackapi.RateLimitedError{RetryAfter: time.Millisecond}
	client.mu.Lock()
	client.postErrs = []error{rateLimited, rateLimited}
	client.mu.Unlock()

	if err := a.SendChannel(context.Background(), "C1", "eventually"); err != nil {
		t.Fatalf("send after rate limits: %v", err)
	}
	if got := client.postedChannels(); len(got) != 1 {
		t.Errorf("posted = %v", got)
	}
}

func TestSendAfterClose(t *testing.T) {
	a, _, _ := setupAdapter(t)
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := a.SendChannel(context.Background(), "C1", "late"); err == nil {
		t.Error("expected error after close")
	}
}
