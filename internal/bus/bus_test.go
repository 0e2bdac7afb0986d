package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/whitelister/internal/domain"
	"github.com/ernie/whitelister/internal/whitelist"
)

func runServer(t *testing.T) string {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   server.RANDOM_PORT,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns.ClientURL()
}

type fakeHandler struct {
	loginErr error
}

func (f *fakeHandler) HandleMessage(_ context.Context, msg domain.ChatMessage) (whitelist.Outcome, bool) {
	if msg.Text != "whitelist Notch" {
		return whitelist.Outcome{}, false
	}
	return whitelist.Outcome{Status: whitelist.StatusAccepted, Reply: "ok", Degraded: true}, true
}

func (f *fakeHandler) CheckLogin(_ context.Context, id domain.LoginIdentity) (domain.LoginDecision, error) {
	if f.loginErr != nil {
		return domain.LoginDecision{}, f.loginErr
	}
	if id.DisplayName == "Notch" {
		return domain.LoginDecision{Allowed: true, Key: "java:notch"}, nil
	}
	return domain.LoginDecision{Reason: "not whitelisted"}, nil
}

func setup(t *testing.T, h Handler) (*Bus, *nats.Conn) {
	t.Helper()
	url := runServer(t)

	b, err := Connect(url, "test")
	require.NoError(t, err)
	t.Cleanup(b.Close)
	require.NoError(t, b.Serve(context.Background(), h))

	client, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return b, client
}

func request(t *testing.T, nc *nats.Conn, subject string, v any, out any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	msg, err := nc.Request(subject, data, 2*time.Second)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(msg.Data, out))
}

func TestBus_Chat(t *testing.T) {
	b, client := setup(t, &fakeHandler{})
	assert.True(t, b.Connected())

	var reply domain.ChatReply
	request(t, client, "test.chat", domain.ChatMessage{Text: "whitelist Notch", AuthorID: "1"}, &reply)
	assert.True(t, reply.Handled)
	assert.Equal(t, "accepted", reply.Status)
	assert.Equal(t, "ok", reply.Reply)
	assert.True(t, reply.Degraded)

	reply = domain.ChatReply{}
	request(t, client, "test.chat", domain.ChatMessage{Text: "hello"}, &reply)
	assert.False(t, reply.Handled)
	assert.Empty(t, reply.Reply)
}

func TestBus_Login(t *testing.T) {
	_, client := setup(t, &fakeHandler{})

	var d domain.LoginDecision
	request(t, client, "test.login", domain.LoginIdentity{DisplayName: "Notch"}, &d)
	assert.True(t, d.Allowed)

	d = domain.LoginDecision{}
	request(t, client, "test.login", domain.LoginIdentity{DisplayName: "Herobrine"}, &d)
	assert.False(t, d.Allowed)
	assert.Equal(t, "not whitelisted", d.Reason)
}

func TestBus_Errors(t *testing.T) {
	_, client := setup(t, &fakeHandler{loginErr: errors.New("service not started")})

	msg, err := client.Request("test.chat", []byte("{not json"), 2*time.Second)
	require.NoError(t, err)
	var e errorReply
	require.NoError(t, json.Unmarshal(msg.Data, &e))
	assert.Contains(t, e.Error, "invalid chat message")

	e = errorReply{}
	request(t, client, "test.login", domain.LoginIdentity{DisplayName: "x"}, &e)
	assert.Equal(t, "service not started", e.Error)
}

func TestBus_PublishEvent(t *testing.T) {
	b, client := setup(t, &fakeHandler{})

	sub, err := client.SubscribeSync("test.events.>")
	require.NoError(t, err)
	require.NoError(t, client.Flush())

	rec := domain.NewJavaRecord("Notch", uuid.Nil, "1", time.Now())
	require.NoError(t, b.PublishEvent(domain.Event{
		Type:      domain.EventMemberAdded,
		Timestamp: time.Now(),
		Data:      domain.MemberEvent{Member: rec, Source: domain.SourceChat},
	}))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "test.events.member_added", msg.Subject)

	var got struct {
		Event string `json:"event"`
		Data  struct {
			Member domain.MemberView `json:"member"`
			Source string            `json:"source"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "member_added", got.Event)
	assert.Equal(t, "Notch", got.Data.Member.Username)
	assert.Equal(t, domain.SpaceJava, got.Data.Member.Kind)
	assert.Equal(t, "chat", got.Data.Source)
}
