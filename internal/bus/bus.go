// Package bus connects platform adapters to the whitelist service over NATS.
// Adapters send chat messages and login checks as requests and receive
// member events to keep their native allow-lists in sync.
//
// Subjects, for prefix "whitelister":
//
//	whitelister.chat            request: domain.ChatMessage    reply: domain.ChatReply
//	whitelister.login           request: domain.LoginIdentity  reply: domain.LoginDecision
//	whitelister.events.<type>   published domain.Event
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ernie/whitelister/internal/domain"
	"github.com/ernie/whitelister/internal/whitelist"
)

const (
	queueGroup     = "whitelister"
	requestTimeout = 15 * time.Second
)

// Handler is the part of the service the bus dispatches to
type Handler interface {
	HandleMessage(ctx context.Context, msg domain.ChatMessage) (whitelist.Outcome, bool)
	CheckLogin(ctx context.Context, id domain.LoginIdentity) (domain.LoginDecision, error)
}

type errorReply struct {
	Error string `json:"error"`
}

// Bus is a NATS connection serving the adapter subjects
type Bus struct {
	nc     *nats.Conn
	prefix string

	mu   sync.Mutex
	subs []*nats.Subscription
	wg   sync.WaitGroup // in-flight request handlers
}

// Connect dials the NATS server at url. The connection keeps reconnecting
// in the background if the server goes away.
func Connect(url, prefix string) (*Bus, error) {
	nc, err := nats.Connect(url,
		nats.Name("whitelister"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	return &Bus{nc: nc, prefix: prefix}, nil
}

// Subject returns the full subject for a suffix
func (b *Bus) Subject(suffix string) string {
	return b.prefix + "." + suffix
}

// Serve subscribes the chat and login subjects. Each request is handled on
// its own goroutine; ctx bounds every handler.
func (b *Bus) Serve(ctx context.Context, h Handler) error {
	chat, err := b.nc.QueueSubscribe(b.Subject("chat"), queueGroup, func(msg *nats.Msg) {
		b.dispatch(func() { b.handleChat(ctx, h, msg) })
	})
	if err != nil {
		return fmt.Errorf("subscribing chat: %w", err)
	}

	login, err := b.nc.QueueSubscribe(b.Subject("login"), queueGroup, func(msg *nats.Msg) {
		b.dispatch(func() { b.handleLogin(ctx, h, msg) })
	})
	if err != nil {
		chat.Unsubscribe()
		return fmt.Errorf("subscribing login: %w", err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, chat, login)
	b.mu.Unlock()

	// make sure the server has the subscriptions before adapters send
	if err := b.nc.Flush(); err != nil {
		return fmt.Errorf("flushing subscriptions: %w", err)
	}
	log.Printf("NATS: serving %s and %s", b.Subject("chat"), b.Subject("login"))
	return nil
}

func (b *Bus) dispatch(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

func (b *Bus) handleChat(ctx context.Context, h Handler, msg *nats.Msg) {
	var chat domain.ChatMessage
	if err := json.Unmarshal(msg.Data, &chat); err != nil {
		b.respond(msg, errorReply{Error: "invalid chat message: " + err.Error()})
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	out, handled := h.HandleMessage(reqCtx, chat)
	b.respond(msg, whitelist.NewChatReply(out, handled))
}

func (b *Bus) handleLogin(ctx context.Context, h Handler, msg *nats.Msg) {
	var id domain.LoginIdentity
	if err := json.Unmarshal(msg.Data, &id); err != nil {
		b.respond(msg, errorReply{Error: "invalid login identity: " + err.Error()})
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	decision, err := h.CheckLogin(reqCtx, id)
	if err != nil {
		b.respond(msg, errorReply{Error: err.Error()})
		return
	}
	b.respond(msg, decision)
}

func (b *Bus) respond(msg *nats.Msg, v any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("NATS: encoding reply: %v", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		log.Printf("NATS: sending reply: %v", err)
	}
}

// PublishEvent sends ev on <prefix>.events.<type>
func (b *Bus) PublishEvent(ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := b.nc.Publish(b.Subject("events."+ev.Type), data); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}
	return nil
}

// Connected reports whether the connection is currently up
func (b *Bus) Connected() bool {
	return b.nc.IsConnected()
}

// Close unsubscribes, waits for in-flight handlers and closes the connection
func (b *Bus) Close() {
	b.mu.Lock()
	for _, sub := range b.subs {
		if err := sub.Unsubscribe(); err != nil {
			log.Printf("NATS: unsubscribing %s: %v", sub.Subject, err)
		}
	}
	b.subs = nil
	b.mu.Unlock()

	b.wg.Wait()
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
	}
}
