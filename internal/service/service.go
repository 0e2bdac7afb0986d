// Package service owns the process-wide whitelist runtime: the active
// configuration, the membership store, the request processor and the login
// gate. Reload swaps the whole runtime between requests.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ernie/whitelister/internal/config"
	"github.com/ernie/whitelister/internal/domain"
	"github.com/ernie/whitelister/internal/metrics"
	"github.com/ernie/whitelister/internal/resolver"
	"github.com/ernie/whitelister/internal/storage"
	"github.com/ernie/whitelister/internal/whitelist"
)

var ErrNotStarted = errors.New("service not started")

// Options tunes construction. Zero values are fine.
type Options struct {
	// ConfigPath is re-read by Reload. Empty means reload the current config.
	ConfigPath string
	Metrics    *metrics.Metrics
	// Resolver overrides the resolver built from config
	Resolver resolver.Resolver
}

// runtime is everything derived from one configuration. Requests pin the
// runtime they started on through inflight; retiring takes the write side,
// which waits for those requests to finish.
type runtime struct {
	cfg       *config.Config
	store     storage.Store
	parser    *whitelist.Parser
	processor *whitelist.Processor
	gate      *whitelist.Gate
	loadedAt  time.Time

	inflight sync.RWMutex
	retired  bool // guarded by inflight
}

func (rt *runtime) release() {
	rt.inflight.RUnlock()
}

// Service handles chat requests, login checks and operator commands
type Service struct {
	opts   Options
	events chan domain.Event

	// active is read lock-free by every request; lifecycle serializes
	// Start, Stop and Reload
	active    atomic.Pointer[runtime]
	lifecycle sync.Mutex

	mu        sync.RWMutex // guards cfg and startedAt
	cfg       *config.Config
	startedAt time.Time
}

// Status is a point-in-time summary for operators
type Status struct {
	Running       bool       `json:"running"`
	ChatIntake    bool       `json:"chat_intake"`
	StorageType   string     `json:"storage_type"`
	Members       int        `json:"members"`
	Java          int        `json:"java"`
	Bedrock       int        `json:"bedrock"`
	LoginEnforced bool       `json:"login_enforced"`
	StartedAt     time.Time  `json:"started_at"`
	LastReload    *time.Time `json:"last_reload,omitempty"`
}

// MemberSummary renders "N (J Java, B Bedrock)"
func (s Status) MemberSummary() string {
	return fmt.Sprintf("%d (%d Java, %d Bedrock)", s.Members, s.Java, s.Bedrock)
}

// New creates a stopped service for cfg
func New(cfg *config.Config, opts Options) *Service {
	return &Service{
		opts:   opts,
		cfg:    cfg,
		events: make(chan domain.Event, 100),
	}
}

// Events returns the member event channel for the live feed and the bus
func (s *Service) Events() <-chan domain.Event {
	return s.events
}

// Config returns the active configuration
func (s *Service) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// acquire pins the active runtime for one request. It never waits on a
// runtime being retired: the pointer is swapped before the write lock is
// taken, so a failed TryRLock means a replacement is already in place.
func (s *Service) acquire() (*runtime, error) {
	for {
		rt := s.active.Load()
		if rt == nil {
			return nil, ErrNotStarted
		}
		if rt.inflight.TryRLock() {
			if !rt.retired {
				return rt, nil
			}
			rt.inflight.RUnlock()
		}
	}
}

// retire waits for requests still running on old, then closes its store
// unless next carries the same one forward
func (s *Service) retire(old, next *runtime) {
	old.inflight.Lock()
	old.retired = true
	old.inflight.Unlock()

	if next != nil && next.store == old.store {
		return
	}
	if err := old.store.Close(); err != nil {
		log.Printf("Error closing store: %v", err)
	}
}

// Start initializes the store and makes the service accept requests
func (s *Service) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.active.Load() != nil {
		return errors.New("service already started")
	}

	rt, err := s.build(ctx, s.Config(), nil)
	if err != nil {
		return err
	}
	s.active.Store(rt)

	s.mu.Lock()
	s.startedAt = rt.loadedAt
	s.mu.Unlock()
	s.refreshMembers(ctx, rt)

	log.Printf("Whitelist service started (storage: %s)", rt.cfg.Storage.Type)
	return nil
}

// Stop closes the store. In-flight requests finish first.
func (s *Service) Stop() {
	log.Println("Whitelist service: stopping...")
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	old := s.active.Swap(nil)
	if old == nil {
		return
	}
	s.retire(old, nil)
	log.Println("Whitelist service: shutdown complete")
}

// Reload re-reads the configuration file (or reuses the current config) and
// swaps in a freshly built runtime. On any failure the previous runtime and
// configuration stay active.
func (s *Service) Reload(ctx context.Context) error {
	cfg := s.Config()
	if s.opts.ConfigPath != "" {
		loaded, err := config.Load(s.opts.ConfigPath)
		if err != nil {
			log.Printf("Reload failed, keeping previous configuration: %v", err)
			s.opts.Metrics.IncrementReload(false)
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}
	return s.ReloadWith(ctx, cfg)
}

// ReloadWith swaps in a runtime built from cfg. New requests move to it at
// once; the call returns after requests still running on the previous
// runtime have finished and its store is closed.
func (s *Service) ReloadWith(ctx context.Context, cfg *config.Config) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	old := s.active.Load()
	if old == nil {
		return ErrNotStarted
	}

	rt, err := s.build(ctx, cfg, old)
	if err != nil {
		log.Printf("Reload failed, keeping previous configuration: %v", err)
		s.opts.Metrics.IncrementReload(false)
		return err
	}

	s.active.Store(rt)
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	s.retire(old, rt)
	s.opts.Metrics.IncrementReload(true)

	members := s.refreshMembers(ctx, rt)
	s.emitEvent(domain.Event{
		Type:      domain.EventReloaded,
		Timestamp: time.Now(),
		Data:      domain.ReloadedEvent{StorageType: cfg.Storage.Type, Members: members},
	})
	log.Printf("Configuration reloaded (storage: %s, %d members)", cfg.Storage.Type, members)
	return nil
}

// sameStorage reports whether two configs point at the same backend
func sameStorage(a, b config.StorageConfig) bool {
	return a.Type == b.Type && a.Path == b.Path && a.DSN == b.DSN
}

// build wires a runtime for cfg. When prev uses the same backend its store
// is carried over, so requests still finishing on prev and new requests
// share one view of the members.
func (s *Service) build(ctx context.Context, cfg *config.Config, prev *runtime) (*runtime, error) {
	parser, err := whitelist.NewParser(cfg.Discord.MessageFormat)
	if err != nil {
		return nil, err
	}

	var store storage.Store
	if prev != nil && sameStorage(prev.cfg.Storage, cfg.Storage) {
		store = prev.store
	} else {
		store, err = storage.New(storage.Options{
			Type: cfg.Storage.Type,
			Path: cfg.Storage.Path,
			DSN:  cfg.Storage.DSN,
		})
		if err != nil {
			return nil, err
		}
		if err := store.Initialize(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("initializing %s storage: %w", cfg.Storage.Type, err)
		}
	}

	res := s.opts.Resolver
	if res == nil {
		res = newResolver(cfg.Resolver)
	}

	processor := whitelist.NewProcessor(whitelist.Config{
		SuccessMessage: cfg.Discord.SuccessMessage,
		RequireRole:    cfg.Discord.RequireRole,
		RequiredRoleID: cfg.Discord.RequiredRoleID,
		HelpText:       parser.HelpText(),
	}, store, res)

	gate := whitelist.NewGate(whitelist.GateConfig{
		Enforce:            cfg.EnforceLogin(),
		KickMessage:        cfg.Login.KickMessage,
		TrustUUIDHeuristic: cfg.TrustUUIDHeuristic(),
	}, store)

	return &runtime{
		cfg:       cfg,
		store:     store,
		parser:    parser,
		processor: processor,
		gate:      gate,
		loadedAt:  time.Now(),
	}, nil
}

func newResolver(cfg config.ResolverConfig) resolver.Resolver {
	if cfg.Type == config.ResolverNull {
		return resolver.Null{}
	}
	return resolver.NewMojang(cfg.BaseURL, cfg.Timeout)
}

// HandleMessage runs one chat message through the pipeline. handled is false
// for messages that are ignored: bot authors, other channels and chatter.
func (s *Service) HandleMessage(ctx context.Context, msg domain.ChatMessage) (out whitelist.Outcome, handled bool) {
	if msg.IsFromBot {
		return whitelist.Outcome{}, false
	}
	rt, err := s.acquire()
	if err != nil {
		return whitelist.Outcome{}, false
	}
	defer rt.release()

	if !isTargetChannel(rt.cfg.Discord, msg) {
		return whitelist.Outcome{}, false
	}

	intent, ok := rt.parser.Parse(msg.Text, msg.AuthorID)
	if !ok {
		return whitelist.Outcome{}, false
	}

	out = s.process(ctx, rt, intent, whitelist.RequestContext{
		RequesterID: msg.AuthorID,
		RoleIDs:     msg.RoleIDs,
		GuildID:     msg.GuildID,
		ChannelID:   msg.ChannelID,
	}, domain.SourceChat)
	return out, true
}

// isTargetChannel requires both ids to be configured and to match
func isTargetChannel(cfg config.DiscordConfig, msg domain.ChatMessage) bool {
	if cfg.GuildID == "" || cfg.ChannelID == "" {
		return false
	}
	return msg.GuildID == cfg.GuildID && msg.ChannelID == cfg.ChannelID
}

func (s *Service) process(ctx context.Context, rt *runtime, intent domain.Intent, rc whitelist.RequestContext, source string) whitelist.Outcome {
	start := time.Now()
	out := rt.processor.Handle(ctx, intent, rc)
	if intent.Kind != domain.IntentHelp {
		s.opts.Metrics.ObserveRequest(string(intent.Space()), out.Status.String(), out.Degraded, start)
	}

	if out.Status == whitelist.StatusAccepted && out.Record != nil {
		s.emitEvent(domain.Event{
			Type:      domain.EventMemberAdded,
			Timestamp: time.Now(),
			Data:      domain.MemberEvent{Member: *out.Record, Source: source},
		})
		s.refreshMembers(ctx, rt)
	}
	return out
}

// CheckLogin answers a login-time membership check
func (s *Service) CheckLogin(ctx context.Context, id domain.LoginIdentity) (domain.LoginDecision, error) {
	rt, err := s.acquire()
	if err != nil {
		return domain.LoginDecision{}, err
	}
	defer rt.release()

	d := rt.gate.Check(ctx, id)

	space := "unknown"
	if prefix, _, ok := strings.Cut(d.Key, ":"); ok {
		space = prefix
	}
	s.opts.Metrics.ObserveLogin(space, d.Allowed)
	return d, nil
}

// manualRequester is the requester id recorded for operator adds
func manualRequester(requestedBy string) string {
	if strings.TrimSpace(requestedBy) != "" {
		return requestedBy
	}
	return "manual-" + strconv.FormatInt(time.Now().UnixMilli(), 10)
}

// AddJava adds a Java player on an operator's behalf. The role check is
// skipped; syntax and duplicate checks still apply.
func (s *Service) AddJava(ctx context.Context, username, requestedBy string) (whitelist.Outcome, error) {
	rt, err := s.acquire()
	if err != nil {
		return whitelist.Outcome{}, err
	}
	defer rt.release()

	requester := manualRequester(requestedBy)
	intent := domain.Intent{Kind: domain.IntentJava, Username: username, RequesterID: requester}
	return s.process(ctx, rt, intent, whitelist.RequestContext{RequesterID: requester, Operator: true}, domain.SourceOperator), nil
}

// AddBedrock adds a Bedrock player on an operator's behalf
func (s *Service) AddBedrock(ctx context.Context, gamertag, xuid, requestedBy string) (whitelist.Outcome, error) {
	rt, err := s.acquire()
	if err != nil {
		return whitelist.Outcome{}, err
	}
	defer rt.release()

	requester := manualRequester(requestedBy)
	intent := domain.Intent{Kind: domain.IntentBedrock, Username: gamertag, XUID: xuid, RequesterID: requester}
	return s.process(ctx, rt, intent, whitelist.RequestContext{RequesterID: requester, Operator: true}, domain.SourceOperator), nil
}

// Remove deletes a member. Java members are matched by username (any case);
// Bedrock members by xuid, or by gamertag (any case) when no xuid matches.
func (s *Service) Remove(ctx context.Context, space domain.Space, identifier string) (*domain.MemberRecord, error) {
	rt, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer rt.release()

	identifier = strings.TrimSpace(identifier)

	records, err := rt.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	target := findMember(records, space, identifier)
	if target == nil {
		return nil, nil
	}

	removed, err := rt.store.Remove(ctx, target.Key())
	if err != nil {
		log.Printf("Error removing %s: %v", target.Key(), err)
		return nil, fmt.Errorf("removing %s: %w", target.Key(), err)
	}
	if !removed {
		// removed concurrently
		return nil, nil
	}

	log.Printf("Removed %s player %s from whitelist", space, target.Username())
	s.emitEvent(domain.Event{
		Type:      domain.EventMemberRemoved,
		Timestamp: time.Now(),
		Data:      domain.MemberEvent{Member: *target, Source: domain.SourceOperator},
	})
	s.refreshMembers(ctx, rt)
	return target, nil
}

func findMember(records []domain.MemberRecord, space domain.Space, identifier string) *domain.MemberRecord {
	switch space {
	case domain.SpaceJava:
		key := domain.JavaKey(identifier)
		for i := range records {
			if records[i].Key() == key {
				return &records[i]
			}
		}
	case domain.SpaceBedrock:
		key := domain.BedrockKey(identifier)
		for i := range records {
			if records[i].Key() == key {
				return &records[i]
			}
		}
		for i := range records {
			if records[i].Kind() == domain.SpaceBedrock && strings.EqualFold(records[i].Username(), identifier) {
				return &records[i]
			}
		}
	}
	return nil
}

// List returns members of one space, or all members with Java first when
// space is empty
func (s *Service) List(ctx context.Context, space domain.Space) ([]domain.MemberRecord, error) {
	rt, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer rt.release()

	records, err := rt.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}

	out := make([]domain.MemberRecord, 0, len(records))
	for _, want := range []domain.Space{domain.SpaceJava, domain.SpaceBedrock} {
		if space != "" && space != want {
			continue
		}
		for _, rec := range records {
			if rec.Kind() == want {
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

// Status summarizes the running service
func (s *Service) Status(ctx context.Context) (Status, error) {
	rt, err := s.acquire()
	if err != nil {
		return Status{}, err
	}
	defer rt.release()

	records, err := rt.store.List(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("listing members: %w", err)
	}
	java, bedrock := domain.CountBySpace(records)

	s.mu.RLock()
	startedAt := s.startedAt
	s.mu.RUnlock()

	st := Status{
		Running:       true,
		ChatIntake:    rt.cfg.Discord.GuildID != "" && rt.cfg.Discord.ChannelID != "",
		StorageType:   rt.cfg.Storage.Type,
		Members:       len(records),
		Java:          java,
		Bedrock:       bedrock,
		LoginEnforced: rt.cfg.EnforceLogin(),
		StartedAt:     startedAt,
	}
	if rt.loadedAt.After(startedAt) {
		t := rt.loadedAt
		st.LastReload = &t
	}
	return st, nil
}

// refreshMembers updates the membership gauge and returns the total
func (s *Service) refreshMembers(ctx context.Context, rt *runtime) int {
	records, err := rt.store.List(ctx)
	if err != nil {
		log.Printf("Warning: counting members: %v", err)
		return 0
	}
	java, bedrock := domain.CountBySpace(records)
	s.opts.Metrics.SetMembers(java, bedrock)
	return len(records)
}

// emitEvent sends an event to the event channel
func (s *Service) emitEvent(event domain.Event) {
	select {
	case s.events <- event:
	default:
		// Channel full, drop event
	}
}
