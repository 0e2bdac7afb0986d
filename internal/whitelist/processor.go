package whitelist

import (
	"context"
	"errors"
	"log"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ernie/whitelister/internal/domain"
	"github.com/ernie/whitelister/internal/resolver"
	"github.com/ernie/whitelister/internal/storage"
)

// Reply texts
const (
	ReplyUnauthorized       = "You don't have the required role to use this command."
	ReplyInvalidUsername    = "Invalid Minecraft username. Usernames must be 3-16 characters and contain only letters, numbers, and underscores."
	ReplyInvalidGamertag    = "Invalid Bedrock gamertag. Gamertags must be 1-16 characters."
	ReplyInvalidXUID        = "Invalid XUID format. XUID should be a numeric value."
	ReplyJavaDuplicate      = "This username is already whitelisted."
	ReplyBedrockDuplicate   = "This Bedrock account is already whitelisted."
	ReplyJavaStorageFailure = "Failed to add you to the whitelist. Please try again later."
	ReplyBedrockFailure     = "Failed to add your Bedrock account to the whitelist. Please try again later."
	ReplyBedrockAccepted    = "Your Bedrock account has been whitelisted! You can now join the server."
	DegradedSuffix          = " (Note: UUID lookup failed, added in offline mode)"
)

var (
	javaUsernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,16}$`)
	xuidPattern         = regexp.MustCompile(`^[0-9]+$`)
)

// Status is the terminal state of one request
type Status int

const (
	StatusAccepted Status = iota + 1
	StatusUnauthorized
	StatusInvalidFormat
	StatusAlreadyWhitelisted
	StatusStorageFailure
	StatusHelp
)

func (s Status) String() string {
	switch s {
	case StatusAccepted:
		return "accepted"
	case StatusUnauthorized:
		return "unauthorized"
	case StatusInvalidFormat:
		return "invalid_format"
	case StatusAlreadyWhitelisted:
		return "already_whitelisted"
	case StatusStorageFailure:
		return "storage_failure"
	case StatusHelp:
		return "help"
	default:
		return "unknown"
	}
}

// Outcome is the result of Handle. Degraded is only meaningful with
// StatusAccepted and means the Java identity was stored without a canonical id.
type Outcome struct {
	Status   Status
	Record   *domain.MemberRecord
	Degraded bool
	Reply    string
	Err      error
}

// RequestContext carries what the transport knows about the requester.
// Operator requests skip the role check.
type RequestContext struct {
	RequesterID string
	RoleIDs     []string
	GuildID     string
	ChannelID   string
	Operator    bool
}

// Config holds the processor policy
type Config struct {
	SuccessMessage string
	RequireRole    bool
	RequiredRoleID string
	HelpText       string
}

// Processor runs one request through the role, syntax and duplicate checks,
// resolves Java names and commits the record. It holds no per-request state
// and is safe for concurrent use.
type Processor struct {
	cfg      Config
	store    storage.Store
	resolver resolver.Resolver
	now      func() time.Time
}

// NewProcessor creates a processor. A nil resolver behaves like resolver.Null.
func NewProcessor(cfg Config, store storage.Store, res resolver.Resolver) *Processor {
	if res == nil {
		res = resolver.Null{}
	}
	return &Processor{
		cfg:      cfg,
		store:    store,
		resolver: res,
		now:      time.Now,
	}
}

// Handle processes one intent to a terminal Outcome
func (p *Processor) Handle(ctx context.Context, intent domain.Intent, rc RequestContext) Outcome {
	if rc.RequesterID == "" {
		rc.RequesterID = intent.RequesterID
	}

	switch intent.Kind {
	case domain.IntentHelp:
		return Outcome{Status: StatusHelp, Reply: p.cfg.HelpText}
	case domain.IntentJava, domain.IntentBedrock:
	default:
		return Outcome{
			Status: StatusInvalidFormat,
			Err:    &ValidationError{Field: "kind", Reason: "not a whitelist request"},
			Reply:  "Not a whitelist request.",
		}
	}

	if !rc.Operator && !p.hasRequiredRole(rc.RoleIDs) {
		log.Printf("Rejected %s request from %s: missing role %s", intent.Kind, rc.RequesterID, p.cfg.RequiredRoleID)
		return Outcome{
			Status: StatusUnauthorized,
			Reply:  ReplyUnauthorized,
			Err:    &PolicyError{Rule: "role", Reason: ReplyUnauthorized},
		}
	}

	if intent.Kind == domain.IntentBedrock {
		return p.handleBedrock(ctx, intent, rc)
	}
	return p.handleJava(ctx, intent, rc)
}

func (p *Processor) hasRequiredRole(roles []string) bool {
	if !p.cfg.RequireRole || p.cfg.RequiredRoleID == "" {
		return true
	}
	return slices.Contains(roles, p.cfg.RequiredRoleID)
}

func (p *Processor) handleJava(ctx context.Context, intent domain.Intent, rc RequestContext) Outcome {
	username := strings.TrimSpace(intent.Username)
	if err := ValidateJavaUsername(username); err != nil {
		return Outcome{Status: StatusInvalidFormat, Reply: err.Error(), Err: err}
	}

	key := domain.JavaKey(username)
	exists, err := p.store.Contains(ctx, key)
	if err != nil {
		return p.storageFailure("check", key, rc, ReplyJavaStorageFailure, err)
	}
	if exists {
		return duplicate(ReplyJavaDuplicate)
	}

	name, id, degraded := p.resolve(ctx, username)
	rec := domain.NewJavaRecord(name, id, rc.RequesterID, p.now())

	added, err := p.store.Add(ctx, rec)
	if err != nil {
		return p.storageFailure("add", key, rc, ReplyJavaStorageFailure, err)
	}
	if !added {
		// lost a race with a concurrent request for the same name
		return duplicate(ReplyJavaDuplicate)
	}

	reply := p.cfg.SuccessMessage
	if degraded {
		reply += DegradedSuffix
		log.Printf("Added player %s to whitelist (offline mode), requested by %s", name, rc.RequesterID)
	} else {
		log.Printf("Added player %s (%s) to whitelist, requested by %s", name, id, rc.RequesterID)
	}
	return Outcome{Status: StatusAccepted, Record: &rec, Degraded: degraded, Reply: reply}
}

// resolve looks the name up and falls back to the requested name without an
// id on any failure
func (p *Processor) resolve(ctx context.Context, username string) (string, uuid.UUID, bool) {
	profile, err := p.resolver.LookupByUsername(ctx, username)
	if err == nil && profile != nil {
		name := profile.Username
		// the lookup may return a different player if the service misbehaves
		if name == "" || !strings.EqualFold(name, username) {
			name = username
		}
		return name, profile.UUID, false
	}

	if cause := classifyResolution(err); cause != nil {
		log.Printf("Warning: lookup for %s degraded: %v", username, cause)
	} else {
		log.Printf("Lookup for %s found no profile, adding in offline mode", username)
	}
	return username, uuid.Nil, true
}

func (p *Processor) handleBedrock(ctx context.Context, intent domain.Intent, rc RequestContext) Outcome {
	gamertag := strings.TrimSpace(intent.Username)
	xuid := strings.TrimSpace(intent.XUID)
	if err := ValidateBedrock(gamertag, xuid); err != nil {
		return Outcome{Status: StatusInvalidFormat, Reply: err.Error(), Err: err}
	}

	key := domain.BedrockKey(xuid)
	exists, err := p.store.Contains(ctx, key)
	if err != nil {
		return p.storageFailure("check", key, rc, ReplyBedrockFailure, err)
	}
	if exists {
		return duplicate(ReplyBedrockDuplicate)
	}

	rec := domain.NewBedrockRecord(gamertag, xuid, rc.RequesterID, p.now())
	added, err := p.store.Add(ctx, rec)
	if err != nil {
		return p.storageFailure("add", key, rc, ReplyBedrockFailure, err)
	}
	if !added {
		return duplicate(ReplyBedrockDuplicate)
	}

	log.Printf("Added Bedrock player %s (XUID: %s) to whitelist, requested by %s", gamertag, xuid, rc.RequesterID)
	return Outcome{Status: StatusAccepted, Record: &rec, Reply: ReplyBedrockAccepted}
}

func (p *Processor) storageFailure(op string, key domain.Key, rc RequestContext, reply string, err error) Outcome {
	log.Printf("Error: storage %s for %s (requested by %s): %v", op, key, rc.RequesterID, err)
	return Outcome{
		Status: StatusStorageFailure,
		Reply:  reply,
		Err:    &StorageError{Op: op, Err: err},
	}
}

func duplicate(reply string) Outcome {
	return Outcome{
		Status: StatusAlreadyWhitelisted,
		Reply:  reply,
		Err:    &PolicyError{Rule: "duplicate", Reason: reply},
	}
}

// ValidateJavaUsername checks the Java Edition username rules
func ValidateJavaUsername(username string) error {
	if !javaUsernamePattern.MatchString(username) {
		return &ValidationError{Field: "username", Value: username, Reason: ReplyInvalidUsername}
	}
	return nil
}

// ValidateBedrock checks a gamertag and xuid pair
func ValidateBedrock(gamertag, xuid string) error {
	if n := utf8.RuneCountInString(gamertag); n < 1 || n > 16 {
		return &ValidationError{Field: "gamertag", Value: gamertag, Reason: ReplyInvalidGamertag}
	}
	if !xuidPattern.MatchString(xuid) {
		return &ValidationError{Field: "xuid", Value: xuid, Reason: ReplyInvalidXUID}
	}
	return nil
}

// IsValidation reports whether err is a user-correctable syntax error
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// NewChatReply renders an outcome for a transport adapter
func NewChatReply(out Outcome, handled bool) domain.ChatReply {
	if !handled {
		return domain.ChatReply{}
	}
	return domain.ChatReply{
		Handled:  true,
		Status:   out.Status.String(),
		Reply:    out.Reply,
		Degraded: out.Degraded,
	}
}
