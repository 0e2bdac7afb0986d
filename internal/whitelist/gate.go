package whitelist

import (
	"context"
	"encoding/binary"
	"errors"
	"log"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ernie/whitelister/internal/domain"
	"github.com/ernie/whitelister/internal/storage"
)

var errUnidentified = errors.New("login carries no usable identity")

// GateConfig holds login enforcement settings
type GateConfig struct {
	Enforce            bool
	KickMessage        string
	TrustUUIDHeuristic bool
}

// Gate answers login-time membership checks. It only reads the store and
// never calls the resolver.
type Gate struct {
	cfg   GateConfig
	store storage.Store
}

// NewGate creates a login gate over store
func NewGate(cfg GateConfig, store storage.Store) *Gate {
	return &Gate{cfg: cfg, store: store}
}

// IsPermitted reports whether the player may join
func (g *Gate) IsPermitted(ctx context.Context, id domain.LoginIdentity) bool {
	return g.Check(ctx, id).Allowed
}

// Check returns the decision and, on deny, the message to show the player.
// Store errors deny the login.
func (g *Gate) Check(ctx context.Context, id domain.LoginIdentity) domain.LoginDecision {
	if !g.cfg.Enforce {
		return domain.LoginDecision{Allowed: true}
	}

	key, err := ClassifyLogin(id, g.cfg.TrustUUIDHeuristic)
	if err != nil {
		log.Printf("Denied login for %q: %v", id.DisplayName, err)
		return domain.LoginDecision{Reason: g.cfg.KickMessage}
	}

	ok, err := g.store.Contains(ctx, key)
	if err != nil {
		log.Printf("Error checking whitelist for %s, denying login: %v", key, err)
		return domain.LoginDecision{Reason: g.cfg.KickMessage, Key: key.String()}
	}
	if !ok {
		return domain.LoginDecision{Reason: g.cfg.KickMessage, Key: key.String()}
	}
	return domain.LoginDecision{Allowed: true, Key: key.String()}
}

// ClassifyLogin picks the identity space and natural key for a login. An
// explicit platform or xuid from the adapter always wins. Without one, and
// only when trustHeuristic is set, a UUID whose first three groups are zero
// is read as a bridged Bedrock player whose xuid is the low 64 bits.
func ClassifyLogin(id domain.LoginIdentity, trustHeuristic bool) (domain.Key, error) {
	switch {
	case id.Platform == domain.SpaceBedrock || (id.Platform == "" && id.XUID != ""):
		xuid := strings.TrimSpace(id.XUID)
		if xuid == "" {
			if decoded, ok := bridgedXUID(id.RawIdentifier); ok {
				xuid = decoded
			}
		}
		if xuid == "" {
			return domain.Key{}, errUnidentified
		}
		return domain.BedrockKey(xuid), nil

	case id.Platform == domain.SpaceJava:
		return javaLoginKey(id)

	case id.Platform != "":
		return domain.Key{}, errors.New("unknown platform " + string(id.Platform))
	}

	if trustHeuristic {
		if xuid, ok := bridgedXUID(id.RawIdentifier); ok {
			log.Printf("Treating %q (%s) as a Bedrock login by UUID prefix", id.DisplayName, id.RawIdentifier)
			return domain.BedrockKey(xuid), nil
		}
	}
	return javaLoginKey(id)
}

func javaLoginKey(id domain.LoginIdentity) (domain.Key, error) {
	if strings.TrimSpace(id.DisplayName) == "" {
		return domain.Key{}, errUnidentified
	}
	return domain.JavaKey(id.DisplayName), nil
}

// bridgedXUID decodes the xuid carried by a Floodgate-style UUID
// (00000000-0000-0000-XXXX-XXXXXXXXXXXX)
func bridgedXUID(raw string) (string, bool) {
	u, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	for _, b := range u[:8] {
		if b != 0 {
			return "", false
		}
	}
	xuid := binary.BigEndian.Uint64(u[8:])
	if xuid == 0 {
		return "", false
	}
	return strconv.FormatUint(xuid, 10), true
}
