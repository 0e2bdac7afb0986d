package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Space is one of the two membership namespaces. Uniqueness is enforced
// independently inside each space.
type Space string

const (
	SpaceJava    Space = "java"
	SpaceBedrock Space = "bedrock"
)

// ParseSpace converts user input ("java", "Bedrock", ...) into a Space
func ParseSpace(s string) (Space, error) {
	switch Space(strings.ToLower(strings.TrimSpace(s))) {
	case SpaceJava:
		return SpaceJava, nil
	case SpaceBedrock:
		return SpaceBedrock, nil
	default:
		return "", fmt.Errorf("unknown identity space %q", s)
	}
}

// Key is the natural key of a member inside its space: the lower-cased
// username for Java, the exact xuid for Bedrock.
type Key struct {
	Space Space
	Value string
}

// JavaKey builds the case-insensitive key for a Java username
func JavaKey(username string) Key {
	return Key{Space: SpaceJava, Value: strings.ToLower(strings.TrimSpace(username))}
}

// BedrockKey builds the exact-match key for a Bedrock xuid
func BedrockKey(xuid string) Key {
	return Key{Space: SpaceBedrock, Value: strings.TrimSpace(xuid)}
}

func (k Key) String() string {
	return string(k.Space) + ":" + k.Value
}

// Identity is implemented by JavaIdentity and BedrockIdentity only.
type Identity interface {
	Space() Space
	Key() Key
	DisplayName() string
	isIdentity()
}

// JavaIdentity is a Java Edition account. UUID is uuid.Nil when the
// profile lookup did not resolve the name.
type JavaIdentity struct {
	Username string
	UUID     uuid.UUID
}

func (JavaIdentity) Space() Space          { return SpaceJava }
func (j JavaIdentity) Key() Key            { return JavaKey(j.Username) }
func (j JavaIdentity) DisplayName() string { return j.Username }
func (JavaIdentity) isIdentity()           {}

// Resolved reports whether a canonical id is attached
func (j JavaIdentity) Resolved() bool { return j.UUID != uuid.Nil }

// BedrockIdentity is a Bedrock Edition (Xbox Live) account
type BedrockIdentity struct {
	Gamertag string
	XUID     string
}

func (BedrockIdentity) Space() Space          { return SpaceBedrock }
func (b BedrockIdentity) Key() Key            { return BedrockKey(b.XUID) }
func (b BedrockIdentity) DisplayName() string { return b.Gamertag }
func (BedrockIdentity) isIdentity()           {}

// MemberRecord is an approved whitelist entry. Records are values; the store
// hands out copies and never mutates a committed record.
type MemberRecord struct {
	Identity    Identity
	RequestedBy string // chat-platform user id, or manual-<millis> for operator adds
	ApprovedAt  time.Time
}

// NewJavaRecord creates a record for a Java account
func NewJavaRecord(username string, id uuid.UUID, requestedBy string, approvedAt time.Time) MemberRecord {
	return MemberRecord{
		Identity:    JavaIdentity{Username: strings.TrimSpace(username), UUID: id},
		RequestedBy: requestedBy,
		ApprovedAt:  approvedAt.UTC(),
	}
}

// NewBedrockRecord creates a record for a Bedrock account
func NewBedrockRecord(gamertag, xuid, requestedBy string, approvedAt time.Time) MemberRecord {
	return MemberRecord{
		Identity:    BedrockIdentity{Gamertag: strings.TrimSpace(gamertag), XUID: strings.TrimSpace(xuid)},
		RequestedBy: requestedBy,
		ApprovedAt:  approvedAt.UTC(),
	}
}

// Kind is the discriminator of the record's identity
func (r MemberRecord) Kind() Space {
	if r.Identity == nil {
		return ""
	}
	return r.Identity.Space()
}

// Key returns the natural key of the record
func (r MemberRecord) Key() Key {
	if r.Identity == nil {
		return Key{}
	}
	return r.Identity.Key()
}

// Username returns the Java username or the Bedrock gamertag
func (r MemberRecord) Username() string {
	if r.Identity == nil {
		return ""
	}
	return r.Identity.DisplayName()
}

// SameMember compares by natural key, so equality follows the identity space
func (r MemberRecord) SameMember(other MemberRecord) bool {
	return r.Key() == other.Key()
}

// MemberView is the flat JSON shape used by the API and the event feed
type MemberView struct {
	Kind        Space     `json:"kind"`
	Username    string    `json:"username"`
	UUID        string    `json:"uuid,omitempty"`
	XUID        string    `json:"xuid,omitempty"`
	RequestedBy string    `json:"requested_by"`
	ApprovedAt  time.Time `json:"approved_at"`
}

// View flattens the record
func (r MemberRecord) View() MemberView {
	v := MemberView{
		Kind:        r.Kind(),
		Username:    r.Username(),
		RequestedBy: r.RequestedBy,
		ApprovedAt:  r.ApprovedAt,
	}
	switch id := r.Identity.(type) {
	case JavaIdentity:
		if id.Resolved() {
			v.UUID = id.UUID.String()
		}
	case BedrockIdentity:
		v.XUID = id.XUID
	}
	return v
}

// MarshalJSON renders the record as a MemberView
func (r MemberRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.View())
}

// CountBySpace returns (java, bedrock) totals for a snapshot
func CountBySpace(records []MemberRecord) (java, bedrock int) {
	for _, r := range records {
		switch r.Kind() {
		case SpaceJava:
			java++
		case SpaceBedrock:
			bedrock++
		}
	}
	return java, bedrock
}
