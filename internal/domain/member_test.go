package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSpace(t *testing.T) {
	for in, want := range map[string]Space{"java": SpaceJava, " Bedrock ": SpaceBedrock, "JAVA": SpaceJava} {
		got, err := ParseSpace(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseSpace("pocket")
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, JavaKey("notch"), JavaKey(" NoTcH "))
	assert.Equal(t, "java:notch", JavaKey("Notch").String())
	assert.NotEqual(t, BedrockKey("123"), JavaKey("123"), "spaces never collide")
	assert.Equal(t, "bedrock:2535416", BedrockKey(" 2535416 ").String())
}

func TestMemberRecord(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	id := uuid.MustParse("069a79f4-44e9-4726-a5be-fca90e38aaf5")

	java := NewJavaRecord(" Notch ", id, "u1", at)
	assert.Equal(t, SpaceJava, java.Kind())
	assert.Equal(t, "Notch", java.Username())
	assert.Equal(t, time.UTC, java.ApprovedAt.Location())
	assert.True(t, java.SameMember(NewJavaRecord("NOTCH", uuid.Nil, "u2", at)))

	bedrock := NewBedrockRecord("Steve", "2535416", "u1", at)
	assert.Equal(t, SpaceBedrock, bedrock.Kind())
	assert.False(t, bedrock.SameMember(NewBedrockRecord("Steve", "99", "u1", at)), "bedrock identity is the xuid")

	var empty MemberRecord
	assert.Equal(t, Space(""), empty.Kind())
	assert.Equal(t, Key{}, empty.Key())
	assert.Empty(t, empty.Username())
}

func TestMemberRecord_JSON(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	data, err := json.Marshal(NewJavaRecord("Notch", uuid.Nil, "u1", at))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"java","username":"Notch","requested_by":"u1","approved_at":"2024-05-01T10:00:00Z"}`, string(data),
		"unresolved uuid is omitted")

	data, err = json.Marshal(NewBedrockRecord("Steve", "2535416", "u2", at))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"bedrock","username":"Steve","xuid":"2535416","requested_by":"u2","approved_at":"2024-05-01T10:00:00Z"}`, string(data))
}

func TestCountBySpace(t *testing.T) {
	now := time.Now()
	java, bedrock := CountBySpace([]MemberRecord{
		NewJavaRecord("a_player", uuid.Nil, "", now),
		NewJavaRecord("b_player", uuid.Nil, "", now),
		NewBedrockRecord("c", "1", "", now),
	})
	assert.Equal(t, 2, java)
	assert.Equal(t, 1, bedrock)
}

func TestIntent(t *testing.T) {
	assert.Equal(t, SpaceBedrock, Intent{Kind: IntentBedrock}.Space())
	assert.Equal(t, SpaceJava, Intent{Kind: IntentJava}.Space())
	assert.Equal(t, "help", IntentHelp.String())
	assert.Equal(t, "none", IntentKind(0).String())
}
