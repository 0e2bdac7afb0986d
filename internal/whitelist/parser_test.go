package whitelist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/whitelister/internal/config"
	"github.com/ernie/whitelister/internal/domain"
)

func TestParser_Parse(t *testing.T) {
	tests := []struct {
		name     string
		template string
		text     string
		wantOK   bool
		want     domain.Intent
	}{
		{
			name:     "bedrock with spaced gamertag",
			template: "whitelist {username}",
			text:     "bedrock Steve Gamer xuid:1234567890",
			wantOK:   true,
			want:     domain.Intent{Kind: domain.IntentBedrock, Username: "Steve Gamer", XUID: "1234567890", RequesterID: "42"},
		},
		{
			name:     "bedrock keyword is case-insensitive",
			template: "whitelist {username}",
			text:     "BEDROCK Pocket xuid:2535416409875121",
			wantOK:   true,
			want:     domain.Intent{Kind: domain.IntentBedrock, Username: "Pocket", XUID: "2535416409875121", RequesterID: "42"},
		},
		{
			name:     "bedrock is checked before the java template",
			template: "{username}",
			text:     "bedrock Alex xuid:99",
			wantOK:   true,
			want:     domain.Intent{Kind: domain.IntentBedrock, Username: "Alex", XUID: "99", RequesterID: "42"},
		},
		{
			name:     "bedrock xuid is captured whole",
			template: "whitelist {username}",
			text:     "bedrock Steve xuid:123abc",
			wantOK:   true,
			want:     domain.Intent{Kind: domain.IntentBedrock, Username: "Steve", XUID: "123abc", RequesterID: "42"},
		},
		{
			name:     "java template",
			template: "whitelist {username}",
			text:     "whitelist Notch",
			wantOK:   true,
			want:     domain.Intent{Kind: domain.IntentJava, Username: "Notch", RequesterID: "42"},
		},
		{
			name:     "default template",
			template: "Please whitelist my Minecraft username: {username}",
			text:     "Please whitelist my Minecraft username: jeb_",
			wantOK:   true,
			want:     domain.Intent{Kind: domain.IntentJava, Username: "jeb_", RequesterID: "42"},
		},
		{
			name:     "java username is trimmed",
			template: "whitelist {username}",
			text:     "whitelist   Notch  ",
			wantOK:   true,
			want:     domain.Intent{Kind: domain.IntentJava, Username: "Notch", RequesterID: "42"},
		},
		{
			name:     "template punctuation is literal",
			template: "Add me (please) [now]: {username}?",
			text:     "Add me (please) [now]: Steve?",
			wantOK:   true,
			want:     domain.Intent{Kind: domain.IntentJava, Username: "Steve", RequesterID: "42"},
		},
		{
			name:     "template punctuation is not a regex",
			template: "Add me (please) [now]: {username}?",
			text:     "Add me please n: Steve",
			wantOK:   false,
		},
		{
			name:     "template dot only matches a dot",
			template: "join.{username}",
			text:     "joinXSteve",
			wantOK:   false,
		},
		{
			name:     "partial template match falls back to help",
			template: "whitelist {username}",
			text:     "pls whitelist Notch",
			wantOK:   true,
			want:     domain.Intent{Kind: domain.IntentHelp, RequesterID: "42"},
		},
		{
			name:     "help",
			template: "whitelist {username}",
			text:     "please help me whitelist",
			wantOK:   true,
			want:     domain.Intent{Kind: domain.IntentHelp, RequesterID: "42"},
		},
		{
			name:     "help is case-insensitive",
			template: "add {username}",
			text:     "HELP",
			wantOK:   true,
			want:     domain.Intent{Kind: domain.IntentHelp, RequesterID: "42"},
		},
		{
			name:     "chatter",
			template: "whitelist {username}",
			text:     "random chatter",
			wantOK:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewParser(tt.template)
			require.NoError(t, err)

			got, ok := p.Parse(tt.text, "42")
			require.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestNewParser_RequiresOnePlaceholder(t *testing.T) {
	for _, template := range []string{"whitelist me", "{username} and {username}", ""} {
		_, err := NewParser(template)
		assert.ErrorIs(t, err, config.ErrPlaceholder, "template %q", template)
	}
}

func TestParser_HelpText(t *testing.T) {
	p, err := NewParser("whitelist {username}")
	require.NoError(t, err)

	help := p.HelpText()
	assert.Contains(t, help, "`whitelist YourMinecraftUsername`")
	assert.Contains(t, help, "`bedrock YourGamertag xuid:1234567890`")
	assert.Equal(t, "whitelist {username}", p.Template())
}
