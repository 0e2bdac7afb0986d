// Package whitelist turns chat requests into committed memberships and
// answers login-time membership checks.
package whitelist

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ernie/whitelister/internal/config"
	"github.com/ernie/whitelister/internal/domain"
)

// bedrockPattern is tried before the configured Java template. The xuid
// token is captured whole; validation rejects anything non-numeric.
var bedrockPattern = regexp.MustCompile(`(?i)bedrock\s+(.+)\s+xuid:(\S+)`)

// Parser recognises whitelist requests in chat text
type Parser struct {
	template string
	java     *regexp.Regexp
}

// NewParser compiles the Java request template. Everything except the single
// {username} placeholder is matched literally.
func NewParser(template string) (*Parser, error) {
	if strings.Count(template, config.UsernamePlaceholder) != 1 {
		return nil, config.ErrPlaceholder
	}

	before, after, _ := strings.Cut(template, config.UsernamePlaceholder)
	expr := "^" + regexp.QuoteMeta(before) + "(.+)" + regexp.QuoteMeta(after) + "$"

	// (?s) lets a multi-line message body still be a full match
	java, err := regexp.Compile("(?s)" + expr)
	if err != nil {
		return nil, fmt.Errorf("compiling message template: %w", err)
	}
	return &Parser{template: template, java: java}, nil
}

// Parse classifies one chat message. ok is false when the text is not a
// request at all.
func (p *Parser) Parse(text, requesterID string) (intent domain.Intent, ok bool) {
	if m := bedrockPattern.FindStringSubmatch(text); m != nil {
		return domain.Intent{
			Kind:        domain.IntentBedrock,
			Username:    strings.TrimSpace(m[1]),
			XUID:        strings.TrimSpace(m[2]),
			RequesterID: requesterID,
		}, true
	}

	if m := p.java.FindStringSubmatch(text); m != nil {
		return domain.Intent{
			Kind:        domain.IntentJava,
			Username:    strings.TrimSpace(m[1]),
			RequesterID: requesterID,
		}, true
	}

	lower := strings.ToLower(text)
	if strings.Contains(lower, "help") || strings.Contains(lower, "whitelist") {
		return domain.Intent{Kind: domain.IntentHelp, RequesterID: requesterID}, true
	}
	return domain.Intent{}, false
}

// Template returns the configured Java request template
func (p *Parser) Template() string {
	return p.template
}

// HelpText is the reply sent for help requests
func (p *Parser) HelpText() string {
	var b strings.Builder
	b.WriteString("**Discord Whitelister Help**\n\n")
	b.WriteString("To whitelist your Java Edition account:\n")
	b.WriteString("`" + strings.Replace(p.template, config.UsernamePlaceholder, "YourMinecraftUsername", 1) + "`\n\n")
	b.WriteString("To whitelist your Bedrock Edition account:\n")
	b.WriteString("`bedrock YourGamertag xuid:1234567890`\n")
	b.WriteString("(Replace YourGamertag with your Bedrock username and the number with your XUID)\n\n")
	b.WriteString("You can find your XUID using websites like https://cxkes.me/xbox/xuid or https://www.cxkes.me/xbox/xuid")
	return b.String()
}
