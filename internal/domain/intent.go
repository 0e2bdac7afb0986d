package domain

// IntentKind says which grammar matched an inbound chat message
type IntentKind int

const (
	IntentJava IntentKind = iota + 1
	IntentBedrock
	IntentHelp // message mentioned help/whitelist but matched no grammar
)

func (k IntentKind) String() string {
	switch k {
	case IntentJava:
		return "java"
	case IntentBedrock:
		return "bedrock"
	case IntentHelp:
		return "help"
	default:
		return "none"
	}
}

// Intent is a parsed whitelist request. It lives for one request only.
type Intent struct {
	Kind        IntentKind
	Username    string // raw Java username or Bedrock gamertag
	XUID        string // Bedrock only
	RequesterID string
}

// Space maps the intent kind onto the identity space it targets
func (i Intent) Space() Space {
	if i.Kind == IntentBedrock {
		return SpaceBedrock
	}
	return SpaceJava
}
