package embed

// Cross-frame message vocabulary shared by the widget script (host page) and
// the embed page (iframe). The embedded scripts spell these literally.
const (
	// embed page -> host: "what origin are you?"
	MsgRequestHostDomain = "REQUEST_HOST_DOMAIN"
	// host -> embed page: {type, domain}
	MsgHostDomainResponse = "HOST_DOMAIN_RESPONSE"
	// embed page -> host: {type, action, data}
	MsgChatAction = "ai-chat-action"
	// host -> embed page: {type, action, data}
	MsgChatCommand = "ai-chat-command"

	ActionAccept    = "accept"
	ActionSummarize = "summarize"
	ActionReady     = "ready"

	CommandSendMessage = "send-message"
)

// Message is the postMessage payload shape.
type Message struct {
	Type   string `json:"type"`
	Action string `json:"action,omitempty"`
	Data   any    `json:"data,omitempty"`
	Domain string `json:"domain,omitempty"`
}

// Actions lists the ai-chat-action values the widget dispatches to callbacks.
var Actions = []string{ActionAccept, ActionSummarize, ActionReady}
