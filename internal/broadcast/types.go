package broadcast

import "encoding/json"

// MethodSendMessage is the provider method recorded on every job.
const MethodSendMessage = "sendMessage"

// MaxTextLength is counted in characters, not bytes.
const MaxTextLength = 4096

var parseModes = map[string]struct{}{
	"HTML":       {},
	"Markdown":   {},
	"MarkdownV2": {},
}

// Payload is the delivery subset of a request. Field order is the stored
// encoding; keep it stable.
type Payload struct {
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview *bool  `json:"disable_web_page_preview,omitempty"`
	DisableNotification   *bool  `json:"disable_notification,omitempty"`
	Entities              []any  `json:"entities,omitempty"`
	ReplyMarkup           any    `json:"reply_markup,omitempty"`
}

// Params returns the payload as provider call parameters.
func (p Payload) Params() map[string]any {
	m := map[string]any{"text": p.Text}
	if p.ParseMode != "" {
		m["parse_mode"] = p.ParseMode
	}
	if p.DisableWebPagePreview != nil {
		m["disable_web_page_preview"] = *p.DisableWebPagePreview
	}
	if p.DisableNotification != nil {
		m["disable_notification"] = *p.DisableNotification
	}
	if p.Entities != nil {
		m["entities"] = p.Entities
	}
	if p.ReplyMarkup != nil {
		m["reply_markup"] = p.ReplyMarkup
	}
	return m
}

func (p Payload) encode() (json.RawMessage, error) {
	return json.Marshal(p)
}

// Request is a validated broadcast request.
type Request struct {
	Token   string
	Payload Payload
	// ChatIDs is deduplicated, first occurrence order.
	ChatIDs []int64
}

// Receipt acknowledges a stored job.
type Receipt struct {
	BotID     int64 `json:"bot_id"`
	Targets   int   `json:"targets"`
	MessageID int   `json:"dispatched_message_id,omitempty"`
}
