// Package llm defines the provider-agnostic chat types shared by the
// message normalizer, the adapters, and the request pipeline.
package llm

// Role tags a message with its speaker.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Source is one ranked web-search result attached to a context message.
type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Message is one normalized conversation turn. Ordering of a message list
// is significant and must be preserved end-to-end: system/context messages
// precede history, history precedes the current turn.
type Message struct {
	Role      Role
	Text      string
	ImageData []byte // raw image bytes; adapters re-encode per vendor
	ImageMIME string // defaults to image/jpeg when empty
	Sources   []Source
}

// HasImage reports whether the message carries an image payload.
func (m Message) HasImage() bool {
	return len(m.ImageData) > 0
}

// MIME returns the image MIME type, defaulting to image/jpeg.
func (m Message) MIME() string {
	if m.ImageMIME == "" {
		return "image/jpeg"
	}
	return m.ImageMIME
}

// Usage is the normalized token accounting reported by a vendor.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Result is a normalized generation outcome. Usage is nil when the vendor
// does not report token counts; adapters never fabricate zeros.
type Result struct {
	Content string `json:"content"`
	Usage   *Usage `json:"usage,omitempty"`
}
