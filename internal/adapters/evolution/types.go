package evolution

// WebhookEvent is the envelope Evolution API posts to the webhook endpoint.
// Two payload shapes exist in the wild: a flat one with the message fields
// directly under data, and the native one nesting sender info under data.key.
// ParseInbound normalizes both.
type WebhookEvent struct {
	Event      string       `json:"event"`
	InstanceID string       `json:"instanceId"`
	Instance   string       `json:"instance"`
	Data       *WebhookData `json:"data"`
}

// WebhookData carries the event-specific fields.
type WebhookData struct {
	// Flat shape.
	MessageID  string       `json:"messageId"`
	From       string       `json:"from"`
	To         string       `json:"to"`
	Text       *WebhookText `json:"text"`
	Timestamp  int64        `json:"timestamp"`
	FromMe     *bool        `json:"fromMe"`
	SenderName string       `json:"senderName"`
	PushName   string       `json:"pushName"`
	MediaURL   string       `json:"mediaUrl"`
	MediaType  string       `json:"mediaType"`

	// Native shape.
	Key              *MessageKey      `json:"key"`
	Message          *MessageContent  `json:"message"`
	MessageTimestamp int64            `json:"messageTimestamp"`
}

// WebhookText wraps the text body in the flat payload shape.
type WebhookText struct {
	Message string `json:"message"`
}

// MessageKey identifies a message in the native payload shape.
type MessageKey struct {
	ID        string `json:"id"`
	RemoteJid string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
}

// MessageContent holds the typed body in the native payload shape.
type MessageContent struct {
	Conversation string `json:"conversation"`
}

// InboundMessage is the normalized inbound message the pipeline works with.
type InboundMessage struct {
	MessageID  string
	Phone      string
	Text       string
	SenderName string
	Timestamp  int64
	FromMe     bool
	MediaURL   string
	MediaType  string
}

// OutboundMessage is one send instruction emitted by the chatbot engine or a
// trigger action, ready for Client.Send.
type OutboundMessage struct {
	Type  string       `json:"type"`
	Phone string       `json:"phone"`
	Data  OutboundData `json:"data"`
}

// OutboundData holds the type-specific outbound fields. Required fields per
// type are validated in Client.Send.
type OutboundData struct {
	Message     string        `json:"message,omitempty"`
	MediaURL    string        `json:"mediaUrl,omitempty"`
	MediaType   string        `json:"mediaType,omitempty"`
	Caption     string        `json:"caption,omitempty"`
	FileName    string        `json:"fileName,omitempty"`
	Title       string        `json:"title,omitempty"`
	Description string        `json:"description,omitempty"`
	Footer      string        `json:"footer,omitempty"`
	ButtonText  string        `json:"buttonText,omitempty"`
	Buttons     []Button      `json:"buttons,omitempty"`
	Sections    []ListSection `json:"sections,omitempty"`
}

// Button is one reply button for sendButtons.
type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ListSection is one section of a sendList menu.
type ListSection struct {
	Title string    `json:"title"`
	Rows  []ListRow `json:"rows"`
}

// ListRow is one selectable row inside a list section.
type ListRow struct {
	ID          string `json:"rowId"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Gateway request bodies, one per send endpoint.

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type sendMediaRequest struct {
	Number    string `json:"number"`
	MediaType string `json:"mediatype"`
	Media     string `json:"media"`
	Caption   string `json:"caption,omitempty"`
	FileName  string `json:"fileName,omitempty"`
}

type sendAudioRequest struct {
	Number string `json:"number"`
	Audio  string `json:"audio"`
}

type sendButtonsRequest struct {
	Number      string   `json:"number"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Footer      string   `json:"footer,omitempty"`
	Buttons     []Button `json:"buttons"`
}

type sendListRequest struct {
	Number      string        `json:"number"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	ButtonText  string        `json:"buttonText"`
	FooterText  string        `json:"footerText,omitempty"`
	Sections    []ListSection `json:"sections"`
}

// sendResponse is the gateway acknowledgment for any send endpoint.
type sendResponse struct {
	Key    *MessageKey `json:"key"`
	Status string      `json:"status"`
}
