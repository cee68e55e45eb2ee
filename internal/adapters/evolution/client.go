package evolution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// Message types accepted by Client.Send.
const (
	TypeText     = "text"
	TypeImage    = "image"
	TypeAudio    = "audio"
	TypeVideo    = "video"
	TypeDocument = "document"
	TypeButtons  = "buttons"
	TypeList     = "list"
)

// Client talks to the Evolution API gateway.
type Client struct {
	httpClient *resty.Client
	instance   string
}

// NewClient creates an Evolution API client bound to one instance.
func NewClient(baseURL, apiKey, instance string) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("Evolution baseURL cannot be empty")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("Evolution apiKey cannot be empty")
	}
	if instance == "" {
		return nil, fmt.Errorf("Evolution instance cannot be empty")
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("apikey", apiKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(10 * time.Second)

	log.Info().Str("baseURL", baseURL).Str("instance", instance).Msg("Evolution client configured")

	return &Client{httpClient: client, instance: instance}, nil
}

// ParseInbound normalizes a webhook event into an InboundMessage. It returns
// false when the event does not carry a message (status, QR, presence and
// similar events).
func ParseInbound(ev *WebhookEvent) (*InboundMessage, bool) {
	if ev == nil || ev.Data == nil {
		return nil, false
	}

	msg := &InboundMessage{
		MessageID:  ev.Data.MessageID,
		Phone:      normalizePhone(ev.Data.From),
		SenderName: ev.Data.SenderName,
		Timestamp:  ev.Data.Timestamp,
		MediaURL:   ev.Data.MediaURL,
		MediaType:  ev.Data.MediaType,
	}
	if msg.SenderName == "" {
		msg.SenderName = ev.Data.PushName
	}
	if ev.Data.FromMe != nil {
		msg.FromMe = *ev.Data.FromMe
	}
	if ev.Data.Text != nil {
		msg.Text = ev.Data.Text.Message
	}

	// Native shape fallbacks.
	if ev.Data.Key != nil {
		if msg.MessageID == "" {
			msg.MessageID = ev.Data.Key.ID
		}
		if msg.Phone == "" {
			msg.Phone = normalizePhone(ev.Data.Key.RemoteJid)
		}
		if ev.Data.FromMe == nil {
			msg.FromMe = ev.Data.Key.FromMe
		}
	}
	if msg.Text == "" && ev.Data.Message != nil {
		msg.Text = ev.Data.Message.Conversation
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = ev.Data.MessageTimestamp
	}

	if msg.MessageID == "" || msg.Phone == "" {
		return nil, false
	}
	return msg, true
}

// IsMessageEvent reports whether the event type is an inbound-message event.
func IsMessageEvent(event string) bool {
	switch strings.ToLower(event) {
	case "messages.upsert", "message.received", "message:received", "message_received":
		return true
	}
	return false
}

func normalizePhone(raw string) string {
	// Strip the JID suffix Evolution uses for individual chats.
	if i := strings.IndexByte(raw, '@'); i >= 0 {
		return raw[:i]
	}
	return raw
}

// Send relays one outbound instruction to the gateway endpoint matching its
// type. Required fields are validated before the request goes out.
func (c *Client) Send(ctx context.Context, msg OutboundMessage) error {
	if msg.Phone == "" {
		return fmt.Errorf("outbound message has no phone")
	}

	switch msg.Type {
	case TypeText:
		if msg.Data.Message == "" {
			return fmt.Errorf("text message requires a message body")
		}
		return c.post(ctx, "/message/sendText/"+c.instance, sendTextRequest{
			Number: msg.Phone,
			Text:   msg.Data.Message,
		})
	case TypeImage, TypeVideo, TypeDocument:
		if msg.Data.MediaURL == "" {
			return fmt.Errorf("%s message requires a media URL", msg.Type)
		}
		mediaType := msg.Data.MediaType
		if mediaType == "" {
			mediaType = msg.Type
		}
		return c.post(ctx, "/message/sendMedia/"+c.instance, sendMediaRequest{
			Number:    msg.Phone,
			MediaType: mediaType,
			Media:     msg.Data.MediaURL,
			Caption:   msg.Data.Caption,
			FileName:  msg.Data.FileName,
		})
	case TypeAudio:
		if msg.Data.MediaURL == "" {
			return fmt.Errorf("audio message requires a media URL")
		}
		return c.post(ctx, "/message/sendWhatsAppAudio/"+c.instance, sendAudioRequest{
			Number: msg.Phone,
			Audio:  msg.Data.MediaURL,
		})
	case TypeButtons:
		if len(msg.Data.Buttons) == 0 {
			return fmt.Errorf("buttons message requires at least one button")
		}
		return c.post(ctx, "/message/sendButtons/"+c.instance, sendButtonsRequest{
			Number:      msg.Phone,
			Title:       msg.Data.Title,
			Description: msg.Data.Description,
			Footer:      msg.Data.Footer,
			Buttons:     msg.Data.Buttons,
		})
	case TypeList:
		if len(msg.Data.Sections) == 0 {
			return fmt.Errorf("list message requires at least one section")
		}
		return c.post(ctx, "/message/sendList/"+c.instance, sendListRequest{
			Number:      msg.Phone,
			Title:       msg.Data.Title,
			Description: msg.Data.Description,
			ButtonText:  msg.Data.ButtonText,
			FooterText:  msg.Data.Footer,
			Sections:    msg.Data.Sections,
		})
	default:
		return fmt.Errorf("unsupported outbound message type %q", msg.Type)
	}
}

func (c *Client) post(ctx context.Context, url string, body interface{}) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&sendResponse{}).
		Post(url)

	if err != nil {
		log.Error().Err(err).Str("url", url).Msg("Evolution API request failed")
		return fmt.Errorf("Evolution API request to %s failed: %w", url, err)
	}
	if resp.IsError() {
		log.Error().Str("url", url).Int("statusCode", resp.StatusCode()).Str("responseBody", resp.String()).Msg("Evolution API returned an error")
		return fmt.Errorf("Evolution API error at %s: status %s, body: %s", url, resp.Status(), resp.String())
	}

	log.Debug().Str("url", url).Msg("Evolution API send succeeded")
	return nil
}
