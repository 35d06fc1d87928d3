package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/iurnickita/sugarrush/internal/notify/config"
)

// JSON сообщения шлюза
type webhookEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Image       string `json:"image,omitempty"`
}

type webhookMessage struct {
	Content string       `json:"content,omitempty"`
	Embed   webhookEmbed `json:"embed"`
}

type webhookAnswer struct {
	ID string `json:"id"`
}

// Webhook talks to a chat gateway over HTTP:
// POST /channels/{channel}/messages and PATCH /channels/{channel}/messages/{id}.
type Webhook struct {
	client       *resty.Client
	logChannelID string
}

func NewWebhook(cfg config.Config) *Webhook {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.URL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return &Webhook{client: client, logChannelID: cfg.LogChannelID}
}

func (w *Webhook) Post(ctx context.Context, target Target, msg Message) error {
	_, err := w.send(ctx, http.MethodPost, "/channels/"+target.ChannelID+"/messages", renderMessage(msg))
	return err
}

func (w *Webhook) EditOrCreateLogEntry(ctx context.Context, handle string, snap Snapshot) (string, error) {
	body := renderSnapshot(snap)
	if handle != "" {
		_, err := w.send(ctx, http.MethodPatch, "/channels/"+w.logChannelID+"/messages/"+handle, body)
		if err != nil {
			return "", err
		}
		return handle, nil
	}
	return w.send(ctx, http.MethodPost, "/channels/"+w.logChannelID+"/messages", body)
}

func (w *Webhook) send(ctx context.Context, method string, path string, body webhookMessage) (string, error) {
	setreq := w.client.R().SetContext(ctx).SetBody(body)
	setreq.Method = method
	setreq.URL = path
	setresp, err := setreq.Send()
	if err != nil {
		return "", err
	}

	switch setresp.StatusCode() {
	case http.StatusOK, http.StatusCreated:
		var answer webhookAnswer
		if len(setresp.Body()) > 0 {
			if err = json.Unmarshal(setresp.Body(), &answer); err != nil {
				return "", err
			}
		}
		return answer.ID, nil
	case http.StatusNoContent:
		return "", nil
	case http.StatusNotFound:
		return "", ErrEntryNotFound
	default:
		return "", fmt.Errorf("gateway %s %s status: %d", method, path, setresp.StatusCode())
	}
}

func renderMessage(msg Message) webhookMessage {
	var content string
	if msg.Broadcast {
		content = "@here "
	}
	if msg.Mention != "" {
		content += "<@" + msg.Mention + ">"
	}
	return webhookMessage{
		Content: content,
		Embed:   webhookEmbed{Title: msg.Title, Description: msg.Body, Image: msg.Image},
	}
}

func renderSnapshot(snap Snapshot) webhookMessage {
	preparer := snap.PreparerName
	if preparer == "" {
		preparer = "Unclaimed"
	}
	fulfiller := "Awaiting fulfillment"
	if snap.FulfillerID != "" {
		fulfiller = "<@" + snap.FulfillerID + ">"
	}
	desc := fmt.Sprintf("Status: %s\nItem: %s\nCustomer: <@%s>\nOrigin: %s\nPreparer: %s\nFulfiller: %s",
		snap.Status, snap.Item, snap.RequesterID, snap.GuildID, preparer, fulfiller)
	for i, proof := range snap.Proof {
		desc += fmt.Sprintf("\nEvidence %d: %s", i+1, proof)
	}
	var image string
	if len(snap.Proof) > 0 {
		image = snap.Proof[0]
	}
	return webhookMessage{
		Embed: webhookEmbed{Title: "Archive record #" + snap.OrderID, Description: desc, Image: image},
	}
}
