package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/dialogs"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/store"
	"go.uber.org/zap"
)

const defaultTimeout = 15 * time.Second

// Client talks to the aggregator backend's REST surface: history pages,
// the dialog list, and sends. It satisfies store.HistorySource,
// dialogs.Source and outbox.SendAPI.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a REST client for the given base URL.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type historyResponse struct {
	Messages   []wireMessage `json:"messages"`
	NextOffset string        `json:"next_offset"`
	HasMore    bool          `json:"has_more"`
}

type wireMessage struct {
	Platform  string     `json:"platform"`
	AccountID string     `json:"account_id"`
	ChatID    string     `json:"chat_id"`
	MsgID     string     `json:"message_id"`
	TempID    string     `json:"temp_id,omitempty"`
	Text      string     `json:"text"`
	Date      int64      `json:"date"`
	Out       bool       `json:"out"`
	Status    string     `json:"status,omitempty"`
	Views     int        `json:"views,omitempty"`
	Media     *wireMedia `json:"media,omitempty"`
}

type wireMedia struct {
	Kind string `json:"kind"`
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
}

type wireDialog struct {
	Platform  string `json:"platform"`
	AccountID string `json:"account_id"`
	ChatID    string `json:"chat_id"`
	Title     string `json:"title"`
	LastText  string `json:"last_text"`
	LastDate  int64  `json:"last_date"`
	Unread    int    `json:"unread"`
	Pinned    bool   `json:"pinned"`
}

type sendRequest struct {
	Platform  string `json:"platform"`
	AccountID string `json:"account_id"`
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
}

// FetchPage loads one backward page of chat history.
func (c *Client) FetchPage(ctx context.Context, key store.ChatKey, before string, limit int) (store.Page, error) {
	platform, account, chat, err := key.Parts()
	if err != nil {
		return store.Page{}, err
	}

	q := url.Values{}
	q.Set("platform", platform)
	q.Set("account_id", account)
	q.Set("chat_id", chat)
	q.Set("limit", strconv.Itoa(limit))
	if before != "" {
		q.Set("before", before)
	}

	var resp historyResponse
	if err := c.getJSON(ctx, "/v1/history?"+q.Encode(), &resp); err != nil {
		return store.Page{}, fmt.Errorf("fetch history %s: %w", key, err)
	}

	page := store.Page{
		Messages:   make([]store.Message, 0, len(resp.Messages)),
		NextOffset: resp.NextOffset,
		HasMore:    resp.HasMore,
	}
	for i := range resp.Messages {
		page.Messages = append(page.Messages, resp.Messages[i].toMessage())
	}
	return page, nil
}

// FetchDialogs loads the unified dialog list across all accounts.
func (c *Client) FetchDialogs(ctx context.Context) ([]dialogs.Preview, error) {
	var resp struct {
		Dialogs []wireDialog `json:"dialogs"`
	}
	if err := c.getJSON(ctx, "/v1/dialogs", &resp); err != nil {
		return nil, fmt.Errorf("fetch dialogs: %w", err)
	}

	previews := make([]dialogs.Preview, 0, len(resp.Dialogs))
	for _, d := range resp.Dialogs {
		previews = append(previews, dialogs.Preview{
			Chat:        store.NewChatKey(d.Platform, d.AccountID, d.ChatID),
			Title:       d.Title,
			LastText:    d.LastText,
			LastDate:    d.LastDate,
			UnreadCount: d.Unread,
			Pinned:      d.Pinned,
		})
	}
	return previews, nil
}

// SendText submits an outgoing text message. Confirmation arrives later
// on the push channel, not in this response.
func (c *Client) SendText(ctx context.Context, key store.ChatKey, text string) error {
	platform, account, chat, err := key.Parts()
	if err != nil {
		return err
	}
	err = c.postJSON(ctx, "/v1/messages", sendRequest{
		Platform:  platform,
		AccountID: account,
		ChatID:    chat,
		Text:      text,
	})
	if err != nil {
		return fmt.Errorf("send %s: %w", key, err)
	}
	return nil
}

// EditText replaces the text of an already-sent message. The edited frame
// comes back on the push channel like any remote edit.
func (c *Client) EditText(ctx context.Context, key store.ChatKey, msgID, text string) error {
	platform, account, chat, err := key.Parts()
	if err != nil {
		return err
	}
	body := map[string]string{
		"platform":   platform,
		"account_id": account,
		"chat_id":    chat,
		"message_id": msgID,
		"text":       text,
	}
	if err := c.postJSON(ctx, "/v1/messages/edit", body); err != nil {
		return fmt.Errorf("edit %s: %w", key, err)
	}
	return nil
}

// DeleteMessage deletes a message for all participants. The store entry is
// removed when the deletion frame arrives on the push channel.
func (c *Client) DeleteMessage(ctx context.Context, key store.ChatKey, msgID string) error {
	platform, account, chat, err := key.Parts()
	if err != nil {
		return err
	}
	body := map[string]string{
		"platform":   platform,
		"account_id": account,
		"chat_id":    chat,
		"message_id": msgID,
	}
	if err := c.postJSON(ctx, "/v1/messages/delete", body); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// MarkRead tells the backend a chat was viewed. The unread counter only
// resets when the resulting read receipt comes back on the push channel.
func (c *Client) MarkRead(ctx context.Context, key store.ChatKey) error {
	platform, account, chat, err := key.Parts()
	if err != nil {
		return err
	}
	err = c.postJSON(ctx, "/v1/read", map[string]string{
		"platform":   platform,
		"account_id": account,
		"chat_id":    chat,
	})
	if err != nil {
		return fmt.Errorf("mark read %s: %w", key, err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (w *wireMessage) toMessage() store.Message {
	dir := store.Incoming
	if w.Out {
		dir = store.Outgoing
	}
	status := store.DeliveryStatus(w.Status)
	if status == "" {
		if w.Out {
			status = store.StatusSent
		} else {
			status = store.StatusDelivered
		}
	}
	m := store.Message{
		Platform:  w.Platform,
		AccountID: w.AccountID,
		ChatID:    w.ChatID,
		MsgID:     w.MsgID,
		TempID:    w.TempID,
		Text:      w.Text,
		Date:      w.Date,
		Direction: dir,
		Status:    status,
		Views:     w.Views,
	}
	if w.Media != nil {
		m.Media = &store.Media{Kind: w.Media.Kind, URL: w.Media.URL, Name: w.Media.Name}
	}
	return m
}
