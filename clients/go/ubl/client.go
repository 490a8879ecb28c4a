// Package ubl provides a client for the UBL messaging and ledger service.
package ubl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ubl-proto/ubl/internal/models"
)

// GeneralRoom is the room auto-created with every tenant.
const GeneralRoom = "r:general"

// Client is a UBL API client. Identity headers are injected on every request;
// in production these come from the edge auth layer, so the client is mainly
// useful for tests and internal tooling.
type Client struct {
	BaseURL    string
	UserID     string
	Email      string
	HTTPClient *http.Client
}

// NewClient creates a new UBL client acting as the given identity.
func NewClient(baseURL, userID, email string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		BaseURL:    baseURL,
		UserID:     userID,
		Email:      email,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// WhoamiResponse is the body of GET /api/whoami.
type WhoamiResponse struct {
	Identity models.Identity `json:"identity"`
	TenantID string          `json:"tenant_id"`
	Role     string          `json:"role"`
}

// Whoami resolves the caller's tenant, bootstrapping it on first touch.
func (c *Client) Whoami() (*WhoamiResponse, error) {
	var out WhoamiResponse
	if err := c.do(http.MethodGet, "/api/whoami", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRooms returns the caller's room index.
func (c *Client) ListRooms() ([]models.RoomSummary, error) {
	var out struct {
		Rooms []models.RoomSummary `json:"rooms"`
	}
	if err := c.do(http.MethodGet, "/api/rooms", nil, &out); err != nil {
		return nil, err
	}
	return out.Rooms, nil
}

// CreateRoom creates a room from a human name.
func (c *Client) CreateRoom(name string) (string, error) {
	var out struct {
		RoomID string `json:"room_id"`
	}
	if err := c.do(http.MethodPost, "/api/rooms", map[string]any{"name": name}, &out); err != nil {
		return "", err
	}
	return out.RoomID, nil
}

// Send posts a text message to a room. clientRequestID may be empty; passing
// the same value twice returns the original message instead of a duplicate.
func (c *Client) Send(roomID, text, clientRequestID string) (*models.Message, error) {
	body := map[string]any{
		"type": models.MessageTypeText,
		"body": map[string]any{"text": text},
	}
	if clientRequestID != "" {
		body["client_request_id"] = clientRequestID
	}
	var out struct {
		Message *models.Message `json:"message"`
	}
	if err := c.do(http.MethodPost, "/api/rooms/"+roomID+"/messages", body, &out); err != nil {
		return nil, err
	}
	return out.Message, nil
}

// History pages a room's recent messages in ascending order. cursor=0 starts
// at the newest page; the returned cursor is 0 when nothing older remains.
func (c *Client) History(roomID string, cursor int64, limit int) ([]models.Message, int64, error) {
	q := url.Values{}
	if cursor > 0 {
		q.Set("cursor", strconv.FormatInt(cursor, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/rooms/" + roomID + "/history"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Messages   []models.Message `json:"messages"`
		NextCursor *int64           `json:"next_cursor"`
	}
	if err := c.do(http.MethodGet, path, nil, &out); err != nil {
		return nil, 0, err
	}
	var next int64
	if out.NextCursor != nil {
		next = *out.NextCursor
	}
	return out.Messages, next, nil
}

// Receipt fetches the atoms recorded at a ledger seq.
func (c *Client) Receipt(seq int64) ([]models.Atom, error) {
	var out struct {
		Atoms []models.Atom `json:"atoms"`
	}
	if err := c.do(http.MethodGet, "/api/receipts/"+strconv.FormatInt(seq, 10), nil, &out); err != nil {
		return nil, err
	}
	return out.Atoms, nil
}

func (c *Client) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("X-UBL-User-Id", c.UserID)
	req.Header.Set("X-UBL-Email", c.Email)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", apiErr.Error, apiErr.Message)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out != nil {
		return json.Unmarshal(raw, out)
	}
	return nil
}
