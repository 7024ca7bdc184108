// Package api speaks to the clinic server's request/response endpoints: the
// conversation roster, per-conversation history, the directory lookup for a
// newly connected peer, and the promote call that persists a conversation.
// Every failure here is recoverable; callers degrade and keep running.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/medisync/clinic-chat/internal/state"
)

// Role selects which side of a conversation this client operates as. The
// server exposes mirrored endpoints per role.
type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

// Valid reports whether the role is one the server knows.
func (r Role) Valid() bool { return r == RoleDoctor || r == RolePatient }

// cookieName returns the session cookie the server checks for this role.
func (r Role) cookieName() string {
	if r == RoleDoctor {
		return "docid"
	}
	return "userid"
}

// peerParam returns the query parameter naming the counterpart in the
// entries endpoint.
func (r Role) peerParam() string {
	if r == RoleDoctor {
		return "patId"
	}
	return "docId"
}

// Profile is a directory record for a peer, as returned by the lookup
// endpoint.
type Profile struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Email          string   `json:"email"`
	Qualifications []string `json:"qualifications"`
}

// Client is a thin fasthttp wrapper over the server's JSON endpoints.
type Client struct {
	base    string
	role    Role
	session string
	timeout time.Duration
	http    *fasthttp.Client
}

// New creates a client for the given server base URL (no trailing slash),
// operating role and session cookie value.
func New(baseURL string, role Role, sessionID string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:    baseURL,
		role:    role,
		session: sessionID,
		timeout: timeout,
		http:    &fasthttp.Client{Name: "clinic-chat"},
	}
}

// wire shapes, kept private to this package.
type conversationList struct {
	Conversations []struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		OnlineStatus bool   `json:"onlineStatus"`
	} `json:"conversations"`
}

type entryList struct {
	Entries []struct {
		ID             int64  `json:"id"`
		Time           string `json:"time"`
		FromDoctor     bool   `json:"from_doctor"`
		Message        string `json:"message"`
		ConversationID string `json:"conversation_id"`
	} `json:"entries"`
}

// Conversations fetches the roster of known conversations for this role.
func (c *Client) Conversations(ctx context.Context) ([]state.Conversation, error) {
	var res conversationList
	if err := c.getJSON(ctx, fmt.Sprintf("/%s/conversation", c.role), &res); err != nil {
		return nil, err
	}
	out := make([]state.Conversation, 0, len(res.Conversations))
	for _, w := range res.Conversations {
		out = append(out, state.Conversation{ID: w.ID, Name: w.Name, Online: w.OnlineStatus})
	}
	return out, nil
}

// Entries fetches one conversation's chat history in arrival order.
func (c *Client) Entries(ctx context.Context, peerID string) ([]state.Entry, error) {
	path := fmt.Sprintf("/%s/conversation/entries?%s=%s", c.role, c.role.peerParam(), url.QueryEscape(peerID))
	var res entryList
	if err := c.getJSON(ctx, path, &res); err != nil {
		return nil, err
	}
	out := make([]state.Entry, 0, len(res.Entries))
	for _, w := range res.Entries {
		out = append(out, state.Entry{
			ID:             strconv.FormatInt(w.ID, 10),
			ConversationID: w.ConversationID,
			Message:        w.Message,
			FromSelf:       w.FromDoctor == (c.role == RoleDoctor),
			Time:           parseEntryTime(w.Time),
		})
	}
	return out, nil
}

// Profile resolves the directory record for a newly connected peer.
func (c *Client) Profile(ctx context.Context, id string) (Profile, error) {
	var p Profile
	if err := c.getJSON(ctx, "/get/doctor/"+url.PathEscape(id), &p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// CreateConversation persists an active peer as a durable conversation
// server-side. The peer is only treated as durable once this succeeds.
func (c *Client) CreateConversation(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(fmt.Sprintf("%s/%s/conversation", c.base, c.role))
	req.Header.SetContentType("application/x-www-form-urlencoded")
	req.SetBodyString("id=" + url.QueryEscape(id))
	c.attachSession(req)

	if err := c.http.DoTimeout(req, resp, c.timeout); err != nil {
		return fmt.Errorf("create conversation %s: %w", id, err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return fmt.Errorf("create conversation %s: unexpected status %d", id, resp.StatusCode())
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.base + path)
	c.attachSession(req)

	if err := c.http.DoTimeout(req, resp, c.timeout); err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return fmt.Errorf("get %s: unexpected status %d", path, resp.StatusCode())
	}

	body := resp.Body()
	// some endpoints return the JSON document wrapped in a JSON string
	var inner string
	if err := json.Unmarshal(body, &inner); err == nil {
		body = []byte(inner)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) attachSession(req *fasthttp.Request) {
	if c.session != "" {
		req.Header.SetCookie(c.role.cookieName(), c.session)
	}
}

// entryTimeLayouts covers the timestamp renderings the server produces.
var entryTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// parseEntryTime is lenient: an unparseable timestamp degrades to the zero
// time rather than failing the whole history fetch.
func parseEntryTime(s string) time.Time {
	for _, layout := range entryTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
