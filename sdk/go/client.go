package hoccoosdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Hoccoo HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Quest is one entry of a user's hand.
type Quest struct {
	ID             string `json:"id"`
	CreatedAt      string `json:"created_at"`
	TargetPersonID string `json:"target_person_id"`
	TargetDept     string `json:"target_dept"`
	TargetName     string `json:"target_name"`
	ActionKey      string `json:"action_key"`
	ActionLabel    string `json:"action_label"`
	Points         int    `json:"points"`
	Bonus          int    `json:"bonus"`
	Text           string `json:"text"`
	Status         string `json:"status"`
}

type Post struct {
	ID               string `json:"id"`
	CreatedAt        string `json:"created_at"`
	Author           string `json:"author"`
	Type             string `json:"type"`
	WithWhomPersonID string `json:"with_whom_person_id,omitempty"`
	WithWhomLabel    string `json:"with_whom_label,omitempty"`
	Body             string `json:"body"`
}

// PostResult reports the effects of a post on the author's hand.
type PostResult struct {
	Post      Post    `json:"post"`
	Completed *Quest  `json:"completed,omitempty"`
	Awarded   int     `json:"awarded"`
	Rerolled  bool    `json:"rerolled"`
	Hand      []Quest `json:"hand"`
	Points    int     `json:"points"`
}

type Person struct {
	ID   string `json:"id"`
	Dept string `json:"dept"`
	Name string `json:"name"`
}

type LeaderboardEntry struct {
	Rank   int    `json:"rank"`
	User   string `json:"user"`
	Points int    `json:"points"`
}

type Me struct {
	User   string `json:"user"`
	Points int    `json:"points"`
	Rank   int    `json:"rank"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login exchanges the shared password for a token and stores it on the client.
func (c *Client) Login(ctx context.Context, user, password string) ([]Quest, error) {
	var resp struct {
		Token string  `json:"token"`
		Hand  []Quest `json:"hand"`
	}
	body := map[string]any{"user": user, "password": password}
	if err := c.do(ctx, http.MethodPost, "v0/auth/login", body, &resp); err != nil {
		return nil, err
	}
	c.BearerToken = resp.Token
	return resp.Hand, nil
}

func (c *Client) Me(ctx context.Context) (Me, error) {
	var resp Me
	err := c.do(ctx, http.MethodGet, "v0/me", nil, &resp)
	return resp, err
}

// Hand returns the current user's active quests.
func (c *Client) Hand(ctx context.Context) ([]Quest, error) {
	var resp struct {
		Items []Quest `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v0/hand", nil, &resp)
	return resp.Items, err
}

// Pull discards the hand and draws a new one.
func (c *Client) Pull(ctx context.Context) ([]Quest, error) {
	var resp struct {
		Items []Quest `json:"items"`
	}
	err := c.do(ctx, http.MethodPost, "v0/hand/pull", nil, &resp)
	return resp.Items, err
}

// Post submits a board post. postType may be empty for a chat post.
func (c *Client) Post(ctx context.Context, postType, withWhom, text string) (PostResult, error) {
	body := map[string]any{"body": text}
	if postType != "" {
		body["type"] = postType
	}
	if withWhom != "" {
		body["with_whom"] = withWhom
	}
	var resp PostResult
	err := c.do(ctx, http.MethodPost, "v0/posts", body, &resp)
	return resp, err
}

// Posts returns the board, newest first.
func (c *Client) Posts(ctx context.Context, limit int) ([]Post, error) {
	endpoint := "v0/posts"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []Post `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) People(ctx context.Context) ([]Person, error) {
	var resp struct {
		Items []Person `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v0/people", nil, &resp)
	return resp.Items, err
}

func (c *Client) AddPerson(ctx context.Context, dept, name string) (Person, error) {
	var resp Person
	err := c.do(ctx, http.MethodPost, "v0/people", map[string]any{"dept": dept, "name": name}, &resp)
	return resp, err
}

func (c *Client) RemovePerson(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "v0/people/"+url.PathEscape(id), nil, nil)
}

func (c *Client) Leaderboard(ctx context.Context) ([]LeaderboardEntry, error) {
	var resp struct {
		Items []LeaderboardEntry `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v0/leaderboard", nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
