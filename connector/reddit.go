package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gobeaver/ingest/httpkit"
	"github.com/gobeaver/ingest/normalize"
	"github.com/gobeaver/ingest/oauth"
)

const redditBaseURL = "https://oauth.reddit.com"

// Reddit fetches the user's saved, submitted, or upvoted listings.
// Listings are username-scoped, so every fetch resolves the identity
// via /api/v1/me first.
type Reddit struct {
	*BaseConnector

	// BaseURL overrides the API origin, primarily for tests.
	BaseURL string
}

// NewReddit builds the reddit connector and registers its mapper.
// duration=permanent is requested on connect; without it Reddit issues
// no refresh token.
func NewReddit(deps Deps) *Reddit {
	normalize.Register("reddit", mapRedditThing)
	return &Reddit{
		BaseConnector: NewBase(BaseConfig{
			Provider: "reddit",
			ConnectExtras: &oauth.AuthURLOptions{
				ExtraParams: map[string]string{"duration": "permanent"},
			},
		}, deps),
		BaseURL: redditBaseURL,
	}
}

// Fetch lists the user's things. Params: type (saved|submitted|upvoted,
// default saved), limit (default 25, max 100), after/before cursors.
func (r *Reddit) Fetch(ctx context.Context, userID string, params map[string]string) ([]*normalize.Item, error) {
	listing := params["type"]
	if listing == "" {
		listing = "saved"
	}
	switch listing {
	case "saved", "submitted", "upvoted":
	default:
		return nil, fmt.Errorf("reddit: unknown type %q (want saved, submitted, or upvoted)", listing)
	}

	username, err := r.resolveUsername(ctx, userID)
	if err != nil {
		return nil, err
	}

	query := map[string]string{
		"limit":    strconv.Itoa(intParam(params, "limit", 25, 100)),
		"raw_json": "1",
	}
	for _, cursor := range []string{"after", "before"} {
		if v := params[cursor]; v != "" {
			query[cursor] = v
		}
	}

	resp, err := r.DoAuthorized(ctx, userID, httpkit.RequestConfig{
		URL:   fmt.Sprintf("%s/user/%s/%s", r.BaseURL, username, listing),
		Query: query,
	})
	if err != nil {
		return nil, err
	}

	var page struct {
		Data struct {
			Children []struct {
				Data json.RawMessage `json:"data"`
			} `json:"children"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Data, &page); err != nil {
		return nil, fmt.Errorf("reddit: decoding %s listing: %w", listing, err)
	}

	raw := make([]json.RawMessage, 0, len(page.Data.Children))
	for _, child := range page.Data.Children {
		raw = append(raw, child.Data)
	}
	return normalize.Normalize("reddit", userID, raw)
}

// resolveUsername fetches the authenticated account name.
func (r *Reddit) resolveUsername(ctx context.Context, userID string) (string, error) {
	resp, err := r.DoAuthorized(ctx, userID, httpkit.RequestConfig{
		URL: r.BaseURL + "/api/v1/me",
	})
	if err != nil {
		return "", err
	}

	var me struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(resp.Data, &me); err != nil {
		return "", fmt.Errorf("reddit: decoding identity: %w", err)
	}
	if me.Name == "" {
		return "", fmt.Errorf("reddit: identity response missing name")
	}
	return me.Name, nil
}

// mapRedditThing maps a link (t3) or comment (t1) object. Comments carry
// body instead of title/selftext; both carry a permalink.
func mapRedditThing(userID string, raw json.RawMessage) (*normalize.Item, error) {
	var thing struct {
		ID          string  `json:"id"`
		Name        string  `json:"name"`
		Title       string  `json:"title"`
		Selftext    string  `json:"selftext"`
		Body        string  `json:"body"`
		Permalink   string  `json:"permalink"`
		Author      string  `json:"author"`
		Subreddit   string  `json:"subreddit"`
		Score       int     `json:"score"`
		NumComments int     `json:"num_comments"`
		CreatedUTC  float64 `json:"created_utc"`
	}
	if err := json.Unmarshal(raw, &thing); err != nil {
		return nil, err
	}

	externalID := thing.Name
	if externalID == "" {
		externalID = thing.ID
	}
	if externalID == "" {
		return nil, fmt.Errorf("thing missing id")
	}

	body := thing.Selftext
	if body == "" {
		body = thing.Body
	}

	item := &normalize.Item{
		ID:         normalize.ItemID("reddit", externalID, userID),
		Source:     "reddit",
		ExternalID: externalID,
		UserID:     userID,
		Title:      thing.Title,
		BodyText:   body,
		Author:     thing.Author,
	}
	if thing.Permalink != "" {
		item.URL = "https://www.reddit.com" + thing.Permalink
	}
	if thing.CreatedUTC > 0 {
		item.PublishedAt = time.Unix(int64(thing.CreatedUTC), 0).UTC().Format(time.RFC3339)
	}
	if thing.Subreddit != "" {
		item.Metadata = map[string]any{
			"subreddit": thing.Subreddit,
			"score":     thing.Score,
			"comments":  thing.NumComments,
		}
	}
	return item, nil
}
