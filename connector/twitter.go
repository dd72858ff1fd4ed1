package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/gobeaver/ingest/httpkit"
	"github.com/gobeaver/ingest/normalize"
)

const twitterBaseURL = "https://api.twitter.com"

// Twitter fetches the user's tweets, mentions, or likes through the v2
// API. Timelines are id-scoped, so every fetch resolves the account id
// via /2/users/me first.
type Twitter struct {
	*BaseConnector

	// BaseURL overrides the API origin, primarily for tests.
	BaseURL string
}

// NewTwitter builds the twitter connector and registers its mapper.
func NewTwitter(deps Deps) *Twitter {
	normalize.Register("twitter", mapTweet)
	return &Twitter{
		BaseConnector: NewBase(BaseConfig{Provider: "twitter"}, deps),
		BaseURL:       twitterBaseURL,
	}
}

// Fetch lists tweets. Params: type (tweets|mentions|likes, default
// tweets), limit (5–100, default 25), paginationToken.
func (t *Twitter) Fetch(ctx context.Context, userID string, params map[string]string) ([]*normalize.Item, error) {
	var endpoint string
	fetchType := params["type"]
	if fetchType == "" {
		fetchType = "tweets"
	}
	switch fetchType {
	case "tweets":
		endpoint = "tweets"
	case "mentions":
		endpoint = "mentions"
	case "likes":
		endpoint = "liked_tweets"
	default:
		return nil, fmt.Errorf("twitter: unknown type %q (want tweets, mentions, or likes)", fetchType)
	}

	accountID, err := t.resolveAccountID(ctx, userID)
	if err != nil {
		return nil, err
	}

	// The v2 API rejects max_results outside 5..100.
	limit := intParam(params, "limit", 25, 100)
	if limit < 5 {
		limit = 5
	}

	query := map[string]string{
		"max_results":  strconv.Itoa(limit),
		"tweet.fields": "created_at,public_metrics,author_id",
	}
	if pt := params["paginationToken"]; pt != "" {
		query["pagination_token"] = pt
	}

	resp, err := t.DoAuthorized(ctx, userID, httpkit.RequestConfig{
		URL:   fmt.Sprintf("%s/2/users/%s/%s", t.BaseURL, accountID, endpoint),
		Query: query,
	})
	if err != nil {
		return nil, err
	}

	var page struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(resp.Data, &page); err != nil {
		return nil, fmt.Errorf("twitter: decoding %s listing: %w", fetchType, err)
	}

	return normalize.Normalize("twitter", userID, page.Data)
}

// resolveAccountID fetches the authenticated account's id.
func (t *Twitter) resolveAccountID(ctx context.Context, userID string) (string, error) {
	resp, err := t.DoAuthorized(ctx, userID, httpkit.RequestConfig{
		URL: t.BaseURL + "/2/users/me",
	})
	if err != nil {
		return "", err
	}

	var me struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Data, &me); err != nil {
		return "", fmt.Errorf("twitter: decoding identity: %w", err)
	}
	if me.Data.ID == "" {
		return "", fmt.Errorf("twitter: identity response missing id")
	}
	return me.Data.ID, nil
}

// mapTweet maps a v2 tweet object.
func mapTweet(userID string, raw json.RawMessage) (*normalize.Item, error) {
	var tweet struct {
		ID            string `json:"id"`
		Text          string `json:"text"`
		AuthorID      string `json:"author_id"`
		CreatedAt     string `json:"created_at"`
		PublicMetrics struct {
			RetweetCount int `json:"retweet_count"`
			ReplyCount   int `json:"reply_count"`
			LikeCount    int `json:"like_count"`
		} `json:"public_metrics"`
	}
	if err := json.Unmarshal(raw, &tweet); err != nil {
		return nil, err
	}
	if tweet.ID == "" {
		return nil, fmt.Errorf("tweet missing id")
	}

	return &normalize.Item{
		ID:          normalize.ItemID("twitter", tweet.ID, userID),
		Source:      "twitter",
		ExternalID:  tweet.ID,
		UserID:      userID,
		BodyText:    tweet.Text,
		URL:         "https://twitter.com/i/web/status/" + tweet.ID,
		Author:      tweet.AuthorID,
		PublishedAt: tweet.CreatedAt,
		Metadata: map[string]any{
			"retweets": tweet.PublicMetrics.RetweetCount,
			"replies":  tweet.PublicMetrics.ReplyCount,
			"likes":    tweet.PublicMetrics.LikeCount,
		},
	}, nil
}
