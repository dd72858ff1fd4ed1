package connector

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"time"

	"github.com/gobeaver/ingest/httpkit"
	"github.com/gobeaver/ingest/krypto"
	"github.com/gobeaver/ingest/normalize"
	"github.com/gobeaver/ingest/oauth"
)

// RSS fetches public RSS 2.0 and Atom feeds. There is no OAuth flow:
// Connect and HandleCallback refuse, AccessToken no-ops, and requests
// go out under the rss rate-limit bucket regardless of feed host.
type RSS struct {
	*BaseConnector
}

// NewRSS builds the feed connector and registers its mapper. Only the
// HTTP client and collector deps are used.
func NewRSS(deps Deps) *RSS {
	normalize.Register("rss", mapFeedEntry)
	return &RSS{
		BaseConnector: NewBase(BaseConfig{Provider: "rss"}, deps),
	}
}

// Connect refuses: feeds need no authorization.
func (r *RSS) Connect(ctx context.Context, userID string, opts *oauth.AuthURLOptions) (string, error) {
	return "", fmt.Errorf("rss: %w", ErrNoAuthFlow)
}

// HandleCallback refuses: feeds need no authorization.
func (r *RSS) HandleCallback(ctx context.Context, userID string, params map[string]string) (*oauth.TokenSet, error) {
	return nil, fmt.Errorf("rss: %w", ErrNoAuthFlow)
}

// Disconnect is a no-op: nothing is stored per user.
func (r *RSS) Disconnect(ctx context.Context, userID string) error {
	return nil
}

// AccessToken no-ops: feed requests carry no bearer token.
func (r *RSS) AccessToken(ctx context.Context, userID string) (string, error) {
	return "", nil
}

// Fetch downloads and parses the feed named by params["url"]. The ETag
// key hashes the URL so arbitrarily long feed addresses stay bounded.
func (r *RSS) Fetch(ctx context.Context, userID string, params map[string]string) ([]*normalize.Item, error) {
	feedURL := params["url"]
	if feedURL == "" {
		return nil, fmt.Errorf("rss: url parameter required")
	}

	resp, err := r.deps.HTTP.Request(ctx, httpkit.RequestConfig{
		URL:      feedURL,
		Provider: "rss",
		ETagKey:  "rss:" + krypto.ShortHash(feedURL),
	})
	if err != nil {
		return nil, err
	}

	entries, err := parseFeed(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("rss: %s: %w", feedURL, err)
	}

	raw := make([]json.RawMessage, 0, len(entries))
	for _, entry := range entries {
		b, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("rss: encoding entry: %w", err)
		}
		raw = append(raw, b)
	}
	return normalize.Normalize("rss", userID, raw)
}

// feedEntry is the JSON bridge between both XML dialects and the rss
// mapper.
type feedEntry struct {
	ExternalID string `json:"externalId"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	URL        string `json:"url"`
	Author     string `json:"author"`
	Published  string `json:"published"`
	FeedTitle  string `json:"feedTitle"`
}

// parseFeed sniffs the document root and dispatches to the matching
// dialect parser.
func parseFeed(data []byte) ([]feedEntry, error) {
	var root struct {
		XMLName xml.Name
	}
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}

	switch root.XMLName.Local {
	case "rss":
		return parseRSS2(data)
	case "feed":
		return parseAtom(data)
	default:
		return nil, fmt.Errorf("unsupported feed format <%s>", root.XMLName.Local)
	}
}

func parseRSS2(data []byte) ([]feedEntry, error) {
	var doc struct {
		Channel struct {
			Title string `xml:"title"`
			Items []struct {
				Title       string `xml:"title"`
				Link        string `xml:"link"`
				Description string `xml:"description"`
				Author      string `xml:"author"`
				Creator     string `xml:"creator"`
				GUID        string `xml:"guid"`
				PubDate     string `xml:"pubDate"`
			} `xml:"item"`
		} `xml:"channel"`
	}
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing rss channel: %w", err)
	}

	entries := make([]feedEntry, 0, len(doc.Channel.Items))
	for _, it := range doc.Channel.Items {
		author := it.Creator
		if author == "" {
			author = it.Author
		}
		entries = append(entries, feedEntry{
			ExternalID: it.GUID,
			Title:      it.Title,
			Body:       it.Description,
			URL:        it.Link,
			Author:     author,
			Published:  it.PubDate,
			FeedTitle:  doc.Channel.Title,
		})
	}
	return entries, nil
}

// atomLinkXML is an atom <link rel href> element.
type atomLinkXML struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
}

func parseAtom(data []byte) ([]feedEntry, error) {
	var doc struct {
		Title   string `xml:"title"`
		Entries []struct {
			ID        string `xml:"id"`
			Title     string `xml:"title"`
			Summary   string `xml:"summary"`
			Content   string `xml:"content"`
			Published string `xml:"published"`
			Updated   string `xml:"updated"`
			Author    struct {
				Name string `xml:"name"`
			} `xml:"author"`
			Links []atomLinkXML `xml:"link"`
		} `xml:"entry"`
	}
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing atom feed: %w", err)
	}

	entries := make([]feedEntry, 0, len(doc.Entries))
	for _, en := range doc.Entries {
		body := en.Summary
		if body == "" {
			body = en.Content
		}
		published := en.Published
		if published == "" {
			published = en.Updated
		}
		entries = append(entries, feedEntry{
			ExternalID: en.ID,
			Title:      en.Title,
			Body:       body,
			URL:        atomLink(en.Links),
			Author:     en.Author.Name,
			Published:  published,
			FeedTitle:  doc.Title,
		})
	}
	return entries, nil
}

// atomLink prefers the alternate relation, then any link.
func atomLink(links []atomLinkXML) string {
	for _, l := range links {
		if l.Rel == "alternate" || l.Rel == "" {
			return l.Href
		}
	}
	if len(links) > 0 {
		return links[0].Href
	}
	return ""
}

// feedTimeLayouts covers the date formats feeds publish in practice.
var feedTimeLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	time.RFC822Z,
	time.RFC822,
}

// mapFeedEntry maps the JSON bridge shape. Entries with no guid fall
// back to the link for identity; unparseable dates are dropped rather
// than aborting the batch.
func mapFeedEntry(userID string, raw json.RawMessage) (*normalize.Item, error) {
	var entry feedEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, err
	}

	externalID := entry.ExternalID
	if externalID == "" {
		externalID = entry.URL
	}
	if externalID == "" {
		return nil, fmt.Errorf("entry missing guid and link")
	}

	item := &normalize.Item{
		ID:          normalize.ItemID("rss", externalID, userID),
		Source:      "rss",
		ExternalID:  externalID,
		UserID:      userID,
		Title:       entry.Title,
		BodyText:    entry.Body,
		URL:         entry.URL,
		Author:      entry.Author,
		PublishedAt: parseFeedTime(entry.Published),
	}
	if entry.FeedTitle != "" {
		item.Metadata = map[string]any{"feed": entry.FeedTitle}
	}
	return item, nil
}

func parseFeedTime(v string) string {
	if v == "" {
		return ""
	}
	for _, layout := range feedTimeLayouts {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts.UTC().Format(time.RFC3339)
		}
	}
	return ""
}
