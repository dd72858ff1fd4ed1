package connector_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gobeaver/ingest/connector"
)

const twitterTimeline = `{"data":[
	{"id":"1001","text":"shipping it","author_id":"42","created_at":"2026-08-20T12:00:00.000Z","public_metrics":{"retweet_count":3,"reply_count":1,"like_count":9}},
	{"id":"1002","text":"fixed the flaky test","author_id":"42","created_at":"2026-08-21T09:30:00.000Z","public_metrics":{"retweet_count":0,"reply_count":2,"like_count":4}}
],"meta":{"result_count":2}}`

// twitterServer serves the identity endpoint and any user timeline,
// recording the timeline request.
func twitterServer(t *testing.T) (*httptest.Server, *url.Values, *string) {
	t.Helper()
	var gotQuery url.Values
	var gotPath string

	mux := http.NewServeMux()
	mux.HandleFunc("/2/users/me", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"id":"42","username":"beaver"}}`))
	})
	mux.HandleFunc("/2/users/42/", func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		w.Write([]byte(twitterTimeline))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &gotQuery, &gotPath
}

func TestTwitterFetchTweets(t *testing.T) {
	srv, gotQuery, gotPath := twitterServer(t)

	tw := connector.NewTwitter(newFetchDeps(t, "twitter"))
	tw.BaseURL = srv.URL

	items, err := tw.Fetch(context.Background(), "u1", nil)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if *gotPath != "/2/users/42/tweets" {
		t.Errorf("path = %q, want /2/users/42/tweets", *gotPath)
	}
	if gotQuery.Get("max_results") != "25" {
		t.Errorf("max_results = %q, want 25", gotQuery.Get("max_results"))
	}
	if gotQuery.Get("tweet.fields") != "created_at,public_metrics,author_id" {
		t.Errorf("tweet.fields = %q, want field projections always requested", gotQuery.Get("tweet.fields"))
	}

	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
	first := items[0]
	if first.Source != "twitter" || first.ExternalID != "1001" {
		t.Errorf("identity = %s/%s, want twitter/1001", first.Source, first.ExternalID)
	}
	if first.BodyText != "shipping it" {
		t.Errorf("BodyText = %q", first.BodyText)
	}
	if first.URL != "https://twitter.com/i/web/status/1001" {
		t.Errorf("URL = %q", first.URL)
	}
	if first.Author != "42" {
		t.Errorf("Author = %q, want author_id", first.Author)
	}
	if likes, ok := first.Metadata["likes"].(int); !ok || likes != 9 {
		t.Errorf("Metadata[likes] = %v, want 9", first.Metadata["likes"])
	}
}

func TestTwitterFetchEndpointSelection(t *testing.T) {
	tests := []struct {
		fetchType string
		wantPath  string
	}{
		{"mentions", "/2/users/42/mentions"},
		{"likes", "/2/users/42/liked_tweets"},
	}
	for _, tt := range tests {
		t.Run(tt.fetchType, func(t *testing.T) {
			srv, _, gotPath := twitterServer(t)

			tw := connector.NewTwitter(newFetchDeps(t, "twitter"))
			tw.BaseURL = srv.URL

			if _, err := tw.Fetch(context.Background(), "u1", map[string]string{"type": tt.fetchType}); err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			if *gotPath != tt.wantPath {
				t.Errorf("path = %q, want %q", *gotPath, tt.wantPath)
			}
		})
	}
}

func TestTwitterFetchLimitClamped(t *testing.T) {
	tests := []struct {
		name  string
		limit string
		want  string
	}{
		{"below minimum", "3", "5"},
		{"above maximum", "500", "100"},
		{"in range", "50", "50"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, gotQuery, _ := twitterServer(t)

			tw := connector.NewTwitter(newFetchDeps(t, "twitter"))
			tw.BaseURL = srv.URL

			if _, err := tw.Fetch(context.Background(), "u1", map[string]string{"limit": tt.limit}); err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			if got := gotQuery.Get("max_results"); got != tt.want {
				t.Errorf("max_results = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTwitterFetchUnknownType(t *testing.T) {
	tw := connector.NewTwitter(newFetchDeps(t, "twitter"))

	_, err := tw.Fetch(context.Background(), "u1", map[string]string{"type": "bookmarks"})
	if err == nil || !strings.Contains(err.Error(), "unknown type") {
		t.Errorf("Fetch() error = %v, want unknown type error", err)
	}
}
