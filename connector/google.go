package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gobeaver/ingest/httpkit"
	"github.com/gobeaver/ingest/krypto"
	"github.com/gobeaver/ingest/normalize"
	"github.com/gobeaver/ingest/oauth"
)

const (
	gmailBaseURL    = "https://gmail.googleapis.com"
	calendarBaseURL = "https://www.googleapis.com"

	// hydrateParallelism bounds concurrent message hydrations. Each one
	// still passes the google rate limiter, so this only caps goroutines.
	hydrateParallelism = 5
)

// Google fetches Gmail messages or Calendar events, selected by the
// service fetch parameter. Both run under the one google OAuth app; the
// calendar payload shape routes through the google-calendar mapper key.
type Google struct {
	*BaseConnector

	// MailBaseURL and CalendarBaseURL override the API origins for tests.
	MailBaseURL     string
	CalendarBaseURL string
}

// NewGoogle builds the google connector and registers both mappers.
// Offline access and a forced consent screen are requested on every
// connect: Google only issues a refresh token under those parameters.
func NewGoogle(deps Deps) *Google {
	normalize.Register("google", mapGmailMessage)
	normalize.Register("google-calendar", mapCalendarEvent)
	return &Google{
		BaseConnector: NewBase(BaseConfig{
			Provider: "google",
			ConnectExtras: &oauth.AuthURLOptions{
				Prompt:      "consent",
				ExtraParams: map[string]string{"access_type": "offline"},
			},
		}, deps),
		MailBaseURL:     gmailBaseURL,
		CalendarBaseURL: calendarBaseURL,
	}
}

// Fetch dispatches on params["service"]: mail (default) or calendar.
func (g *Google) Fetch(ctx context.Context, userID string, params map[string]string) ([]*normalize.Item, error) {
	service := params["service"]
	if service == "" {
		service = "mail"
	}

	switch service {
	case "mail":
		return g.fetchMail(ctx, userID, params)
	case "calendar":
		return g.fetchCalendar(ctx, userID, params)
	default:
		return nil, fmt.Errorf("google: unknown service %q (want mail or calendar)", service)
	}
}

// fetchMail lists message IDs, then hydrates them in bounded parallel.
// Params: maxResults (default 25, max 100), q (Gmail search query),
// pageToken.
func (g *Google) fetchMail(ctx context.Context, userID string, params map[string]string) ([]*normalize.Item, error) {
	query := map[string]string{
		"maxResults": strconv.Itoa(intParam(params, "maxResults", 25, 100)),
	}
	if q := params["q"]; q != "" {
		query["q"] = q
	}
	if pt := params["pageToken"]; pt != "" {
		query["pageToken"] = pt
	}

	resp, err := g.DoAuthorized(ctx, userID, httpkit.RequestConfig{
		URL:   g.MailBaseURL + "/gmail/v1/users/me/messages",
		Query: query,
	})
	if err != nil {
		return nil, err
	}

	var listing struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(resp.Data, &listing); err != nil {
		return nil, fmt.Errorf("google: decoding message list: %w", err)
	}
	if len(listing.Messages) == 0 {
		return []*normalize.Item{}, nil
	}

	// metadataHeaders repeats, so it lives in the URL rather than Query.
	hydrateURL := g.MailBaseURL + "/gmail/v1/users/me/messages/%s" +
		"?format=metadata&metadataHeaders=Subject&metadataHeaders=From&metadataHeaders=Date"

	raw := make([]json.RawMessage, len(listing.Messages))
	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(hydrateParallelism)
	for i, msg := range listing.Messages {
		i, msg := i, msg
		grp.Go(func() error {
			r, err := g.DoAuthorized(grpCtx, userID, httpkit.RequestConfig{
				URL: fmt.Sprintf(hydrateURL, msg.ID),
			})
			if err != nil {
				return fmt.Errorf("google: hydrating message %s: %w", msg.ID, err)
			}
			raw[i] = r.Data
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	return normalize.Normalize("google", userID, raw)
}

// fetchCalendar lists events from the primary calendar. Params:
// maxResults (default 25, max 100), timeMin/timeMax (RFC 3339 or
// YYYY-MM-DD, expanded to midnight UTC).
func (g *Google) fetchCalendar(ctx context.Context, userID string, params map[string]string) ([]*normalize.Item, error) {
	query := map[string]string{
		"maxResults":   strconv.Itoa(intParam(params, "maxResults", 25, 100)),
		"singleEvents": "true",
		"orderBy":      "startTime",
	}
	for _, key := range []string{"timeMin", "timeMax"} {
		if v := params[key]; v != "" {
			query[key] = expandDate(v)
		}
	}

	etagKey := fmt.Sprintf("google-calendar:%s:%s", userID,
		krypto.ShortHash(query["timeMin"]+"|"+query["timeMax"]+"|"+query["maxResults"]))

	resp, err := g.DoAuthorized(ctx, userID, httpkit.RequestConfig{
		URL:     g.CalendarBaseURL + "/calendar/v3/calendars/primary/events",
		Query:   query,
		ETagKey: etagKey,
	})
	if err != nil {
		return nil, err
	}

	var listing struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(resp.Data, &listing); err != nil {
		return nil, fmt.Errorf("google: decoding event list: %w", err)
	}

	return normalize.Normalize("google-calendar", userID, listing.Items)
}

// mapGmailMessage maps a metadata-format Gmail message.
func mapGmailMessage(userID string, raw json.RawMessage) (*normalize.Item, error) {
	var msg struct {
		ID           string   `json:"id"`
		Snippet      string   `json:"snippet"`
		InternalDate string   `json:"internalDate"`
		LabelIDs     []string `json:"labelIds"`
		Payload      struct {
			Headers []struct {
				Name  string `json:"name"`
				Value string `json:"value"`
			} `json:"headers"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	if msg.ID == "" {
		return nil, fmt.Errorf("message missing id")
	}

	var subject, from string
	for _, h := range msg.Payload.Headers {
		switch {
		case strings.EqualFold(h.Name, "Subject"):
			subject = h.Value
		case strings.EqualFold(h.Name, "From"):
			from = h.Value
		}
	}

	item := &normalize.Item{
		ID:         normalize.ItemID("google", msg.ID, userID),
		Source:     "google",
		ExternalID: msg.ID,
		UserID:     userID,
		Title:      subject,
		BodyText:   msg.Snippet,
		URL:        "https://mail.google.com/mail/u/0/#inbox/" + msg.ID,
		Author:     from,
	}
	if ms, err := strconv.ParseInt(msg.InternalDate, 10, 64); err == nil && ms > 0 {
		item.PublishedAt = time.UnixMilli(ms).UTC().Format(time.RFC3339)
	}
	if len(msg.LabelIDs) > 0 {
		item.Metadata = map[string]any{"labels": msg.LabelIDs}
	}
	return item, nil
}

// mapCalendarEvent maps a Calendar API event. All-day events carry only
// a start date, expanded to midnight UTC.
func mapCalendarEvent(userID string, raw json.RawMessage) (*normalize.Item, error) {
	var ev struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		Summary     string `json:"summary"`
		Description string `json:"description"`
		HTMLLink    string `json:"htmlLink"`
		Location    string `json:"location"`
		Organizer   struct {
			Email       string `json:"email"`
			DisplayName string `json:"displayName"`
		} `json:"organizer"`
		Start struct {
			DateTime string `json:"dateTime"`
			Date     string `json:"date"`
		} `json:"start"`
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, err
	}
	if ev.ID == "" {
		return nil, fmt.Errorf("event missing id")
	}

	author := ev.Organizer.DisplayName
	if author == "" {
		author = ev.Organizer.Email
	}

	item := &normalize.Item{
		ID:          normalize.ItemID("google-calendar", ev.ID, userID),
		Source:      "google-calendar",
		ExternalID:  ev.ID,
		UserID:      userID,
		Title:       ev.Summary,
		BodyText:    ev.Description,
		URL:         ev.HTMLLink,
		Author:      author,
		PublishedAt: startTimestamp(ev.Start.DateTime, ev.Start.Date),
	}

	meta := make(map[string]any)
	if ev.Status != "" {
		meta["status"] = ev.Status
	}
	if ev.Location != "" {
		meta["location"] = ev.Location
	}
	if len(meta) > 0 {
		item.Metadata = meta
	}
	return item, nil
}

// expandDate widens a YYYY-MM-DD value to midnight UTC in RFC 3339;
// anything else passes through untouched.
func expandDate(v string) string {
	if d, err := time.Parse("2006-01-02", v); err == nil {
		return d.UTC().Format(time.RFC3339)
	}
	return v
}

func startTimestamp(dateTime, date string) string {
	if dateTime != "" {
		return dateTime
	}
	if date != "" {
		return expandDate(date)
	}
	return ""
}
