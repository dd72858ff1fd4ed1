package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/gobeaver/ingest/httpkit"
	"github.com/gobeaver/ingest/normalize"
)

const githubBaseURL = "https://api.github.com"

// GitHub fetches the user's starred or owned repositories.
type GitHub struct {
	*BaseConnector

	// BaseURL overrides the API origin, primarily for tests.
	BaseURL string
}

// NewGitHub builds the github connector and registers its mapper.
func NewGitHub(deps Deps) *GitHub {
	normalize.Register("github", mapGitHubRepo)
	return &GitHub{
		BaseConnector: NewBase(BaseConfig{Provider: "github"}, deps),
		BaseURL:       githubBaseURL,
	}
}

// Fetch lists repositories. Params: type (starred|repos, default
// starred), page (default 1), pageSize (default 30, max 100).
func (g *GitHub) Fetch(ctx context.Context, userID string, params map[string]string) ([]*normalize.Item, error) {
	fetchType := params["type"]
	if fetchType == "" {
		fetchType = "starred"
	}

	var path string
	switch fetchType {
	case "starred":
		path = "/user/starred"
	case "repos":
		path = "/user/repos"
	default:
		return nil, fmt.Errorf("github: unknown type %q (want starred or repos)", fetchType)
	}

	page := intParam(params, "page", 1, 0)
	pageSize := intParam(params, "pageSize", 30, 100)

	resp, err := g.DoAuthorized(ctx, userID, httpkit.RequestConfig{
		URL: g.BaseURL + path,
		Headers: map[string]string{
			"Accept": "application/vnd.github+json",
		},
		Query: map[string]string{
			"page":     strconv.Itoa(page),
			"per_page": strconv.Itoa(pageSize),
		},
		ETagKey: fmt.Sprintf("github:%s:%s:page%d", userID, fetchType, page),
	})
	if err != nil {
		return nil, err
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(resp.Data, &raw); err != nil {
		return nil, fmt.Errorf("github: decoding %s response: %w", fetchType, err)
	}
	return normalize.Normalize("github", userID, raw)
}

// mapGitHubRepo maps one repository object. Both listing families return
// the same shape under Accept: application/vnd.github+json.
func mapGitHubRepo(userID string, raw json.RawMessage) (*normalize.Item, error) {
	var repo struct {
		ID          int64  `json:"id"`
		FullName    string `json:"full_name"`
		Description string `json:"description"`
		HTMLURL     string `json:"html_url"`
		Language    string `json:"language"`
		Stargazers  int    `json:"stargazers_count"`
		CreatedAt   string `json:"created_at"`
		Owner       struct {
			Login string `json:"login"`
		} `json:"owner"`
	}
	if err := json.Unmarshal(raw, &repo); err != nil {
		return nil, err
	}
	if repo.ID == 0 {
		return nil, fmt.Errorf("repository missing id")
	}

	externalID := strconv.FormatInt(repo.ID, 10)
	item := &normalize.Item{
		ID:          normalize.ItemID("github", externalID, userID),
		Source:      "github",
		ExternalID:  externalID,
		UserID:      userID,
		Title:       repo.FullName,
		BodyText:    repo.Description,
		URL:         repo.HTMLURL,
		Author:      repo.Owner.Login,
		PublishedAt: repo.CreatedAt,
	}
	if repo.Language != "" || repo.Stargazers > 0 {
		item.Metadata = map[string]any{
			"language": repo.Language,
			"stars":    repo.Stargazers,
		}
	}
	return item, nil
}
