package oneatlas

import (
	"context"
	"net/http"

	"github.com/okian/atlasbatch/internal/domain/model"
)

// Search runs an opensearch query.
func (c *Client) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	var out SearchResult
	err := c.do(ctx, call{
		audience: AudienceData,
		endpoint: "search",
		method:   http.MethodPost,
		url:      c.endpoints.searchURL(),
		body:     req,
		out:      &out,
	})
	return out, err
}

// DownloadQuicklook saves a scene preview to path.
func (c *Client) DownloadQuicklook(ctx context.Context, quicklookURL, path string) (int64, error) {
	if quicklookURL == "" {
		return 0, model.Invalid("quicklook", "scene has no quicklook link")
	}
	return c.download(ctx, "quicklook", quicklookURL, path)
}
