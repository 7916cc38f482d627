package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// QueryAll fetches every page matching filter, following cursors. The next
// page is requested in the background while the current one is appended.
func QueryAll(ctx context.Context, c Client, dbID string, filter *notionapi.DatabaseQueryRequest) ([]notionapi.Page, error) {
	next := func(cursor notionapi.Cursor) *notionapi.DatabaseQueryRequest {
		req := &notionapi.DatabaseQueryRequest{StartCursor: cursor}
		if filter != nil {
			req.Filter = filter.Filter
			req.Sorts = filter.Sorts
			req.PageSize = filter.PageSize
		}
		return req
	}

	type result struct {
		resp *notionapi.DatabaseQueryResponse
		err  error
	}

	var all []notionapi.Page
	resp, err := c.QueryDatabase(ctx, dbID, next(""))
	for {
		if err != nil {
			return nil, eris.Wrap(err, "notion: query all")
		}
		if !resp.HasMore {
			return append(all, resp.Results...), nil
		}

		ch := make(chan result, 1)
		go func(cursor notionapi.Cursor) {
			r, e := c.QueryDatabase(ctx, dbID, next(cursor))
			ch <- result{resp: r, err: e}
		}(resp.NextCursor)

		all = append(all, resp.Results...)
		r := <-ch
		resp, err = r.resp, r.err
	}
}
