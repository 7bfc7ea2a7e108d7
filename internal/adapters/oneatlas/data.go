package oneatlas

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// GetPrice prices an order request without placing it.
func (c *Client) GetPrice(ctx context.Context, req OrderRequest) (Price, error) {
	var out Price
	err := c.do(ctx, call{
		audience: AudienceData,
		endpoint: "price",
		method:   http.MethodPost,
		url:      c.endpoints.pricesURL(),
		body:     req,
		out:      &out,
	})
	return out, err
}

// CreateOrder places an order.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	var out Order
	err := c.do(ctx, call{
		audience: AudienceData,
		endpoint: "create_order",
		method:   http.MethodPost,
		url:      c.endpoints.ordersURL(),
		body:     req,
		out:      &out,
	})
	return out, err
}

// ListOrders returns one page of orders matching filter.
func (c *Client) ListOrders(ctx context.Context, filter OrderFilter) (OrderList, error) {
	var out OrderList
	err := c.do(ctx, call{
		audience: AudienceData,
		endpoint: "list_orders",
		method:   http.MethodGet,
		url:      c.endpoints.ordersURL(),
		query: map[string]string{
			"status":       filter.Status,
			"kind":         filter.Kind,
			"customerRef":  filter.CustomerRef,
			"page":         positive(filter.Page),
			"itemsPerPage": positive(filter.ItemsPerPage),
		},
		out: &out,
	})
	return out, err
}

// GetOrder fetches one order by id.
func (c *Client) GetOrder(ctx context.Context, id string) (Order, error) {
	var out Order
	err := c.do(ctx, call{
		audience: AudienceData,
		endpoint: "get_order",
		method:   http.MethodGet,
		url:      c.endpoints.ordersURL() + "/" + url.PathEscape(id),
		out:      &out,
	})
	return out, err
}

// DownloadOrder streams the first delivery of a delivered order to path.
func (c *Client) DownloadOrder(ctx context.Context, order Order, path string) (int64, error) {
	link, err := order.DownloadURL()
	if err != nil {
		return 0, err
	}
	return c.download(ctx, "download_order", link, path)
}

func positive(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}
