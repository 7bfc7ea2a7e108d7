package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sethvargo/go-retry"

	"github.com/okian/atlasbatch/internal/adapters/oneatlas"
	"github.com/okian/atlasbatch/pkg/logger"
	"github.com/okian/atlasbatch/pkg/metrics"
)

const listPageSize = 10

// findOrder returns the first order listed under ref, if any.
func (s *Service) findOrder(ctx context.Context, ref string) (oneatlas.Order, bool, error) {
	list, err := s.client.ListOrders(ctx, oneatlas.OrderFilter{CustomerRef: ref, Page: 1, ItemsPerPage: listPageSize})
	if err != nil {
		return oneatlas.Order{}, false, fmt.Errorf("list orders %s: %w", ref, err)
	}
	if len(list.Items) == 0 {
		return oneatlas.Order{}, false, nil
	}
	if len(list.Items) > 1 {
		s.logger.Warn(ctx, "several orders share a customer reference, using the first",
			logger.Int("orders", len(list.Items)))
	}
	return list.Items[0], true, nil
}

// awaitDelivery polls the order listed under ref until it is delivered.
// The wait between polls starts at poll_interval and doubles up to
// poll_max_interval; the whole wait is bounded by poll_timeout.
func (s *Service) awaitDelivery(ctx context.Context, ref string, current oneatlas.Order) (oneatlas.Order, error) {
	if current.Delivered() {
		return current, nil
	}

	pctx, cancel := context.WithTimeout(ctx, s.cfg.PollTimeout)
	defer cancel()

	backoff := retry.WithCappedDuration(s.cfg.PollMaxInterval, retry.NewExponential(s.cfg.PollInterval))
	lastStatus := current.Status
	var delivered oneatlas.Order

	err := retry.Do(pctx, backoff, func(ctx context.Context) error {
		metrics.RecordPollAttempt()
		order, found, err := s.findOrder(ctx, ref)
		if err != nil {
			return err
		}
		if !found {
			s.logger.Debug(ctx, "order not listed yet")
			return retry.RetryableError(ErrNotVisible)
		}
		if order.Status != lastStatus {
			s.logger.Info(ctx, "order status changed",
				logger.String("order_id", order.ID),
				logger.String("from", lastStatus),
				logger.String("to", order.Status))
			lastStatus = order.Status
		}
		if !order.Delivered() {
			return retry.RetryableError(fmt.Errorf("order %s is %q", order.ID, order.Status))
		}
		delivered = order
		return nil
	})

	switch {
	case err == nil:
		return delivered, nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return oneatlas.Order{}, fmt.Errorf("%s after %s, last status %q: %w", ref, s.cfg.PollTimeout, lastStatus, ErrPollTimeout)
	default:
		return oneatlas.Order{}, err
	}
}

// withDownloadLink returns order, fetched again by id when the listing
// omitted its deliveries.
func (s *Service) withDownloadLink(ctx context.Context, order oneatlas.Order) (oneatlas.Order, error) {
	if _, err := order.DownloadURL(); err == nil || order.ID == "" {
		return order, nil
	}
	full, err := s.client.GetOrder(ctx, order.ID)
	if err != nil {
		return oneatlas.Order{}, fmt.Errorf("get order %s: %w", order.ID, err)
	}
	return full, nil
}
