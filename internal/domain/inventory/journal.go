package inventory

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/example/farm-ledger/internal/infrastructure/store"
	"github.com/example/farm-ledger/internal/model"
)

const (
	historyPageSize = 200
	maxPageSize     = 500
)

// History streams journal rows newest first. Each iteration re-reads the
// journal, so the sequence can be ranged over more than once. Rows are
// fetched a page at a time behind a keyset cursor, so rows committed during
// iteration never shift or duplicate what is yielded.
func (s *Service) History(ctx context.Context, f model.TransactionFilter) iter.Seq2[model.Transaction, error] {
	return func(yield func(model.Transaction, error) bool) {
		if err := validateFilter(f); err != nil {
			yield(model.Transaction{}, err)
			return
		}
		page := f
		page.Page = 1
		page.PageSize = historyPageSize

		for {
			var rows []model.Transaction
			err := s.view(ctx, func(r store.Reader) error {
				var err error
				rows, err = r.ListTransactions(ctx, page)
				return err
			})
			if err != nil {
				yield(model.Transaction{}, err)
				return
			}
			for _, t := range rows {
				if !yield(t, nil) {
					return
				}
			}
			if len(rows) < historyPageSize {
				return
			}
			page.Before = model.CursorOf(&rows[len(rows)-1])
		}
	}
}

// ListTransactions returns one page of history. PageSize defaults to 50
// and is capped at 500.
func (s *Service) ListTransactions(ctx context.Context, f model.TransactionFilter) ([]model.Transaction, error) {
	if err := validateFilter(f); err != nil {
		return nil, err
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = 50
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}

	var rows []model.Transaction
	err := s.view(ctx, func(r store.Reader) error {
		var err error
		rows, err = r.ListTransactions(ctx, f)
		return err
	})
	return rows, err
}

func validateFilter(f model.TransactionFilter) error {
	if f.Type != "" && !f.Type.Valid() {
		return fmt.Errorf("%w: unknown transaction type %q", ErrInvalidFilter, f.Type)
	}
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return fmt.Errorf("%w: empty date range", ErrInvalidFilter)
	}
	return nil
}

// ============================================
// Read views
// ============================================

// LowStock lists active items whose balance is under the reorder threshold.
func (s *Service) LowStock(ctx context.Context) ([]model.Item, error) {
	return s.ListItems(ctx, store.ItemFilter{ActiveOnly: true, BelowReorder: true})
}

// ExpiringBatches lists batches with stock left that expire within the horizon.
func (s *Service) ExpiringBatches(ctx context.Context, within time.Duration) ([]model.Batch, error) {
	if within < 0 {
		return nil, fmt.Errorf("%w: negative horizon %s", ErrInvalidFilter, within)
	}
	before := s.now().UTC().Add(within)

	var batches []model.Batch
	err := s.view(ctx, func(r store.Reader) error {
		var err error
		batches, err = r.ExpiringBatches(ctx, before)
		return err
	})
	return batches, err
}
