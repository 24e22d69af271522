package scriptbox

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// BatchItem is one script of a RunBatch call. Path, when set, runs a module
// file instead of Source.
type BatchItem struct {
	Source  string
	Path    string
	Payload any
	Options []Option
}

// RunBatch runs items with at most Config.BatchParallelism in flight and
// returns their results in input order. Per-item options follow opts. The
// first misuse error stops items not yet started and is returned; script
// failures never stop the batch.
func (r *Runner) RunBatch(ctx context.Context, items []BatchItem, opts ...Option) ([]Result, error) {
	if r.closed.Load() {
		return nil, ErrRunnerClosed
	}
	results := make([]Result, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.BatchParallelism)
	for i, item := range items {
		itemOpts := append(append([]Option(nil), opts...), item.Options...)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var (
				res Result
				err error
			)
			if item.Path != "" {
				res, err = r.RunModule(gctx, item.Path, item.Payload, itemOpts...)
			} else {
				res, err = r.Run(gctx, item.Source, item.Payload, itemOpts...)
			}
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
