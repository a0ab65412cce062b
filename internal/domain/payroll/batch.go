package payroll

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"hrpay/internal/domain/tax"
)

// StaffInput pairs a calculator input with the staff member it belongs to.
type StaffInput struct {
	StaffID string
	Input   CompensationInput
}

type StaffResult struct {
	StaffID string
	Result  Result
}

// CalculateBatch runs one calculation per staff member on at most workers
// goroutines. Results keep the input order. A failing row becomes an error
// result and never stops the batch; only context cancellation does.
func CalculateBatch(ctx context.Context, inputs []StaffInput, cfg tax.Configuration, ex tax.Exemptions, workers int) ([]StaffResult, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	snapshot := cfg.Clone()
	out := make([]StaffResult, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, in := range inputs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = StaffResult{StaffID: in.StaffID, Result: Calculate(in.Input, snapshot, ex)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
