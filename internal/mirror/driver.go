package mirror

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"telegramdump/internal/models"
)

// Summary is the outcome of a whole mirror run.
type Summary struct {
	Processed int                `json:"processed"`
	Dialogs   int                `json:"dialogs"`
	Counts    models.MediaCounts `json:"counts"`
}

// Driver runs the engine over a list of dialogs under one overall limit.
type Driver struct {
	engine *Engine
}

func NewDriver(engine *Engine) *Driver {
	return &Driver{engine: engine}
}

// Mirror mirrors dialogIDs in order, or every dialog already in the store
// when dialogIDs is empty. overall caps the messages processed across all
// dialogs; 0 means no cap.
func (d *Driver) Mirror(ctx context.Context, dialogIDs []int64, overall int) (Summary, error) {
	sum := Summary{Counts: models.MediaCounts{}}

	if len(dialogIDs) == 0 {
		ids, err := d.engine.store.DialogIDs(ctx)
		if err != nil {
			return sum, errors.Wrap(err, "stored dialogs")
		}
		dialogIDs = ids
	}
	if len(dialogIDs) == 0 {
		d.engine.log.Info("Nothing to mirror")
		return sum, nil
	}

	n := len(dialogIDs)
	for i, id := range dialogIDs {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		limit := Budget(overall, i+1, n, sum.Processed)
		res, err := d.engine.MirrorDialog(ctx, id, limit, overall, sum.Processed)
		sum.Processed = res.Processed
		sum.Counts.Merge(res.Counts)
		if err != nil {
			return sum, err
		}
		sum.Dialogs++

		if overall > 0 && sum.Processed >= overall {
			d.engine.log.Info("Overall limit reached", zap.Int("processed", sum.Processed), zap.Int("limit", overall))
			break
		}
	}
	return sum, nil
}
