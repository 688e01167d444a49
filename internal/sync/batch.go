package sync

import (
	"context"

	"github.com/tildaslashalef/budgetsync/internal/plan"
	"github.com/tildaslashalef/budgetsync/internal/remote"
	"github.com/tildaslashalef/budgetsync/internal/transport"
	"golang.org/x/sync/errgroup"
)

// SyncAll reconciles the whole local collection. Syncable plans are synced
// in batches of BatchSize; members of a batch run concurrently and batches
// run one after another. Remote plans missing locally are appended. Plans
// that fail keep their local version.
func (e *Engine) SyncAll(ctx context.Context, userID string, plans []*plan.Plan) BatchResult {
	if userID == "" {
		return BatchResult{Plans: plans, Err: notAuthenticated()}
	}
	local, syncable := partition(plans)
	res := BatchResult{Success: true}

	e.notifier.Emit(Event{Kind: EventSyncStarted, Total: len(syncable)})
	e.logger.Info("Starting full sync", "plans", len(syncable), "local_only", len(local), "batch_size", e.cfg.BatchSize)

	winners := make([]*plan.Plan, 0, len(syncable))
	for start := 0; start < len(syncable); start += e.cfg.BatchSize {
		batch := syncable[start:min(start+e.cfg.BatchSize, len(syncable))]

		for i, r := range e.runBatch(ctx, userID, batch) {
			if !r.Success {
				winners = append(winners, batch[i])
				res.Failed++
				res.fail(r.Err)
				continue
			}
			winners = append(winners, r.Plan)
			res.Synced++
			if r.Conflict {
				res.Conflicts++
			}
		}
	}

	seen := make(map[string]bool, len(plans))
	for _, p := range plans {
		seen[p.ID] = true
	}

	var remoteOnly []*plan.Plan
	rows, err := e.remote.FetchAll(ctx)
	if err != nil {
		e.logger.Warn("Fetching remote plans failed", "error", err)
		res.fail(err)
	} else {
		remoteOnly = e.remoteOnly(rows, seen, &res)
	}

	res.Plans = make([]*plan.Plan, 0, len(local)+len(winners)+len(remoteOnly))
	res.Plans = append(res.Plans, local...)
	res.Plans = append(res.Plans, dedupe(winners)...)
	res.Plans = append(res.Plans, remoteOnly...)

	e.report(len(syncable), res)
	return res
}

// UploadAll pushes every syncable plan and leaves the collection as is
func (e *Engine) UploadAll(ctx context.Context, userID string, plans []*plan.Plan) BatchResult {
	if userID == "" {
		return BatchResult{Plans: plans, Err: notAuthenticated()}
	}
	_, syncable := partition(plans)
	res := BatchResult{Success: true, Plans: plans}

	e.notifier.Emit(Event{Kind: EventSyncStarted, Total: len(syncable)})

	for start := 0; start < len(syncable); start += e.cfg.BatchSize {
		batch := syncable[start:min(start+e.cfg.BatchSize, len(syncable))]
		results := make([]UploadResult, len(batch))

		bctx, cancel := e.batchContext(ctx)
		var g errgroup.Group
		for i, p := range batch {
			g.Go(func() error {
				results[i] = e.Upload(bctx, userID, p)
				return nil
			})
		}
		_ = g.Wait()
		cancel()

		for _, r := range results {
			if r.Success {
				res.Synced++
				continue
			}
			res.Failed++
			res.fail(r.Err)
		}
	}

	e.report(len(syncable), res)
	return res
}

// runBatch syncs one batch concurrently and waits for every member
func (e *Engine) runBatch(ctx context.Context, userID string, batch []*plan.Plan) []PlanResult {
	results := make([]PlanResult, len(batch))

	bctx, cancel := e.batchContext(ctx)
	defer cancel()

	var g errgroup.Group
	for i, p := range batch {
		g.Go(func() error {
			results[i] = e.SyncPlan(bctx, userID, p)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Engine) batchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.BatchTimeout > 0 {
		return context.WithTimeout(ctx, e.cfg.BatchTimeout)
	}
	return context.WithCancel(ctx)
}

// remoteOnly decodes the rows whose plan is not in seen
func (e *Engine) remoteOnly(rows []remote.Row, seen map[string]bool, res *BatchResult) []*plan.Plan {
	var out []*plan.Plan
	for _, row := range rows {
		if seen[row.PlanID] {
			continue
		}
		p, err := remote.Decode(row)
		if err != nil {
			e.logger.Warn("Skipping undecodable remote plan", "id", row.ID, "error", err)
			res.fail(transport.NewError(transport.CodeUnknown, "decoding remote plan", err))
			continue
		}
		seen[p.ID] = true
		out = append(out, p)
		res.Downloaded++
	}
	return out
}

func (e *Engine) report(total int, res BatchResult) {
	if res.Downloaded > 0 {
		e.notifier.Emit(Event{Kind: EventDownloadSucceeded, Downloaded: res.Downloaded})
	}

	if res.Success {
		e.logger.Info("Full sync complete", "synced", res.Synced, "conflicts", res.Conflicts, "downloaded", res.Downloaded)
		e.notifier.Emit(Event{
			Kind:       EventSyncSucceeded,
			Total:      total,
			Synced:     res.Synced,
			Conflicts:  res.Conflicts,
			Downloaded: res.Downloaded,
		})
		return
	}

	e.logger.Warn("Full sync incomplete", "synced", res.Synced, "failed", res.Failed, "error", res.Err)
	if transport.CodeOf(res.Err) == transport.CodeNetwork {
		e.notifier.Emit(Event{Kind: EventNetworkError, Err: res.Err})
	}
	e.notifier.Emit(Event{
		Kind:       EventSyncFailed,
		Total:      total,
		Synced:     res.Synced,
		Conflicts:  res.Conflicts,
		Failed:     res.Failed,
		Downloaded: res.Downloaded,
		Err:        res.Err,
	})
}

// partition splits plans into local only and syncable, keeping order
func partition(plans []*plan.Plan) (local, syncable []*plan.Plan) {
	for _, p := range plans {
		if p.Syncable {
			syncable = append(syncable, p)
		} else {
			local = append(local, p)
		}
	}
	return local, syncable
}

// dedupe keeps the first plan for each id
func dedupe(plans []*plan.Plan) []*plan.Plan {
	seen := make(map[string]bool, len(plans))
	out := make([]*plan.Plan, 0, len(plans))
	for _, p := range plans {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		out = append(out, p)
	}
	return out
}
