package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/tourkeeper/internal/common"
	"github.com/dmitrijs2005/tourkeeper/internal/models"
)

var (
	ErrUsage         = errors.New("usage")
	ErrNothingToDo   = errors.New("nothing to change")
	ErrInvalidDate   = errors.New("date must be YYYY-MM-DD")
	ErrInvalidStatus = errors.New("status must be offer, pending, confirmed or cancelled")
)

func usage(u string) error {
	return fmt.Errorf("%w: %s", ErrUsage, u)
}

func checkDate(s string) error {
	if _, err := time.Parse(time.DateOnly, s); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return nil
}

// enqueue records the mutation of sh for the server. The payload is the
// full record after the mutation; deletes carry none.
func (a *App) enqueue(ctx context.Context, typ models.OperationType, sh models.Show) error {
	var payload json.RawMessage
	if typ != models.OperationDelete {
		raw, err := json.Marshal(sh)
		if err != nil {
			return fmt.Errorf("encode show: %w", err)
		}
		payload = raw
	}
	a.queue.Enqueue(ctx, typ, models.ResourceTypeShow, sh.ID, payload)
	return nil
}

func (a *App) List(ctx context.Context) error {
	shows := a.shows.GetAll()
	if len(shows) == 0 {
		fmt.Fprintln(a.out, "No shows yet")
		return nil
	}
	return printShows(a.out, shows)
}

func (a *App) Show(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("show <id>")
	}
	sh, ok := a.shows.GetByID(args[0])
	if !ok {
		return fmt.Errorf("show %s: %w", args[0], common.ErrorNotFound)
	}
	raw, err := json.MarshalIndent(sh, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, string(raw))
	return nil
}

func (a *App) Add(ctx context.Context, args []string) error {
	if len(args) < 3 || len(args) > 4 {
		return usage("add <title> <city> <date> [fee]")
	}
	if err := checkDate(args[2]); err != nil {
		return err
	}

	sh := models.Show{
		Title:  args[0],
		City:   args[1],
		Date:   args[2],
		Status: models.ShowStatusOffer,
	}
	if len(args) == 4 {
		fee, err := strconv.ParseFloat(args[3], 64)
		if err != nil {
			return fmt.Errorf("fee: %w", err)
		}
		sh.Fee = fee
	}

	sh = a.shows.Add(ctx, sh)
	if err := a.enqueue(ctx, models.OperationCreate, sh); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Added %s\n", sh.ID)
	return nil
}

func (a *App) Set(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return usage("set <id> <field>=<value>...")
	}
	id := args[0]

	patch, err := models.PatchFromPairs(args[1:])
	if err != nil {
		return err
	}
	if patch.IsEmpty() {
		return ErrNothingToDo
	}
	if patch.Date != nil {
		if err := checkDate(*patch.Date); err != nil {
			return err
		}
	}
	if patch.Status != nil {
		switch *patch.Status {
		case models.ShowStatusOffer, models.ShowStatusPending, models.ShowStatusConfirmed, models.ShowStatusCancelled:
		default:
			return ErrInvalidStatus
		}
	}

	sh, ok := a.shows.Update(ctx, id, patch)
	if !ok {
		return fmt.Errorf("show %s: %w", id, common.ErrorNotFound)
	}
	if err := a.enqueue(ctx, models.OperationUpdate, sh); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Updated %s (version %d)\n", sh.ID, sh.Version)
	return nil
}

func (a *App) Delete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("delete <id>")
	}
	sh, ok := a.shows.GetByID(args[0])
	if !ok || !a.shows.Remove(ctx, sh.ID) {
		return fmt.Errorf("show %s: %w", args[0], common.ErrorNotFound)
	}
	if err := a.enqueue(ctx, models.OperationDelete, sh); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Deleted %s\n", sh.ID)
	return nil
}

func (a *App) Queue(ctx context.Context) error {
	ops := a.queue.GetQueued()
	if len(ops) == 0 {
		fmt.Fprintln(a.out, "Queue is empty")
		return nil
	}
	return printOperations(a.out, ops)
}

func (a *App) Failed(ctx context.Context) error {
	ops := a.queue.GetFailed()
	if len(ops) == 0 {
		fmt.Fprintln(a.out, "No failed operations")
		return nil
	}
	return printOperations(a.out, ops)
}

func (a *App) Retry(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("retry <id>")
	}
	if !a.queue.Retry(ctx, args[0]) {
		return fmt.Errorf("failed operation %s: %w", args[0], common.ErrorNotFound)
	}
	a.driver.Trigger()
	fmt.Fprintf(a.out, "Requeued %s\n", args[0])
	return nil
}

func (a *App) Discard(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("discard <id>")
	}
	if !a.queue.Discard(ctx, args[0]) {
		return fmt.Errorf("failed operation %s: %w", args[0], common.ErrorNotFound)
	}
	fmt.Fprintf(a.out, "Discarded %s\n", args[0])
	return nil
}

func (a *App) Clear(ctx context.Context) error {
	s := a.queue.GetStats()
	if s.QueuedCount+s.FailedCount == 0 {
		fmt.Fprintln(a.out, "Nothing to clear")
		return nil
	}

	prompt := fmt.Sprintf("Drop %d queued and %d failed operations? Unsent changes stay local only.", s.QueuedCount, s.FailedCount)
	ok, err := Confirm(a.scanner, prompt, a.out)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(a.out, "Cancelled")
		return nil
	}

	a.queue.Clear(ctx)
	fmt.Fprintln(a.out, "Queue cleared")
	return nil
}

func (a *App) Stats(ctx context.Context) error {
	s := a.queue.GetStats()
	st := a.monitor.State()
	return printStats(a.out, a.mode(), s, st, a.shows.Len())
}

func (a *App) Sync(ctx context.Context) error {
	res := a.driver.SyncQueuedOperations(ctx)
	switch {
	case res.Skipped:
		fmt.Fprintln(a.out, "Offline: nothing sent")
	case res.Attempted == 0:
		fmt.Fprintln(a.out, "Nothing to sync")
	default:
		fmt.Fprintf(a.out, "Attempted %d, synced %d, failed %d\n", res.Attempted, res.Synced, res.Failed)
	}
	return nil
}

func (a *App) Pull(ctx context.Context) error {
	if !a.monitor.IsOnline() {
		fmt.Fprintln(a.out, "Offline: nothing pulled")
		return nil
	}
	n, err := a.driver.Pull(ctx)
	if err != nil {
		return fmt.Errorf("pull: %w", err)
	}
	fmt.Fprintf(a.out, "Applied %d remote changes\n", n)
	return nil
}

func (a *App) Events(ctx context.Context) error {
	events := a.events.Events()
	if len(events) == 0 {
		fmt.Fprintln(a.out, "No events")
		return nil
	}
	for _, e := range events {
		fmt.Fprintln(a.out, e.String())
	}
	return nil
}

func (a *App) Offline(ctx context.Context) error {
	a.manualOffline.Store(true)
	a.monitor.SetOnline(ctx, false)
	fmt.Fprintln(a.out, "Working offline; changes are queued until you go online")
	return nil
}

func (a *App) Online(ctx context.Context) error {
	a.manualOffline.Store(false)
	if a.monitor.Check(ctx) {
		fmt.Fprintln(a.out, "Online")
		return nil
	}
	fmt.Fprintln(a.out, "Server unreachable, still offline")
	return nil
}
