// Package paginate drives cursor-based pagination against a page-fetch
// function, with stall detection, bounded retry, and dedup-safe resume.
package paginate

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrStalled is returned when the consecutive-failure bound is exceeded.
// The partial accumulation and resume cursor are still returned so the
// caller can checkpoint and resume later.
var ErrStalled = eris.New("paginate: pagination stalled")

// Page is one fetched page. An empty NextCursor means the service offered
// nothing further.
type Page[T any] struct {
	Items      []T
	NextCursor string
}

// FetchFunc fetches the page at the given cursor ("" for the first page).
type FetchFunc[T any] func(ctx context.Context, cursor string) (Page[T], error)

// Config tunes one pagination run.
type Config[T any] struct {
	// Key returns the item's stable identity for deduplication. Required.
	Key func(T) string

	// MaxItems optionally caps the accumulation. 0 = unlimited.
	MaxItems int

	// MaxStalls bounds consecutive failures/stalls before giving up.
	// Default 15.
	MaxStalls int

	// ExpectedTotal is an advisory count hint. When set, an empty page
	// with an unchanged cursor is retried (bounded) instead of treated as
	// termination while the accumulation is still short of the hint. It is
	// never a hard stop on its own.
	ExpectedTotal int

	// InitialBackoff and MaxBackoff bound the sleep between stall retries.
	// Defaults 2s and 5s.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Sleep is invoked between stall retries. Tests inject a no-op.
	Sleep func(ctx context.Context, d time.Duration) error

	// Retryable reports whether a fetch error is worth another attempt.
	// Nil means always retry (up to MaxStalls).
	Retryable func(err error) bool

	// OnPage is called after every successfully merged page with the full
	// accumulation and the cursor to resume from, so the caller can
	// checkpoint at page boundaries.
	OnPage func(items []T, nextCursor string)
}

// Result is the outcome of a pagination run. When Complete is false,
// ResumeCursor marks where a later run should pick up.
type Result[T any] struct {
	Items        []T
	ResumeCursor string
	Complete     bool
	Pages        int
}

func (c *Config[T]) applyDefaults() {
	if c.MaxStalls <= 0 {
		c.MaxStalls = 15
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 2 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.Sleep == nil {
		c.Sleep = func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		}
	}
}

// Run paginates from startCursor, merging into seed (the accumulation from a
// previous checkpointed run). Items already present in seed, and duplicates
// from page overlap at the resume boundary, are dropped by Key.
//
// Termination rules: an empty page with no (or an unchanged) cursor is the
// end of the sequence, unless ExpectedTotal is set and not yet reached, in
// which case it is retried up to MaxStalls. A non-empty page whose cursor
// does not advance is a stall, never forward progress. This is a heuristic
// over observed service behavior, not a protocol guarantee.
func Run[T any](ctx context.Context, fetch FetchFunc[T], cfg Config[T], seed []T, startCursor string) (Result[T], error) {
	cfg.applyDefaults()

	items := make([]T, 0, len(seed))
	seen := make(map[string]struct{}, len(seed))
	for _, it := range seed {
		k := cfg.Key(it)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		items = append(items, it)
	}

	cursor := startCursor
	stalls := 0
	pages := 0
	backoff := cfg.InitialBackoff

	fail := func(err error) (Result[T], error) {
		return Result[T]{Items: items, ResumeCursor: cursor, Pages: pages}, err
	}
	stall := func(cause string) (done bool, res Result[T], err error) {
		stalls++
		if stalls >= cfg.MaxStalls {
			res, err = fail(eris.Wrapf(ErrStalled, "%s after %d consecutive attempts", cause, stalls))
			return true, res, err
		}
		if serr := cfg.Sleep(ctx, backoff); serr != nil {
			res, err = fail(serr)
			return true, res, err
		}
		next := time.Duration(float64(backoff) * 1.7)
		if next > cfg.MaxBackoff {
			next = cfg.MaxBackoff
		}
		backoff = next
		return false, Result[T]{}, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		page, err := fetch(ctx, cursor)
		if err != nil {
			if cfg.Retryable != nil && !cfg.Retryable(err) {
				return fail(err)
			}
			zap.L().Warn("paginate: page fetch failed",
				zap.String("cursor", cursor),
				zap.Int("stalls", stalls+1),
				zap.Error(err),
			)
			if done, res, serr := stall("fetch failures"); done {
				return res, serr
			}
			continue
		}
		pages++

		added := 0
		for _, it := range page.Items {
			k := cfg.Key(it)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			items = append(items, it)
			added++
		}

		advanced := page.NextCursor != "" && page.NextCursor != cursor

		if len(page.Items) == 0 {
			if advanced {
				// Empty page but a fresh cursor: count it against the
				// stall budget and keep walking.
				cursor = page.NextCursor
				if cfg.OnPage != nil {
					cfg.OnPage(items, cursor)
				}
				if done, res, serr := stall("empty pages"); done {
					return res, serr
				}
				continue
			}
			if cfg.ExpectedTotal > 0 && len(items) < cfg.ExpectedTotal {
				if done, res, serr := stall("empty page below expected total"); done {
					return res, serr
				}
				continue
			}
			return Result[T]{Items: items, Complete: true, Pages: pages}, nil
		}

		if added > 0 && advanced {
			stalls = 0
			backoff = cfg.InitialBackoff
		}

		if cfg.MaxItems > 0 && len(items) >= cfg.MaxItems {
			items = items[:cfg.MaxItems]
			return Result[T]{Items: items, Complete: true, Pages: pages}, nil
		}

		if !advanced {
			if page.NextCursor == "" {
				// Items with no follow-up cursor: end of the sequence.
				return Result[T]{Items: items, Complete: true, Pages: pages}, nil
			}
			if cfg.ExpectedTotal > 0 && len(items) >= cfg.ExpectedTotal {
				return Result[T]{Items: items, Complete: true, Pages: pages}, nil
			}
			// Identical non-null cursor on a non-empty page is a stall,
			// never forward progress.
			if done, res, serr := stall("repeated cursor"); done {
				return res, serr
			}
			continue
		}

		cursor = page.NextCursor
		if cfg.OnPage != nil {
			cfg.OnPage(items, cursor)
		}
	}
}
