// Package extract orchestrates a full governance extraction run: resolve
// the organization, page through delegates and proposals with checkpoints,
// collect votes per proposal, assemble the matrix, and export.
package extract

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/daoscope/govmatrix/internal/checkpoint"
	"github.com/daoscope/govmatrix/internal/export"
	"github.com/daoscope/govmatrix/internal/matrix"
	"github.com/daoscope/govmatrix/internal/model"
	"github.com/daoscope/govmatrix/internal/paginate"
	"github.com/daoscope/govmatrix/internal/store"
	"github.com/daoscope/govmatrix/pkg/tally"
)

// Client is the governance API surface the extractor depends on. *tally.Client
// implements it; tests substitute a scripted fake.
type Client interface {
	OrganizationBySlug(ctx context.Context, slug string) (*model.Organization, error)
	Delegates(ctx context.Context, orgID, cursor string, limit int) (tally.Page[model.Delegate], error)
	Proposals(ctx context.Context, orgID, cursor string, limit int) (tally.Page[model.Proposal], error)
	Votes(ctx context.Context, proposalID, cursor string, limit int) (tally.Page[model.Vote], error)
	Stats() tally.Stats
}

// Options tunes batch sizes and failure budgets for one extraction run.
type Options struct {
	DelegateBatch     int // default 200
	ProposalBatch     int // default 100
	VoteBatch         int // default 5000
	DelegateMaxStalls int // default 15
	VoteMaxStalls     int // default 50
	MaxDelegates      int // 0 = unlimited
	MaxProposals      int // 0 = unlimited
}

func (o *Options) applyDefaults() {
	if o.DelegateBatch <= 0 {
		o.DelegateBatch = 200
	}
	if o.ProposalBatch <= 0 {
		o.ProposalBatch = 100
	}
	if o.VoteBatch <= 0 {
		o.VoteBatch = 5000
	}
	if o.DelegateMaxStalls <= 0 {
		o.DelegateMaxStalls = 15
	}
	if o.VoteMaxStalls <= 0 {
		o.VoteMaxStalls = 50
	}
}

// Extractor drives a run end to end. The vote store is optional; without it
// votes are refetched every run.
type Extractor struct {
	client      Client
	checkpoints *checkpoint.Store
	votes       store.VoteStore
	exporter    *export.Exporter
	opts        Options
}

// New assembles an Extractor. checkpoints and exporter are required;
// voteStore may be nil.
func New(client Client, checkpoints *checkpoint.Store, voteStore store.VoteStore, exporter *export.Exporter, opts Options) *Extractor {
	opts.applyDefaults()
	return &Extractor{
		client:      client,
		checkpoints: checkpoints,
		votes:       voteStore,
		exporter:    exporter,
		opts:        opts,
	}
}

// retryable treats everything except permanent request failures as worth
// another attempt.
func retryable(err error) bool {
	return tally.KindOf(err) != tally.KindPermanent
}

// slugCandidates expands a user-supplied name into probe-worthy slug
// variants, primary first, deduplicated.
func slugCandidates(name string) []string {
	primary := strings.ToLower(strings.TrimSpace(name))
	candidates := []string{
		primary,
		strings.ReplaceAll(primary, " ", "-"),
		strings.ReplaceAll(primary, "_", "-"),
		strings.TrimSuffix(primary, "-dao"),
		primary + "-dao",
		strings.ReplaceAll(primary, "-", ""),
	}

	seen := make(map[string]struct{}, len(candidates))
	out := candidates[:0]
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// ResolveOrganization resolves a slug or name to an organization with
// governor IDs. The primary slug is tried first; on a miss the alternate
// spellings are probed concurrently, at most three in flight, and the first
// hit in candidate order wins.
func (e *Extractor) ResolveOrganization(ctx context.Context, name string) (*model.Organization, error) {
	candidates := slugCandidates(name)

	org, err := e.client.OrganizationBySlug(ctx, candidates[0])
	if err == nil && len(org.GovernorIDs) > 0 {
		return org, nil
	}
	if err != nil && !eris.Is(err, tally.ErrOrganizationNotFound) {
		return nil, err
	}

	alternates := candidates[1:]
	if len(alternates) == 0 {
		return nil, eris.Wrapf(tally.ErrOrganizationNotFound, "resolve %q", name)
	}

	zap.L().Info("organization not found under primary slug, probing alternates",
		zap.String("slug", candidates[0]),
		zap.Strings("alternates", alternates))

	var mu sync.Mutex
	found := make([]*model.Organization, len(alternates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(3)
	for i, slug := range alternates {
		g.Go(func() error {
			org, err := e.client.OrganizationBySlug(gctx, slug)
			if err != nil {
				if eris.Is(err, tally.ErrOrganizationNotFound) {
					return nil
				}
				return err
			}
			if len(org.GovernorIDs) == 0 {
				return nil
			}
			mu.Lock()
			found[i] = org
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, org := range found {
		if org != nil {
			return org, nil
		}
	}
	return nil, eris.Wrapf(tally.ErrOrganizationNotFound, "resolve %q", name)
}

// FetchDelegates pages through the organization's delegates, resuming from
// and saving to the checkpoint at every page boundary.
func (e *Extractor) FetchDelegates(ctx context.Context, org *model.Organization) (paginate.Result[model.Delegate], error) {
	st := e.checkpoints.Load()
	if st.DelegatesComplete && len(st.Delegates) > 0 {
		zap.L().Info("reusing checkpointed delegates", zap.Int("count", len(st.Delegates)))
		return paginate.Result[model.Delegate]{Items: st.Delegates, Complete: true}, nil
	}

	cfg := paginate.Config[model.Delegate]{
		Key:           model.Delegate.Key,
		MaxItems:      e.opts.MaxDelegates,
		MaxStalls:     e.opts.DelegateMaxStalls,
		ExpectedTotal: org.DelegatesCount,
		Retryable:     retryable,
		OnPage: func(items []model.Delegate, cursor string) {
			if err := e.checkpoints.SaveDelegates(items, cursor); err != nil {
				zap.L().Warn("delegate checkpoint save failed", zap.Error(err))
			}
		},
	}

	fetch := func(ctx context.Context, cursor string) (paginate.Page[model.Delegate], error) {
		page, err := e.client.Delegates(ctx, org.ID, cursor, e.opts.DelegateBatch)
		return paginate.Page[model.Delegate]{Items: page.Items, NextCursor: page.NextCursor}, err
	}

	res, err := paginate.Run(ctx, fetch, cfg, st.Delegates, st.DelegateCursor)
	if res.Complete {
		if cerr := e.checkpoints.SaveDelegates(res.Items, ""); cerr != nil {
			zap.L().Warn("delegate checkpoint save failed", zap.Error(cerr))
		}
	}
	return res, err
}

// FetchProposals pages through proposals. A checkpointed set is reused when
// it is marked complete and still meets the organization's declared count.
func (e *Extractor) FetchProposals(ctx context.Context, org *model.Organization) (paginate.Result[model.Proposal], error) {
	st := e.checkpoints.Load()
	if st.ProposalsComplete && len(st.Proposals) >= org.ProposalsCount && len(st.Proposals) > 0 {
		zap.L().Info("reusing checkpointed proposals", zap.Int("count", len(st.Proposals)))
		return paginate.Result[model.Proposal]{Items: st.Proposals, Complete: true}, nil
	}

	cfg := paginate.Config[model.Proposal]{
		Key:           model.Proposal.Key,
		MaxItems:      e.opts.MaxProposals,
		ExpectedTotal: org.ProposalsCount,
		Retryable:     retryable,
		OnPage: func(items []model.Proposal, _ string) {
			if err := e.checkpoints.SaveProposals(items, false); err != nil {
				zap.L().Warn("proposal checkpoint save failed", zap.Error(err))
			}
		},
	}

	fetch := func(ctx context.Context, cursor string) (paginate.Page[model.Proposal], error) {
		page, err := e.client.Proposals(ctx, org.ID, cursor, e.opts.ProposalBatch)
		return paginate.Page[model.Proposal]{Items: page.Items, NextCursor: page.NextCursor}, err
	}

	res, err := paginate.Run(ctx, fetch, cfg, st.Proposals, "")
	if res.Complete {
		if cerr := e.checkpoints.SaveProposals(res.Items, true); cerr != nil {
			zap.L().Warn("proposal checkpoint save failed", zap.Error(cerr))
		}
	}
	return res, err
}

// FetchVotes collects all votes for one proposal, consulting the vote store
// for completed sets and resume cursors. Store failures degrade to a cache
// miss; they never abort the fetch.
func (e *Extractor) FetchVotes(ctx context.Context, p model.Proposal) ([]model.Vote, error) {
	var seed []model.Vote
	var cursor string

	if e.votes != nil {
		cached, err := e.votes.GetVotes(ctx, p.ID)
		if err != nil {
			zap.L().Warn("vote cache read failed", zap.String("proposal", p.ID), zap.Error(err))
		} else if cached != nil {
			if cached.Complete {
				zap.L().Debug("reusing cached votes",
					zap.String("proposal", p.ID),
					zap.Int("count", len(cached.Votes)))
				return cached.Votes, nil
			}
			seed = cached.Votes
		}

		if cursor, err = e.votes.GetVoteCursor(ctx, p.ID); err != nil {
			zap.L().Warn("vote cursor read failed", zap.String("proposal", p.ID), zap.Error(err))
			cursor = ""
		}
	}

	cfg := paginate.Config[model.Vote]{
		Key:           model.Vote.Key,
		MaxStalls:     e.opts.VoteMaxStalls,
		ExpectedTotal: p.ExpectedVoteCount(),
		Retryable:     retryable,
		OnPage: func(items []model.Vote, next string) {
			if e.votes == nil {
				return
			}
			if err := e.votes.SetVotes(ctx, p.ID, items, false); err != nil {
				zap.L().Warn("vote cache write failed", zap.String("proposal", p.ID), zap.Error(err))
			}
			if err := e.votes.SetVoteCursor(ctx, p.ID, next); err != nil {
				zap.L().Warn("vote cursor write failed", zap.String("proposal", p.ID), zap.Error(err))
			}
		},
	}

	fetch := func(ctx context.Context, cursor string) (paginate.Page[model.Vote], error) {
		page, err := e.client.Votes(ctx, p.ID, cursor, e.opts.VoteBatch)
		return paginate.Page[model.Vote]{Items: page.Items, NextCursor: page.NextCursor}, err
	}

	res, err := paginate.Run(ctx, fetch, cfg, seed, cursor)

	if e.votes != nil && res.Complete {
		if serr := e.votes.SetVotes(ctx, p.ID, res.Items, true); serr != nil {
			zap.L().Warn("vote cache write failed", zap.String("proposal", p.ID), zap.Error(serr))
		}
		if serr := e.votes.DeleteVoteCursor(ctx, p.ID); serr != nil {
			zap.L().Warn("vote cursor delete failed", zap.String("proposal", p.ID), zap.Error(serr))
		}
	}
	return res.Items, err
}

// Run executes a full extraction for the named organization. Fetch-level
// failures degrade to partial data with warnings; cancellation and
// organization resolution failures abort, emergency-exporting whatever was
// accumulated.
func (e *Extractor) Run(ctx context.Context, name string) (*model.RunReport, export.Files, error) {
	started := time.Now().UTC()
	runID := uuid.New().String()

	org, err := e.ResolveOrganization(ctx, name)
	if err != nil {
		return nil, export.Files{}, eris.Wrapf(err, "extract: resolve organization %q", name)
	}
	zap.L().Info("organization resolved",
		zap.String("run_id", runID),
		zap.String("slug", org.Slug),
		zap.String("org_id", org.ID),
		zap.Int("declared_delegates", org.DelegatesCount),
		zap.Int("declared_proposals", org.ProposalsCount))

	var (
		delegates       []model.Delegate
		proposals       []model.Proposal
		votesByProposal = make(map[string][]model.Vote)
	)

	// abort assembles the partial matrix and emergency-exports it before
	// surfacing the fatal error.
	abort := func(cause error) (*model.RunReport, export.Files, error) {
		res := matrix.Build(delegates, proposals, votesByProposal)
		report := e.buildReport(runID, org, res, started, true)
		files := e.exporter.ExportEmergency(res, report)
		return &report, files, cause
	}

	dres, err := e.FetchDelegates(ctx, org)
	delegates = dres.Items
	if err != nil {
		if ctx.Err() != nil || len(delegates) == 0 {
			return abort(eris.Wrap(err, "extract: fetch delegates"))
		}
		zap.L().Warn("continuing with partial delegate set",
			zap.Int("count", len(delegates)), zap.Error(err))
	}
	zap.L().Info("delegates fetched", zap.Int("count", len(delegates)), zap.Bool("complete", dres.Complete))

	pres, err := e.FetchProposals(ctx, org)
	proposals = pres.Items
	if err != nil {
		if ctx.Err() != nil || len(proposals) == 0 {
			return abort(eris.Wrap(err, "extract: fetch proposals"))
		}
		zap.L().Warn("continuing with partial proposal set",
			zap.Int("count", len(proposals)), zap.Error(err))
	}
	zap.L().Info("proposals fetched", zap.Int("count", len(proposals)), zap.Bool("complete", pres.Complete))

	for i, p := range proposals {
		if ctx.Err() != nil {
			return abort(eris.Wrap(ctx.Err(), "extract: cancelled"))
		}

		vv, err := e.FetchVotes(ctx, p)
		votesByProposal[p.ID] = vv
		if err != nil {
			if ctx.Err() != nil {
				return abort(eris.Wrap(err, "extract: fetch votes"))
			}
			zap.L().Warn("continuing with partial votes",
				zap.String("proposal", p.ID),
				zap.Int("count", len(vv)),
				zap.Error(err))
		}
		zap.L().Debug("votes fetched",
			zap.String("proposal", p.ID),
			zap.Int("index", i+1),
			zap.Int("total", len(proposals)),
			zap.Int("votes", len(vv)))
	}

	res := matrix.Build(delegates, proposals, votesByProposal)
	report := e.buildReport(runID, org, res, started, false)

	files, err := e.exporter.ExportAll(res, report)
	if err != nil {
		return &report, files, eris.Wrap(err, "extract: export")
	}

	zap.L().Info("extraction complete",
		zap.String("run_id", runID),
		zap.Int("records", len(res.Records)),
		zap.Float64("participation", res.Participation))
	return &report, files, nil
}

func (e *Extractor) buildReport(runID string, org *model.Organization, res matrix.Result, started time.Time, emergency bool) model.RunReport {
	stats := e.client.Stats()
	return model.RunReport{
		RunID:            runID,
		OrgName:          org.Name,
		OrgSlug:          org.Slug,
		StartedAt:        started,
		FinishedAt:       time.Now().UTC(),
		Delegates:        len(res.DelegateSummaries),
		Proposals:        len(res.ProposalSummaries),
		TotalRecords:     len(res.Records),
		VotesExtracted:   res.VotesExtracted,
		UniqueVoters:     res.UniqueVoters,
		Participation:    res.Participation,
		Requests:         stats.Requests,
		RequestSuccesses: stats.Successes,
		RequestFailures:  stats.Failures,
		RateLimited:      stats.RateLimited,
		Emergency:        emergency,
	}
}
