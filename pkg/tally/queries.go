package tally

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/daoscope/govmatrix/internal/model"
)

// ErrOrganizationNotFound is returned when the service resolves a slug to
// nothing. Alias probing treats it as a cheap negative, not a failure.
var ErrOrganizationNotFound = eris.New("tally: organization not found")

const organizationQuery = `
query GetOrganization($input: OrganizationInput!) {
    organization(input: $input) {
        id
        slug
        name
        chainIds
        governorIds
        proposalsCount
        delegatesCount
        delegatesVotesCount
        tokenOwnersCount
        hasActiveProposals
    }
}`

const delegatesQuery = `
query GetDelegates($input: DelegatesInput!) {
    delegates(input: $input) {
        nodes {
            ... on Delegate {
                id
                account { address name bio twitter ens }
                votesCount
                delegatorsCount
                statement { statement statementSummary isSeekingDelegation }
            }
        }
        pageInfo { firstCursor lastCursor count }
    }
}`

const proposalsQuery = `
query GetProposals($input: ProposalsInput!) {
    proposals(input: $input) {
        nodes {
            ... on Proposal {
                id
                onchainId
                metadata { title description }
                proposer { address name }
                status
                start {
                    ... on Block { timestamp number }
                    ... on BlocklessTimestamp { timestamp }
                }
                end {
                    ... on Block { timestamp number }
                    ... on BlocklessTimestamp { timestamp }
                }
                voteStats { type votesCount votersCount percent }
                quorum
            }
        }
        pageInfo { firstCursor lastCursor count }
    }
}`

const votesQuery = `
query GetVotes($input: VotesInput!) {
    votes(input: $input) {
        nodes {
            ... on OnchainVote {
                id
                type
                amount
                reason
                voter { address name ens }
                block { timestamp number }
                txHash
            }
        }
        pageInfo { firstCursor lastCursor count }
    }
}`

// Page carries one page of typed items plus the service-issued cursor for
// the next request. An empty cursor means the service offered nothing
// further.
type Page[T any] struct {
	Items      []T
	NextCursor string
}

// OrganizationBySlug resolves a slug to its organization record.
func (c *Client) OrganizationBySlug(ctx context.Context, slug string) (*model.Organization, error) {
	data, err := c.Send(ctx, organizationQuery, map[string]any{
		"input": map[string]any{"slug": slug},
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Organization *wireOrganization `json:"organization"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, eris.Wrap(err, "tally: decode organization")
	}
	if payload.Organization == nil || payload.Organization.ID.String() == "" {
		return nil, ErrOrganizationNotFound
	}
	org := payload.Organization.toModel()
	return &org, nil
}

func pageInput(cursor string, limit int) map[string]any {
	page := map[string]any{"limit": limit}
	if cursor != "" {
		page["afterCursor"] = cursor
	}
	return page
}

// Delegates fetches one page of delegates for an organization, sorted by id
// ascending so cursors remain stable across resumed runs.
func (c *Client) Delegates(ctx context.Context, orgID, cursor string, limit int) (Page[model.Delegate], error) {
	data, err := c.Send(ctx, delegatesQuery, map[string]any{
		"input": map[string]any{
			"filters": map[string]any{"organizationId": orgID},
			"page":    pageInput(cursor, limit),
			"sort":    map[string]any{"sortBy": "id", "isDescending": false},
		},
	})
	if err != nil {
		return Page[model.Delegate]{}, err
	}

	var payload struct {
		Delegates struct {
			Nodes    []wireDelegate `json:"nodes"`
			PageInfo pageInfo       `json:"pageInfo"`
		} `json:"delegates"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return Page[model.Delegate]{}, eris.Wrap(err, "tally: decode delegates")
	}

	page := Page[model.Delegate]{NextCursor: payload.Delegates.PageInfo.LastCursor}
	for _, node := range payload.Delegates.Nodes {
		if d, ok := node.toModel(); ok {
			page.Items = append(page.Items, d)
		}
	}
	return page, nil
}

// Proposals fetches one page of proposals for an organization, newest first,
// including archived ones.
func (c *Client) Proposals(ctx context.Context, orgID, cursor string, limit int) (Page[model.Proposal], error) {
	data, err := c.Send(ctx, proposalsQuery, map[string]any{
		"input": map[string]any{
			"filters": map[string]any{
				"organizationId":  orgID,
				"includeArchived": true,
			},
			"page": pageInput(cursor, limit),
			"sort": map[string]any{"sortBy": "id", "isDescending": true},
		},
	})
	if err != nil {
		return Page[model.Proposal]{}, err
	}

	var payload struct {
		Proposals struct {
			Nodes    []wireProposal `json:"nodes"`
			PageInfo pageInfo       `json:"pageInfo"`
		} `json:"proposals"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return Page[model.Proposal]{}, eris.Wrap(err, "tally: decode proposals")
	}

	page := Page[model.Proposal]{NextCursor: payload.Proposals.PageInfo.LastCursor}
	for _, node := range payload.Proposals.Nodes {
		if p, ok := node.toModel(); ok {
			page.Items = append(page.Items, p)
		}
	}
	return page, nil
}

// Votes fetches one page of votes for a proposal, sorted by id ascending.
func (c *Client) Votes(ctx context.Context, proposalID, cursor string, limit int) (Page[model.Vote], error) {
	data, err := c.Send(ctx, votesQuery, map[string]any{
		"input": map[string]any{
			"filters": map[string]any{"proposalId": proposalID},
			"page":    pageInput(cursor, limit),
			"sort":    map[string]any{"sortBy": "id", "isDescending": false},
		},
	})
	if err != nil {
		return Page[model.Vote]{}, err
	}

	var payload struct {
		Votes struct {
			Nodes    []wireVote `json:"nodes"`
			PageInfo pageInfo   `json:"pageInfo"`
		} `json:"votes"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return Page[model.Vote]{}, eris.Wrap(err, "tally: decode votes")
	}

	page := Page[model.Vote]{NextCursor: payload.Votes.PageInfo.LastCursor}
	for _, node := range payload.Votes.Nodes {
		if v, ok := node.toModel(); ok {
			page.Items = append(page.Items, v)
		}
	}
	return page, nil
}

const governorQuery = `
query GetGovernor($input: GovernorInput!) {
    governor(input: $input) {
        id
        name
        slug
        kind
        quorum
        delegatesCount
        delegatesVotesCount
        tokenOwnersCount
        proposalStats { total passed failed active }
        token { symbol decimals supply }
    }
}`

// ErrGovernorNotFound is returned when a governor id resolves to nothing.
var ErrGovernorNotFound = eris.New("tally: governor not found")

// Governor fetches declared counts and token metadata for one governor.
// The counts serve as expected-total hints for pagination.
func (c *Client) Governor(ctx context.Context, governorID string) (*model.Governor, error) {
	data, err := c.Send(ctx, governorQuery, map[string]any{
		"input": map[string]any{"id": governorID},
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Governor *wireGovernor `json:"governor"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, eris.Wrap(err, "tally: decode governor")
	}
	if payload.Governor == nil || payload.Governor.ID.String() == "" {
		return nil, ErrGovernorNotFound
	}
	gov := payload.Governor.toModel()
	return &gov, nil
}
