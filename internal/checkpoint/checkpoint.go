// Package checkpoint persists top-level pagination state so interrupted
// extraction runs resume exactly where they stopped. The on-disk snapshot is
// the sole authority for resume decisions; in-memory state is never trusted
// after a crash.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/daoscope/govmatrix/internal/model"
)

// State is one organization's durable extraction snapshot.
//
// Invariant: a non-empty DelegateCursor means the delegate collection is
// known-incomplete; an empty cursor with a non-empty collection means
// complete. Unknown JSON fields are ignored on load so the format can gain
// fields without breaking resumption.
type State struct {
	Slug              string           `json:"slug"`
	Delegates         []model.Delegate `json:"delegates,omitempty"`
	DelegateCursor    string           `json:"last_delegate_cursor,omitempty"`
	DelegatesComplete bool             `json:"delegates_complete"`
	Proposals         []model.Proposal `json:"proposals,omitempty"`
	ProposalsComplete bool             `json:"proposals_complete"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// Store reads and writes per-organization checkpoint files under one
// directory.
type Store struct {
	dir  string
	slug string
}

// NewStore creates a store for the given organization slug. The directory is
// created on the first save.
func NewStore(dir, slug string) *Store {
	return &Store{dir: dir, slug: slug}
}

func (s *Store) path() string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_checkpoint.json", s.slug))
}

// Load reads the checkpoint. A missing, unreadable, or corrupt file degrades
// to an empty state with a warning; partial checkpoint loss means "start
// over", never "crash".
func (s *Store) Load() State {
	empty := State{Slug: s.slug}

	raw, err := os.ReadFile(s.path())
	if err != nil {
		if !os.IsNotExist(err) {
			zap.L().Warn("checkpoint: unreadable file, starting fresh",
				zap.String("path", s.path()),
				zap.Error(err),
			)
		}
		return empty
	}

	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		zap.L().Warn("checkpoint: corrupt file, starting fresh",
			zap.String("path", s.path()),
			zap.Error(err),
		)
		return empty
	}
	if st.Slug == "" {
		st.Slug = s.slug
	}
	return st
}

// Save overwrites the full checkpoint atomically (temp file + rename), so a
// crash mid-write can never leave a torn snapshot behind.
func (s *Store) Save(st State) error {
	st.Slug = s.slug
	st.UpdatedAt = time.Now().UTC()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return eris.Wrap(err, "checkpoint: create dir")
	}

	raw, err := json.Marshal(st)
	if err != nil {
		return eris.Wrap(err, "checkpoint: marshal state")
	}

	tmp, err := os.CreateTemp(s.dir, fmt.Sprintf(".%s_checkpoint-*.json", s.slug))
	if err != nil {
		return eris.Wrap(err, "checkpoint: create temp file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return eris.Wrap(err, "checkpoint: write temp file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return eris.Wrap(err, "checkpoint: close temp file")
	}
	if err := os.Rename(tmpName, s.path()); err != nil {
		_ = os.Remove(tmpName)
		return eris.Wrap(err, "checkpoint: rename temp file")
	}
	return nil
}

// SaveDelegates records delegate pagination progress. A non-empty cursor
// marks the collection incomplete.
func (s *Store) SaveDelegates(delegates []model.Delegate, cursor string) error {
	st := s.Load()
	st.Delegates = delegates
	st.DelegateCursor = cursor
	st.DelegatesComplete = cursor == "" && len(delegates) > 0
	return s.Save(st)
}

// SaveProposals records a fully fetched proposal snapshot.
func (s *Store) SaveProposals(proposals []model.Proposal, complete bool) error {
	st := s.Load()
	st.Proposals = proposals
	st.ProposalsComplete = complete
	return s.Save(st)
}

// Clear removes the checkpoint file.
func (s *Store) Clear() error {
	if err := os.Remove(s.path()); err != nil && !os.IsNotExist(err) {
		return eris.Wrap(err, "checkpoint: remove file")
	}
	return nil
}
