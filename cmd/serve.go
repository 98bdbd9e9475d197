package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/daoscope/govmatrix/internal/checkpoint"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve read-only extraction status over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		mux := http.NewServeMux()

		mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		mux.HandleFunc("GET /api/checkpoints/{slug}", func(w http.ResponseWriter, r *http.Request) {
			slug := r.PathValue("slug")
			state := checkpoint.NewStore(cfg.Extract.CheckpointDir, slug).Load()
			if state.UpdatedAt.IsZero() {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "no checkpoint for " + slug})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"slug":               state.Slug,
				"updated_at":         state.UpdatedAt,
				"delegates":          len(state.Delegates),
				"delegates_complete": state.DelegatesComplete,
				"delegate_cursor":    state.DelegateCursor,
				"proposals":          len(state.Proposals),
				"proposals_complete": state.ProposalsComplete,
			})
		})

		mux.HandleFunc("GET /api/reports", func(w http.ResponseWriter, r *http.Request) {
			reports, err := listReports(cfg.Output.Dir)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, reports)
		})

		mux.HandleFunc("GET /api/reports/latest", func(w http.ResponseWriter, r *http.Request) {
			path, err := latestFile(cfg.Output.Dir, "*_run_report_*.json")
			if err != nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
				return
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(raw)
		})

		srv := &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down status server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("status server listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

type reportEntry struct {
	File    string    `json:"file"`
	ModTime time.Time `json:"mod_time"`
}

func listReports(dir string) ([]reportEntry, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*_run_report_*.json"))
	if err != nil {
		return nil, eris.Wrap(err, "glob output dir")
	}
	entries := make([]reportEntry, 0, len(matches))
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil {
			continue
		}
		entries = append(entries, reportEntry{File: filepath.Base(m), ModTime: fi.ModTime()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ModTime.After(entries[j].ModTime) })
	return entries, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("write response", zap.Error(err))
	}
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "port to listen on (default from config)")
	rootCmd.AddCommand(serveCmd)
}
