package cmd

import (
	"context"
	"fmt"

	"github.com/kozaktomas/photo-courier/internal/alerting"
	"github.com/kozaktomas/photo-courier/internal/config"
	"github.com/kozaktomas/photo-courier/internal/photos"
	"github.com/kozaktomas/photo-courier/internal/recognize"
	"github.com/kozaktomas/photo-courier/internal/refresh"
	"github.com/kozaktomas/photo-courier/internal/scanner"
	"github.com/kozaktomas/photo-courier/internal/source"
	"github.com/kozaktomas/photo-courier/internal/store"
	"github.com/kozaktomas/photo-courier/internal/store/postgres"
	"github.com/kozaktomas/photo-courier/internal/store/sqlite"
)

// runtime bundles the wired-up components shared by the subcommands.
type runtime struct {
	cfg       *config.Config
	st        store.Store
	provider  recognize.Provider
	refs      *recognize.ReferenceSet
	alerts    *alerting.Manager
	scanner   *scanner.Scanner
	refresher *refresh.Refresher
	sources   []source.Source
}

// openStore opens the configured dedup store backend.
func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		return sqlite.Open(cfg.Store.SQLitePath)
	case "postgres":
		return postgres.Open(&cfg.Store)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// newRuntime loads the configuration and wires every component. withPhotos
// controls whether the upload client is created; commands that never upload
// skip the authentication round-trip.
func newRuntime(ctx context.Context, withPhotos bool) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	provider, err := recognize.New(ctx, &cfg.Recognition)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create recognition provider: %w", err)
	}

	var embedder *recognize.EmbeddingClient
	if fe, ok := provider.(*recognize.FaceEmbedProvider); ok {
		embedder = fe.Embedder()
	}
	refs, err := recognize.LoadReferenceSet(ctx, st, embedder, cfg.KnownPeopleDir, cfg.Recognition.Backend)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load reference set: %w", err)
	}

	var uploader scanner.Uploader
	if withPhotos {
		client, err := photos.New(&cfg.Photos)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("connect to photo service: %w", err)
		}
		uploader = client
	}

	notifier := alerting.NewNotifier(ntfyTopic(cfg))
	alerts := alerting.NewManager(st, notifier, &cfg.Alerting)

	sources := make([]source.Source, 0, len(cfg.Sources))
	for _, raw := range cfg.Sources {
		src, err := source.Resolve(cfg, raw)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("resolve source %q: %w", raw, err)
		}
		sources = append(sources, src)
	}

	return &runtime{
		cfg:       cfg,
		st:        st,
		provider:  provider,
		refs:      refs,
		alerts:    alerts,
		scanner:   scanner.New(cfg, st, provider, refs, uploader, alerts),
		refresher: refresh.New(cfg, st, provider, alerts),
		sources:   sources,
	}, nil
}

func (rt *runtime) Close() {
	if err := rt.st.Close(); err != nil {
		fmt.Fprintf(rootCmd.ErrOrStderr(), "warning: closing store: %v\n", err)
	}
}

func ntfyTopic(cfg *config.Config) string {
	if !cfg.Alerting.Enabled {
		return ""
	}
	return cfg.Alerting.NtfyTopic
}
