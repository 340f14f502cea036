package main

import (
	"fmt"

	"github.com/rs/zerolog"

	"previscore/internal/config"
	"previscore/internal/embedding"
	"previscore/internal/ingest"
	"previscore/internal/keyframe"
	"previscore/internal/logging"
	"previscore/internal/media"
	"previscore/internal/search"
	"previscore/internal/store"
	"previscore/internal/store/postgres"
	"previscore/internal/store/recordfile"
	"previscore/internal/store/sqlite"
	"previscore/internal/tagging"
)

// app holds every wired component a subcommand might need. Built once per
// invocation from the loaded config: storage first, then ffmpeg/media, then
// the higher-level services built on top of them.
type app struct {
	cfg   *config.Config
	log   zerolog.Logger
	store *store.Store

	prober     *media.Prober
	keyframes  *keyframe.Extractor
	tagger     *tagging.Engine
	embeddings *embedding.Service
	pipeline   *ingest.Pipeline
	search     *search.Service
}

// newApp wires every component from cfg. Callers Close() the returned
// app's store when done.
func newApp(cfg *config.Config) (*app, error) {
	log := logging.New(logging.Options{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})

	backend, err := openBackend(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening backend %q: %w", cfg.Backend, err)
	}
	log.Info().Str("backend", cfg.Backend).Msg("backend opened")

	st, err := store.Open(backend, cfg.TextDim, cfg.VisualDim, log)
	if err != nil {
		return nil, fmt.Errorf("opening vector store: %w", err)
	}
	log.Info().Msg("vector store loaded")

	prober, err := media.NewProber()
	if err != nil {
		return nil, fmt.Errorf("initializing ffmpeg prober: %w", err)
	}
	log.Info().Msg("ffmpeg prober initialized")

	kfExtractor := keyframe.New(prober, cfg.Keyframe, cfg.ThumbDir, log)

	var classifier tagging.Classifier
	if cfg.Tagging.ClassifierEnabled {
		classifier = tagging.NewVisionClassifier(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.VisionModel)
	}
	tagger := tagging.New(tagging.DefaultHierarchy(), tagging.DefaultFilenameRules(), nil, classifier, cfg.Tagging.ConfidenceFloor, log)

	providers, err := buildProviders(cfg)
	if err != nil {
		return nil, err
	}
	embeddings := embedding.NewService(providers, cfg.TextDim, cfg.VisualDim, cfg.Cache.EmbeddingCapacity, log)
	log.Info().Strs("providers", providerNames(providers)).Msg("embedding providers initialized")

	pipeline := ingest.New(prober, kfExtractor, tagger, embeddings, st, cfg.ProxyDir, cfg.Ingest.EmbedConcurrency, log)

	searchCfg := cfg.Search
	searchSvc := search.New(st, embeddings, searchCfg, log)

	return &app{
		cfg:        cfg,
		log:        log,
		store:      st,
		prober:     prober,
		keyframes:  kfExtractor,
		tagger:     tagger,
		embeddings: embeddings,
		pipeline:   pipeline,
		search:     searchSvc,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func openBackend(cfg *config.Config) (store.Backend, error) {
	switch cfg.Backend {
	case "recordfile":
		return recordfile.Open(cfg.StoreDir, cfg.TextDim, cfg.VisualDim, cfg.TextProvider, cfg.VisualProvider, cfg.AllowRebuild)
	case "sqlite":
		return sqlite.Open(cfg.StoreDir)
	case "postgres":
		return postgres.Open(cfg.Postgres.DSN)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func buildProviders(cfg *config.Config) ([]embedding.Provider, error) {
	var providers []embedding.Provider
	switch cfg.TextProvider {
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("openai.api_key is required for text_provider=openai")
		}
		providers = append(providers, embedding.NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.TextModel))
	default:
		return nil, fmt.Errorf("unknown text_provider %q", cfg.TextProvider)
	}
	switch cfg.VisualProvider {
	case "openai-clip", "http":
		providers = append(providers, embedding.NewHTTPVisualProvider(cfg.OpenAI.BaseURL, cfg.OpenAI.EmbeddingModel))
	default:
		return nil, fmt.Errorf("unknown visual_provider %q", cfg.VisualProvider)
	}
	return providers, nil
}

func providerNames(providers []embedding.Provider) []string {
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name()
	}
	return names
}
