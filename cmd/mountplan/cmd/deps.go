package cmd

import (
	"fmt"

	"github.com/barysiuk/mountplan/internal/core"
	"github.com/barysiuk/mountplan/internal/core/fsx"
	"github.com/barysiuk/mountplan/internal/core/ref"
)

// deps holds shared dependencies for CLI commands.
type deps struct {
	config   *core.ConfigManager
	cfg      *core.Config
	shareDir string
	registry *ref.RegistryTable
	resolver *ref.Resolver
	compiler *core.Compiler

	// Set by openStore.
	store       *core.SQLiteStore
	detector    *core.ChangeDetector
	collections *core.CollectionManager
	updater     *core.Updater
}

// newDeps loads the config and builds the resolver and compiler. Commands
// that touch installed collections also call openStore.
func newDeps() (*deps, error) {
	var config *core.ConfigManager
	if configDir != "" {
		config = core.NewConfigManagerWithDir(fsx.ExpandHome(configDir))
	} else {
		var err error
		config, err = core.NewConfigManager()
		if err != nil {
			return nil, fmt.Errorf("initializing config: %w", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	d := &deps{
		config:   config,
		cfg:      cfg,
		shareDir: config.ShareDir(cfg),
		registry: config.Registries(cfg),
	}
	d.resolver = ref.NewResolver(ref.Options{
		CacheDir:          config.CacheDir(cfg),
		DefaultRefHEAD:    cfg.Settings.GitRefDefaultHEAD,
		CloneURLOverrides: cfg.Settings.CloneURLOverrides,
		Registries:        d.registry,
		Logger:            logger,
	})
	d.compiler = core.NewCompiler(core.CompilerOptions{
		ShareDir: d.shareDir,
		Resolver: d.resolver,
		Registry: d.registry,
		Logger:   logger,
	})
	return d, nil
}

// openStore opens the metadata database and wires the services built on it.
func (d *deps) openStore() error {
	store, err := core.OpenSQLiteStore(d.config.MetadataPath(d.cfg))
	if err != nil {
		return fmt.Errorf("opening metadata store: %w", err)
	}
	git := ref.GitInspector{CloneURLOverrides: d.cfg.Settings.CloneURLOverrides}

	d.store = store
	d.detector = core.NewChangeDetector(core.DetectorOptions{
		Store:     store,
		Inspector: git,
		Logger:    logger,
	})
	d.collections = core.NewCollectionManager(core.CollectionOptions{
		ShareDir: d.shareDir,
		Store:    store,
		Resolver: d.resolver,
		Registry: d.registry,
		Git:      git,
		Logger:   logger,
	})
	d.updater = core.NewUpdater(core.UpdaterOptions{
		Store:       store,
		Compiler:    d.compiler,
		Detector:    d.detector,
		Collections: d.collections,
		Logger:      logger,
	})
	return nil
}

func (d *deps) close() {
	if d.store != nil {
		_ = d.store.Close()
	}
}

// newStoreDeps is newDeps followed by openStore.
func newStoreDeps() (*deps, error) {
	d, err := newDeps()
	if err != nil {
		return nil, err
	}
	if err := d.openStore(); err != nil {
		return nil, err
	}
	return d, nil
}
