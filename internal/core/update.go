package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/barysiuk/mountplan/internal/core/manifest"
)

// configSuffix marks the per-profile config overlay that sits next to a
// profile manifest: dev.yaml pairs with dev.config.yaml.
const configSuffix = ".config"

// UpdateOptions controls an update run.
type UpdateOptions struct {
	// CheckOnly reports what would be done without doing it.
	CheckOnly bool
	// Force skips change detection and rebuilds everything in scope.
	Force bool
}

// Update actions.
const (
	ActionUpToDate     = "up-to-date"
	ActionCompiled     = "compiled"
	ActionWouldCompile = "would-compile"
	ActionSynced       = "synced"
	ActionWouldSync    = "would-sync"
	ActionFailed       = "failed"
)

// ProfileUpdateResult is the outcome for one profile.
type ProfileUpdateResult struct {
	ProfileID string          `json:"profileId"`
	Action    string          `json:"action"`
	Success   bool            `json:"success"`
	Error     string          `json:"error,omitempty"`
	Changes   []ProfileChange `json:"changes,omitempty"`
	Path      string          `json:"path,omitempty"`
}

// CollectionUpdateResult is the outcome for one collection and its profiles.
type CollectionUpdateResult struct {
	CollectionID string                `json:"collectionId"`
	Action       string                `json:"action"`
	Success      bool                  `json:"success"`
	Error        string                `json:"error,omitempty"`
	Change       *CollectionChange     `json:"change,omitempty"`
	Profiles     []ProfileUpdateResult `json:"profiles"`
}

// UpdateAllResult aggregates every collection of an update run.
type UpdateAllResult struct {
	Success     bool                     `json:"success"`
	Collections []CollectionUpdateResult `json:"collections"`
	Compiled    int                      `json:"compiled"`
	Failed      int                      `json:"failed"`
	UpToDate    int                      `json:"upToDate"`
}

// UpdaterOptions configures an Updater.
type UpdaterOptions struct {
	Store       MetadataStore
	Compiler    *Compiler
	Detector    *ChangeDetector
	Collections *CollectionManager
	Logger      *zap.Logger
	Now         func() time.Time
}

// Updater recompiles what change detection finds stale. Failures are
// recorded per item and never stop the rest of a run.
type Updater struct {
	opts UpdaterOptions
	log  *zap.Logger
}

// NewUpdater creates an Updater.
func NewUpdater(opts UpdaterOptions) *Updater {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Updater{opts: opts, log: log}
}

// UpdateAll updates every collection, one after another.
func (u *Updater) UpdateAll(ctx context.Context, opts UpdateOptions) UpdateAllResult {
	res := UpdateAllResult{Success: true, Collections: []CollectionUpdateResult{}}

	collections, err := u.opts.Store.ListCollections(ctx)
	if err != nil {
		u.log.Error("listing collections", zap.Error(err))
		res.Success = false
		res.Collections = append(res.Collections, CollectionUpdateResult{
			Action:   ActionFailed,
			Error:    err.Error(),
			Profiles: []ProfileUpdateResult{},
		})
		return res
	}

	for _, c := range collections {
		cr := u.UpdateCollection(ctx, c.CollectionID, opts)
		if !cr.Success {
			res.Success = false
		}
		for _, p := range cr.Profiles {
			switch {
			case !p.Success:
				res.Failed++
			case p.Action == ActionCompiled:
				res.Compiled++
			case p.Action == ActionUpToDate:
				res.UpToDate++
			}
		}
		res.Collections = append(res.Collections, cr)
	}
	return res
}

// UpdateCollection syncs a collection whose source changed and then updates
// each of its profiles, dependencies before dependents. A changed source
// forces its profiles to rebuild.
func (u *Updater) UpdateCollection(ctx context.Context, id string, opts UpdateOptions) CollectionUpdateResult {
	res := CollectionUpdateResult{CollectionID: id, Profiles: []ProfileUpdateResult{}}
	log := u.log.With(zap.String("collection", id))

	c, err := u.opts.Store.GetCollection(ctx, id)
	if err == nil && c == nil {
		err = fmt.Errorf("collection %q not found", id)
	}
	if err != nil {
		log.Error("update failed", zap.Error(err))
		res.Action = ActionFailed
		res.Error = err.Error()
		return res
	}

	changed := opts.Force
	if !opts.Force {
		res.Change = u.opts.Detector.CheckCollectionSource(ctx, c)
		changed = res.Change != nil
	}

	res.Action = ActionUpToDate
	switch {
	case changed && opts.CheckOnly:
		res.Action = ActionWouldSync
	case changed:
		if _, err := u.opts.Collections.Sync(ctx, c); err != nil {
			log.Error("sync failed", zap.Error(err))
			res.Action = ActionFailed
			res.Error = err.Error()
			return res
		}
		res.Action = ActionSynced
	case !opts.CheckOnly:
		c.LastChecked = u.opts.Now()
		if err := u.opts.Store.SaveCollection(ctx, c); err != nil {
			log.Warn("recording check time", zap.Error(err))
		}
	}

	profiles, err := u.opts.Store.ListProfilesByCollection(ctx, id)
	if err != nil {
		log.Error("listing profiles", zap.Error(err))
		res.Action = ActionFailed
		res.Error = err.Error()
		return res
	}

	popts := opts
	popts.Force = opts.Force || changed
	res.Success = true
	for _, pid := range u.profileOrder(profiles) {
		pr := u.UpdateProfile(ctx, pid, popts)
		if !pr.Success {
			res.Success = false
		}
		res.Profiles = append(res.Profiles, pr)
	}
	return res
}

// UpdateProfile recompiles one profile if it is stale, or always under Force.
func (u *Updater) UpdateProfile(ctx context.Context, id string, opts UpdateOptions) ProfileUpdateResult {
	res := ProfileUpdateResult{ProfileID: id}
	log := u.log.With(zap.String("profile", id))
	fail := func(err error) ProfileUpdateResult {
		log.Error("update failed", zap.Error(err))
		res.Action = ActionFailed
		res.Success = false
		res.Error = err.Error()
		return res
	}

	p, err := u.opts.Store.GetProfile(ctx, id)
	if err == nil && p == nil {
		err = fmt.Errorf("profile %q not found", id)
	}
	if err != nil {
		return fail(err)
	}
	res.Path = p.CachePath

	if !opts.Force {
		stale, changes := u.opts.Detector.IsProfileStale(ctx, p)
		res.Changes = changes
		if !stale {
			res.Action = ActionUpToDate
			res.Success = true
			if !opts.CheckOnly {
				p.LastChecked = u.opts.Now()
				if err := u.opts.Store.SaveProfile(ctx, p); err != nil {
					log.Warn("recording check time", zap.Error(err))
				}
			}
			return res
		}
	}
	if opts.CheckOnly {
		res.Action = ActionWouldCompile
		res.Success = true
		return res
	}

	hash, err := hashProfileSources(p.SourcePath)
	if err != nil {
		return fail(fmt.Errorf("reading manifest: %w", err))
	}
	effective, deps, err := u.effectiveManifest(ctx, p, nil)
	if err != nil {
		return fail(err)
	}
	overlay, err := readOverlay(p.SourcePath)
	if err != nil {
		return fail(err)
	}

	result, err := u.opts.Compiler.Compile(ctx, id, effective, overlay)
	if err != nil {
		return fail(err)
	}

	now := u.opts.Now()
	p.ManifestHash = hash
	p.CachePath = result.Path
	p.CacheBuilt = now
	p.LastChecked = now
	p.Dependencies = deps
	if err := u.opts.Store.SaveProfile(ctx, p); err != nil {
		return fail(fmt.Errorf("recording build: %w", err))
	}

	log.Info("profile compiled", zap.String("path", result.Path))
	res.Action = ActionCompiled
	res.Success = true
	res.Path = result.Path
	return res
}

var errExtendsCycle = errors.New("profile extends cycle")

// effectiveManifest returns p's manifest with every extends ancestor merged
// underneath it, plus p's dependency edges.
func (u *Updater) effectiveManifest(ctx context.Context, p *ProfileMetadata, chain []string) ([]byte, []ProfileDependency, error) {
	for _, id := range chain {
		if id == p.ProfileID {
			return nil, nil, fmt.Errorf("%w: %s", errExtendsCycle, strings.Join(append(chain, p.ProfileID), " -> "))
		}
	}
	chain = append(chain, p.ProfileID)

	data, err := os.ReadFile(p.SourcePath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading manifest of %q: %w", p.ProfileID, err)
	}
	header, err := manifest.PeekHeader(data)
	if err != nil {
		return nil, nil, err
	}

	var deps []ProfileDependency
	for _, d := range header.DependsOn {
		deps = append(deps, ProfileDependency{
			DependentProfileID:  p.ProfileID,
			DependencyProfileID: qualifyProfileID(d, p.CollectionID),
			DependencyType:      DependencyRequires,
		})
	}
	if header.Extends == "" {
		return data, deps, nil
	}

	parentID := qualifyProfileID(header.Extends, p.CollectionID)
	deps = append([]ProfileDependency{{
		DependentProfileID:  p.ProfileID,
		DependencyProfileID: parentID,
		DependencyType:      DependencyExtends,
	}}, deps...)

	parent, err := u.opts.Store.GetProfile(ctx, parentID)
	if err == nil && parent == nil {
		err = fmt.Errorf("profile %q extends unknown profile %q", p.ProfileID, parentID)
	}
	if err != nil {
		return nil, nil, err
	}
	parentData, _, err := u.effectiveManifest(ctx, parent, chain)
	if err != nil {
		return nil, nil, err
	}

	merged, err := mergeManifests(parentData, data)
	if err != nil {
		return nil, nil, fmt.Errorf("merging %q into %q: %w", parentID, p.ProfileID, err)
	}
	return merged, deps, nil
}

// mergeManifests deep-merges child over parent with the config merge rules.
func mergeManifests(parent, child []byte) ([]byte, error) {
	var base, over map[string]any
	if err := yaml.Unmarshal(parent, &base); err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(child, &over); err != nil {
		return nil, err
	}
	return yaml.Marshal(DeepMerge(base, over))
}

// qualifyProfileID prefixes a bare profile name with its collection.
func qualifyProfileID(id, collectionID string) string {
	if strings.Contains(id, "/") || collectionID == "" {
		return id
	}
	return collectionID + "/" + id
}

// readOverlay loads <stem>.config.yaml next to a manifest, if present.
func readOverlay(manifestPath string) ([]byte, error) {
	ext := filepath.Ext(manifestPath)
	path := strings.TrimSuffix(manifestPath, ext) + configSuffix + ext
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

// profileOrder puts every profile after the profiles it extends or requires.
// Members of a cycle keep their listed order at the end; compiling them
// reports the cycle.
func (u *Updater) profileOrder(profiles []ProfileMetadata) []string {
	ids := make([]string, 0, len(profiles))
	deps := make(map[string][]string, len(profiles))
	for _, p := range profiles {
		ids = append(ids, p.ProfileID)
		data, err := os.ReadFile(p.SourcePath)
		if err != nil {
			continue
		}
		header, err := manifest.PeekHeader(data)
		if err != nil {
			continue
		}
		if header.Extends != "" {
			deps[p.ProfileID] = append(deps[p.ProfileID], qualifyProfileID(header.Extends, p.CollectionID))
		}
		for _, d := range header.DependsOn {
			deps[p.ProfileID] = append(deps[p.ProfileID], qualifyProfileID(d, p.CollectionID))
		}
	}
	sorted, rest := topoOrder(ids, deps)
	return append(sorted, rest...)
}
