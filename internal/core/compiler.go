package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/barysiuk/mountplan/internal/core/manifest"
	"github.com/barysiuk/mountplan/internal/core/ref"
)

// CompilerOptions configures a Compiler.
type CompilerOptions struct {
	// ShareDir holds profiles/<profileId>/ for every compiled profile.
	ShareDir string
	Resolver SourceResolver
	Registry *ref.RegistryTable
	Logger   *zap.Logger
	// OnState, when set, observes every state transition of a compile.
	OnState func(profileID string, state CompileState)
}

// Compiler turns profile manifests into compiled profile directories.
//
// All output is assembled in a staging directory next to the final one and
// published with a single rename, so a reader never sees a partial profile.
// Compiles of the same profile must not run concurrently.
type Compiler struct {
	opts   CompilerOptions
	assets *AssetResolver
	log    *zap.Logger
}

// NewCompiler creates a Compiler.
func NewCompiler(opts CompilerOptions) *Compiler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Compiler{
		opts:   opts,
		assets: &AssetResolver{Registry: opts.Registry, Resolver: opts.Resolver},
		log:    log,
	}
}

// StandaloneNamespace is the first segment of profiles compiled outside any
// collection. No collection may use it as its id.
const StandaloneNamespace = "local"

// ProfileDir returns where profileID is published under shareDir.
func ProfileDir(shareDir, profileID string) string {
	return filepath.Join(shareDir, "profiles", filepath.FromSlash(profileID))
}

// StagingDir returns the private staging directory of profileID.
func StagingDir(shareDir, profileID string) string {
	final := ProfileDir(shareDir, profileID)
	return filepath.Join(filepath.Dir(final), "."+filepath.Base(final)+".staging")
}

// validProfileID accepts exactly <namespace>/<name>. Every profile directory
// sits at the same depth, so publishing one can never replace another.
func validProfileID(id string) error {
	if id == "" {
		return errors.New("profile id is empty")
	}
	segs := strings.Split(id, "/")
	if len(segs) != 2 {
		return fmt.Errorf("invalid profile id %q: want <namespace>/<name>", id)
	}
	for _, seg := range segs {
		if seg == "" || strings.HasPrefix(seg, ".") || strings.ContainsRune(seg, '\\') {
			return fmt.Errorf("invalid profile id %q", id)
		}
	}
	return nil
}

func (c *Compiler) setState(profileID string, s CompileState) {
	if c.opts.OnState != nil {
		c.opts.OnState(profileID, s)
	}
}

// Compile builds profileID from profileYAML plus the optional configYAML
// overlay and publishes it under the share directory. Every failure is a
// *CompilationError and leaves the previously published profile in place.
func (c *Compiler) Compile(ctx context.Context, profileID string, profileYAML, configYAML []byte) (*CompileResult, error) {
	c.setState(profileID, StatePending)

	fail := func(stage string, err error) (*CompileResult, error) {
		c.setState(profileID, StateFailed)
		c.log.Error("compile failed",
			zap.String("profile", profileID),
			zap.String("stage", stage),
			zap.Error(err))
		return nil, &CompilationError{ProfileID: profileID, Stage: stage, Err: err}
	}

	if err := validProfileID(profileID); err != nil {
		return fail("validate", err)
	}

	profile, err := manifest.ParseProfile(profileYAML)
	if err != nil {
		return fail("parse manifest", err)
	}
	hash, err := manifest.HashManifest(profileYAML)
	if err != nil {
		return fail("parse manifest", err)
	}
	root, err := rootConfig(profile, configYAML)
	if err != nil {
		return fail("parse config", err)
	}

	final := ProfileDir(c.opts.ShareDir, profileID)
	staging := StagingDir(c.opts.ShareDir, profileID)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return fail("stage", err)
	}
	c.setState(profileID, StateStaging)
	c.log.Info("compiling profile",
		zap.String("profile", profileID),
		zap.String("shape", profile.Shape),
		zap.String("staging", staging))

	result, stage, err := c.build(ctx, profileID, profile, root, staging)
	if err != nil {
		if rmErr := os.RemoveAll(staging); rmErr != nil {
			c.log.Warn("removing staging directory", zap.String("path", staging), zap.Error(rmErr))
		}
		return fail(stage, err)
	}

	if err := publish(staging, final); err != nil {
		_ = os.RemoveAll(staging)
		return fail("publish", err)
	}

	result.ProfileID = profileID
	result.Path = final
	result.PlanPath = filepath.Join(final, PlanFileName)
	result.ManifestHash = hash
	c.setState(profileID, StateCompiled)
	c.log.Info("published profile",
		zap.String("profile", profileID),
		zap.String("path", final),
		zap.Int("components", result.Components))
	return result, nil
}

// build runs every compile stage inside staging. It reports the stage that
// failed.
func (c *Compiler) build(ctx context.Context, profileID string, profile *manifest.Profile, root map[string]any, staging string) (*CompileResult, string, error) {
	graph, err := LoadBehaviorGraph(ctx, profile.Behaviors, BehaviorLoaderFunc(c.loadBehavior))
	if err != nil {
		return nil, "load behaviors", err
	}
	sorted, err := SortBehaviors(graph.Behaviors, graph.Order)
	if err != nil {
		return nil, "order behaviors", err
	}

	components := CollectComponents(profile, sorted, graph.Behaviors)
	writer := NewProfileCacheWriter(staging)
	assets := make([]ResolvedAsset, 0, len(components))
	for _, comp := range components {
		if err := ctx.Err(); err != nil {
			return nil, "resolve assets", err
		}
		shared, err := c.assets.Resolve(ctx, comp)
		if err != nil {
			return nil, "resolve assets", err
		}
		asset, copied, err := writer.Write(shared, comp)
		if err != nil {
			return nil, "materialize assets", fmt.Errorf("%s: %w", describeComponent(comp), err)
		}
		if !copied {
			c.log.Debug("component already staged", zap.String("path", asset.RelPath))
		}
		assets = append(assets, asset)
	}

	name := profile.Name
	if name == "" {
		name = path.Base(profileID)
	}
	merged := MergeConfig(root, sorted, graph.Behaviors)
	plan, err := AssemblePlan(name, assets, merged)
	if err != nil {
		return nil, "assemble plan", err
	}
	data, err := EncodePlan(plan)
	if err != nil {
		return nil, "assemble plan", err
	}
	if err := os.WriteFile(filepath.Join(staging, PlanFileName), data, 0o644); err != nil {
		return nil, "write plan", err
	}

	return &CompileResult{Behaviors: sorted, Components: len(assets)}, "", nil
}

// loadBehavior resolves a behavior reference and parses the document it
// points at. A directory must hold behavior.yaml or <id>.yaml.
func (c *Compiler) loadBehavior(ctx context.Context, r manifest.BehaviorRef) (*manifest.BehaviorDefinition, error) {
	local, err := c.assets.resolveSource(ctx, r.Source)
	if err != nil {
		return nil, err
	}

	file := local
	if info, err := os.Stat(local); err == nil && info.IsDir() {
		file = ""
		for _, name := range []string{"behavior.yaml", "behavior.yml", r.ID + ".yaml", r.ID + ".yml"} {
			candidate := filepath.Join(local, name)
			if _, err := os.Stat(candidate); err == nil {
				file = candidate
				break
			}
		}
		if file == "" {
			return nil, fmt.Errorf("no behavior.yaml in %s", local)
		}
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	return manifest.ParseBehavior(data, r)
}

// rootConfig is the profile's own config block overlaid with configYAML.
func rootConfig(p *manifest.Profile, configYAML []byte) (map[string]any, error) {
	root := DeepMerge(nil, p.Config)
	if len(strings.TrimSpace(string(configYAML))) == 0 {
		return root, nil
	}
	var overlay map[string]any
	if err := yaml.Unmarshal(configYAML, &overlay); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := manifest.CheckNumbers("config", overlay); err != nil {
		return nil, err
	}
	return DeepMerge(root, overlay), nil
}

// publish replaces final with staging.
func publish(staging, final string) error {
	if err := os.RemoveAll(final); err != nil {
		return fmt.Errorf("removing previous profile: %w", err)
	}
	return os.Rename(staging, final)
}
