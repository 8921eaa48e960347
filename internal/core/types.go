package core

import (
	"time"

	"github.com/barysiuk/mountplan/internal/core/ref"
)

// Config is the top-level mountplan configuration stored in ~/.mountplan/config.json.
type Config struct {
	ShareDir   string         `json:"shareDir,omitempty"`
	CacheDir   string         `json:"cacheDir,omitempty"`
	Registries []ref.Registry `json:"registries"`
	Settings   Settings       `json:"settings"`
}

// Settings holds user preferences.
type Settings struct {
	// GitRefDefaultHEAD lets component sources omit @<ref>; HEAD is used.
	GitRefDefaultHEAD bool              `json:"gitRefDefaultHEAD"`
	CloneURLOverrides map[string]string `json:"cloneURLOverrides,omitempty"`
}

// SourceType is how a collection was installed.
type SourceType string

const (
	SourceGit      SourceType = "git"
	SourceLocal    SourceType = "local"
	SourceRegistry SourceType = "registry"
	SourceHTTP     SourceType = "http"
)

// CollectionMetadata is the persisted record of an installed collection.
type CollectionMetadata struct {
	CollectionID   string     `json:"collectionId"`
	SourceType     SourceType `json:"sourceType"`
	SourceLocation string     `json:"sourceLocation"`
	MountPath      string     `json:"mountPath"`
	SourceCommit   string     `json:"sourceCommit,omitempty"`
	LastUpdated    time.Time  `json:"lastUpdated,omitempty"`
	LastChecked    time.Time  `json:"lastChecked,omitempty"`
}

// Dependency types between profiles.
const (
	DependencyExtends  = "extends"
	DependencyRequires = "requires"
)

// ProfileDependency is one edge between two profiles.
type ProfileDependency struct {
	DependentProfileID  string `json:"dependentProfileId"`
	DependencyProfileID string `json:"dependencyProfileId"`
	DependencyType      string `json:"dependencyType"`
}

// ProfileMetadata is the persisted record of a profile and its last build.
// A zero CacheBuilt means the profile has never been compiled.
type ProfileMetadata struct {
	ProfileID    string              `json:"profileId"`
	CollectionID string              `json:"collectionId"`
	SourcePath   string              `json:"sourcePath"`
	CachePath    string              `json:"cachePath"`
	ManifestHash string              `json:"manifestHash,omitempty"`
	CacheBuilt   time.Time           `json:"cacheBuilt,omitempty"`
	LastChecked  time.Time           `json:"lastChecked,omitempty"`
	Dependencies []ProfileDependency `json:"dependencies,omitempty"`
}

// CompileState is a step of the compiler state machine.
type CompileState string

const (
	StatePending  CompileState = "pending"
	StateStaging  CompileState = "staging"
	StateCompiled CompileState = "compiled"
	StateFailed   CompileState = "failed"
)

// CompileResult describes a published profile.
type CompileResult struct {
	ProfileID    string   `json:"profileId"`
	Path         string   `json:"path"`
	PlanPath     string   `json:"planPath"`
	Behaviors    []string `json:"behaviors"`
	Components   int      `json:"components"`
	ManifestHash string   `json:"manifestHash"`
}
