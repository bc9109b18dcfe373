package api

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/modelcfg/internal/engineconfig"
	"github.com/samcharles93/modelcfg/internal/logger"
)

var ErrEngineNotFound = errors.New("engine not found")

// Snapshot is one published descriptor. Snapshots are never modified; a
// reload publishes a new one with a new ID.
type Snapshot struct {
	ID       uuid.UUID
	Path     string
	LoadedAt time.Time
	Engine   *engineconfig.EngineConfig
}

type DescriptorProvider interface {
	Snapshot(ctx context.Context, engineID string) (*Snapshot, error)
	Reload(ctx context.Context, engineID string) (*Snapshot, error)
}

// ProviderConfig configures engine resolution. OnPublish, when set, is called
// with every snapshot the provider publishes.
type ProviderConfig struct {
	DefaultEnginePath string
	EnginesPath       string
	Overrides         *engineconfig.Overrides
	OnPublish         func(*Snapshot)
}

type CachedDescriptorProvider struct {
	cfg   ProviderConfig
	load  func(ctx context.Context, path string) (*engineconfig.EngineConfig, error)
	clock func() time.Time
	mu    sync.Mutex
	cache map[string]*Snapshot
}

const envEnginesDir = "MODELCFG_ENGINES_DIR"

func NewCachedDescriptorProvider(cfg ProviderConfig) *CachedDescriptorProvider {
	return &CachedDescriptorProvider{
		cfg:   cfg,
		load:  engineconfig.Load,
		clock: time.Now,
		cache: make(map[string]*Snapshot),
	}
}

// Snapshot returns the published descriptor for engineID, loading it on first
// use. An empty engineID selects the default engine.
func (p *CachedDescriptorProvider) Snapshot(ctx context.Context, engineID string) (*Snapshot, error) {
	path, err := p.ResolveEnginePath(engineID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	snap, ok := p.cache[path]
	p.mu.Unlock()
	if ok {
		return snap, nil
	}

	snap, err = p.publish(ctx, path)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.cache[path]; ok {
		return existing, nil
	}
	p.cache[path] = snap
	p.notify(snap)
	return snap, nil
}

// Reload re-reads the engine config from disk and replaces the published
// snapshot. Readers holding the previous snapshot keep a consistent view.
func (p *CachedDescriptorProvider) Reload(ctx context.Context, engineID string) (*Snapshot, error) {
	path, err := p.ResolveEnginePath(engineID)
	if err != nil {
		return nil, err
	}
	snap, err := p.publish(ctx, path)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cache[path] = snap
	p.notify(snap)
	p.mu.Unlock()
	return snap, nil
}

func (p *CachedDescriptorProvider) publish(ctx context.Context, path string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ec, err := p.load(ctx, path)
	if err != nil {
		return nil, err
	}
	if p.cfg.Overrides != nil {
		if ec, err = ec.ApplyOverrides(ctx, *p.cfg.Overrides); err != nil {
			return nil, err
		}
	}
	snap := &Snapshot{
		ID:       uuid.New(),
		Path:     path,
		LoadedAt: p.clock().UTC(),
		Engine:   ec,
	}
	logger.FromContext(ctx).Info("published descriptor",
		"engine", ec.Name,
		"snapshot", snap.ID.String(),
		"path", path,
	)
	return snap, nil
}

func (p *CachedDescriptorProvider) notify(snap *Snapshot) {
	if p.cfg.OnPublish != nil {
		p.cfg.OnPublish(snap)
	}
}

// ResolveEnginePath maps an engine name or path onto the config location.
// An empty engineID selects the default engine, or the only engine under
// the engines directory.
func (p *CachedDescriptorProvider) ResolveEnginePath(engineID string) (string, error) {
	engineID = strings.TrimSpace(engineID)
	if engineID != "" {
		if looksLikePath(engineID) {
			return filepath.Clean(engineID), nil
		}
		enginesDir := p.enginesDir()
		if enginesDir == "" {
			return "", fmt.Errorf("%w: engines-path is required to resolve engine %q", ErrEngineNotFound, engineID)
		}
		if resolved := resolveInDir(enginesDir, engineID); resolved != "" {
			return resolved, nil
		}
		return "", fmt.Errorf("%w: %q not found in %s", ErrEngineNotFound, engineID, enginesDir)
	}

	if p.cfg.DefaultEnginePath != "" {
		return filepath.Clean(p.cfg.DefaultEnginePath), nil
	}
	enginesDir := p.enginesDir()
	if enginesDir == "" {
		return "", fmt.Errorf("%w: engine is required", ErrEngineNotFound)
	}
	engines, err := discoverEngines(enginesDir)
	if err != nil {
		return "", err
	}
	if len(engines) == 1 {
		return engines[0], nil
	}
	if len(engines) == 0 {
		return "", fmt.Errorf("%w: no engines found in %s", ErrEngineNotFound, enginesDir)
	}
	return "", fmt.Errorf("multiple engines found in %s; specify engine", enginesDir)
}

func (p *CachedDescriptorProvider) enginesDir() string {
	if strings.TrimSpace(p.cfg.EnginesPath) != "" {
		return strings.TrimSpace(p.cfg.EnginesPath)
	}
	return strings.TrimSpace(os.Getenv(envEnginesDir))
}

func looksLikePath(v string) bool {
	if strings.Contains(v, string(filepath.Separator)) {
		return true
	}
	return strings.HasSuffix(strings.ToLower(v), ".json")
}

// resolveInDir finds an engine directory or config file named name in dir.
func resolveInDir(dir, name string) string {
	cand := filepath.Join(dir, name)
	if fileExists(filepath.Join(cand, engineconfig.FileName)) {
		return cand
	}
	if fileExists(cand + ".json") {
		return cand + ".json"
	}
	return ""
}

// discoverEngines lists the engine directories directly under dir.
func discoverEngines(dir string) ([]string, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("engines path is not a directory: %s", dir)
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	engines := make([]string, 0, len(ents))
	for _, e := range ents {
		if !e.IsDir() {
			continue
		}
		cand := filepath.Join(dir, e.Name())
		if fileExists(filepath.Join(cand, engineconfig.FileName)) {
			engines = append(engines, cand)
		}
	}
	return engines, nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
