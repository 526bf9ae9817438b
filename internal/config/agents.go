package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/tenex-agents/tenex/pkg/models"
)

// agentsFile is the YAML shape of the agent roster file.
type agentsFile struct {
	Agents []models.Agent `yaml:"agents"`
}

// LoadAgents reads the agent roster from a YAML file. Agents without a
// pubkey or name are rejected.
func LoadAgents(path string) ([]models.Agent, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading agents file %s: %w", path, err)
	}

	var file agentsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing agents file %s: %w", path, err)
	}

	for i, a := range file.Agents {
		if a.Pubkey == "" || a.Name == "" {
			return nil, fmt.Errorf("agents file %s: agent %d missing pubkey or name", path, i)
		}
	}
	return file.Agents, nil
}

// AgentRegistry holds the live agent roster and reloads it when the roster
// file changes. Readers get an immutable snapshot; a reload swaps the whole
// snapshot, so changes become visible only to later routing passes.
type AgentRegistry struct {
	path   string
	logger *zap.Logger

	mu     sync.RWMutex
	roster models.Roster

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewAgentRegistry loads the roster file and returns a registry. Watching
// starts separately via Watch.
func NewAgentRegistry(path string, logger *zap.Logger) (*AgentRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &AgentRegistry{
		path:   path,
		logger: logger.With(zap.String("component", "agent_registry")),
		done:   make(chan struct{}),
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Roster returns the current roster snapshot.
func (r *AgentRegistry) Roster() models.Roster {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roster
}

// reload reads the roster file and swaps the snapshot.
func (r *AgentRegistry) reload() error {
	agents, err := LoadAgents(r.path)
	if err != nil {
		return err
	}
	roster := models.NewRoster(agents)

	r.mu.Lock()
	r.roster = roster
	r.mu.Unlock()

	r.logger.Info("agent roster loaded",
		zap.String("path", r.path),
		zap.Int("agents", roster.Len()),
	)
	return nil
}

// Watch starts watching the roster file for changes. A failed reload keeps
// the previous snapshot. Editors replace files on save, so the parent
// directory is watched and events are filtered by name.
func (r *AgentRegistry) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create roster watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(r.path), err)
	}
	r.watcher = watcher

	go func() {
		target := filepath.Clean(r.path)
		for {
			select {
			case <-r.done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if err := r.reload(); err != nil {
					r.logger.Warn("roster reload failed, keeping previous roster",
						zap.Error(err),
					)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("roster watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// Close stops the watcher.
func (r *AgentRegistry) Close() error {
	close(r.done)
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}
