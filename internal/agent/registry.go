// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crucible Contributors

package agent

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	crucerr "github.com/crucible-dev/crucible/pkg/errors"
)

// CustomAgent is a user-defined agent loaded from a YAML definition
// file. Name is the registry key and the string used as the Task
// tool's subagent_type.
type CustomAgent struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	SystemPrompt string   `yaml:"system_prompt"`
	Model        string   `yaml:"model"`
	MaxTurns     int      `yaml:"max_turns"`
	Tools        []string `yaml:"tools"`
}

// EffectiveModel returns the agent's model override, or fallback when
// none is set.
func (a CustomAgent) EffectiveModel(fallback string) string {
	if a.Model != "" {
		return a.Model
	}
	return fallback
}

// AgentRegistry holds custom agent definitions keyed by name.
type AgentRegistry struct {
	mu     sync.RWMutex
	agents map[string]CustomAgent
}

// NewAgentRegistry creates an empty registry.
func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{agents: make(map[string]CustomAgent)}
}

// Register adds or replaces an agent definition. Names are
// case-insensitive.
func (r *AgentRegistry) Register(agent CustomAgent) error {
	if agent.Name == "" {
		return crucerr.New(crucerr.CodeAgentRegistryInvalid, "agent name must not be empty")
	}
	if agent.SystemPrompt == "" {
		return crucerr.New(crucerr.CodeAgentRegistryInvalid, "agent system_prompt must not be empty",
			crucerr.FieldAgentType(agent.Name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[strings.ToLower(agent.Name)] = agent
	return nil
}

// Get returns the agent registered under name.
func (r *AgentRegistry) Get(name string) (CustomAgent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[strings.ToLower(name)]
	if !ok {
		return CustomAgent{}, crucerr.New(crucerr.CodeAgentRegistryNotFound, "custom agent not registered",
			crucerr.FieldAgentType(name))
	}
	return agent, nil
}

// Names returns the registered agent names, sorted.
func (r *AgentRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all registered agents sorted by name.
func (r *AgentRegistry) List() []CustomAgent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agents := make([]CustomAgent, 0, len(r.agents))
	for _, agent := range r.agents {
		agents = append(agents, agent)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Name < agents[j].Name })
	return agents
}

// LoadDir loads every *.yaml / *.yml file in dir as an agent
// definition. A missing directory is not an error (fresh install); a
// malformed file is.
func (r *AgentRegistry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return crucerr.Wrapf(err, crucerr.CodeAgentRegistryInvalid, "reading agents dir %s", dir)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return crucerr.Wrapf(err, crucerr.CodeAgentRegistryInvalid, "reading agent file %s", path)
		}

		var agent CustomAgent
		if err := yaml.Unmarshal(data, &agent); err != nil {
			return crucerr.Wrapf(err, crucerr.CodeAgentRegistryInvalid, "parsing agent file %s", path)
		}
		if err := r.Register(agent); err != nil {
			return crucerr.Wrapf(err, crucerr.CodeAgentRegistryInvalid, "registering agent from %s", path)
		}
	}
	return nil
}
