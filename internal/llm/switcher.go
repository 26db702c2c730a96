package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ProviderOption describes a selectable provider/model combination.
type ProviderOption struct {
	Key   string
	Label string
	Model string
}

// ProviderRegistration pairs a client with the option that selects it.
type ProviderRegistration struct {
	Option ProviderOption
	Client Client
}

// Switcher is a Client that forwards to one of several registered providers
// and can change the active one at runtime.
type Switcher struct {
	mu      sync.RWMutex
	active  string
	entries map[string]ProviderRegistration
}

// NewSwitcher registers regs and activates defaultKey (or the first key in
// order if defaultKey is unknown).
func NewSwitcher(defaultKey string, regs []ProviderRegistration) (*Switcher, error) {
	if len(regs) == 0 {
		return nil, fmt.Errorf("no provider registrations supplied")
	}
	entries := make(map[string]ProviderRegistration, len(regs))
	for _, reg := range regs {
		key := strings.TrimSpace(reg.Option.Key)
		if key == "" {
			return nil, fmt.Errorf("provider registration missing key")
		}
		if reg.Client == nil {
			return nil, fmt.Errorf("provider %s missing client", key)
		}
		reg.Option.Key = key
		entries[key] = reg
	}
	s := &Switcher{entries: entries, active: defaultKey}
	if _, ok := entries[defaultKey]; !ok {
		s.active = s.keysLocked()[0]
	}
	return s, nil
}

// Chat forwards to the active provider using its model.
func (s *Switcher) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	s.mu.RLock()
	entry, ok := s.entries[s.active]
	s.mu.RUnlock()
	if !ok {
		return ChatResponse{}, fmt.Errorf("active provider %q unavailable", s.active)
	}
	if entry.Option.Model != "" {
		req.Model = entry.Option.Model
	}
	return entry.Client.Chat(ctx, req)
}

// Active returns the active provider option.
func (s *Switcher) Active() ProviderOption {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[s.active].Option
}

// Options lists registered providers by key.
func (s *Switcher) Options() []ProviderOption {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.keysLocked()
	opts := make([]ProviderOption, 0, len(keys))
	for _, k := range keys {
		opts = append(opts, s.entries[k].Option)
	}
	return opts
}

// SetActive switches to the provider registered under key.
func (s *Switcher) SetActive(key string) error {
	key = strings.TrimSpace(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return fmt.Errorf("provider %q not available", key)
	}
	s.active = key
	return nil
}

func (s *Switcher) keysLocked() []string {
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
