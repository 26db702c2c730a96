package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrUnknownState is returned when operations reference an undefined key.
	ErrUnknownState = errors.New("unknown state")

	fileExtension = ".json"
	keySanitizer  = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
	// RoleMeta marks bookkeeping lines (approvals, execution output) that are
	// shown in transcripts but never fed back into prompts.
	RoleMeta Role = "meta"
)

// Message is one immutable entry of a conversation log.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is a named, append-only message log with persistence metadata.
type Conversation struct {
	mu          sync.RWMutex
	key         string
	messages    []Message
	storagePath string
	createdAt   time.Time
	updatedAt   time.Time
}

// Key returns the identifier assigned to the conversation.
func (c *Conversation) Key() string {
	return c.key
}

// Messages returns a copy of the log.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len reports how many messages have been appended.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Append adds a message to the end of the log. A zero timestamp is stamped
// with the current time.
func (c *Conversation) Append(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.touchLocked(msg.Timestamp)
	c.mu.Unlock()
}

// CreatedAt returns when the conversation was first persisted.
func (c *Conversation) CreatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.createdAt
}

// UpdatedAt returns when the conversation last changed.
func (c *Conversation) UpdatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updatedAt
}

func (c *Conversation) touchLocked(now time.Time) {
	if c.createdAt.IsZero() {
		c.createdAt = now
	}
	c.updatedAt = now
}

// NewConversation returns an unmanaged in-memory log, used by tests and one-shot mode.
func NewConversation(key string) *Conversation {
	now := time.Now()
	return &Conversation{key: key, createdAt: now, updatedAt: now}
}

// Manager orchestrates multiple named conversations backed by JSON files.
type Manager struct {
	mu         sync.RWMutex
	states     map[string]*Conversation
	currentKey string
	root       string
	logger     *log.Logger
}

// NewManager sets up the container for managing multiple conversations backed by disk persistence.
func NewManager(root string, logger *log.Logger) (*Manager, error) {
	if root == "" {
		root = "conversations"
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation dir: %w", err)
	}
	mgr := &Manager{
		states: make(map[string]*Conversation),
		root:   root,
		logger: logger,
	}
	if err := mgr.loadExisting(); err != nil {
		return nil, err
	}
	return mgr, nil
}

// EnsureState fetches or creates a conversation for the provided key and makes it current.
func (m *Manager) EnsureState(key string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key == "" {
		key = m.generateUniqueSessionNameLocked()
	}
	if conv, ok := m.states[key]; ok {
		m.currentKey = key
		return conv, nil
	}
	return m.createLocked(key)
}

// NewState explicitly creates a fresh conversation and errors if the key exists.
func (m *Manager) NewState(key string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key == "" {
		key = m.generateUniqueSessionNameLocked()
	}
	if _, exists := m.states[key]; exists {
		return nil, fmt.Errorf("state %s already exists", key)
	}
	return m.createLocked(key)
}

// Use switches to an existing conversation.
func (m *Manager) Use(key string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.states[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownState, key)
	}
	m.currentKey = key
	return conv, nil
}

// Current exposes the active conversation, creating a default one if needed.
func (m *Manager) Current() (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.currentKey != "" {
		if conv, ok := m.states[m.currentKey]; ok {
			return conv, nil
		}
	}
	return m.createLocked(m.generateUniqueSessionNameLocked())
}

// CurrentKey reveals which conversation is active.
func (m *Manager) CurrentKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentKey
}

// ListKeys returns the known conversation identifiers.
func (m *Manager) ListKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.states))
	for k := range m.states {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Summary captures metadata about a stored conversation without exposing message content.
type Summary struct {
	Key          string    `json:"key"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// Summaries returns lightweight details for each known conversation, sorted by last update desc.
func (m *Manager) Summaries() []Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	summaries := make([]Summary, 0, len(m.states))
	for key, conv := range m.states {
		summaries = append(summaries, Summary{
			Key:          key,
			CreatedAt:    conv.CreatedAt(),
			UpdatedAt:    conv.UpdatedAt(),
			MessageCount: conv.Len(),
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries
}

// Save writes the provided conversation to disk.
func (m *Manager) Save(conv *Conversation) error {
	if conv == nil {
		return fmt.Errorf("conversation is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[conv.key]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownState, conv.key)
	}
	return m.persistLocked(conv)
}

func (m *Manager) createLocked(key string) (*Conversation, error) {
	conv := NewConversation(key)
	if err := m.assignPathLocked(conv); err != nil {
		return nil, err
	}
	if err := m.persistLocked(conv); err != nil {
		return nil, err
	}
	m.states[key] = conv
	m.currentKey = key
	return conv, nil
}

func (m *Manager) loadExisting() error {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return fmt.Errorf("read conversation root: %w", err)
	}
	loaded := 0
	var mostRecent *Conversation
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dayDir := filepath.Join(m.root, entry.Name())
		files, err := os.ReadDir(dayDir)
		if err != nil {
			m.logger.Printf("skip %s: %v", dayDir, err)
			continue
		}
		for _, fileEntry := range files {
			if fileEntry.IsDir() || filepath.Ext(fileEntry.Name()) != fileExtension {
				continue
			}
			path := filepath.Join(dayDir, fileEntry.Name())
			conv, err := readConversation(path)
			if err != nil {
				m.logger.Printf("load %s failed: %v", path, err)
				continue
			}
			if conv.key == "" {
				conv.key = strings.TrimSuffix(fileEntry.Name(), fileExtension)
			}
			if existing, exists := m.states[conv.key]; exists && existing.updatedAt.After(conv.updatedAt) {
				continue
			}
			m.states[conv.key] = conv
			if mostRecent == nil || conv.updatedAt.After(mostRecent.updatedAt) {
				mostRecent = conv
			}
			loaded++
		}
	}
	if loaded > 0 {
		m.logger.Printf("loaded %d stored conversations", loaded)
		m.currentKey = mostRecent.key
	}
	return nil
}

func readConversation(path string) (*Conversation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var persisted persistedConversation
	if err := json.Unmarshal(data, &persisted); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	conv := &Conversation{
		key:         persisted.Key,
		messages:    persisted.Messages,
		storagePath: path,
		createdAt:   persisted.CreatedAt,
		updatedAt:   persisted.UpdatedAt,
	}
	if conv.createdAt.IsZero() {
		if info, statErr := os.Stat(path); statErr == nil {
			conv.createdAt = info.ModTime()
		} else {
			conv.createdAt = time.Now()
		}
	}
	if conv.updatedAt.IsZero() {
		conv.updatedAt = conv.createdAt
	}
	return conv, nil
}

func (m *Manager) assignPathLocked(conv *Conversation) error {
	if conv.storagePath != "" {
		return nil
	}
	folder := filepath.Join(m.root, conv.createdAt.Format("2006-01-02"))
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return fmt.Errorf("create folder %s: %w", folder, err)
	}
	conv.storagePath = filepath.Join(folder, sanitizeKey(conv.key)+fileExtension)
	return nil
}

func (m *Manager) persistLocked(conv *Conversation) error {
	if err := m.assignPathLocked(conv); err != nil {
		return err
	}
	conv.mu.RLock()
	payload := persistedConversation{
		Key:       conv.key,
		Messages:  conv.messages,
		CreatedAt: conv.createdAt,
		UpdatedAt: conv.updatedAt,
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	conv.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	tmp := conv.storagePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp conversation: %w", err)
	}
	if err := os.Rename(tmp, conv.storagePath); err != nil {
		return fmt.Errorf("replace conversation: %w", err)
	}
	return nil
}

func sanitizeKey(key string) string {
	sanitized := keySanitizer.ReplaceAllString(strings.TrimSpace(key), "_")
	sanitized = strings.Trim(sanitized, "_-")
	if sanitized == "" {
		sanitized = "conversation"
	}
	return sanitized
}

// generateUniqueSessionNameLocked creates a unique sequential session name (chat-1, chat-2, etc.).
// Caller must hold m.mu lock.
func (m *Manager) generateUniqueSessionNameLocked() string {
	maxNum := 0
	for key := range m.states {
		var num int
		if _, err := fmt.Sscanf(key, "chat-%d", &num); err == nil && num > maxNum {
			maxNum = num
		}
	}
	return fmt.Sprintf("chat-%d", maxNum+1)
}

// persistedConversation mirrors the JSON schema stored on disk.
type persistedConversation struct {
	Key       string    `json:"key"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
