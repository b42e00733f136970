package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleMetadata  = "metadata"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a transcript file.
type Message struct {
	Role      string `json:"role"`
	Timestamp string `json:"timestamp"`
	Content   string `json:"content,omitempty"`
	DialogID  string `json:"dialog_id,omitempty"`
}

// TranscriptInfo summarizes a stored transcript.
type TranscriptInfo struct {
	UID           string  `json:"uid"`
	DialogID      string  `json:"dialog_id,omitempty"`
	LatestMessage Message `json:"latest_message"`
	Timestamp     string  `json:"timestamp"`
}

var safeNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-\.]+$`)

// Store keeps one JSON file per dialog under baseDir/<owner>/.
type Store struct {
	baseDir string
	mu      sync.Mutex
}

// NewStore returns a store rooted at baseDir.
func NewStore(baseDir string) (*Store, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, errors.New("transcript base dir is empty")
	}
	return &Store{baseDir: baseDir}, nil
}

// Create starts a new transcript for owner and returns its uid.
func (s *Store) Create(owner string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir, err := s.ensureOwnerDir(owner)
	if err != nil {
		return "", err
	}
	uid := time.Now().Format("2006-01-02_15-04-05") + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	meta := []Message{{Role: RoleMetadata, Timestamp: now()}}
	if err := writeTranscript(filepath.Join(dir, uid+".json"), meta); err != nil {
		return "", err
	}
	return uid, nil
}

// SetDialogID records the server dialog id in the metadata entry.
func (s *Store) SetDialogID(owner, uid, dialogID string) error {
	return s.update(owner, uid, func(messages []Message) []Message {
		for i := range messages {
			if messages[i].Role == RoleMetadata {
				messages[i].DialogID = dialogID
				return messages
			}
		}
		return append([]Message{{Role: RoleMetadata, Timestamp: now(), DialogID: dialogID}}, messages...)
	})
}

// Append adds a message. Empty content is ignored.
func (s *Store) Append(owner, uid, role, content string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	return s.update(owner, uid, func(messages []Message) []Message {
		return append(messages, Message{Role: role, Timestamp: now(), Content: content})
	})
}

// Get returns the conversation messages without metadata.
func (s *Store) Get(owner, uid string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, err := s.transcriptPath(owner, uid)
	if err != nil {
		return nil, err
	}
	messages, err := readTranscript(path)
	if err != nil {
		return nil, err
	}
	filtered := []Message{}
	for _, msg := range messages {
		if msg.Role == RoleMetadata {
			continue
		}
		filtered = append(filtered, msg)
	}
	return filtered, nil
}

// Delete removes a transcript and reports whether it existed.
func (s *Store) Delete(owner, uid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, err := s.transcriptPath(owner, uid)
	if err != nil {
		return false
	}
	if _, err := os.Stat(path); err != nil {
		return false
	}
	return os.Remove(path) == nil
}

// List returns owner's transcripts, newest first. Transcripts without
// conversation messages are skipped.
func (s *Store) List(owner string) []TranscriptInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := []TranscriptInfo{}
	dir, err := s.ensureOwnerDir(owner)
	if err != nil {
		return list
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return list
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		messages, err := readTranscript(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		info := TranscriptInfo{UID: strings.TrimSuffix(entry.Name(), ".json")}
		var latest *Message
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].Role == RoleMetadata {
				info.DialogID = messages[i].DialogID
				continue
			}
			if latest == nil {
				msg := messages[i]
				latest = &msg
			}
		}
		if latest == nil {
			continue
		}
		info.LatestMessage = *latest
		info.Timestamp = latest.Timestamp
		list = append(list, info)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].Timestamp > list[j].Timestamp
	})
	return list
}

func (s *Store) update(owner, uid string, fn func([]Message) []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, err := s.transcriptPath(owner, uid)
	if err != nil {
		return err
	}
	messages, err := readTranscript(path)
	if err != nil {
		return err
	}
	return writeTranscript(path, fn(messages))
}

func (s *Store) ensureOwnerDir(owner string) (string, error) {
	if !safeNamePattern.MatchString(owner) {
		return "", errors.New("invalid transcript owner")
	}
	path := filepath.Join(s.baseDir, owner)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Store) transcriptPath(owner, uid string) (string, error) {
	if !safeNamePattern.MatchString(owner) || !safeNamePattern.MatchString(uid) {
		return "", errors.New("invalid transcript path")
	}
	return filepath.Join(s.baseDir, owner, uid+".json"), nil
}

func now() string {
	return time.Now().Format(time.RFC3339Nano)
}

func readTranscript(path string) ([]Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var messages []Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func writeTranscript(path string, messages []Message) error {
	data, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
