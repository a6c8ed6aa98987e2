package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Role string

const (
	RolePlanner  Role = "planner"
	RoleCoder    Role = "coder"
	RoleTester   Role = "tester"
	RoleExecutor Role = "executor"
	RoleRefactor Role = "refactor"
	RoleFixer    Role = "fixer"
	RoleObserver Role = "observer"
)

// NormalizeRole maps unknown roles to coder, which is how the hub renders them.
func NormalizeRole(v string) Role {
	switch r := Role(strings.ToLower(strings.TrimSpace(v))); r {
	case RolePlanner, RoleCoder, RoleTester, RoleExecutor, RoleRefactor, RoleFixer, RoleObserver:
		return r
	default:
		return RoleCoder
	}
}

type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentActive    IntentStatus = "active"
	IntentCompleted IntentStatus = "completed"
	IntentCancelled IntentStatus = "cancelled"
	IntentBlocked   IntentStatus = "blocked"
)

// Open reports whether the intent is still being worked on.
func (s IntentStatus) Open() bool {
	return s == IntentPending || s == IntentActive
}

func NormalizeIntentStatus(v string) IntentStatus {
	switch s := IntentStatus(strings.ToLower(strings.TrimSpace(v))); s {
	case IntentPending, IntentActive, IntentCompleted, IntentCancelled, IntentBlocked:
		return s
	default:
		return IntentPending
	}
}

// Millis is a timestamp that decodes from epoch milliseconds or RFC3339 text
// and always encodes as epoch milliseconds.
type Millis struct {
	time.Time
}

func MillisOf(t time.Time) Millis {
	return Millis{Time: t}
}

func (m Millis) MarshalJSON() ([]byte, error) {
	if m.IsZero() {
		return []byte("0"), nil
	}
	return []byte(strconv.FormatInt(m.UnixMilli(), 10)), nil
}

func (m *Millis) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		m.Time = time.Time{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			m.Time = time.Time{}
			return nil
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			m.Time = fromMillis(n)
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		m.Time = t.UTC()
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", string(b), err)
	}
	m.Time = fromMillis(int64(f))
	return nil
}

func fromMillis(n int64) time.Time {
	if n <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(n).UTC()
}

type Agent struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Role        Role     `json:"role"`
	Environment string   `json:"environment,omitempty"`
	Online      bool     `json:"online"`
	CurrentTask string   `json:"currentTask,omitempty"`
	LastSeen    Millis   `json:"lastSeen"`
	Caps        []string `json:"capabilities,omitempty"`
}

type Lock struct {
	ID         string `json:"id"`
	AgentID    string `json:"agentId"`
	TargetPath string `json:"targetPath"`
	TargetKind string `json:"targetKind,omitempty"`
	TargetID   string `json:"targetIdentifier,omitempty"`
	AcquiredAt Millis `json:"acquiredAt"`
	ExpiresAt  Millis `json:"expiresAt"`
}

// Expired reports whether the lock has an expiry that is not after now.
func (l Lock) Expired(now time.Time) bool {
	return !l.ExpiresAt.IsZero() && !l.ExpiresAt.After(now)
}

type Intent struct {
	ID          string       `json:"id"`
	AgentID     string       `json:"agentId"`
	Action      string       `json:"action"`
	Description string       `json:"description,omitempty"`
	Targets     []string     `json:"targets,omitempty"`
	Priority    int          `json:"priority"`
	Status      IntentStatus `json:"status"`
	CreatedAt   Millis       `json:"createdAt"`
	UpdatedAt   Millis       `json:"updatedAt"`
}

type FileRecord struct {
	Path           string `json:"path"`
	Version        int64  `json:"version"`
	Checksum       string `json:"checksum,omitempty"`
	LastModifiedBy string `json:"lastModifiedBy,omitempty"`
	LastModifiedAt Millis `json:"lastModifiedAt"`
}

type WorkItem struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Role        Role   `json:"role"`
	Status      string `json:"status"`
}

type Workspace struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Agents int     `json:"agents"`
	Target *string `json:"target"`
}
