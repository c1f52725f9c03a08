package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestJobStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobPending, JobRunning, true},
		{JobPending, JobCancelled, true},
		{JobPending, JobCompleted, false},
		{JobRunning, JobCompleted, true},
		{JobRunning, JobFailed, true},
		{JobRunning, JobCancelled, true},
		{JobRunning, JobPending, false},
		{JobCompleted, JobRunning, false},
		{JobFailed, JobCancelled, false},
		{JobCancelled, JobRunning, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJobStatusTerminal(t *testing.T) {
	for _, s := range []JobStatus{JobCompleted, JobFailed, JobCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []JobStatus{JobPending, JobRunning} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestJobProgressPercent(t *testing.T) {
	if got := (JobProgress{}).Percent(); got != 0 {
		t.Errorf("empty progress = %d, want 0", got)
	}
	p := JobProgress{Total: 4, Completed: 2, Failed: 1}
	if got := p.Percent(); got != 75 {
		t.Errorf("Percent = %d, want 75", got)
	}
}

func TestDependencyTarget(t *testing.T) {
	d := ComponentDependency{DependsOnID: "c2"}
	if d.Target() != "c2" {
		t.Errorf("Target = %q, want c2", d.Target())
	}
	d.PackageName = "react"
	if d.Target() != "react" {
		t.Errorf("Target = %q, want react", d.Target())
	}
}

func TestUserPasswordHashNotSerialized(t *testing.T) {
	u := User{
		ID:           "u1",
		Email:        "dev@example.com",
		PasswordHash: "$2a$10$secret",
		Role:         RoleAdmin,
		CreatedAt:    time.Now(),
	}
	b, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if _, ok := m["password_hash"]; ok {
		t.Error("password_hash must not appear in JSON")
	}
	if !u.IsAdmin() {
		t.Error("expected admin")
	}
}

func TestAPIKeyHashNotSerialized(t *testing.T) {
	k := APIKey{ID: "k1", KeyHash: "abc", KeyPrefix: "kb_1234"}
	b, err := json.Marshal(k)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if _, ok := m["key_hash"]; ok {
		t.Error("key_hash must not appear in JSON")
	}
	if m["key_prefix"] != "kb_1234" {
		t.Errorf("key_prefix = %v", m["key_prefix"])
	}
}

func TestResponseEnvelope(t *testing.T) {
	b, err := json.Marshal(Response{Success: false, Error: &ErrorDetail{Code: 404, Message: "Component not found"}})
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if _, ok := m["data"]; ok {
		t.Error("data must be omitted on error")
	}
	if m["success"] != false {
		t.Errorf("success = %v, want false", m["success"])
	}
}

func TestComponentStatusValid(t *testing.T) {
	if !StatusPublished.Valid() || ComponentStatus("deleted").Valid() {
		t.Error("unexpected status validity")
	}
	if !DependencyPeer.Valid() || DependencyType("dev").Valid() {
		t.Error("unexpected dependency type validity")
	}
}
