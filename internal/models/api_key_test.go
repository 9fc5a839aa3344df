package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// The key hash must never leave the server, and last_used_at only appears
// once the key has actually been used.
func TestAPIKey_JSONHidesHash(t *testing.T) {
	k := APIKey{
		ID:        uuid.New(),
		AccountID: uuid.New(),
		KeyHash:   "deadbeef",
		KeyPrefix: "mf_12345",
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	out, err := json.Marshal(k)
	if err != nil {
		t.Fatal(err)
	}
	s := string(out)
	if strings.Contains(s, "deadbeef") {
		t.Errorf("key hash leaked into JSON: %s", s)
	}
	if strings.Contains(s, "last_used_at") {
		t.Errorf("unused key must omit last_used_at: %s", s)
	}

	used := time.Now()
	k.LastUsedAt = &used
	out, err = json.Marshal(k)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "last_used_at") {
		t.Errorf("used key must carry last_used_at: %s", out)
	}
}
