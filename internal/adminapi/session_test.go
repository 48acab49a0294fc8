package adminapi

import (
	"testing"
	"time"
)

func TestSessionCreateLookupDestroy(t *testing.T) {
	s := newSessionStore(time.Hour)

	token := s.create(7)
	userID, ok := s.lookup(token)
	if !ok || userID != 7 {
		t.Fatalf("lookup = (%d, %v), want (7, true)", userID, ok)
	}

	s.destroy(token)
	if _, ok := s.lookup(token); ok {
		t.Fatal("expected token to be gone after destroy")
	}
}

func TestSessionExpires(t *testing.T) {
	s := newSessionStore(-time.Second) // already expired the instant it's created
	token := s.create(1)
	if _, ok := s.lookup(token); ok {
		t.Fatal("expected an already-expired session to fail lookup")
	}
}

func TestSessionLookupUnknownToken(t *testing.T) {
	s := newSessionStore(time.Hour)
	if _, ok := s.lookup("does-not-exist"); ok {
		t.Fatal("expected lookup of an unknown token to fail")
	}
}
