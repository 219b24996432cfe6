package types

import (
	"errors"
	"testing"
)

func TestSessionPartner(t *testing.T) {
	s := &Session{UserA: "alice", UserB: "bob"}

	if p, ok := s.Partner("alice"); !ok || p != "bob" {
		t.Errorf("Partner(alice) = %q, %v; want bob, true", p, ok)
	}
	if p, ok := s.Partner("bob"); !ok || p != "alice" {
		t.Errorf("Partner(bob) = %q, %v; want alice, true", p, ok)
	}
	if _, ok := s.Partner("carol"); ok {
		t.Error("Partner(carol) should report false for a non-member")
	}
}

func TestInstanceRecordLoadScore(t *testing.T) {
	r := &InstanceRecord{CPUPercent: 50, MemPercent: 20, ActiveConnections: 50}
	want := 0.4*50 + 0.3*20 + 0.3*0.5
	if got := r.LoadScore(); got != want {
		t.Errorf("LoadScore() = %v, want %v", got, want)
	}
}

func TestIsValidUserID(t *testing.T) {
	cases := []struct {
		id   string
		want bool
	}{
		{"", false},
		{"alice", true},
		{"alice_bob-123", true},
		{"has a space", false},
		{string(make([]byte, 51)), false},
	}
	for _, c := range cases {
		if got := IsValidUserID(c.id); got != c.want {
			t.Errorf("IsValidUserID(%q) = %v, want %v", c.id, got, c.want)
		}
	}
}

func TestIsValidModality(t *testing.T) {
	for _, m := range []Modality{ModalityVideo, ModalityAudio, ModalityText} {
		if !IsValidModality(m) {
			t.Errorf("IsValidModality(%q) = false, want true", m)
		}
	}
	if IsValidModality("smell") {
		t.Error("IsValidModality(smell) = true, want false")
	}
}

func TestValidateChatText(t *testing.T) {
	if err := ValidateChatText(""); err == nil {
		t.Error("empty text should fail validation")
	}
	big := make([]byte, 1001)
	if err := ValidateChatText(string(big)); err == nil {
		t.Error("text over 1000 chars should fail validation")
	}
	if err := ValidateChatText("hello"); err != nil {
		t.Errorf("ValidateChatText(hello) = %v, want nil", err)
	}
}

func TestErrorKindRoundtrip(t *testing.T) {
	err := NewError(KindAlreadyQueued)
	if ErrorKind(err) != KindAlreadyQueued {
		t.Errorf("ErrorKind() = %v, want %v", ErrorKind(err), KindAlreadyQueued)
	}

	plain := errors.New("boom")
	if ErrorKind(plain) != KindInternal {
		t.Errorf("ErrorKind(plain error) = %v, want KindInternal", ErrorKind(plain))
	}

	if !errors.Is(NewError(KindRateLimited), ErrRateLimited) {
		t.Error("two CoreErrors with the same kind should satisfy errors.Is")
	}
}

func TestOutboundEnvelope(t *testing.T) {
	env, err := Outbound(OutMatchFound, MatchFoundPayload{
		SessionID: "s1", PartnerID: "bob", PartnerUsername: "Bob", SessionType: ModalityVideo,
	})
	if err != nil {
		t.Fatalf("Outbound() error = %v", err)
	}
	if env.Type != OutMatchFound {
		t.Errorf("Type = %q, want %q", env.Type, OutMatchFound)
	}
	if len(env.Payload) == 0 {
		t.Error("Payload should not be empty")
	}
}
