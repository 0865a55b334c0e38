package obfuscator

import (
	"regexp"
	"testing"
)

func TestInternalSubjectDeterministic(t *testing.T) {
	key := []byte("folder-private-key-bytes")
	s1 := InternalSubject("folder-1", "file-1", 3, key)
	s2 := InternalSubject("folder-1", "file-1", 3, key)
	if s1 != s2 {
		t.Error("InternalSubject() is not deterministic for the same inputs")
	}
	if len(s1) != 64 {
		t.Errorf("InternalSubject() length = %d, want 64", len(s1))
	}
}

func TestInternalSubjectVariesWithSegmentIndex(t *testing.T) {
	key := []byte("key")
	s0 := InternalSubject("f", "file", 0, key)
	s1 := InternalSubject("f", "file", 1, key)
	if s0 == s1 {
		t.Error("InternalSubject() did not change with segment index")
	}
}

func TestInternalSubjectVariesWithFolderKey(t *testing.T) {
	s1 := InternalSubject("f", "file", 0, []byte("key-a"))
	s2 := InternalSubject("f", "file", 0, []byte("key-b"))
	if s1 == s2 {
		t.Error("InternalSubject() did not change with folder private key")
	}
}

func TestRandomUsenetSubjectTokenShape(t *testing.T) {
	tok, err := RandomUsenetSubjectToken()
	if err != nil {
		t.Fatalf("RandomUsenetSubjectToken() error = %v", err)
	}
	if len(tok) != randomSubjectLength {
		t.Errorf("token length = %d, want %d", len(tok), randomSubjectLength)
	}
	if !regexp.MustCompile(`^[A-Z0-9]{20}$`).MatchString(tok) {
		t.Errorf("token %q does not match [A-Z0-9]{20}", tok)
	}
}

func TestRandomUsenetSubjectTokenIsRandom(t *testing.T) {
	t1, _ := RandomUsenetSubjectToken()
	t2, _ := RandomUsenetSubjectToken()
	if t1 == t2 {
		t.Error("RandomUsenetSubjectToken() produced the same token twice")
	}
}

func TestNewMessageIDShape(t *testing.T) {
	id, err := NewMessageID()
	if err != nil {
		t.Fatalf("NewMessageID() error = %v", err)
	}
	if !regexp.MustCompile(`^<[0-9a-f]{16}@ngPost\.com>$`).MatchString(id) {
		t.Errorf("message id %q does not match <16-hex@ngPost.com>", id)
	}
}

func TestNewShareIDShape(t *testing.T) {
	id, err := NewShareID()
	if err != nil {
		t.Fatalf("NewShareID() error = %v", err)
	}
	if len(id) != 24 {
		t.Errorf("share id length = %d, want 24", len(id))
	}
	if !regexp.MustCompile(`^[A-Z2-7]{24}$`).MatchString(id) {
		t.Errorf("share id %q does not match [A-Z2-7]{24}", id)
	}
}

func TestNewShareIDNoSubstringOfMessageID(t *testing.T) {
	shareID, _ := NewShareID()
	msgID, _ := NewMessageID()
	if SharesSubstringWithMessageID(shareID, []string{msgID}) {
		t.Error("share id unexpectedly shares a substring with a message id")
	}
}

func TestFormatPostedSubjectPublic(t *testing.T) {
	subj := FormatPostedSubject(1, 5, "ABCDEFGHIJ0123456789", "report.pdf", []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x11, 0x22, 0x33})
	want := "[1/5] ABCDEFGHIJ0123456789 - report.pdf [deadbeef]"
	if subj != want {
		t.Errorf("FormatPostedSubject() = %q, want %q", subj, want)
	}
}
