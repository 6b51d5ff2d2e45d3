package crypto

import (
	"crypto/rand"
	"testing"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()

	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate codec key: %v", err)
	}

	codec, err := NewCodec(key)
	if err != nil {
		t.Fatalf("create codec: %v", err)
	}
	return codec
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	codec := newTestCodec(t)

	plaintexts := []string{
		"hello",
		"",
		"multi\nline with unicode: héllo wörld 你好",
	}

	for _, plaintext := range plaintexts {
		stored, err := codec.EncryptText(plaintext)
		if err != nil {
			t.Fatalf("EncryptText(%q) failed: %v", plaintext, err)
		}
		if stored == plaintext && plaintext != "" {
			t.Fatalf("ciphertext equals plaintext for %q", plaintext)
		}

		decrypted, ok := codec.DecryptText(stored)
		if !ok {
			t.Fatalf("DecryptText(%q) reported failure", plaintext)
		}
		if decrypted != plaintext {
			t.Fatalf("round trip mismatch: got %q want %q", decrypted, plaintext)
		}
	}
}

func TestDecryptTextWrongKeyFallsBack(t *testing.T) {
	sender := newTestCodec(t)
	receiver := newTestCodec(t)

	stored, err := sender.EncryptText("hello")
	if err != nil {
		t.Fatalf("EncryptText failed: %v", err)
	}

	got, ok := receiver.DecryptText(stored)
	if ok {
		t.Fatalf("expected decrypt failure under a different key")
	}
	if got != stored {
		t.Fatalf("fallback should surface the stored value: got %q want %q", got, stored)
	}
}

func TestDecryptTextGarbageNeverFails(t *testing.T) {
	codec := newTestCodec(t)

	cases := []string{
		"",
		"plain message that was never encrypted",
		"not!valid!base64!!",
		"aGVsbG8=", // valid base64, too short for a nonce
	}

	for _, stored := range cases {
		got, ok := codec.DecryptText(stored)
		if ok {
			t.Fatalf("DecryptText(%q) unexpectedly succeeded", stored)
		}
		if got != stored {
			t.Fatalf("DecryptText(%q) fallback mismatch: got %q", stored, got)
		}
	}
}

func TestNewCodecRejectsBadKeyLength(t *testing.T) {
	for _, size := range []int{0, 16, 31, 33} {
		if _, err := NewCodec(make([]byte, size)); err == nil {
			t.Fatalf("expected error for key length %d", size)
		}
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := []byte("conversation-salt")

	first, err := DeriveKey("my-super-secret-key", salt)
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	second, err := DeriveKey("my-super-secret-key", salt)
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}

	if len(first) != KeySize {
		t.Fatalf("derived key length: got %d want %d", len(first), KeySize)
	}
	if string(first) != string(second) {
		t.Fatalf("same passphrase and salt must derive the same key")
	}

	other, err := DeriveKey("another-passphrase", salt)
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	if string(first) == string(other) {
		t.Fatalf("different passphrases must derive different keys")
	}
}

func TestDeriveKeyRequiresInputs(t *testing.T) {
	if _, err := DeriveKey("", []byte("salt")); err == nil {
		t.Fatalf("expected error for empty passphrase")
	}
	if _, err := DeriveKey("passphrase", nil); err == nil {
		t.Fatalf("expected error for empty salt")
	}
}
