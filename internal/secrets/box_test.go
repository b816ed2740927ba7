package secrets

import (
	"errors"
	"testing"
)

func newTestBox(t *testing.T) *Box {
	t.Helper()
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	b, err := NewBox(key)
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}
	return b
}

func TestSealOpen(t *testing.T) {
	b := newTestBox(t)

	sealed, err := b.Seal([]byte(`{"username":"hotel","password":"s3cret"}`))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	got, err := b.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(got) != `{"username":"hotel","password":"s3cret"}` {
		t.Errorf("Open = %q", got)
	}
}

func TestSeal_FreshNonce(t *testing.T) {
	b := newTestBox(t)
	a1, _ := b.Seal([]byte("same"))
	a2, _ := b.Seal([]byte("same"))
	if a1 == a2 {
		t.Error("two seals of the same plaintext must differ")
	}
}

func TestOpen_WrongKey(t *testing.T) {
	sealed, err := newTestBox(t).Seal([]byte("payload"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	_, err = newTestBox(t).Open(sealed)
	if !errors.Is(err, ErrDecrypt) {
		t.Errorf("Open with wrong key: err = %v, want ErrDecrypt", err)
	}
}

func TestOpen_Truncated(t *testing.T) {
	b := newTestBox(t)
	if _, err := b.Open("c2hvcnQ="); !errors.Is(err, ErrDecrypt) {
		t.Errorf("err = %v, want ErrDecrypt", err)
	}
}

func TestNewBox_BadKey(t *testing.T) {
	tests := map[string]string{
		"not base64": "%%%",
		"too short":  "c2hvcnQ=",
	}
	for name, key := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := NewBox(key); err == nil {
				t.Error("expected error")
			}
		})
	}
}
