package auth

import (
	"errors"
	"testing"

	"github.com/danmuck/relaychat/internal/testutil/testlog"
	"golang.org/x/crypto/bcrypt"
)

func TestStaticTokenValidate(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		stored  string
		input   string
		wantErr error
	}{
		{name: "empty token denied", stored: "", input: "abc", wantErr: ErrUnauthorized},
		{name: "mismatched token denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "matching token accepted", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := (StaticToken{Token: tc.stored}).Validate(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestBcryptTokenValidate(t *testing.T) {
	testlog.Start(t)
	raw, err := bcrypt.GenerateFromPassword([]byte("join-me"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	v := BcryptToken{Hash: string(raw)}
	if err := v.Validate("join-me"); err != nil {
		t.Fatalf("expected match, got %v", err)
	}
	if err := v.Validate("join-you"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := (BcryptToken{}).Validate("join-me"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for empty hash, got %v", err)
	}
}

func TestHashTokenProducesVerifiableHash(t *testing.T) {
	testlog.Start(t)
	hash, err := HashToken("secret")
	if err != nil {
		t.Fatalf("hash token: %v", err)
	}
	if err := (BcryptToken{Hash: hash}).Validate("secret"); err != nil {
		t.Fatalf("expected hash to verify, got %v", err)
	}
	if _, err := HashToken(""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected empty token rejected, got %v", err)
	}
}

func TestNewSelectsValidator(t *testing.T) {
	testlog.Start(t)
	if _, ok := New("", "").(AllowAll); !ok {
		t.Fatalf("expected AllowAll without secrets")
	}
	if _, ok := New("tok", "").(StaticToken); !ok {
		t.Fatalf("expected StaticToken for plaintext")
	}
	if _, ok := New("tok", "$2a$10$abc").(BcryptToken); !ok {
		t.Fatalf("expected BcryptToken when hash set")
	}
}

func TestFuncValidator(t *testing.T) {
	testlog.Start(t)
	validator := FuncValidator(func(token string) error {
		if token != "ok" {
			return ErrUnauthorized
		}
		return nil
	})

	if err := validator.Validate("bad"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for bad token, got %v", err)
	}
	if err := validator.Validate("ok"); err != nil {
		t.Fatalf("expected success for ok token, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	testlog.Start(t)
	cases := map[string]struct {
		token string
		ok    bool
	}{
		"Bearer abc":   {"abc", true},
		"bearer  xyz ": {"xyz", true},
		"Basic abc":    {"", false},
		"Bearer ":      {"", false},
		"":             {"", false},
	}
	for header, want := range cases {
		token, ok := BearerToken(header)
		if token != want.token || ok != want.ok {
			t.Fatalf("header %q: expected (%q,%v), got (%q,%v)", header, want.token, want.ok, token, ok)
		}
	}
}
