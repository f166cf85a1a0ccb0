package webhook

import (
	"errors"
	"strings"
	"testing"
)

func TestVerifyHMACSignature(t *testing.T) {
	secret := "test-secret-key"
	body := []byte(`{"message_body":"hello"}`)

	signed := computeSignature(body, secret)
	plainHex := strings.TrimPrefix(signed, "sha256=")

	tests := []struct {
		name      string
		body      []byte
		signature string
		secret    string
		wantErr   bool
	}{
		{name: "prefixed hex", body: body, signature: signed, secret: secret},
		{name: "plain hex", body: body, signature: plainHex, secret: secret},
		{name: "surrounding whitespace", body: body, signature: " " + signed + " ", secret: secret},
		{name: "wrong signature", body: body, signature: "sha256=" + strings.Repeat("0", 64), secret: secret, wantErr: true},
		{name: "tampered body", body: []byte(`{"message_body":"hellO"}`), signature: signed, secret: secret, wantErr: true},
		{name: "wrong secret", body: body, signature: signed, secret: "other", wantErr: true},
		{name: "empty signature", body: body, signature: "", secret: secret, wantErr: true},
		{name: "empty secret", body: body, signature: signed, secret: "", wantErr: true},
		{name: "not hex", body: body, signature: "sha256=zz", secret: secret, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifyHMACSignature(tt.body, tt.signature, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Fatalf("verifyHMACSignature() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errInvalidSignature) {
				t.Fatalf("error = %v, want errInvalidSignature", err)
			}
		})
	}
}

func TestParseMaxBodySize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "", want: DefaultMaxBodySize},
		{in: "2048", want: 2048},
		{in: "64KB", want: 64 * 1024},
		{in: "1mb", want: 1024 * 1024},
		{in: "2GB", want: 2 * 1024 * 1024 * 1024},
		{in: "0", wantErr: true},
		{in: "-5", wantErr: true},
		{in: "lots", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseMaxBodySize(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("parseMaxBodySize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if !tt.wantErr && got != tt.want {
			t.Fatalf("parseMaxBodySize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
