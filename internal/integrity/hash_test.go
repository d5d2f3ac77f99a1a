package integrity

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/zeebo/blake3"
)

func TestSHA256HashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "binary")
	if err := os.WriteFile(path, []byte("hello, gateway"), 0755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := SHA256.HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if want := sha256Hex("hello, gateway"); got != want {
		t.Errorf("HashFile = %s, want %s", got, want)
	}
}

func TestBLAKE3HashFile(t *testing.T) {
	content := make([]byte, 256*1024)
	for i := range content {
		content[i] = byte(i % 251)
	}
	path := filepath.Join(t.TempDir(), "large")
	if err := os.WriteFile(path, content, 0755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := BLAKE3.HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	sum := blake3.Sum256(content)
	if want := hex.EncodeToString(sum[:]); got != want {
		t.Errorf("HashFile = %s, want %s", got, want)
	}
	if len(got) != 64 {
		t.Errorf("digest length = %d, want 64", len(got))
	}
}

func TestHashFileNonexistent(t *testing.T) {
	if _, err := SHA256.HashFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("HashFile should fail for a missing file")
	}
}

func TestHasherFor(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"", "sha256", false},
		{"sha256", "sha256", false},
		{"blake3", "blake3", false},
		{"md5", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := HasherFor(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("HasherFor(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if err == nil && h.Name() != tt.want {
				t.Errorf("Name() = %q, want %q", h.Name(), tt.want)
			}
		})
	}
}
