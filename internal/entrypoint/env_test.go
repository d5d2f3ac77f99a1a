package entrypoint

import (
	"strings"
	"testing"
)

func TestExecEnv(t *testing.T) {
	env := []string{
		"PATH=/usr/bin:/bin",
		"HOME=/data",
		"GATEWAY_TOKEN=s3cret",
		"LD_PRELOAD=/data/evil.so",
		"LD_LIBRARY_PATH=/data/lib",
		"GATEWARDEN_STATE_DIR=/data/.gatewarden",
		"NODE_ENV=production",
	}

	out := ExecEnv(env, []string{"/data/go/bin", "/data/.npm-global/bin"})

	kept := map[string]bool{"HOME": false, "GATEWAY_TOKEN": false, "NODE_ENV": false, "PATH": false}
	for _, e := range out {
		key := envKey(e)
		if _, ok := kept[key]; !ok {
			t.Errorf("unexpected variable passed through: %s", e)
			continue
		}
		kept[key] = true
	}
	for key, seen := range kept {
		if !seen {
			t.Errorf("expected %s to be kept", key)
		}
	}

	path, _ := lookupEnv(out, "PATH")
	if path != "/data/go/bin:/data/.npm-global/bin:/usr/bin:/bin" {
		t.Errorf("PATH = %q", path)
	}
}

func TestExecEnvDefaultPath(t *testing.T) {
	out := ExecEnv([]string{"HOME=/data"}, []string{"/data/go/bin"})

	path, ok := lookupEnv(out, "PATH")
	if !ok {
		t.Fatal("PATH missing")
	}
	if !strings.HasPrefix(path, "/data/go/bin:") || !strings.Contains(path, "/usr/bin") {
		t.Errorf("PATH = %q", path)
	}
}

func TestPrependPathSkipsPresent(t *testing.T) {
	tests := []struct {
		path string
		dirs []string
		want string
	}{
		{"/usr/bin", []string{"/usr/bin"}, "/usr/bin"},
		{"/usr/bin", []string{"/a", "/a", ""}, "/a:/usr/bin"},
		{"", []string{"/a", "/b"}, "/a:/b"},
	}

	for _, tt := range tests {
		if got := prependPath(tt.path, tt.dirs); got != tt.want {
			t.Errorf("prependPath(%q, %v) = %q, want %q", tt.path, tt.dirs, got, tt.want)
		}
	}
}
