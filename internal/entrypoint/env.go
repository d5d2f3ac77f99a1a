package entrypoint

import (
	"strings"
)

// Environment handed to the wrapped gateway. The gateway inherits the
// container environment, minus variables that would let anything on the
// persistent volume hook the dynamic loader, and minus gatewarden's own
// configuration.

// envBlocklist contains variables that are never passed to the wrapped process.
var envBlocklist = map[string]bool{
	"LD_PRELOAD":      true,
	"LD_AUDIT":        true,
	"LD_LIBRARY_PATH": true,
	"LD_DEBUG_OUTPUT": true,
	"LD_PROFILE":      true,
}

// ExecEnv filters env through the blocklist, drops GATEWARDEN_* variables and
// prepends pathDirs to PATH (skipping any already present).
func ExecEnv(env []string, pathDirs []string) []string {
	out := make([]string, 0, len(env)+1)
	path := ""
	havePath := false

	for _, entry := range env {
		key := envKey(entry)

		if envBlocklist[key] || strings.HasPrefix(key, EnvPrefix+"_") {
			continue
		}
		if key == "PATH" {
			path = strings.TrimPrefix(entry, "PATH=")
			havePath = true
			continue
		}
		out = append(out, entry)
	}

	if !havePath {
		path = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
	}
	return append(out, "PATH="+prependPath(path, pathDirs))
}

func prependPath(path string, dirs []string) string {
	existing := make(map[string]bool)
	for _, p := range strings.Split(path, ":") {
		existing[p] = true
	}

	var prefix []string
	for _, d := range dirs {
		if d == "" || existing[d] {
			continue
		}
		existing[d] = true
		prefix = append(prefix, d)
	}
	if len(prefix) == 0 {
		return path
	}
	if path == "" {
		return strings.Join(prefix, ":")
	}
	return strings.Join(prefix, ":") + ":" + path
}

// lookupEnv returns the value of key in a KEY=VALUE list.
func lookupEnv(env []string, key string) (string, bool) {
	for i := len(env) - 1; i >= 0; i-- {
		if envKey(env[i]) == key {
			return strings.TrimPrefix(env[i], key+"="), true
		}
	}
	return "", false
}

// envKey extracts the key from a "KEY=VALUE" environment entry.
func envKey(entry string) string {
	if idx := strings.IndexByte(entry, '='); idx >= 0 {
		return entry[:idx]
	}
	return entry
}
