package agent

import (
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Built-in dependency providers. Scripted capabilities cannot import os
// or net directly, so controlled access to the host comes through these
// injected helpers instead. Each helper is a map of plain function
// values, which interpreted code can type-assert and call.
func (r *Registry) installBuiltins() {
	r.builtins["fs"] = func() (interface{}, error) {
		return map[string]interface{}{
			"readFile": func(path string) (string, error) {
				b, err := os.ReadFile(path)
				return string(b), err
			},
			"writeFile": func(path, content string) error {
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					return err
				}
				return os.WriteFile(path, []byte(content), 0o644)
			},
			"exists": func(path string) bool {
				_, err := os.Stat(path)
				return err == nil
			},
			"remove": os.Remove,
		}, nil
	}

	r.builtins["time"] = func() (interface{}, error) {
		return map[string]interface{}{
			"now": func() string { return time.Now().UTC().Format(time.RFC3339) },
			"sleep": func(ms int) {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			},
		}, nil
	}

	r.builtins["uuid"] = func() (interface{}, error) {
		return map[string]interface{}{
			"new": func() string { return uuid.NewString() },
		}, nil
	}

	r.builtins["env"] = func() (interface{}, error) {
		return map[string]interface{}{
			"get": os.Getenv,
		}, nil
	}
}
