package agent

import (
	"fmt"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/logging"
)

// =============================================================================
// SCRIPTED CAPABILITY COMPILER
// =============================================================================
// Scripted capabilities arrive as Go source and are interpreted with Yaegi
// instead of compiled with `go build`. Interpretation avoids toolchain
// hangs at load time and keeps the sandbox closed: only a whitelist of
// stdlib packages is importable, so scripted code gets no network, exec,
// or raw filesystem access unless a dependency explicitly provides it.
//
// Compilation failure is not fatal to the registry. A descriptor whose
// source does not parse still loads, but as a stub whose every invocation
// reports the compile failure through the normal result envelope.

// scriptedCompiler turns descriptor source into callable functions.
type scriptedCompiler struct {
	allowedPackages map[string]bool
}

func newScriptedCompiler() *scriptedCompiler {
	return &scriptedCompiler{
		allowedPackages: map[string]bool{
			"strings":         true,
			"strconv":         true,
			"fmt":             true,
			"math":            true,
			"regexp":          true,
			"encoding/json":   true,
			"encoding/base64": true,
			"time":            true,
			"sort":            true,
			"bytes":           true,
			"errors":          true,
			"unicode":         true,
			"path":            true,
			"path/filepath":   true,

			// Blocked: os, os/exec, net, net/http, syscall, unsafe.
			// Capabilities reach the outside world through injected
			// dependencies, never through direct imports.
		},
	}
}

// compile interprets the descriptor's source and resolves its entry
// points. The source must define
//
//	func Execute(params map[string]interface{}, ctx map[string]interface{}) (interface{}, error)
//
// and may define Bootstrap with the same signature, plus any auxiliary
// functions named in the descriptor's extra_functions metadata.
func (sc *scriptedCompiler) compile(d *Descriptor) (execute, bootstrap CapabilityFunc, extras map[string]CapabilityFunc, err error) {
	if err := sc.validateImports(d.Source); err != nil {
		return nil, nil, nil, err
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load stdlib symbols: %w", err)
	}

	if _, err := i.Eval(sc.wrapCode(d.Source)); err != nil {
		return nil, nil, nil, fmt.Errorf("source evaluation failed: %w", err)
	}

	execute, err = sc.lookup(i, "Execute")
	if err != nil {
		return nil, nil, nil, err
	}

	// Bootstrap is optional; descriptors without one-time setup omit it.
	if d.BootstrapSource != "" || strings.Contains(d.Source, "func Bootstrap") {
		bootstrap, err = sc.lookup(i, "Bootstrap")
		if err != nil {
			return nil, nil, nil, err
		}
	}

	for _, name := range d.ExtraFunctionNames() {
		fn, lookupErr := sc.lookup(i, name)
		if lookupErr != nil {
			logging.Get(logging.CategoryAgents).Warnw("declared extra function not bindable",
				"agent", d.Name, "function", name, "error", lookupErr)
			continue
		}
		if extras == nil {
			extras = make(map[string]CapabilityFunc)
		}
		extras[name] = fn
	}

	return execute, bootstrap, extras, nil
}

// lookup resolves a named function from the interpreted package and
// checks its signature.
func (sc *scriptedCompiler) lookup(i *interp.Interpreter, name string) (CapabilityFunc, error) {
	v, err := i.Eval("main." + name)
	if err != nil {
		return nil, fmt.Errorf("%s function not found: %w", name, err)
	}
	fn, ok := v.Interface().(func(map[string]interface{}, map[string]interface{}) (interface{}, error))
	if !ok {
		return nil, fmt.Errorf("%s has incorrect signature (expected: func(map[string]interface{}, map[string]interface{}) (interface{}, error))", name)
	}
	return CapabilityFunc(fn), nil
}

// validateImports rejects source importing anything outside the whitelist.
func (sc *scriptedCompiler) validateImports(code string) error {
	lines := strings.Split(code, "\n")
	var imports []string

	inImportBlock := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "import (") {
			inImportBlock = true
			continue
		}
		if inImportBlock && strings.HasPrefix(trimmed, ")") {
			inImportBlock = false
			continue
		}

		if inImportBlock {
			pkg := strings.Trim(trimmed, `"`)
			if pkg != "" {
				imports = append(imports, pkg)
			}
		} else if strings.HasPrefix(trimmed, "import ") {
			pkg := strings.TrimPrefix(trimmed, "import ")
			pkg = strings.Trim(pkg, `"`)
			imports = append(imports, pkg)
		}
	}

	var forbidden []string
	for _, pkg := range imports {
		if !sc.allowedPackages[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports detected: %v", forbidden)
	}
	return nil
}

// wrapCode adds the package clause when the snippet omits it.
func (sc *scriptedCompiler) wrapCode(code string) string {
	if strings.Contains(code, "package main") {
		return code
	}
	return "package main\n\n" + code
}
