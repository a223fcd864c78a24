// Package actors bundles the built-in sample actors and the Go actions
// that user manifests may bind to.
package actors

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/roach88/evactor/internal/actor"
	"github.com/roach88/evactor/internal/actors/account"
	"github.com/roach88/evactor/internal/actors/fleet"
	"github.com/roach88/evactor/internal/compiler"
)

// Sources returns the embedded manifest of every built-in actor, keyed by
// file name.
func Sources() map[string][]byte {
	return map[string][]byte{
		"account.cue": account.Manifest,
		"fleet.cue":   fleet.Manifest,
	}
}

// Actions returns every built-in action. Action names are unique across
// the built-in packages.
func Actions() compiler.Actions {
	return account.Actions().Merge(fleet.Actions())
}

// Builtin compiles the built-in actors.
func Builtin() ([]*actor.Definition, error) {
	return Load("")
}

// Load compiles the built-in manifests together with every *.cue file in
// dir. An empty or missing dir loads only the built-ins.
func Load(dir string) ([]*actor.Definition, error) {
	if dir == "" {
		return LoadFiles()
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	sort.Strings(files)
	return LoadFiles(files...)
}

// LoadFiles compiles the built-in manifests followed by files, binding all
// of them to the built-in actions. A manifest replaces any earlier actor of
// the same type, so files may redefine a built-in actor.
func LoadFiles(files ...string) ([]*actor.Definition, error) {
	byType := map[string]*compiler.Manifest{}
	var order []string
	add := func(filename string, src []byte) error {
		manifests, err := compiler.CompileSource(filename, src)
		if err != nil {
			return err
		}
		for _, m := range manifests {
			if _, ok := byType[m.Type]; !ok {
				order = append(order, m.Type)
			}
			byType[m.Type] = m
		}
		return nil
	}

	sources := Sources()
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := add(name, sources[name]); err != nil {
			return nil, fmt.Errorf("built-in %s: %w", name, err)
		}
	}
	for _, file := range files {
		src, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		if err := add(file, src); err != nil {
			return nil, err
		}
	}

	manifests := make([]*compiler.Manifest, 0, len(order))
	for _, t := range order {
		manifests = append(manifests, byType[t])
	}
	if errs := compiler.ValidateSet(manifests, nil); len(errs) > 0 {
		return nil, errs
	}

	acts := Actions()
	defs := make([]*actor.Definition, 0, len(manifests))
	for _, m := range manifests {
		def, err := compiler.Bind(m, acts)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}
