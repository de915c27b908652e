// Package store persists every on-disk entity the engine owns: datasets,
// plans, projects, users, conversations, experiments, and annotations.
// Each entity family is wrapped in a thread-safe lazy cache: first read
// loads from disk under the lock, mutations write to disk first and then
// update the cache.
//
// Layout under the data root:
//
//	datasets/<name>/metadata.json
//	datasets/<name>/patients.json
//	plans/<name>.json
//	projects/<name>.json
//	users/<username>.json
//	conversations/<id>/conversation.json
//	conversations/<id>/traces/turn_NNN.jsonl
//	experiments/<name>/metadata.json
//	experiments/<name>/status.json
//	experiments/<name>/results.json
//	annotations/<id>.json
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNotFound is returned when a named entity does not exist on disk.
var ErrNotFound = errors.New("store: not found")

// Registry is the root handle over the data directory.
type Registry struct {
	root string

	datasets      *Datasets
	experiments   *Experiments
	conversations *Conversations
	plans         *Plans
	projects      *Projects
	users         *Users
	annotations   *Annotations
}

// Open creates a Registry over a data root, creating the directory tree
// as needed.
func Open(root string) (*Registry, error) {
	for _, sub := range []string{"datasets", "plans", "projects", "users", "conversations", "experiments", "annotations"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("store: create %s: %w", sub, err)
		}
	}
	r := &Registry{root: root}
	r.datasets = &Datasets{dir: filepath.Join(root, "datasets")}
	r.experiments = &Experiments{dir: filepath.Join(root, "experiments")}
	r.conversations = &Conversations{dir: filepath.Join(root, "conversations")}
	r.plans = &Plans{dir: filepath.Join(root, "plans")}
	r.projects = &Projects{dir: filepath.Join(root, "projects")}
	r.users = &Users{dir: filepath.Join(root, "users")}
	r.annotations = &Annotations{dir: filepath.Join(root, "annotations")}
	return r, nil
}

// Root returns the data root path.
func (r *Registry) Root() string { return r.root }

// Datasets returns the dataset cache, which implements record.Store.
func (r *Registry) Datasets() *Datasets { return r.datasets }

// Experiments returns the experiment cache.
func (r *Registry) Experiments() *Experiments { return r.experiments }

// Conversations returns the conversation cache.
func (r *Registry) Conversations() *Conversations { return r.conversations }

// Plans returns the plan cache.
func (r *Registry) Plans() *Plans { return r.plans }

// Projects returns the project cache.
func (r *Registry) Projects() *Projects { return r.projects }

// Users returns the user cache.
func (r *Registry) Users() *Users { return r.users }

// Annotations returns the annotation cache.
func (r *Registry) Annotations() *Annotations { return r.annotations }

// writeJSON atomically replaces path with the JSON form of v: write to a
// temp file in the same directory, then rename over the target.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// readJSON loads path into v, mapping a missing file to ErrNotFound.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", filepath.Base(path), ErrNotFound)
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("store: parse %s: %w", path, err)
	}
	return nil
}

// listNames returns the sorted entity names in a directory, stripping the
// .json suffix for file-per-entity stores.
func listNames(dir string, filePerEntity bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if filePerEntity {
			if e.IsDir() || !strings.HasSuffix(name, ".json") {
				continue
			}
			names = append(names, strings.TrimSuffix(name, ".json"))
		} else if e.IsDir() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// setDottedPath sets a dotted-path key (e.g. "progress.processed_count")
// in a nested JSON object, creating intermediate maps.
func setDottedPath(obj map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	for _, part := range parts[:len(parts)-1] {
		next, ok := obj[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			obj[part] = next
		}
		obj = next
	}
	obj[parts[len(parts)-1]] = value
}
