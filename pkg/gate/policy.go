package gate

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/campushq/permit/pkg/catalog"
	"github.com/campushq/permit/pkg/observability"
)

// PolicyTable maps operation identifiers to their required permission. It is
// built at startup (programmatically, from a file, or both) and looked up by
// the gate on every request; there is no runtime reflection or annotation
// scanning.
type PolicyTable struct {
	mu sync.RWMutex

	// registered holds programmatic declarations, loaded holds the policy
	// file contents. A file entry shadows a programmatic one for the same
	// operation, and a file reload never clobbers programmatic entries.
	registered map[string]catalog.Permission
	loaded     map[string]catalog.Permission
}

// policyFile is the on-disk YAML form of a policy table
type policyFile struct {
	Version    string            `yaml:"version"`
	Operations map[string]string `yaml:"operations"`
}

// NewPolicyTable creates an empty policy table
func NewPolicyTable() *PolicyTable {
	return &PolicyTable{
		registered: make(map[string]catalog.Permission),
		loaded:     make(map[string]catalog.Permission),
	}
}

// Register declares the required permission for an operation. Registering an
// operation twice replaces the earlier declaration.
func (t *PolicyTable) Register(operation string, required catalog.Permission) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.registered[operation] = required
}

// Lookup returns the required permission for an operation
func (t *PolicyTable) Lookup(operation string) (catalog.Permission, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if perm, ok := t.loaded[operation]; ok {
		return perm, true
	}
	perm, ok := t.registered[operation]
	return perm, ok
}

// Operations returns the declared operation identifiers
func (t *PolicyTable) Operations() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen := make(map[string]struct{}, len(t.registered)+len(t.loaded))
	out := make([]string, 0, len(t.registered)+len(t.loaded))
	for op := range t.registered {
		seen[op] = struct{}{}
		out = append(out, op)
	}
	for op := range t.loaded {
		if _, dup := seen[op]; !dup {
			out = append(out, op)
		}
	}
	return out
}

// LoadFile replaces the file-managed part of the table with the operations
// declared in a YAML policy file. The whole file is validated before anything
// is replaced, so a bad file never leaves the table half-updated.
func (t *PolicyTable) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read policy file: %w", err)
	}

	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}

	parsed := make(map[string]catalog.Permission, len(file.Operations))
	for op, permName := range file.Operations {
		perm, err := catalog.Parse(permName)
		if err != nil {
			return fmt.Errorf("policy file %s, operation %q: %w", path, op, err)
		}
		parsed[op] = perm
	}

	t.mu.Lock()
	t.loaded = parsed
	t.mu.Unlock()
	return nil
}

// Watch reloads the policy file whenever it changes on disk, until stop is
// closed. Reload failures keep the previous table and are logged.
func (t *PolicyTable) Watch(path string, logger *observability.Logger, stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create policy watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch policy file %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-stop:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := t.LoadFile(path); err != nil {
					logger.WithError(err).Warn("Policy file reload failed, keeping previous table")
					continue
				}
				logger.WithField("path", path).Info("Policy table reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("Policy watcher error")
			}
		}
	}()

	return nil
}
