package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// GetPath retrieves a value from the configuration using a dot-notation path.
// Entity addressing (project:<id>) resolves to the named project.
func (c *Config) GetPath(path string) (any, error) {
	// 1. Resolve Entity Addressing (type:name)
	if strings.Contains(path, ":") {
		return c.GetEntity(path)
	}

	// 2. Convert to map for generic traversal
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// 3. Traverse
	return getValue(m, path)
}

// GetEntity retrieves a project by project:<id> address. project:* returns
// the whole projects map.
func (c *Config) GetEntity(address string) (any, error) {
	parts := strings.SplitN(address, ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid entity address format %q (expected type:name)", address)
	}

	entityType, name := parts[0], parts[1]

	switch entityType {
	case "project":
		if name == "*" {
			return c.Projects, nil
		}
		p, ok := c.Projects[name]
		if !ok {
			return nil, fmt.Errorf("project %q not found", name)
		}
		return p, nil

	default:
		return nil, fmt.Errorf("unsupported entity type %q", entityType)
	}
}

func getValue(m map[string]any, path string) (any, error) {
	parts := strings.Split(path, ".")
	var current any = m

	for _, part := range parts {
		if part == "" {
			continue
		}

		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path %q breaks at %q (not a map)", path, part)
		}

		val, exists := m[part]
		if !exists {
			return nil, fmt.Errorf("path %q: key %q not found", path, part)
		}
		current = val
	}

	return current, nil
}

func findNode(node *yaml.Node, path string, create bool) (*yaml.Node, error) {
	parts := strings.Split(path, ".")
	current := node

	for _, part := range parts {
		if current.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("not a mapping node")
		}

		found := false
		for i := 0; i < len(current.Content); i += 2 {
			keyNode := current.Content[i]
			if keyNode.Value == part {
				current = current.Content[i+1]
				found = true
				break
			}
		}

		if !found {
			if create {
				keyNode := &yaml.Node{
					Kind:  yaml.ScalarNode,
					Tag:   "!!str",
					Value: part,
				}
				valueNode := &yaml.Node{
					Kind: yaml.MappingNode,
					Tag:  "!!map",
				}
				// If this is the last part, it will be overwritten by the value anyway
				current.Content = append(current.Content, keyNode, valueNode)
				current = valueNode
			} else {
				return nil, fmt.Errorf("key %q not found", part)
			}
		}
	}

	return current, nil
}

// SetPath modifies a configuration value at the specified path. With persist
// set, the owning file is rewritten, its checksum refreshed, and the whole
// config re-loaded; a failed re-load rolls everything back.
func (c *Config) SetPath(path, value string, persist bool) error {
	targetFile := ""

	// 1. Resolve Entity Addressing (type:name)
	if strings.Contains(path, ":") {
		parts := strings.SplitN(path, ".", 2)
		entityAddr := parts[0]

		eparts := strings.SplitN(entityAddr, ":", 2)
		etype, ename := eparts[0], eparts[1]

		var physicalPath string
		switch etype {
		case "project":
			physicalPath = "projects." + ename
			if owner, ok := c.ProjectSources[ename]; ok {
				targetFile = owner
			}
		default:
			return fmt.Errorf("unsupported entity type for set: %q", etype)
		}

		if len(parts) > 1 {
			path = physicalPath + "." + parts[1]
		} else {
			return fmt.Errorf("must specify a field to set (e.g., %s.enabled=false)", entityAddr)
		}
	} else if strings.HasPrefix(path, "projects.") {
		segs := strings.Split(path, ".")
		if len(segs) >= 2 {
			if owner, ok := c.ProjectSources[segs[1]]; ok {
				targetFile = owner
			}
		}
	}

	// 2. Identify which file owns the root of this path.
	if targetFile == "" {
		targetFile = c.resolveTargetFile()
	}
	if targetFile == "" {
		return fmt.Errorf("no valid configuration source found")
	}

	rootNode := c.SourceFiles[targetFile]
	if rootNode == nil || rootNode.Kind != yaml.DocumentNode {
		return fmt.Errorf("no valid configuration source found")
	}

	// Fragment files nest projects under the same top-level key, so the dot
	// path applies unchanged.
	target, err := findNode(rootNode.Content[0], path, true)
	if err != nil {
		return fmt.Errorf("failed to navigate/create path %q: %w", path, err)
	}

	target.Kind = yaml.ScalarNode
	target.Value = value
	target.Tag = guessTag(value)
	target.Content = nil

	if !persist {
		return nil
	}

	candidate, err := yaml.Marshal(rootNode)
	if err != nil {
		return err
	}

	return c.persistWithValidation(targetFile, candidate)
}

func guessTag(v string) string {
	if v == "true" || v == "false" {
		return "!!bool"
	}
	// Check for integer
	isDigit := true
	for i, c := range v {
		if i == 0 && c == '-' {
			continue
		}
		if c < '0' || c > '9' {
			isDigit = false
			break
		}
	}
	if isDigit && v != "" && v != "-" {
		return "!!int"
	}
	return "!!str"
}

// resolveTargetFile prefers the root config.yaml over fragment files.
func (c *Config) resolveTargetFile() string {
	for f := range c.SourceFiles {
		if filepath.Base(f) == "config.yaml" {
			return f
		}
	}
	for f := range c.SourceFiles {
		return f
	}
	return ""
}

// rootLoadPath returns the path Load should be called with to re-validate.
func (c *Config) rootLoadPath(fallback string) string {
	if c.ConfigDir != "" {
		return c.ConfigDir
	}
	for f := range c.SourceFiles {
		if filepath.Base(f) == "config.yaml" {
			return f
		}
	}
	return fallback
}

func (c *Config) persistWithValidation(targetFile string, candidate []byte) error {
	original, err := os.ReadFile(targetFile)
	if err != nil {
		return fmt.Errorf("failed to read original config file: %w", err)
	}

	mode := os.FileMode(0644)
	if info, statErr := os.Stat(targetFile); statErr == nil {
		mode = info.Mode().Perm()
	}

	if err := os.WriteFile(targetFile, candidate, mode); err != nil {
		return fmt.Errorf("failed to persist config change: %w", err)
	}

	// A locked config must have the edited file's checksum refreshed or the
	// re-load below will reject the edit as tampering.
	manifestDir := filepath.Dir(targetFile)
	if c.ConfigDir != "" {
		manifestDir = c.ConfigDir
	}
	var manifestBackup []byte
	manifestPath := filepath.Join(manifestDir, ".checksums")
	if fileExists(manifestPath) {
		manifestBackup, _ = os.ReadFile(manifestPath)
		rel, relErr := filepath.Rel(manifestDir, targetFile)
		if relErr != nil {
			rel = filepath.Base(targetFile)
		}
		if err := RefreshChecksum(manifestDir, filepath.ToSlash(rel)); err != nil {
			_ = os.WriteFile(targetFile, original, mode)
			return fmt.Errorf("failed to refresh checksum: %w", err)
		}
	}

	rollback := func() error {
		if err := os.WriteFile(targetFile, original, mode); err != nil {
			return err
		}
		if manifestBackup != nil {
			return os.WriteFile(manifestPath, manifestBackup, 0600)
		}
		return nil
	}

	if _, err := Load(c.rootLoadPath(targetFile)); err != nil {
		if restoreErr := rollback(); restoreErr != nil {
			return fmt.Errorf("validation failed (%v) and rollback failed (%v)", err, restoreErr)
		}
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}
