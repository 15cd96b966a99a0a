package runtime

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// composeFileNames are the file names a compose project may use, in
// the order the compose CLI itself resolves them.
var composeFileNames = []string{
	"compose.yaml",
	"compose.yml",
	"docker-compose.yaml",
	"docker-compose.yml",
}

// ServiceDef is the subset of a compose service definition the
// orchestrator inspects.
type ServiceDef struct {
	ContainerName string   `yaml:"container_name"`
	Profiles      []string `yaml:"profiles"`
	Ports         []string `yaml:"ports"`
}

// ComposeFile is a parsed compose project definition.
type ComposeFile struct {
	Services map[string]ServiceDef `yaml:"services"`
}

// FindComposeFile returns the path of the compose file in projectRoot,
// or "" when the project carries none.
func FindComposeFile(projectRoot string) string {
	for _, name := range composeFileNames {
		path := filepath.Join(projectRoot, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// LoadComposeFile parses a compose project definition from disk.
func LoadComposeFile(path string) (*ComposeFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("runtime: read compose file %s: %w", path, err)
	}

	var cf ComposeFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("runtime: parse compose file %s: %w", path, err)
	}
	return &cf, nil
}

// HasService reports whether the project defines the named service.
func (f *ComposeFile) HasService(name string) bool {
	_, ok := f.Services[name]
	return ok
}

// MissingServices returns the subset of names the project does not
// define, preserving the input order.
func (f *ComposeFile) MissingServices(names ...string) []string {
	var missing []string
	for _, name := range names {
		if !f.HasService(name) {
			missing = append(missing, name)
		}
	}
	return missing
}
