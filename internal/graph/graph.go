package graph

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/triagestack/triage-engine/internal/models"
)

// Builder derives a dependency summary for the implicated code module of a
// checkout by scanning import declarations. It is language-agnostic on
// purpose: the supported patterns cover the JVM, Go, Python and JS sources
// the registered applications ship.
type Builder struct {
	maxEdges int
	maxFiles int
}

// NewBuilder constructs a Builder with bounded output sizes.
func NewBuilder() *Builder {
	return &Builder{maxEdges: 25, maxFiles: 2000}
}

var importPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\s*import\s+([\w.]+(?:\.\*)?)\s*;`),          // java
	regexp.MustCompile(`^\s*import\s+"([^"]+)"`),                      // go (single)
	regexp.MustCompile(`^\s*"([^"]+)"\s*$`),                           // go (block body)
	regexp.MustCompile(`^\s*from\s+([\w.]+)\s+import\b`),              // python
	regexp.MustCompile(`^\s*import\s+([\w.]+)\s*$`),                   // python
	regexp.MustCompile(`(?:import|require)\s*\(?\s*['"]([^'"]+)['"]`), // js/ts
}

var sourceExtensions = map[string]bool{
	".go": true, ".java": true, ".kt": true, ".scala": true,
	".py": true, ".js": true, ".ts": true, ".rb": true,
}

// Build summarises the module containing implicatedFile (or the repository
// root when empty): how many source files it has, what it imports, and which
// other modules in the checkout import it.
func (b *Builder) Build(checkoutDir, implicatedFile, revision string) (models.GraphSummary, error) {
	moduleDir := checkoutDir
	moduleName := "."
	if implicatedFile != "" {
		rel := filepath.Dir(implicatedFile)
		candidate := filepath.Join(checkoutDir, rel)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			moduleDir = candidate
			moduleName = filepath.ToSlash(rel)
		}
	}

	imports := make(map[string]struct{})
	files := 0

	err := filepath.WalkDir(moduleDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if d.IsDir() {
			if skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !sourceExtensions[filepath.Ext(path)] || files >= b.maxFiles {
			return nil
		}
		files++
		for _, imp := range scanImports(path) {
			imports[imp] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return models.GraphSummary{}, err
	}

	importedBy := b.reverseEdges(checkoutDir, moduleDir, moduleName)

	return models.GraphSummary{
		Module:     moduleName,
		Files:      files,
		Imports:    capSorted(imports, b.maxEdges),
		ImportedBy: importedBy,
		Revision:   revision,
	}, nil
}

// reverseEdges finds sibling modules referencing the implicated module by
// its path token. Best effort: a missing reverse edge only weakens the
// summary, it never fails the build.
func (b *Builder) reverseEdges(checkoutDir, moduleDir, moduleName string) []string {
	if moduleName == "." {
		return nil
	}
	token := filepath.Base(moduleName)
	seen := make(map[string]struct{})
	scanned := 0

	_ = filepath.WalkDir(checkoutDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipDir(d.Name()) || path == moduleDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !sourceExtensions[filepath.Ext(path)] || scanned >= b.maxFiles {
			return nil
		}
		scanned++
		for _, imp := range scanImports(path) {
			if strings.Contains(imp, token) {
				rel, relErr := filepath.Rel(checkoutDir, filepath.Dir(path))
				if relErr == nil {
					seen[filepath.ToSlash(rel)] = struct{}{}
				}
			}
		}
		return nil
	})

	return capSorted(seen, b.maxEdges)
}

func scanImports(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var found []string
	scanner := bufio.NewScanner(f)
	lines := 0
	for scanner.Scan() && lines < 400 {
		lines++
		line := scanner.Text()
		for _, pattern := range importPatterns {
			if m := pattern.FindStringSubmatch(line); m != nil {
				found = append(found, m[1])
				break
			}
		}
	}
	return found
}

func skipDir(name string) bool {
	switch name {
	case ".git", "vendor", "node_modules", "target", "build", "dist", "__pycache__":
		return true
	}
	return false
}

func capSorted(set map[string]struct{}, limit int) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
