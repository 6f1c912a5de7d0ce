package sync

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/openmined/portals/internal/store"
	"github.com/openmined/portals/internal/utils"
	gitignore "github.com/sabhiram/go-gitignore"
)

const ignoreFileName = ".portalsignore"

// DefaultIncludes is the tracked-file pattern set when none is configured.
var DefaultIncludes = []string{"**/*.md"}

var defaultIgnoreLines = []string{
	// portals state
	store.MetadataDirName + "/",
	ignoreFileName,
	// editors
	".vscode",
	".idea",
	"*.swp",
	"*~",
	// general excludes
	".git",
	"*.tmp",
	"*.log",
	// OS-specific
	".DS_Store",
	"Thumbs.db",
}

// IgnoreList decides which relative paths the watcher and the pairing scan
// track. A path is tracked when it matches an include pattern and no ignore
// rule. Ignore rules are gitignore syntax: the built-in defaults plus the
// optional .portalsignore file under the root.
type IgnoreList struct {
	baseDir  string
	includes []string
	ignore   *gitignore.GitIgnore
}

func NewIgnoreList(baseDir string, includes []string) *IgnoreList {
	if len(includes) == 0 {
		includes = DefaultIncludes
	}
	return &IgnoreList{baseDir: baseDir, includes: includes}
}

// Load compiles the rule set. Call before first use and after the
// .portalsignore file changes.
func (l *IgnoreList) Load() {
	lines := append([]string{}, defaultIgnoreLines...)

	ignorePath := filepath.Join(l.baseDir, ignoreFileName)
	if utils.FileExists(ignorePath) {
		file, err := os.Open(ignorePath)
		if err != nil {
			slog.Warn("failed to open ignore file", "path", ignorePath, "error", err)
		} else {
			defer file.Close()
			rules := 0
			scanner := bufio.NewScanner(file)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line != "" && !strings.HasPrefix(line, "#") {
					lines = append(lines, line)
					rules++
				}
			}
			if err := scanner.Err(); err != nil {
				slog.Warn("error reading ignore file", "path", ignorePath, "error", err)
			} else {
				slog.Debug("loaded ignore file", "path", ignorePath, "rules", rules)
			}
		}
	}

	l.ignore = gitignore.CompileIgnoreLines(lines...)
}

// Tracked reports whether a relative path is synchronized.
func (l *IgnoreList) Tracked(relPath string) bool {
	relPath = filepath.ToSlash(relPath)

	if l.ignore != nil && l.ignore.MatchesPath(relPath) {
		return false
	}

	for _, pattern := range l.includes {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return true
		}
	}
	return false
}
