package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	workspaceDirName = ".murmur"
	dbFileName       = "murmur.db"
	eventsFileName   = "events.jsonl"
	configFileName   = "config.yaml"
)

// Workspace is a directory holding a local murmur service and its config.
type Workspace struct {
	Root string
	Dir  string
}

// DBPath is the sqlite index.
func (w Workspace) DBPath() string { return filepath.Join(w.Dir, dbFileName) }

// EventsPath is the shared append-only event log.
func (w Workspace) EventsPath() string { return filepath.Join(w.Dir, eventsFileName) }

// ConfigPath is the workspace config file.
func (w Workspace) ConfigPath() string { return filepath.Join(w.Dir, configFileName) }

// MediaDir holds uploaded attachments.
func (w Workspace) MediaDir() string { return filepath.Join(w.Dir, "media") }

// KeysDir holds sealed identity key files.
func (w Workspace) KeysDir() string { return filepath.Join(w.Dir, "keys") }

// DiscoverWorkspace walks up from startDir to find a .murmur directory.
func DiscoverWorkspace(startDir string) (Workspace, error) {
	current := startDir
	if current == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return Workspace{}, err
		}
		current = cwd
	}
	current, err := filepath.Abs(current)
	if err != nil {
		return Workspace{}, err
	}

	for {
		dir := filepath.Join(current, workspaceDirName)
		info, err := os.Stat(dir)
		if err == nil && info.IsDir() {
			return Workspace{Root: current, Dir: dir}, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return Workspace{}, fmt.Errorf("not initialized. Run 'murmur init' first")
		}
		current = parent
	}
}

// InitWorkspace creates the .murmur directory at dir.
func InitWorkspace(dir string, force bool) (Workspace, error) {
	root := dir
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return Workspace{}, err
		}
		root = cwd
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return Workspace{}, err
	}

	ws := Workspace{Root: root, Dir: filepath.Join(root, workspaceDirName)}
	if info, err := os.Stat(ws.Dir); err == nil && info.IsDir() && !force {
		return Workspace{}, fmt.Errorf("already initialized. Use --force to reinitialize")
	}
	for _, path := range []string{ws.Dir, ws.MediaDir(), ws.KeysDir()} {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return Workspace{}, err
		}
	}
	ensureGitignore(ws.Dir)
	return ws, nil
}

// ensureGitignore keeps sqlite files, media and keys out of version control.
func ensureGitignore(dir string) {
	path := filepath.Join(dir, ".gitignore")
	entries := []string{"*.db", "*.db-wal", "*.db-shm", "media/", "keys/"}

	data, err := os.ReadFile(path)
	if err != nil {
		_ = os.WriteFile(path, []byte(strings.Join(entries, "\n")+"\n"), 0o644)
		return
	}
	content := string(data)
	present := map[string]bool{}
	for _, line := range strings.Split(content, "\n") {
		present[strings.TrimSpace(line)] = true
	}

	var missing []string
	for _, entry := range entries {
		if !present[entry] {
			missing = append(missing, entry)
		}
	}
	if len(missing) == 0 {
		return
	}
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += strings.Join(missing, "\n") + "\n"
	_ = os.WriteFile(path, []byte(content), 0o644)
}
