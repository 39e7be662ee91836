package loop

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const saveTimeLayout = "2006-01-02_15-04-05"

// SaveInfo describes one saved loop file inside a project.
type SaveInfo struct {
	Filename  string
	Name      string // parsed from filename (empty if unnamed)
	Timestamp time.Time
}

// Store keeps loops as timestamped files in per-project folders:
//
//	<Dir>/<project>/2006-01-02_15-04-05[_name].json
type Store struct {
	Dir string

	now func() time.Time
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{Dir: dir, now: time.Now}
}

// DefaultStoreDir returns ~/.config/stepseq/projects.
func DefaultStoreDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "stepseq", "projects"), nil
}

func (s *Store) projectDir(project string) string {
	return filepath.Join(s.Dir, sanitizeFilename(project))
}

// ListProjects returns all project folder names, sorted.
func (s *Store) ListProjects() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	var projects []string
	for _, entry := range entries {
		if entry.IsDir() {
			projects = append(projects, entry.Name())
		}
	}

	sort.Strings(projects)
	return projects, nil
}

// ListSaves returns the saves of a project, newest first. Files that do
// not carry a save timestamp are skipped.
func (s *Store) ListSaves(project string) ([]SaveInfo, error) {
	entries, err := os.ReadDir(s.projectDir(project))
	if err != nil {
		if os.IsNotExist(err) {
			return []SaveInfo{}, nil
		}
		return nil, err
	}

	var saves []SaveInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := filepath.Ext(name)
		if ext != ".json" && ext != ".yml" && ext != ".yaml" {
			continue
		}
		base := strings.TrimSuffix(name, ext)
		if len(base) < len(saveTimeLayout) {
			continue
		}
		ts, err := time.ParseInLocation(saveTimeLayout, base[:len(saveTimeLayout)], time.Local)
		if err != nil {
			continue
		}

		saveName := ""
		if len(base) > len(saveTimeLayout)+1 && base[len(saveTimeLayout)] == '_' {
			saveName = base[len(saveTimeLayout)+1:]
		}

		saves = append(saves, SaveInfo{
			Filename:  name,
			Name:      saveName,
			Timestamp: ts,
		})
	}

	sort.SliceStable(saves, func(i, j int) bool {
		if saves[i].Timestamp.Equal(saves[j].Timestamp) {
			return saves[i].Filename > saves[j].Filename
		}
		return saves[i].Timestamp.After(saves[j].Timestamp)
	})

	return saves, nil
}

// Save writes the loop into the project folder under a fresh timestamp and
// returns the file name. An empty project name is saved as "untitled".
func (s *Store) Save(project, name string, l *Loop) (string, error) {
	if project == "" {
		project = "untitled"
	}
	dir := s.projectDir(project)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	data, err := Marshal(l, FormatJSON)
	if err != nil {
		return "", err
	}

	filename := s.now().Format(saveTimeLayout)
	if name != "" {
		filename += "_" + sanitizeFilename(name)
	}
	filename += ".json"
	if err := os.WriteFile(filepath.Join(dir, filename), data, 0644); err != nil {
		return "", err
	}
	return filename, nil
}

// Load reads a specific save, or the most recent one when filename is empty.
func (s *Store) Load(project, filename string) (*Loop, error) {
	if filename == "" {
		saves, err := s.ListSaves(project)
		if err != nil {
			return nil, err
		}
		if len(saves) == 0 {
			return nil, fmt.Errorf("no saves found in project %s", project)
		}
		filename = saves[0].Filename
	}
	return ReadFile(filepath.Join(s.projectDir(project), filename))
}

// DeleteSave removes one save file.
func (s *Store) DeleteSave(project, filename string) error {
	return os.Remove(filepath.Join(s.projectDir(project), filename))
}

// DeleteProject removes a project folder and all its saves.
func (s *Store) DeleteProject(project string) error {
	return os.RemoveAll(s.projectDir(project))
}

// RenameSave changes the name part of a save, keeping its timestamp.
func (s *Store) RenameSave(project, oldFilename, newName string) (string, error) {
	ext := filepath.Ext(oldFilename)
	base := strings.TrimSuffix(oldFilename, ext)
	if len(base) < len(saveTimeLayout) {
		return "", fmt.Errorf("invalid save filename %q", oldFilename)
	}

	newFilename := base[:len(saveTimeLayout)]
	if newName != "" {
		newFilename += "_" + sanitizeFilename(newName)
	}
	newFilename += ext

	dir := s.projectDir(project)
	if err := os.Rename(filepath.Join(dir, oldFilename), filepath.Join(dir, newFilename)); err != nil {
		return "", err
	}
	return newFilename, nil
}

// sanitizeFilename removes characters that are problematic in file names.
func sanitizeFilename(name string) string {
	r := strings.NewReplacer(
		" ", "-",
		"/", "-",
		"\\", "-",
		":", "-",
		"*", "",
		"?", "",
		"\"", "",
		"<", "",
		">", "",
		"|", "",
	)
	return r.Replace(name)
}
