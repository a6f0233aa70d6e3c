package commands

import (
	"embed"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

//go:embed all:templates
var templateFS embed.FS

// copyTemplate writes an embedded template into targetDir. Existing files
// are kept unless force is set. It returns the paths it wrote.
func copyTemplate(name, targetDir string, force bool) ([]string, error) {
	root := path.Join("templates", name)
	var written []string

	err := fs.WalkDir(templateFS, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := p[len(root):]
		if rel == "" {
			return nil
		}
		rel = renameSpecialFiles(rel[1:])
		target := filepath.Join(targetDir, filepath.FromSlash(rel))

		if d.IsDir() {
			return os.MkdirAll(target, 0o750)
		}
		if !force {
			if _, err := os.Stat(target); err == nil {
				return nil
			}
		}
		content, err := templateFS.ReadFile(p)
		if err != nil {
			return err
		}
		if err := os.WriteFile(target, content, 0o600); err != nil {
			return err
		}
		written = append(written, rel)
		return nil
	})
	return written, err
}

// renameSpecialFiles restores dotfiles, which embed skips by name.
func renameSpecialFiles(p string) string {
	if path.Base(p) == "gitignore" {
		return path.Join(path.Dir(p), ".gitignore")
	}
	return p
}
