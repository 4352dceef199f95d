// Package authkeys assembles authorized_keys files from keys queued in a
// user's ~/.ssh/keys directory.
package authkeys

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/crypto/ssh"
)

const (
	AuthorizedKeysFile = "authorized_keys"
	QueuedKeysDir      = "keys"
	FileMode           = os.FileMode(0600)
)

// Merge returns the sorted union of the non-empty lines of existing and all
// sources. Duplicate keys collapse to one line.
func Merge(existing []byte, sources ...[]byte) []byte {
	seen := map[string]struct{}{}
	var lines []string

	add := func(data []byte) {
		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimRight(scanner.Text(), " \t\r")
			if line == "" {
				continue
			}
			if _, ok := seen[line]; ok {
				continue
			}
			seen[line] = struct{}{}
			lines = append(lines, line)
		}
	}

	add(existing)
	for _, src := range sources {
		add(src)
	}

	if len(lines) == 0 {
		return []byte{}
	}
	sort.Strings(lines)
	return []byte(strings.Join(lines, "\n") + "\n")
}

// Validate checks that every non-empty, non-comment line parses as an
// authorized key.
func Validate(data []byte) error {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line)); err != nil {
			return fmt.Errorf("line %d: failed to parse authorized key: %w", lineNum, err)
		}
	}
	return scanner.Err()
}

// ReadDir returns the contents of every regular file in dir, in name order.
func ReadDir(fs afero.Fs, dir string) ([][]byte, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read keys dir %s: %w", dir, err)
	}

	var keys [][]byte
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := afero.ReadFile(fs, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read key %s: %w", entry.Name(), err)
		}
		keys = append(keys, data)
	}
	return keys, nil
}

// Install merges the keys queued in <sshDir>/keys into
// <sshDir>/authorized_keys. It reports false when there is no keys dir.
func Install(fs afero.Fs, sshDir string, uid int) (bool, error) {
	keysDir := path.Join(sshDir, QueuedKeysDir)
	if ok, err := afero.DirExists(fs, keysDir); err != nil || !ok {
		return false, err
	}

	target := path.Join(sshDir, AuthorizedKeysFile)
	existing, err := afero.ReadFile(fs, target)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to read %s: %w", target, err)
	}

	queued, err := ReadDir(fs, keysDir)
	if err != nil {
		return false, err
	}

	if err := afero.WriteFile(fs, target, Merge(existing, queued...), FileMode); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", target, err)
	}
	if err := fs.Chown(target, uid, -1); err != nil {
		return false, fmt.Errorf("failed to chown %s: %w", target, err)
	}
	if err := fs.Chmod(target, FileMode); err != nil {
		return false, fmt.Errorf("failed to chmod %s: %w", target, err)
	}
	return true, nil
}
