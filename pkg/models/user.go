package models

import (
	"path"
	"strconv"
	"strings"
)

// UserSpec is a parsed `name:password[:e][:uid[:gid[:dirs]]]` entry.
type UserSpec struct {
	Name      string   `json:"name"                yaml:"name"`
	Password  string   `json:"password,omitempty"  yaml:"password,omitempty"`
	Encrypted bool     `json:"encrypted,omitempty" yaml:"encrypted,omitempty"`
	UID       *int     `json:"uid,omitempty"       yaml:"uid,omitempty"`
	GID       *int     `json:"gid,omitempty"       yaml:"gid,omitempty"`
	Dirs      []string `json:"dirs,omitempty"      yaml:"dirs,omitempty"`

	// Raw is the line the spec was parsed from.
	Raw string `json:"-" yaml:"-"`
}

// HasPassword reports whether password login should be enabled.
func (u *UserSpec) HasPassword() bool {
	return u.Password != ""
}

// HomeDir returns the user's home directory under homeRoot.
func (u *UserSpec) HomeDir(homeRoot string) string {
	return path.Join(homeRoot, u.Name)
}

// DirPaths returns the absolute paths of the requested directories.
func (u *UserSpec) DirPaths(homeRoot string) []string {
	paths := make([]string, 0, len(u.Dirs))
	for _, d := range u.Dirs {
		paths = append(paths, path.Join(u.HomeDir(homeRoot), d))
	}
	return paths
}

// String renders the spec back to its compact form. Passwords are kept.
func (u *UserSpec) String() string {
	parts := []string{u.Name, u.Password}
	if u.Encrypted {
		parts = append(parts, "e")
	}

	tail := []string{optionalID(u.UID), optionalID(u.GID), strings.Join(u.Dirs, ",")}
	// trailing empty fields are dropped
	for len(tail) > 0 && tail[len(tail)-1] == "" {
		tail = tail[:len(tail)-1]
	}
	return strings.Join(append(parts, tail...), ":")
}

// Redacted is String with the password masked, for logs and tables.
func (u *UserSpec) Redacted() string {
	c := *u
	if c.Password != "" {
		c.Password = "***"
	}
	return c.String()
}

func optionalID(id *int) string {
	if id == nil {
		return ""
	}
	return strconv.Itoa(*id)
}
