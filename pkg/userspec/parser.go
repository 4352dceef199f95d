// Package userspec parses the compact user specification used to declare
// SFTP accounts:
//
//	name:password[:e][:uid[:gid[:dir1[,dir2]...]]]
//
// Specs come from a mounted users.conf, from entrypoint arguments and from
// the SFTP_USERS environment variable.
package userspec

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/bacalhau-project/sftpbox/pkg/logger"
	"github.com/bacalhau-project/sftpbox/pkg/models"
)

// EncryptedFlag marks the password field as a crypt(3) hash.
const EncryptedFlag = "e"

var (
	ErrInvalidSpec = errors.New("invalid user spec")

	specPattern = regexp.MustCompile(
		`^([A-Za-z0-9._][A-Za-z0-9._-]{0,31})(:[^:]{0,255})(:e)?(:\d*)?(:\d*)?(:[^:]*)?$`,
	)
	looksLikeSpecPattern = regexp.MustCompile(`^[^:\s]+:.*$`)
	skipLinePattern      = regexp.MustCompile(`^([[:blank:]]*#.*|[[:blank:]]*)$`)
)

// Parse validates spec and splits it into its fields.
func Parse(spec string) (*models.UserSpec, error) {
	if !specPattern.MatchString(spec) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSpec, spec)
	}

	fields := strings.Split(spec, ":")
	u := &models.UserSpec{
		Name:     fields[0],
		Password: fields[1],
		Raw:      spec,
	}

	index := 2
	if len(fields) > index && fields[index] == EncryptedFlag {
		u.Encrypted = true
		index++
	}

	var err error
	if u.UID, err = optionalID(fields, index); err != nil {
		return nil, fmt.Errorf("%w: uid: %v", ErrInvalidSpec, err)
	}
	if u.GID, err = optionalID(fields, index+1); err != nil {
		return nil, fmt.Errorf("%w: gid: %v", ErrInvalidSpec, err)
	}
	if len(fields) > index+2 {
		u.Dirs = splitDirs(fields[index+2])
	}

	return u, nil
}

// LooksLikeSpec reports whether an entrypoint argument is a user spec rather
// than a command to run.
func LooksLikeSpec(arg string) bool {
	return looksLikeSpecPattern.MatchString(arg)
}

// SplitEnv splits a whitespace-separated list of specs, as found in
// SFTP_USERS.
func SplitEnv(value string) []string {
	return strings.Fields(value)
}

// IsSkippable reports whether a config line is blank or a comment.
func IsSkippable(line string) bool {
	return skipLinePattern.MatchString(line)
}

// StripConfig returns the lines of a users.conf that are neither blank nor
// comments, unmodified.
func StripConfig(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if IsSkippable(line) {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading users config: %w", err)
	}
	return lines, nil
}

// ParseLines parses every non-blank, non-comment line of r.
func ParseLines(r io.Reader) ([]*models.UserSpec, error) {
	var specs []*models.UserSpec
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r")
		if IsSkippable(line) {
			continue
		}

		spec, err := Parse(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		specs = append(specs, spec)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading users config: %w", err)
	}

	return specs, nil
}

// ParseFile reads and parses a users.conf file.
func ParseFile(filePath string) ([]*models.UserSpec, error) {
	l := logger.Get()
	if filePath == "" {
		l.Debug("No users file provided. Skipping users parsing")
		return []*models.UserSpec{}, nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open users file: %w", err)
	}
	defer file.Close()

	return ParseLines(file)
}

func optionalID(fields []string, index int) (*int, error) {
	if len(fields) <= index || fields[index] == "" {
		return nil, nil
	}
	id, err := strconv.Atoi(fields[index])
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func splitDirs(value string) []string {
	var dirs []string
	for _, d := range strings.Split(value, ",") {
		if d == "" {
			continue
		}
		dirs = append(dirs, d)
	}
	return dirs
}

// Format renders spec in its canonical compact form.
func Format(spec *models.UserSpec) string {
	if spec == nil {
		return ""
	}
	return spec.String()
}
