package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func intPtr(i int) *int { return &i }

func TestUserSpecString(t *testing.T) {
	tests := []struct {
		name string
		spec UserSpec
		want string
	}{
		{name: "minimal", spec: UserSpec{Name: "m"}, want: "m:"},
		{name: "password", spec: UserSpec{Name: "foo", Password: "pass"}, want: "foo:pass"},
		{
			name: "uid and gid",
			spec: UserSpec{Name: "custom", Password: "pass", UID: intPtr(1234), GID: intPtr(4321)},
			want: "custom:pass:1234:4321",
		},
		{
			name: "dirs without ids",
			spec: UserSpec{Name: "test", Dirs: []string{"dir1", "dir2/dir3"}},
			want: "test::::dir1,dir2/dir3",
		},
		{
			name: "encrypted",
			spec: UserSpec{Name: "foo", Password: "$1$abc", Encrypted: true, UID: intPtr(1001)},
			want: "foo:$1$abc:e:1001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.spec.String())
		})
	}
}

func TestUserSpecRedacted(t *testing.T) {
	u := UserSpec{Name: "foo", Password: "secret", UID: intPtr(1000)}
	assert.Equal(t, "foo:***:1000", u.Redacted())
	assert.Equal(t, "secret", u.Password)
}

func TestUserSpecPaths(t *testing.T) {
	u := UserSpec{Name: "test", Dirs: []string{"upload", "a/b"}}
	assert.Equal(t, "/home/test", u.HomeDir("/home"))
	assert.Equal(t, []string{"/home/test/upload", "/home/test/a/b"}, u.DirPaths("/home"))
}
