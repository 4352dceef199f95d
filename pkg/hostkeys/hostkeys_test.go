package hostkeys

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/crypto/ssh"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fastOptions() Options {
	opts := DefaultOptions()
	opts.RSABits = 2048
	return opts
}

func TestGenerateKeyPair(t *testing.T) {
	for _, kind := range []KeyType{KeyTypeEd25519, KeyTypeRSA} {
		t.Run(string(kind), func(t *testing.T) {
			priv, pub, err := GenerateKeyPair(kind, 2048, "test")
			require.NoError(t, err)

			signer, err := ssh.ParsePrivateKey(priv)
			require.NoError(t, err)

			parsed, comment, _, _, err := ssh.ParseAuthorizedKey(pub)
			require.NoError(t, err)
			assert.Empty(t, comment)
			assert.Equal(t, signer.PublicKey().Marshal(), parsed.Marshal())
		})
	}
}

func TestGenerateKeyPairUnsupported(t *testing.T) {
	_, _, err := GenerateKeyPair("dsa", 0, "")
	assert.Error(t, err)
}

func TestEnsureGeneratesMissingKeys(t *testing.T) {
	fs := afero.NewMemMapFs()

	paths, err := Ensure(context.Background(), fs, "/etc/ssh", fastOptions())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"/etc/ssh/ssh_host_ed25519_key",
		"/etc/ssh/ssh_host_rsa_key",
	}, paths)

	for _, p := range paths {
		info, err := fs.Stat(p)
		require.NoError(t, err)
		assert.Equal(t, PrivateKeyMode, info.Mode().Perm(), p)

		pubInfo, err := fs.Stat(p + ".pub")
		require.NoError(t, err)
		assert.Equal(t, PublicKeyMode, pubInfo.Mode().Perm(), p)
	}
}

func TestEnsureKeepsExistingKeys(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/etc/ssh", 0755))
	require.NoError(t, afero.WriteFile(fs, "/etc/ssh/ssh_host_ed25519_key", []byte("existing"), 0644))

	paths, err := Ensure(context.Background(), fs, "/etc/ssh", fastOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"/etc/ssh/ssh_host_rsa_key"}, paths)

	data, err := afero.ReadFile(fs, "/etc/ssh/ssh_host_ed25519_key")
	require.NoError(t, err)
	assert.Equal(t, "existing", string(data))

	info, err := fs.Stat("/etc/ssh/ssh_host_ed25519_key")
	require.NoError(t, err)
	assert.Equal(t, PrivateKeyMode, info.Mode().Perm())
}

func TestEnsureSecondRunIsNoop(t *testing.T) {
	fs := afero.NewMemMapFs()
	opts := Options{Types: []KeyType{KeyTypeEd25519}}

	first, err := Ensure(context.Background(), fs, "/etc/ssh", opts)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := Ensure(context.Background(), fs, "/etc/ssh", opts)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestEnsureCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Ensure(ctx, afero.NewMemMapFs(), "/etc/ssh", Options{Types: []KeyType{KeyTypeEd25519}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOptionsFor(t *testing.T) {
	opts := OptionsFor(nil, 0)
	assert.Equal(t, DefaultOptions(), opts)

	opts = OptionsFor([]string{"rsa"}, 2048)
	assert.Equal(t, []KeyType{KeyTypeRSA}, opts.Types)
	assert.Equal(t, 2048, opts.RSABits)
}
