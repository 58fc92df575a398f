package repository

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appConfig "github.com/dopaminelite/filestorage/internal/config"
	"github.com/dopaminelite/filestorage/internal/domain"
)

func newTestLocalStorage(t *testing.T) *LocalStorage {
	t.Helper()
	st, err := NewLocalStorage(t.TempDir(), "http://files.test/", []byte("test-secret"), zerolog.Nop())
	require.NoError(t, err)
	return st
}

func tokenFrom(t *testing.T, signed string) string {
	t.Helper()
	u, err := url.Parse(signed)
	require.NoError(t, err)
	return u.Query().Get("token")
}

func TestLocalStorageStore(t *testing.T) {
	st := newTestLocalStorage(t)
	ctx := context.Background()

	location, err := st.Store(ctx, []byte("first"), "abc_a.txt", "document", "text/plain")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(st.Root(), "document", "abc_a.txt"), location)
	assert.True(t, filepath.IsAbs(location))

	data, err := os.ReadFile(location)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	// create-or-truncate
	_, err = st.Store(ctx, []byte("2"), "abc_a.txt", "document", "text/plain")
	require.NoError(t, err)
	data, err = os.ReadFile(location)
	require.NoError(t, err)
	assert.Equal(t, "2", string(data))
}

func TestLocalStorageStoreRejectsEscapes(t *testing.T) {
	st := newTestLocalStorage(t)
	ctx := context.Background()

	_, err := st.Store(ctx, []byte("x"), "../evil.txt", "document", "")
	assert.Error(t, err)

	_, err = st.Store(ctx, []byte("x"), "evil.txt", "../../outside", "")
	assert.Error(t, err)

	_, err = st.Store(ctx, []byte("x"), "", "document", "")
	assert.Error(t, err)
}

func TestLocalStorageSignAndResolve(t *testing.T) {
	st := newTestLocalStorage(t)
	ctx := context.Background()

	location, err := st.Store(ctx, []byte("hello"), "id_report.pdf", "attachment", "application/pdf")
	require.NoError(t, err)

	first, err := st.Sign(ctx, location, domain.IntentDownload, 15*time.Minute)
	require.NoError(t, err)
	second, err := st.Sign(ctx, location, domain.IntentDownload, 15*time.Minute)
	require.NoError(t, err)

	assert.Contains(t, first, "http://files.test"+RawFilePath+"?token=")
	assert.NotEqual(t, first, second, "each url carries its own token id")

	for _, signed := range []string{first, second} {
		path, intent, err := st.Resolve(tokenFrom(t, signed))
		require.NoError(t, err)
		assert.Equal(t, location, path)
		assert.Equal(t, domain.IntentDownload, intent)
	}
}

func TestLocalStorageSignDoesNotRequireObject(t *testing.T) {
	st := newTestLocalStorage(t)

	signed, err := st.Sign(context.Background(), filepath.Join(st.Root(), "avatar", "gone.png"), domain.IntentView, time.Minute)
	require.NoError(t, err)

	path, _, err := st.Resolve(tokenFrom(t, signed))
	require.NoError(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestLocalStorageSignValidation(t *testing.T) {
	st := newTestLocalStorage(t)
	ctx := context.Background()

	_, err := st.Sign(ctx, filepath.Join(st.Root(), "a"), domain.IntentView, 0)
	assert.Error(t, err)

	_, err = st.Sign(ctx, "/etc/passwd", domain.IntentView, time.Minute)
	assert.Error(t, err)
}

func TestLocalStorageResolveRejectsExpiredAndTampered(t *testing.T) {
	st := newTestLocalStorage(t)
	ctx := context.Background()
	location := filepath.Join(st.Root(), "document", "x.txt")

	st.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, err := st.Sign(ctx, location, domain.IntentView, time.Minute)
	require.NoError(t, err)
	st.now = time.Now

	_, _, err = st.Resolve(tokenFrom(t, expired))
	assert.True(t, errors.Is(err, ErrInvalidToken))

	valid, err := st.Sign(ctx, location, domain.IntentView, time.Minute)
	require.NoError(t, err)
	token := tokenFrom(t, valid)

	_, _, err = st.Resolve(token[:len(token)-2] + "xx")
	assert.True(t, errors.Is(err, ErrInvalidToken))

	other, err := NewLocalStorage(st.Root(), "http://files.test", []byte("another-secret"), zerolog.Nop())
	require.NoError(t, err)
	_, _, err = other.Resolve(token)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "a.txt", displayName("3f2504e0-4f89-11d3-9a0c-0305e82c3301_a.txt"))
	assert.Equal(t, "plain.txt", displayName("plain.txt"))
	assert.Equal(t, "attachment; filename=a.txt", ContentDisposition(domain.IntentDownload, "3f2504e0-4f89-11d3-9a0c-0305e82c3301_a.txt"))
	assert.Equal(t, "inline", ContentDisposition(domain.IntentView, "a.txt"))
}

func TestContentDispositionActiveTypes(t *testing.T) {
	for _, name := range []string{"3f2504e0-4f89-11d3-9a0c-0305e82c3301_x.html", "page.HTM", "logo.svg", "app.js", "feed.xml"} {
		assert.True(t, IsActiveContent(name), name)
		assert.Contains(t, ContentDisposition(domain.IntentView, name), "attachment", name)
	}
	for _, name := range []string{"a.txt", "photo.png", "doc.pdf", "noext"} {
		assert.False(t, IsActiveContent(name), name)
		assert.Equal(t, "inline", ContentDisposition(domain.IntentView, name), name)
	}
	assert.Equal(t, "attachment; filename=x.html",
		ContentDisposition(domain.IntentView, "3f2504e0-4f89-11d3-9a0c-0305e82c3301_x.html"))
}

func TestNewStorageProvider(t *testing.T) {
	ctx := context.Background()

	p, err := NewStorageProvider(ctx, appConfig.StorageConfig{
		Provider:      appConfig.ProviderLocal,
		LocalBasePath: t.TempDir(),
		PublicBaseURL: "http://files.test",
	}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "local", p.Name())

	_, err = NewStorageProvider(ctx, appConfig.StorageConfig{Provider: "ftp"}, zerolog.Nop())
	assert.Error(t, err)
}
