package cache

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func chTempDir(t *testing.T) {
	t.Helper()
	orig, err := os.Getwd()
	assert.NoError(t, err)
	assert.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(orig) })
}

func TestWriteReadCache(t *testing.T) {
	chTempDir(t)

	assert.NoError(t, WriteCache("my-post", "<p>hello</p>"))

	content, found := ReadCache("my-post", time.Hour)
	assert.True(t, found)
	assert.Equal(t, "<p>hello</p>", content)
}

func TestReadCache_Miss(t *testing.T) {
	chTempDir(t)

	_, found := ReadCache("never-written", time.Hour)
	assert.False(t, found)
}

func TestReadCache_Expired(t *testing.T) {
	chTempDir(t)

	assert.NoError(t, WriteCache("stale-post", "<p>old</p>"))

	old := time.Now().Add(-2 * time.Hour)
	assert.NoError(t, os.Chtimes(GetCachePath("stale-post"), old, old))

	_, found := ReadCache("stale-post", time.Hour)
	assert.False(t, found)
}

func TestClearCache(t *testing.T) {
	chTempDir(t)

	assert.NoError(t, WriteCache("gone-post", "<p>bye</p>"))
	assert.NoError(t, ClearCache("gone-post"))

	_, found := ReadCache("gone-post", time.Hour)
	assert.False(t, found)
}

func TestClearOldCache(t *testing.T) {
	chTempDir(t)

	assert.NoError(t, WriteCache("old-post", "<p>old</p>"))
	assert.NoError(t, WriteCache("new-post", "<p>new</p>"))

	old := time.Now().Add(-3 * time.Hour)
	assert.NoError(t, os.Chtimes(GetCachePath("old-post"), old, old))

	assert.NoError(t, ClearOldCache(time.Hour))

	_, foundOld := ReadCache("old-post", 24*time.Hour)
	_, foundNew := ReadCache("new-post", 24*time.Hour)
	assert.False(t, foundOld)
	assert.True(t, foundNew)
}

func TestGetCachePath_StablePerSlug(t *testing.T) {
	a := GetCachePath("some-slug")
	b := GetCachePath("some-slug")
	c := GetCachePath("other-slug")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
