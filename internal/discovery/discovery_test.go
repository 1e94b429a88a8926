package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLastPathSegment(t *testing.T) {
	assert.Equal(t, "my_app", lastPathSegment("file:///home/user/projects/my_app/"))
	assert.Equal(t, "my_app", lastPathSegment("file:///home/user/projects/my_app"))
	assert.Equal(t, "my_app", lastPathSegment("my_app"))
}

func TestExtractProjectNameFallsBackToUnknown(t *testing.T) {
	assert.Equal(t, "Unknown", extractProjectName([]byte(`{"result":{}}`), 9999))
}

func TestExtractProjectNamePrefersDirectName(t *testing.T) {
	assert.Equal(t, "my_app", extractProjectName([]byte(`{"result":{"name":"my_app"}}`), 9999))
}

func TestExtractProjectNameFallsBackToURISegment(t *testing.T) {
	name := extractProjectName([]byte(`{"result":{"rootUri":"file:///home/dev/cool_app"}}`), 9999)
	assert.Equal(t, "cool_app", name)
}

func TestDiscoverReturnsEmptyWithoutErrorWhenNothingListens(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	instances, err := Discover(ctx, 47001, 47004, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestDiscoverRejectsInvalidRange(t *testing.T) {
	_, err := Discover(context.Background(), 100, 50, time.Millisecond)
	assert.Error(t, err)
}
