package anchor

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaypulse/relaypulse/common"
	"github.com/relaypulse/relaypulse/relayerrors"
)

var (
	admin    = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	intruder = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	rootA    = common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")
	rootB    = common.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222222")
)

func newTestAnchor(t *testing.T, opts Options) *Anchor {
	t.Helper()
	a, err := NewAnchor("", admin, opts)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestPublishAndRead(t *testing.T) {
	a := newTestAnchor(t, Options{})

	assert.True(t, common.IsNilHash(a.Roots(5)))
	require.NoError(t, a.PublishRoot(admin, 5, rootA))
	assert.Equal(t, rootA, a.Roots(5))
	assert.True(t, common.IsNilHash(a.Roots(6)))
}

func TestAdminOnly(t *testing.T) {
	a := newTestAnchor(t, Options{})
	err := a.PublishRoot(intruder, 5, rootA)
	assert.ErrorIs(t, err, relayerrors.ErrANotAdmin)
	assert.True(t, common.IsNilHash(a.Roots(5)))
}

func TestZeroRootRefused(t *testing.T) {
	a := newTestAnchor(t, Options{})
	assert.ErrorIs(t, a.PublishRoot(admin, 5, common.Hash{}), relayerrors.ErrAZeroRoot)
}

func TestOverwriteDefaultBehavior(t *testing.T) {
	a := newTestAnchor(t, Options{})
	require.NoError(t, a.PublishRoot(admin, 5, rootA))
	require.NoError(t, a.PublishRoot(admin, 5, rootB))
	assert.Equal(t, rootB, a.Roots(5))
}

func TestWriteOnceRefusesOverwrite(t *testing.T) {
	a := newTestAnchor(t, Options{WriteOnce: true})
	require.NoError(t, a.PublishRoot(admin, 5, rootA))
	assert.ErrorIs(t, a.PublishRoot(admin, 5, rootB), relayerrors.ErrARootAlreadySet)
	assert.Equal(t, rootA, a.Roots(5))
}

func TestEpochIDTracksHighestPublished(t *testing.T) {
	a := newTestAnchor(t, Options{})
	assert.EqualValues(t, 0, a.EpochID())

	require.NoError(t, a.PublishRoot(admin, 3, rootA))
	assert.EqualValues(t, 3, a.EpochID())

	require.NoError(t, a.PublishRoot(admin, 9, rootB))
	assert.EqualValues(t, 9, a.EpochID())

	// republishing an older epoch does not move the marker back
	require.NoError(t, a.PublishRoot(admin, 4, rootA))
	assert.EqualValues(t, 9, a.EpochID())
}

func TestRootsSurviveReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "anchor")

	a, err := NewAnchor(dir, admin, Options{})
	require.NoError(t, err)
	require.NoError(t, a.PublishRoot(admin, 11, rootA))
	require.NoError(t, a.Close())

	reopened, err := NewAnchor(dir, admin, Options{})
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, rootA, reopened.Roots(11))
	assert.EqualValues(t, 11, reopened.EpochID())
}
