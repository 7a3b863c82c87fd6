package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/nestwatch/sentryd/internal/driver/all"
	"github.com/nestwatch/sentryd/internal/model"
	"github.com/nestwatch/sentryd/internal/secrets"
)

func plugDescriptor(id string) model.Descriptor {
	return model.Descriptor{ID: id, Driver: "plug_generic", Category: model.CategoryPlug, Mock: true}
}

func TestRegisterAndLookup(t *testing.T) {
	r := New(secrets.New())
	h, err := r.Register(context.Background(), plugDescriptor("plug-1"))
	require.NoError(t, err)

	gotHandle, view, err := r.Lookup("plug-1")
	require.NoError(t, err)
	assert.Equal(t, h, gotHandle)
	assert.Equal(t, "plug-1", view.Descriptor.ID)
	assert.Equal(t, model.PhaseOK, view.Runtime.Phase)
}

func TestRegisterRejectsDuplicateID(t *testing.T) {
	r := New(secrets.New())
	_, err := r.Register(context.Background(), plugDescriptor("plug-1"))
	require.NoError(t, err)

	_, err = r.Register(context.Background(), plugDescriptor("plug-1"))
	require.Error(t, err)
}

func TestRegisterRejectsUnknownDriver(t *testing.T) {
	r := New(secrets.New())
	desc := plugDescriptor("thing-1")
	desc.Driver = "not_a_real_driver"

	_, err := r.Register(context.Background(), desc)
	require.Error(t, err)
}

func TestLookupMissingReturnsNotFound(t *testing.T) {
	r := New(secrets.New())
	_, _, err := r.Lookup("nope")
	require.Error(t, err)
}

func TestListReturnsIndependentSnapshots(t *testing.T) {
	r := New(secrets.New())
	h, err := r.Register(context.Background(), plugDescriptor("plug-1"))
	require.NoError(t, err)

	require.NoError(t, r.UpdateRuntime(h, func(rt *model.RuntimeState) {
		rt.ConsecutiveFailures = 2
	}))

	views := r.List()
	require.Len(t, views, 1)
	assert.Equal(t, 2, views[0].Runtime.ConsecutiveFailures)

	// Mutating the returned view must not reach back into the registry.
	views[0].Runtime.ConsecutiveFailures = 99
	_, view, err := r.Lookup("plug-1")
	require.NoError(t, err)
	assert.Equal(t, 2, view.Runtime.ConsecutiveFailures)
}

func TestReloadAddsRemovesAndReplaces(t *testing.T) {
	r := New(secrets.New())
	_, err := r.Register(context.Background(), plugDescriptor("plug-1"))
	require.NoError(t, err)
	_, err = r.Register(context.Background(), plugDescriptor("plug-2"))
	require.NoError(t, err)

	diff, err := r.Reload(context.Background(), []model.Descriptor{
		plugDescriptor("plug-1"), // replaced (same id, new driver instance)
		plugDescriptor("plug-3"), // added
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"plug-3"}, diff.Added)
	assert.ElementsMatch(t, []string{"plug-2"}, diff.Removed)
	assert.ElementsMatch(t, []string{"plug-1"}, diff.Replaced)
	assert.Equal(t, 2, r.Len())

	_, _, err = r.Lookup("plug-2")
	assert.Error(t, err)
	_, _, err = r.Lookup("plug-3")
	assert.NoError(t, err)
}

func TestReloadPreservesRuntimeAcrossReplace(t *testing.T) {
	r := New(secrets.New())
	h, err := r.Register(context.Background(), plugDescriptor("plug-1"))
	require.NoError(t, err)
	require.NoError(t, r.UpdateRuntime(h, func(rt *model.RuntimeState) {
		rt.ConsecutiveFailures = 5
	}))

	_, err = r.Reload(context.Background(), []model.Descriptor{plugDescriptor("plug-1")})
	require.NoError(t, err)

	_, view, err := r.Lookup("plug-1")
	require.NoError(t, err)
	assert.Equal(t, 5, view.Runtime.ConsecutiveFailures)
}

func TestReloadAbortsEntirelyOnBadDescriptor(t *testing.T) {
	r := New(secrets.New())
	_, err := r.Register(context.Background(), plugDescriptor("plug-1"))
	require.NoError(t, err)

	bad := plugDescriptor("plug-2")
	bad.Driver = "not_a_real_driver"

	_, err = r.Reload(context.Background(), []model.Descriptor{plugDescriptor("plug-1"), bad})
	require.Error(t, err)

	// Old set must remain untouched.
	assert.Equal(t, 1, r.Len())
	_, _, err = r.Lookup("plug-1")
	assert.NoError(t, err)
}

func TestReloadRejectsDuplicateIDInNewSet(t *testing.T) {
	r := New(secrets.New())
	_, err := r.Register(context.Background(), plugDescriptor("plug-1"))
	require.NoError(t, err)

	_, err = r.Reload(context.Background(), []model.Descriptor{
		plugDescriptor("plug-2"), plugDescriptor("plug-2"),
	})
	require.Error(t, err)
	assert.Equal(t, 1, r.Len())
}
