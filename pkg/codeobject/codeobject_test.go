package codeobject

import (
	"testing"

	"github.com/luthier-go/luthier/pkg/logging"
	"github.com/luthier-go/luthier/pkg/runtimeapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_GetMissReturnsCacheMiss(t *testing.T) {
	c := NewCache(logging.Discard())
	_, err := c.Get(LCOHandle(999))
	require.Error(t, err)
	assert.False(t, c.IsCached(LCOHandle(999)))
}

func TestCache_OnDestroy_InvalidatesEveryLCOOfThatExecutable(t *testing.T) {
	c := NewCache(logging.Discard())
	c.byLCO[1] = &LCO{Handle: 1, Exec: 7}
	c.byLCO[2] = &LCO{Handle: 2, Exec: 7}
	c.byExec[7] = []LCOHandle{1, 2}

	c.onDestroy(7)

	assert.False(t, c.IsCached(1))
	assert.False(t, c.IsCached(2))
	assert.Empty(t, c.byExec[7])
}

func TestInstallCallbacks_ChainsOntoExistingHandlers(t *testing.T) {
	c := NewCache(logging.Discard())
	called := false
	base := runtimeapi.Callbacks{
		OnExecutableDestroy: func(exec runtimeapi.ExecutableHandle) { called = true },
	}

	chained := c.InstallCallbacks(base)
	chained.OnExecutableDestroy(runtimeapi.ExecutableHandle(1))

	assert.True(t, called)
}

func TestLCO_RecordBranchTarget_IsBranchTarget(t *testing.T) {
	lco := &LCO{}
	assert.False(t, lco.IsBranchTarget(0x100))

	lco.RecordBranchTarget(0x100)
	assert.True(t, lco.IsBranchTarget(0x100))
	assert.False(t, lco.IsBranchTarget(0x104))
}
