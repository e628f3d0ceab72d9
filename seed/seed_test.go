package seed_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/catalog"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/ledger"
	"github.com/warp/leave-engine/seed"
	"github.com/warp/leave-engine/store/memory"
)

func TestDemo_SeedsCompleteFixtureSet(t *testing.T) {
	// GIVEN: An empty store
	// WHEN: Seeding the demo fixture set
	// THEN: Catalog, holidays, and onboarded employees with balances exist

	store := memory.New()
	lg := ledger.New(store, store)
	cat := catalog.New(store, lg)
	ctx := context.Background()

	require.NoError(t, seed.Demo(ctx, store, cat))

	types, err := store.ListLeaveTypes(ctx)
	require.NoError(t, err)
	assert.Len(t, types, 3)

	policies, err := store.ListPolicies(ctx)
	require.NoError(t, err)
	assert.Len(t, policies, 2)

	holidays, err := store.ListHolidays(ctx)
	require.NoError(t, err)
	assert.Len(t, holidays, 3)

	// A January 1 hire holds the full annual allotment.
	balances, err := store.BalancesForEmployee(ctx, "emp-ada", nil)
	require.NoError(t, err)
	require.NotEmpty(t, balances)
	for _, b := range balances {
		assert.True(t, b.Accrued.IsPositive(), "onboarding seeds %s", b.LeaveTypeID)
	}
}

func TestDemo_RefusesSeededStore(t *testing.T) {
	store := memory.New()
	lg := ledger.New(store, store)
	cat := catalog.New(store, lg)
	ctx := context.Background()

	require.NoError(t, seed.Demo(ctx, store, cat))
	err := seed.Demo(ctx, store, cat)
	assert.True(t, leave.IsConflict(err))
}
