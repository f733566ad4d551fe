package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogValidity(t *testing.T) {
	catalog, err := NewCatalog([]Permission{
		{ID: "Visitor.ReadOwn", Risk: RiskLow, Active: true},
		{ID: "Visitor.ReadAll", Risk: RiskModerate, Active: true},
		{ID: "Legacy.Export", Risk: RiskLow, Active: false},
	})
	require.NoError(t, err)

	assert.True(t, catalog.IsValid("Visitor.ReadOwn"))
	assert.False(t, catalog.IsValid("Legacy.Export"), "inactive permissions are not valid")
	assert.False(t, catalog.IsValid("Bogus.Action"), "unknown identifiers fail closed")
	assert.False(t, catalog.IsValid(""))
}

func TestCatalogRejectsMalformedIDs(t *testing.T) {
	cases := []string{"NoDot", "Visitor.", ".ReadOwn", "A.B.C"}
	for _, id := range cases {
		_, err := NewCatalog([]Permission{{ID: id, Risk: RiskLow, Active: true}})
		require.Error(t, err, "id %q should be rejected", id)
	}
}

func TestCatalogRejectsDuplicatesAndBadRisk(t *testing.T) {
	_, err := NewCatalog([]Permission{
		{ID: "Visitor.Create", Risk: RiskLow, Active: true},
		{ID: "Visitor.Create", Risk: RiskLow, Active: true},
	})
	require.Error(t, err)

	_, err = NewCatalog([]Permission{{ID: "Visitor.Create", Risk: 0, Active: true}})
	require.Error(t, err)

	_, err = NewCatalog([]Permission{{ID: "Visitor.Create", Risk: 6, Active: true}})
	require.Error(t, err)
}

func TestCatalogCategoryListing(t *testing.T) {
	catalog, err := NewCatalog([]Permission{
		{ID: "Visitor.Update", Risk: RiskLow, Active: true},
		{ID: "Visitor.Create", Risk: RiskLow, Active: true},
		{ID: "CheckIn.Process", Risk: RiskLow, Active: true},
	})
	require.NoError(t, err)

	visitors := catalog.ListByCategory("Visitor")
	require.Len(t, visitors, 2)
	assert.Equal(t, "Visitor.Create", visitors[0].ID, "ordered by identifier")
	assert.Equal(t, "Visitor.Update", visitors[1].ID)

	assert.Equal(t, []string{"CheckIn", "Visitor"}, catalog.Categories())

	category, ok := catalog.Category("CheckIn.Process")
	require.True(t, ok)
	assert.Equal(t, "CheckIn", category)

	_, ok = catalog.Category("Nope.Nothing")
	assert.False(t, ok)
}

func TestCatalogOwnershipPair(t *testing.T) {
	catalog := DefaultCatalog()

	own, all, err := catalog.OwnershipPair("Visitor.Read")
	require.NoError(t, err)
	assert.Equal(t, "Visitor.ReadOwn", own)
	assert.Equal(t, "Visitor.ReadAll", all)

	_, _, err = catalog.OwnershipPair("CheckIn.Process")
	require.ErrorIs(t, err, ErrInvalidPermission)
}

func TestDefaultCatalogRiskFlags(t *testing.T) {
	catalog := DefaultCatalog()

	assert.True(t, catalog.IsHighRisk("Permission.Grant"))
	assert.True(t, catalog.IsHighRisk("Role.Manage"))
	assert.False(t, catalog.IsHighRisk("Visitor.ReadOwn"))
	assert.False(t, catalog.IsHighRisk("Bogus.Action"))
}
