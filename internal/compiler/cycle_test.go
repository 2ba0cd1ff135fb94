package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/aggql/internal/expr"
	"github.com/roach88/aggql/internal/metadata"
	"github.com/roach88/aggql/internal/testutil"
)

// TestAnalyzeCycles_DAG tests that acyclic formulas produce no cycles.
func TestAnalyzeCycles_DAG(t *testing.T) {
	cycles := AnalyzeCycles(testutil.Catalog(), expr.NewParser())
	assert.Empty(t, cycles, "the stats model has no formula cycles")
}

// TestAnalyzeCycles_Loops tests detection of column, self and join loops.
func TestAnalyzeCycles_Loops(t *testing.T) {
	cycles := AnalyzeCycles(testutil.CyclicCatalog(), expr.NewParser())
	require.Len(t, cycles, 3)

	assert.Equal(t, []string{"loop->me", "loop.viaJoin", "loop->me"}, cycles[0].Path)
	assert.Equal(t, []string{"loop.a", "loop.b", "loop.a"}, cycles[1].Path)
	assert.Equal(t, []string{"loop.c", "loop.c"}, cycles[2].Path)

	assert.Equal(t, "formula cycle: loop.a -> loop.b -> loop.a", cycles[1].Message)
	assert.Contains(t, cycles[2].Message, "refers to itself")
}

// TestAnalyzeCycles_JoinConditionReadsTarget tests that a join condition
// reading its own target side is not a loop.
func TestAnalyzeCycles_JoinConditionReadsTarget(t *testing.T) {
	node := &metadata.Table{
		Name: "node",
		Joins: []*metadata.Join{
			{Name: "parent", TargetName: "node", On: "{{$parent_id}} = {{parent.$id}} AND {{parent.depth}} > 0"},
		},
		Columns: []*metadata.Column{
			{Name: "depth", Kind: metadata.KindDimension, Type: metadata.TypeInteger},
			{Name: "parentDepth", Kind: metadata.KindDimension, Type: metadata.TypeInteger, Formula: "{{parent.depth}}"},
		},
	}
	cat, err := metadata.NewCatalog(node)
	require.NoError(t, err)

	assert.Empty(t, AnalyzeCycles(cat, expr.NewParser()))
}

func TestCycleErrors(t *testing.T) {
	errs := CycleErrors(AnalyzeCycles(testutil.CyclicCatalog(), expr.NewParser()))
	require.Len(t, errs, 3)
	for _, e := range errs {
		assert.Equal(t, ErrFormulaCycle, e.Code)
	}
	assert.Equal(t, "loop.a", errs[1].Field)
}
