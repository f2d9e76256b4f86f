package diagnostic

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ngs.io/ensemble-store/internal/adapter/store"
	"go.ngs.io/ensemble-store/internal/adapter/store/memory"
	"go.ngs.io/ensemble-store/internal/domain"
)

const ensembleTotal = 4

// newStore declares root time/ensemble and a group "g" with 3 points.
func newStore(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.New()
	require.NoError(t, s.DefineDim(store.Root, DimTime, store.Unlimited))
	require.NoError(t, s.DefineDim(store.Root, DimEnsemble, ensembleTotal))
	require.NoError(t, s.CreateGroup("g"))
	require.NoError(t, s.DefineDim("g", "npoints", 3))
	return s
}

func declare(t *testing.T, s store.Store, typ domain.DiagnosticType, channel string) Variant {
	t.Helper()
	v, _, err := Declare(s, Spec{
		Group: "g", Type: typ, Channel: channel,
		SpatialDims: []string{"npoints"}, Spatial: []int{3},
		EnsembleTotal: ensembleTotal,
	})
	require.NoError(t, err)
	d, err := New(typ, channel, v)
	require.NoError(t, err)
	return d
}

type fakeReference struct {
	set    domain.ChannelSet
	values []float32
	err    error
	calls  int
}

func (f *fakeReference) Set() domain.ChannelSet { return f.set }

func (f *fakeReference) Values(context.Context, string, int) ([]float32, error) {
	f.calls++
	return f.values, f.err
}

func TestDeclareIdempotent(t *testing.T) {
	s := newStore(t)
	spec := Spec{Group: "g", Type: domain.DiagnosticRaw, Channel: "t2m", SpatialDims: []string{"npoints"}, Spatial: []int{3}, EnsembleTotal: ensembleTotal}

	v1, created, err := Declare(s, spec)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, []string{"time", "ensemble", "npoints"}, v1.Dims)

	v2, created, err := Declare(s, spec)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, v1.Name, v2.Name)

	info, err := s.Describe("g")
	require.NoError(t, err)
	require.Len(t, info.Vars, 1)
	assert.Equal(t, "TMP:2 m above ground", info.Vars[0].Attrs["gfs_name"])

	skill, created, err := Declare(s, Spec{Group: "g", Type: domain.DiagnosticSkill, Channel: "t2m", SpatialDims: []string{"npoints"}, Spatial: []int{3}})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "t2m_skill", skill.Name)
	assert.Equal(t, []string{"time", "npoints"}, skill.Dims)
}

func TestNewUnknownType(t *testing.T) {
	s := newStore(t)
	v, _, err := Declare(s, Spec{Group: "g", Type: domain.DiagnosticRaw, Channel: "t2m", SpatialDims: []string{"npoints"}, Spatial: []int{3}, EnsembleTotal: ensembleTotal})
	require.NoError(t, err)

	_, err = New(domain.DiagnosticType(42), "t2m", v)
	require.ErrorIs(t, err, domain.ErrUnknownType)
	assert.True(t, domain.KindUnknownType.Fatal())

	_, _, err = Declare(s, Spec{Group: "g", Type: domain.DiagnosticType(42), Channel: "t2m"})
	require.ErrorIs(t, err, domain.ErrUnknownType)
}

func TestRawRoundTrip(t *testing.T) {
	s := newStore(t)
	raw := declare(t, s, domain.DiagnosticRaw, "tcwv")
	assert.Equal(t, Declared, raw.Phase(0))

	require.NoError(t, raw.Update(Update{TimeIndex: 0, EnsembleOffset: 2, Members: 2, Values: []float32{1, 2, 3, 4, 5, 6}}))
	assert.Equal(t, Finalized, raw.Phase(0))
	require.NoError(t, raw.Finalize(context.Background(), []int{0}, nil))

	got, err := raw.Variable().Read(0)
	require.NoError(t, err)
	require.Len(t, got, ensembleTotal*3)
	for _, x := range got[:6] {
		assert.True(t, math.IsNaN(x), "members 0 and 1 were never written")
	}
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, got[6:])
}

func TestRawRejectsWrongLength(t *testing.T) {
	s := newStore(t)
	raw := declare(t, s, domain.DiagnosticRaw, "tcwv")
	require.Error(t, raw.Update(Update{Members: 1, Values: []float32{1, 2}}))
}

func TestSkillFinalize(t *testing.T) {
	s := newStore(t)
	skill := declare(t, s, domain.DiagnosticSkill, "t2m")
	ref := &fakeReference{set: domain.ChannelSetVar34, values: []float32{2, 0, float32(math.NaN())}}

	require.NoError(t, skill.Update(Update{TimeIndex: 0, EnsembleOffset: 0, Members: 2, Values: []float32{1, 0, 5, 2, 0, 5}}))
	require.NoError(t, skill.Update(Update{TimeIndex: 0, EnsembleOffset: 2, Members: 1, Values: []float32{3, 0, 5}}))
	// Member 1 again: already counted.
	require.NoError(t, skill.Update(Update{TimeIndex: 0, EnsembleOffset: 1, Members: 1, Values: []float32{100, 100, 100}}))
	assert.Equal(t, Accumulating, skill.Phase(0))
	assert.Equal(t, []int{0}, skill.Pending())

	require.NoError(t, skill.Finalize(context.Background(), []int{0}, ref))
	assert.Equal(t, Finalized, skill.Phase(0))
	assert.Empty(t, skill.Pending())

	got, err := skill.Variable().Read(0)
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt(2.0/3.0), got[0], 1e-6)
	assert.InDelta(t, 0, got[1], 1e-6)
	assert.True(t, math.IsNaN(got[2]))
}

func TestSkillStateMachine(t *testing.T) {
	s := newStore(t)
	skill := declare(t, s, domain.DiagnosticSkill, "t2m")
	ref := &fakeReference{set: domain.ChannelSetVar34, values: []float32{0, 0, 0}}
	ctx := context.Background()

	err := skill.Finalize(ctx, []int{0}, ref)
	require.ErrorIs(t, err, domain.ErrNoData)
	var de *domain.DiagnosticError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "g", de.Domain)
	assert.Equal(t, "t2m", de.Channel)
	assert.Equal(t, 0, ref.calls)

	require.NoError(t, skill.Update(Update{TimeIndex: 0, Members: 1, Values: []float32{1, 1, 1}}))
	// Index 1 has no data: nothing is finalized.
	require.ErrorIs(t, skill.Finalize(ctx, []int{0, 1}, ref), domain.ErrNoData)
	assert.Equal(t, Accumulating, skill.Phase(0))

	require.NoError(t, skill.Finalize(ctx, []int{0}, ref))
	require.ErrorIs(t, skill.Finalize(ctx, []int{0}, ref), domain.ErrAlreadyFinalized)
	require.ErrorIs(t, skill.Update(Update{TimeIndex: 0, Members: 1, Values: []float32{1, 1, 1}}), domain.ErrAlreadyFinalized)
}

func TestFinalizeChannelNotInSet(t *testing.T) {
	s := newStore(t)
	crps := declare(t, s, domain.DiagnosticCRPS, "q500")
	require.NoError(t, crps.Update(Update{TimeIndex: 0, Members: 1, Values: []float32{1, 1, 1}}))

	err := crps.Finalize(context.Background(), []int{0}, &fakeReference{set: domain.ChannelSetVar73})
	require.ErrorIs(t, err, domain.ErrChannelNotInSet)
	require.ErrorIs(t, crps.Finalize(context.Background(), []int{0}, nil), domain.ErrChannelNotInSet)
	assert.Equal(t, Accumulating, crps.Phase(0))
}

func TestFinalizeReferenceError(t *testing.T) {
	s := newStore(t)
	crps := declare(t, s, domain.DiagnosticCRPS, "t2m")
	require.NoError(t, crps.Update(Update{TimeIndex: 0, Members: 1, Values: []float32{1, 1, 1}}))

	missing := &domain.SourceError{Kind: domain.KindFileMissing, Path: "/ref/ev/lead_000.nc"}
	err := crps.Finalize(context.Background(), []int{0}, &fakeReference{set: domain.ChannelSetVar34, err: missing})
	require.True(t, errors.Is(err, domain.ErrFileMissing))
	assert.Equal(t, Accumulating, crps.Phase(0))
}

func TestScore(t *testing.T) {
	assert.InDelta(t, 1.5, Score([]float64{3.5}, 2), 1e-12)
	assert.InDelta(t, 0.5, Score([]float64{3, 1}, 2), 1e-12)
	assert.InDelta(t, 0, Score([]float64{2, 2, 2}, 2), 1e-12)
	assert.True(t, math.IsNaN(Score(nil, 2)))
	assert.True(t, math.IsNaN(Score([]float64{1, math.NaN()}, 2)))
	assert.True(t, math.IsNaN(Score([]float64{1}, math.NaN())))
}

func TestScoreMatchesPairwiseForm(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for range 50 {
		m := 1 + rng.IntN(12)
		x := make([]float64, m)
		for i := range x {
			x[i] = rng.NormFloat64()
		}
		y := rng.NormFloat64()

		var abs, pairs float64
		for i := range x {
			abs += math.Abs(x[i] - y)
			for j := range x {
				pairs += math.Abs(x[i] - x[j])
			}
		}
		fm := float64(m)
		want := abs/fm - pairs/(2*fm*fm)
		assert.InDelta(t, want, Score(x, y), 1e-9)
	}
}

func TestCRPSPermutationInvariant(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	members := make([][]float32, ensembleTotal)
	for m := range members {
		members[m] = []float32{rng.Float32() * 10, rng.Float32() * 10, rng.Float32() * 10}
	}
	ref := &fakeReference{set: domain.ChannelSetVar34, values: []float32{5, 5, 5}}

	run := func(order []int) []float64 {
		s := newStore(t)
		crps := declare(t, s, domain.DiagnosticCRPS, "t2m")
		for _, m := range order {
			require.NoError(t, crps.Update(Update{TimeIndex: 0, EnsembleOffset: m, Members: 1, Values: members[m]}))
		}
		require.NoError(t, crps.Finalize(context.Background(), []int{0}, ref))
		got, err := crps.Variable().Read(0)
		require.NoError(t, err)
		return got
	}

	want := run([]int{0, 1, 2, 3})
	for range 10 {
		order := rng.Perm(ensembleTotal)
		assert.Equal(t, want, run(order), "order %v", order)
	}
}
