package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinScreen/internal/domain/models"
	"FinScreen/internal/pipeline"
	"FinScreen/pkg/logger"
)

type stubStage struct {
	name    string
	minimum float64
}

func (s *stubStage) Name() string { return s.name }

func (s *stubStage) Apply(_ context.Context, assets []models.Asset, _ time.Time, _ *pipeline.DataContext) (models.FilterResult, error) {
	return models.FilterResult{Passed: models.Symbols(assets), Reasons: map[string]string{}}, nil
}

func stubFactory(name string) Factory {
	return func(cfg pipeline.Config) (pipeline.Stage, error) {
		return &stubStage{name: name, minimum: cfg.Float("minimum", 0)}, nil
	}
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	lgr, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	return New(lgr)
}

func TestRegisterAndDuplicate(t *testing.T) {
	r := testRegistry(t)

	err := r.Register("structural", "2.1.0", stubFactory("structural"),
		WithDescription("listing age and exchange checks"),
		WithTags("core"))
	require.NoError(t, err)
	assert.Equal(t, 1, r.RegisteredCount())
	assert.Equal(t, 0, r.EnabledCount())

	err = r.Register("structural", "9.9.9", stubFactory("structural"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	v, ok := r.Version("structural")
	require.True(t, ok)
	assert.Equal(t, "2.1.0", v)
}

func TestRegisterNilFactory(t *testing.T) {
	r := testRegistry(t)
	assert.Error(t, r.Register("broken", "1.0.0", nil))
}

func TestEnableFiltersSetsOrder(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, r.Register("a", "1.0.0", stubFactory("a")))
	require.NoError(t, r.Register("b", "1.0.0", stubFactory("b")))

	require.NoError(t, r.EnableFilters([]string{"b", "a"}))

	stages := r.EnabledStages()
	require.Len(t, stages, 2)
	assert.Equal(t, "b", stages[0].Name())
	assert.Equal(t, "a", stages[1].Name())
	assert.Equal(t, []string{"b", "a"}, r.EnabledNames())
}

func TestEnableFiltersReplacesAtomically(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, r.Register("a", "1.0.0", stubFactory("a")))
	require.NoError(t, r.Register("b", "1.0.0", stubFactory("b")))
	require.NoError(t, r.EnableFilters([]string{"a", "b"}))

	// Unknown name fails the whole call; the prior set stays intact.
	err := r.EnableFilters([]string{"a", "ghost"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotRegistered)
	assert.Equal(t, []string{"a", "b"}, r.EnabledNames())

	// A successful call disables everything not in the new list.
	require.NoError(t, r.EnableFilters([]string{"b"}))
	assert.Equal(t, []string{"b"}, r.EnabledNames())
	for _, info := range r.Infos() {
		if info.Name == "a" {
			assert.False(t, info.Enabled)
		}
	}
}

func TestEnableFiltersCollapsesDuplicates(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, r.Register("a", "1.0.0", stubFactory("a")))
	require.NoError(t, r.Register("b", "1.0.0", stubFactory("b")))

	require.NoError(t, r.EnableFilters([]string{"a", "b", "a"}))
	assert.Equal(t, []string{"a", "b"}, r.EnabledNames())
}

func TestDisableKeepsCatalogueEntry(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, r.Register("a", "1.0.0", stubFactory("a")))
	require.NoError(t, r.Register("b", "1.0.0", stubFactory("b")))
	require.NoError(t, r.EnableFilters([]string{"a", "b"}))

	require.True(t, r.Disable("a"))
	assert.Equal(t, []string{"b"}, r.EnabledNames())
	assert.Equal(t, 2, r.RegisteredCount())

	v, ok := r.Version("a")
	require.True(t, ok)
	assert.Equal(t, "1.0.0", v)

	assert.False(t, r.Disable("ghost"))
}

func TestEnableAppendsToOrder(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, r.Register("a", "1.0.0", stubFactory("a")))
	require.NoError(t, r.Register("b", "1.0.0", stubFactory("b")))
	require.NoError(t, r.EnableFilters([]string{"a"}))

	require.True(t, r.Enable("b"))
	assert.Equal(t, []string{"a", "b"}, r.EnabledNames())

	// Re-enabling keeps the existing position.
	require.True(t, r.Enable("a"))
	assert.Equal(t, []string{"a", "b"}, r.EnabledNames())

	assert.False(t, r.Enable("ghost"))
}

func TestUnregisterDropsFromOrder(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, r.Register("a", "1.0.0", stubFactory("a")))
	require.NoError(t, r.EnableFilters([]string{"a"}))

	require.True(t, r.Unregister("a"))
	assert.Equal(t, 0, r.RegisteredCount())
	assert.Empty(t, r.EnabledNames())
	assert.False(t, r.Unregister("a"))
}

func TestEnabledStagesSkipsFailingFactory(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, r.Register("good", "1.0.0", stubFactory("good")))
	require.NoError(t, r.Register("bad", "1.0.0", func(pipeline.Config) (pipeline.Stage, error) {
		return nil, errors.New("missing threshold")
	}))
	require.NoError(t, r.EnableFilters([]string{"bad", "good"}))

	stages := r.EnabledStages()
	require.Len(t, stages, 1)
	assert.Equal(t, "good", stages[0].Name())
}

func TestUpdateConfigAffectsFutureInstances(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, r.Register("a", "1.0.0", stubFactory("a"),
		WithConfig(pipeline.Config{"minimum": 5.0})))

	before, err := r.Stage("a")
	require.NoError(t, err)
	assert.Equal(t, 5.0, before.(*stubStage).minimum)

	require.True(t, r.UpdateConfig("a", pipeline.Config{"minimum": 9.0}))
	assert.False(t, r.UpdateConfig("ghost", pipeline.Config{}))

	after, err := r.Stage("a")
	require.NoError(t, err)
	assert.Equal(t, 9.0, after.(*stubStage).minimum)
	// The earlier instance keeps the config it was built with.
	assert.Equal(t, 5.0, before.(*stubStage).minimum)
}

func TestStageUnknownName(t *testing.T) {
	r := testRegistry(t)
	_, err := r.Stage("ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestVersionsAndInfos(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, r.Register("liquidity", "3.0.2", stubFactory("liquidity")))
	require.NoError(t, r.Register("structural", "2.1.0", stubFactory("structural")))
	require.NoError(t, r.EnableFilters([]string{"structural"}))

	assert.Equal(t, map[string]string{
		"liquidity":  "3.0.2",
		"structural": "2.1.0",
	}, r.Versions())

	infos := r.Infos()
	require.Len(t, infos, 2)
	assert.Equal(t, "liquidity", infos[0].Name)
	assert.False(t, infos[0].Enabled)
	assert.Equal(t, "structural", infos[1].Name)
	assert.True(t, infos[1].Enabled)
}

func TestClear(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, r.Register("a", "1.0.0", stubFactory("a")))
	require.NoError(t, r.EnableFilters([]string{"a"}))

	r.Clear()
	assert.Equal(t, 0, r.RegisteredCount())
	assert.Equal(t, 0, r.EnabledCount())
	assert.Empty(t, r.EnabledStages())
}

func TestConcurrentAccess(t *testing.T) {
	r := testRegistry(t)
	for i := 0; i < 8; i++ {
		name := fmt.Sprintf("f%d", i)
		require.NoError(t, r.Register(name, "1.0.0", stubFactory(name)))
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("f%d", i)
			for j := 0; j < 50; j++ {
				r.Enable(name)
				r.EnabledStages()
				r.Disable(name)
				r.Versions()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 8, r.RegisteredCount())
	assert.Equal(t, 0, r.EnabledCount())
}
