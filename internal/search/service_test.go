package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/music-match-system/pkg/models"
)

type fakeRepo struct {
	byName   []models.ProfileRow
	byArtist []models.ProfileRow
	byGenre  []models.ProfileRow

	overlaps map[uuid.UUID]models.TasteOverlap
	shared   map[uuid.UUID][]models.SharedArtist
	genres   map[uuid.UUID][]string
	plays    map[uuid.UUID]int64

	overlapErr error

	nameCalls   []int // limits passed to SearchByName
	artistCalls []int
}

func (f *fakeRepo) SearchByName(_ context.Context, _ string, _ uuid.UUID, limit, _ int) ([]models.ProfileRow, error) {
	f.nameCalls = append(f.nameCalls, limit)
	return f.byName, nil
}

func (f *fakeRepo) SearchByArtist(_ context.Context, _ string, _ uuid.UUID, limit, _ int) ([]models.ProfileRow, error) {
	f.artistCalls = append(f.artistCalls, limit)
	return f.byArtist, nil
}

func (f *fakeRepo) SearchByGenre(_ context.Context, _ string, _ uuid.UUID, _, _ int) ([]models.ProfileRow, error) {
	return f.byGenre, nil
}

func (f *fakeRepo) SharedArtists(_ context.Context, _, target uuid.UUID, _ int) ([]models.SharedArtist, error) {
	return f.shared[target], nil
}

func (f *fakeRepo) SharedGenres(_ context.Context, _, target uuid.UUID, _ int) ([]string, error) {
	return f.genres[target], nil
}

func (f *fakeRepo) TasteOverlap(_ context.Context, _, target uuid.UUID) (models.TasteOverlap, error) {
	if f.overlapErr != nil {
		return models.TasteOverlap{}, f.overlapErr
	}
	return f.overlaps[target], nil
}

func (f *fakeRepo) RecentPlayCount(_ context.Context, target uuid.UUID, _ time.Time) (int64, error) {
	return f.plays[target], nil
}

func row(id uuid.UUID, handle string) models.ProfileRow {
	return models.ProfileRow{
		UserID:      id,
		Handle:      handle,
		CityVisible: models.CityVisible,
	}
}

func newTestService(repo *fakeRepo) *Service {
	svc := NewService(repo, zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) }
	return svc
}

func TestSearchMixedMergesFirstSeenAndDeduplicates(t *testing.T) {
	requester := uuid.New()
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	repo := &fakeRepo{
		byName:   []models.ProfileRow{row(a, "alice"), row(b, "bob")},
		byArtist: []models.ProfileRow{row(b, "bob"), row(c, "carol")},
		overlaps: map[uuid.UUID]models.TasteOverlap{},
		shared:   map[uuid.UUID][]models.SharedArtist{},
		genres:   map[uuid.UUID][]string{},
		plays:    map[uuid.UUID]int64{},
	}
	svc := newTestService(repo)

	resp, err := svc.Search(context.Background(), Request{
		Query:       "bo",
		Type:        TypeMixed,
		RequesterID: requester,
		Limit:       10,
	})
	require.NoError(t, err)

	assert.Len(t, resp.Hits, 3, "bob must appear exactly once")

	ids := map[uuid.UUID]int{}
	for _, h := range resp.Hits {
		ids[h.UserID]++
	}
	assert.Equal(t, 1, ids[b])
}

func TestSearchSingleModeOverfetches(t *testing.T) {
	repo := &fakeRepo{
		overlaps: map[uuid.UUID]models.TasteOverlap{},
		shared:   map[uuid.UUID][]models.SharedArtist{},
		genres:   map[uuid.UUID][]string{},
		plays:    map[uuid.UUID]int64{},
	}
	svc := newTestService(repo)

	_, err := svc.Search(context.Background(), Request{
		Query:       "radiohead",
		Type:        TypeArtist,
		RequesterID: uuid.New(),
		Limit:       20,
	})
	require.NoError(t, err)

	require.Len(t, repo.artistCalls, 1)
	assert.Equal(t, 40, repo.artistCalls[0])
}

func TestSearchRanksByScoreWithStableTieBreak(t *testing.T) {
	requester := uuid.New()
	strong, weak := uuid.New(), uuid.New()

	repo := &fakeRepo{
		byName: []models.ProfileRow{row(weak, "weak"), row(strong, "strong")},
		overlaps: map[uuid.UUID]models.TasteOverlap{
			strong: {SharedArtists: 10, TotalA: 12, TotalB: 12, SharedGenres: 5},
			weak:   {SharedArtists: 1, TotalA: 12, TotalB: 40},
		},
		shared: map[uuid.UUID][]models.SharedArtist{},
		genres: map[uuid.UUID][]string{},
		plays:  map[uuid.UUID]int64{strong: 500, weak: 2},
	}
	svc := newTestService(repo)

	resp, err := svc.Search(context.Background(), Request{
		Query:       "x",
		Type:        TypeName,
		RequesterID: requester,
		Limit:       10,
	})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 2)

	assert.Equal(t, strong, resp.Hits[0].UserID)
	assert.Greater(t, resp.Hits[0].SearchScore, resp.Hits[1].SearchScore)

	// Equal scores: user id decides, deterministically.
	tieRepo := &fakeRepo{
		byName:   []models.ProfileRow{row(strong, "s"), row(weak, "w")},
		overlaps: map[uuid.UUID]models.TasteOverlap{},
		shared:   map[uuid.UUID][]models.SharedArtist{},
		genres:   map[uuid.UUID][]string{},
		plays:    map[uuid.UUID]int64{},
	}
	tieSvc := newTestService(tieRepo)
	tied, err := tieSvc.Search(context.Background(), Request{
		Query: "x", Type: TypeName, RequesterID: requester, Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, tied.Hits, 2)
	assert.Less(t, tied.Hits[0].UserID.String(), tied.Hits[1].UserID.String())
}

func TestSearchMinSharedArtistsFiltersAfterEnrichment(t *testing.T) {
	requester := uuid.New()
	near, distant := uuid.New(), uuid.New()

	repo := &fakeRepo{
		byArtist: []models.ProfileRow{row(near, "near"), row(distant, "distant")},
		overlaps: map[uuid.UUID]models.TasteOverlap{
			near:    {SharedArtists: 5, TotalA: 10, TotalB: 10},
			distant: {SharedArtists: 1, TotalA: 10, TotalB: 10},
		},
		shared: map[uuid.UUID][]models.SharedArtist{},
		genres: map[uuid.UUID][]string{},
		plays:  map[uuid.UUID]int64{},
	}
	svc := newTestService(repo)

	resp, err := svc.Search(context.Background(), Request{
		Query:            "x",
		Type:             TypeArtist,
		RequesterID:      requester,
		Limit:            10,
		MinSharedArtists: 3,
	})
	require.NoError(t, err)

	require.Len(t, resp.Hits, 1)
	assert.Equal(t, near, resp.Hits[0].UserID)
}

func TestSearchTruncatesToLimit(t *testing.T) {
	repo := &fakeRepo{
		overlaps: map[uuid.UUID]models.TasteOverlap{},
		shared:   map[uuid.UUID][]models.SharedArtist{},
		genres:   map[uuid.UUID][]string{},
		plays:    map[uuid.UUID]int64{},
	}
	for i := 0; i < 8; i++ {
		repo.byName = append(repo.byName, row(uuid.New(), "u"))
	}
	svc := newTestService(repo)

	resp, err := svc.Search(context.Background(), Request{
		Query: "u", Type: TypeName, RequesterID: uuid.New(), Limit: 3,
	})
	require.NoError(t, err)

	assert.Len(t, resp.Hits, 3)
	assert.Equal(t, 3, resp.Total)
}

func TestSearchDegradesGracefullyOnEnrichmentErrors(t *testing.T) {
	target := uuid.New()
	repo := &fakeRepo{
		byName:     []models.ProfileRow{row(target, "target")},
		overlapErr: errors.New("store timeout"),
		shared:     map[uuid.UUID][]models.SharedArtist{},
		genres:     map[uuid.UUID][]string{},
		plays:      map[uuid.UUID]int64{},
	}
	svc := newTestService(repo)

	resp, err := svc.Search(context.Background(), Request{
		Query: "ta", Type: TypeName, RequesterID: uuid.New(), Limit: 10,
	})
	require.NoError(t, err, "a single candidate's missing data must not fail the query")

	require.Len(t, resp.Hits, 1)
	hit := resp.Hits[0]
	assert.Nil(t, hit.CompatibilityScore)
	assert.NotNil(t, hit.TopSharedArtists)
	assert.Empty(t, hit.TopSharedArtists)
	// Neutral proximity keeps the score above zero even with no data.
	assert.Equal(t, 10.0, hit.SearchScore)
}
