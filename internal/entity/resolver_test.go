package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filingwatch/internal/domain"
)

func TestCanonicalKey(t *testing.T) {
	tests := []struct {
		name         string
		fullName     string
		jurisdiction string
		want         string
	}{
		{
			name:         "last comma first",
			fullName:     "Ossoff, Jon",
			jurisdiction: "GA",
			want:         "ossoff-jon-ga",
		},
		{
			name:         "first last",
			fullName:     "Jon Ossoff",
			jurisdiction: "GA",
			want:         "ossoff-jon-ga",
		},
		{
			name:         "middle name ignored in key",
			fullName:     "Warnock, Raphael Gamaliel",
			jurisdiction: "ga",
			want:         "warnock-raphael-ga",
		},
		{
			name:         "honorific stripped",
			fullName:     "Dr. Raphael Warnock",
			jurisdiction: "GA",
			want:         "warnock-raphael-ga",
		},
		{
			name:         "suffix stripped",
			fullName:     "Brown, Sherrod Jr.",
			jurisdiction: "OH",
			want:         "brown-sherrod-oh",
		},
		{
			name:         "case collapsed",
			fullName:     "SHERROD BROWN",
			jurisdiction: "oh",
			want:         "brown-sherrod-oh",
		},
		{
			name:         "single word name",
			fullName:     "Cher",
			jurisdiction: "CA",
			want:         "cher-ca",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalKey(tt.fullName, tt.jurisdiction))
		})
	}
}

func TestResolve_MergesOrderings(t *testing.T) {
	raws := []domain.RawFiler{
		{RawID: "S001", FullName: "Ossoff, Jon", Jurisdiction: "GA", Role: "SENATE"},
		{RawID: "S002", FullName: "Jon Ossoff", Jurisdiction: "GA", Role: "CANDIDATE"},
		{RawID: "S003", FullName: "Warnock, Raphael", Jurisdiction: "GA", Role: "SENATE"},
	}

	entities := Resolve(raws, nil)
	require.Len(t, entities, 2)

	assert.Equal(t, "ossoff-jon-ga", entities[0].Key)
	assert.ElementsMatch(t, []string{"S001", "S002"}, entities[0].RawIDs)
	assert.Equal(t, "warnock-raphael-ga", entities[1].Key)
}

func TestResolve_MostSeniorRoleWins(t *testing.T) {
	raws := []domain.RawFiler{
		{RawID: "S001", FullName: "Jon Ossoff", Jurisdiction: "GA", Role: "CANDIDATE"},
		{RawID: "S002", FullName: "Ossoff, Jon", Jurisdiction: "GA", Role: "SENATE"},
		{RawID: "S003", FullName: "Jon Ossoff", Jurisdiction: "GA", Role: "HOUSE"},
	}

	entities := Resolve(raws, nil)
	require.Len(t, entities, 1)
	assert.Equal(t, "SENATE", entities[0].Role)
}

func TestResolve_DeterministicUnderShuffledInput(t *testing.T) {
	raws := []domain.RawFiler{
		{RawID: "S003", FullName: "Warnock, Raphael", Jurisdiction: "GA", Role: "SENATE"},
		{RawID: "S001", FullName: "Ossoff, Jon", Jurisdiction: "GA", Role: "SENATE"},
		{RawID: "S002", FullName: "Jon Ossoff", Jurisdiction: "GA", Role: "CANDIDATE"},
	}
	reversed := []domain.RawFiler{raws[2], raws[1], raws[0]}

	a := Resolve(raws, nil)
	b := Resolve(reversed, nil)

	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].Key, b[i].Key)
		assert.Equal(t, a[i].Role, b[i].Role)
		assert.Equal(t, a[i].DisplayName, b[i].DisplayName)
		assert.Equal(t, a[i].RawIDs, b[i].RawIDs)
	}
}

func TestResolve_ManualOverrideWins(t *testing.T) {
	raws := []domain.RawFiler{
		{RawID: "S001", FullName: "Ossoff, Jon", Jurisdiction: "GA", Role: "SENATE"},
		// heuristic alone would split this misspelled record into its own group
		{RawID: "S009", FullName: "Osoff, John", Jurisdiction: "GA", Role: "CANDIDATE"},
	}
	overrides := map[string]string{"S009": "ossoff-jon-ga"}

	entities := Resolve(raws, overrides)
	require.Len(t, entities, 1)
	assert.Equal(t, "ossoff-jon-ga", entities[0].Key)
	assert.ElementsMatch(t, []string{"S001", "S009"}, entities[0].RawIDs)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Raphael Gamaliel Warnock", displayName("WARNOCK, RAPHAEL GAMALIEL"))
	assert.Equal(t, "Jon Ossoff", displayName("Dr. Jon Ossoff"))
}
