package spisim

import (
	_ "embed"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/gocarina/gocsv"
)

// Profile is a named set of card behaviors, modeled on real cards.
type Profile struct {
	Slug          string `csv:"slug"`
	Name          string `csv:"name"`
	Kind          string `csv:"kind"`
	BusyPolls     int    `csv:"busy_polls"`
	ResponseDelay int    `csv:"response_delay"`
	TokenDelay    int    `csv:"token_delay"`
	SilentIfCond  uint   `csv:"silent_if_cond"`
	Notes         string `csv:"notes"`
}

// CardKind returns the generation of card the profile simulates.
func (p Profile) CardKind() (Kind, error) {
	return ParseKind(p.Kind)
}

// Options returns the card options that give a simulated card this profile's
// behavior.
func (p Profile) Options() []Option {
	options := []Option{
		WithBusyPolls(p.BusyPolls),
		WithResponseDelay(p.ResponseDelay),
		WithTokenDelay(p.TokenDelay),
	}
	if p.SilentIfCond != 0 {
		options = append(options, WithoutIfCondResponse())
	}
	return options
}

//go:embed profiles.csv
var profilesRawCSV string
var profiles map[string]Profile

// GetProfile returns the predefined profile with the given slug.
func GetProfile(slug string) (Profile, error) {
	profile, ok := profiles[slug]
	if ok {
		return profile, nil
	}
	return Profile{}, fmt.Errorf("no predefined card profile exists with slug %q", slug)
}

// ProfileSlugs returns the slugs of all predefined profiles, sorted.
func ProfileSlugs() []string {
	slugs := make([]string, 0, len(profiles))
	for slug := range profiles {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}

// NewFromProfile creates a simulated card with the behavior of the profile
// named `slug`. Extra options are applied after the profile's.
func NewFromProfile(slug string, image io.ReaderAt, totalBlocks uint32, options ...Option) (*Card, error) {
	profile, err := GetProfile(slug)
	if err != nil {
		return nil, err
	}
	kind, err := profile.CardKind()
	if err != nil {
		return nil, fmt.Errorf("profile %q: %w", slug, err)
	}
	return New(kind, image, totalBlocks, append(profile.Options(), options...)...), nil
}

func init() {
	csvReader := csv.NewReader(strings.NewReader(profilesRawCSV))
	csvReader.Comma = '|'

	var rows []Profile
	if err := gocsv.UnmarshalCSV(csvReader, &rows); err != nil {
		panic(fmt.Errorf("failed to decode card profiles: %w", err))
	}

	profiles = make(map[string]Profile, len(rows))
	for i, row := range rows {
		if _, err := row.CardKind(); err != nil {
			panic(fmt.Errorf("card profile on row %d: %w", i+1, err))
		}
		if _, exists := profiles[row.Slug]; exists {
			panic(fmt.Errorf("duplicate definition for card profile %q found on row %d", row.Slug, i+1))
		}
		profiles[row.Slug] = row
	}
}
