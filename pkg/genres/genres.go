// Package genres holds the closed genre enumeration of the downstream
// catalog and the logic that maps free-text delivery genres onto it.
package genres

import "strings"

type Genre string

const (
	AllGenres        Genre = "All Genres"
	Electronic       Genre = "Electronic"
	Rock             Genre = "Rock"
	Metal            Genre = "Metal"
	Alternative      Genre = "Alternative"
	HipHopRap        Genre = "Hip-Hop/Rap"
	Experimental     Genre = "Experimental"
	Punk             Genre = "Punk"
	Folk             Genre = "Folk"
	Pop              Genre = "Pop"
	Ambient          Genre = "Ambient"
	Soundtrack       Genre = "Soundtrack"
	World            Genre = "World"
	Jazz             Genre = "Jazz"
	Acoustic         Genre = "Acoustic"
	Funk             Genre = "Funk"
	RnBSoul          Genre = "R&B/Soul"
	Devotional       Genre = "Devotional"
	Classical        Genre = "Classical"
	Reggae           Genre = "Reggae"
	Country          Genre = "Country"
	SpokenWord       Genre = "Spoken Word"
	Comedy           Genre = "Comedy"
	Blues            Genre = "Blues"
	Kids             Genre = "Kids"
	Audiobooks       Genre = "Audiobooks"
	Latin            Genre = "Latin"
	LoFi             Genre = "Lo-Fi"
	Hyperpop         Genre = "Hyperpop"
	Techno           Genre = "Techno"
	Trap             Genre = "Trap"
	House            Genre = "House"
	TechHouse        Genre = "Tech House"
	DeepHouse        Genre = "Deep House"
	Disco            Genre = "Disco"
	Electro          Genre = "Electro"
	Jungle           Genre = "Jungle"
	ProgressiveHouse Genre = "Progressive House"
	Hardstyle        Genre = "Hardstyle"
	GlitchHop        Genre = "Glitch Hop"
	Trance           Genre = "Trance"
	FutureBass       Genre = "Future Bass"
	FutureHouse      Genre = "Future House"
	TropicalHouse    Genre = "Tropical House"
	Downtempo        Genre = "Downtempo"
	DrumAndBass      Genre = "Drum & Bass"
	Dubstep          Genre = "Dubstep"
	JerseyClub       Genre = "Jersey Club"
	Vaporwave        Genre = "Vaporwave"
	Moombahton       Genre = "Moombahton"
	Dancehall        Genre = "Dancehall"
)

var All = []Genre{
	AllGenres, Electronic, Rock, Metal, Alternative, HipHopRap, Experimental,
	Punk, Folk, Pop, Ambient, Soundtrack, World, Jazz, Acoustic, Funk,
	RnBSoul, Devotional, Classical, Reggae, Country, SpokenWord, Comedy,
	Blues, Kids, Audiobooks, Latin, LoFi, Hyperpop, Techno, Trap, House,
	TechHouse, DeepHouse, Disco, Electro, Jungle, ProgressiveHouse,
	Hardstyle, GlitchHop, Trance, FutureBass, FutureHouse, TropicalHouse,
	Downtempo, DrumAndBass, Dubstep, JerseyClub, Vaporwave, Moombahton,
	Dancehall,
}

// Supplier genre vocabularies that don't line up with the enum but appear
// often enough to hard code.
var aliases = map[string]Genre{
	"Dance":         Electronic,
	"Indie Rock":    Alternative,
	"Inspirational": Ambient,
}

// Resolve maps a delivery's free-text genre pair onto the catalog enum. The
// subgenre is usually the more specific of the two, so it wins when both
// match. The second return is false when neither resolves.
func Resolve(genre, subGenre string) (Genre, bool) {
	if genre == "" && subGenre == "" {
		return "", false
	}

	for _, searchTerm := range []string{subGenre, genre} {
		normalized := lowerAscii(searchTerm)
		if normalized == "" {
			continue
		}
		for _, g := range All {
			if lowerAscii(string(g)) == normalized {
				return g, true
			}
		}
	}

	if g, ok := aliases[genre]; ok {
		return g, true
	}

	return "", false
}

// lowerAscii collapses a term to lowercase alphanumerics so that "Hip Hop",
// "hip-hop" and "HipHop" all compare equal.
func lowerAscii(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
