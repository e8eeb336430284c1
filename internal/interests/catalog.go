package interests

import "github.com/topicchat/server/internal/types"

// catalog is the static set of interest tags rooms and users can be
// tagged with. ChatRoomCount is computed at read time from the live
// room indexes, never stored here.
var catalog = []types.InterestTag{
	{Id: "gaming", Name: "Gaming", Description: "Video games, board games and everything in between", Color: "#7c3aed"},
	{Id: "books", Name: "Books", Description: "Fiction, non-fiction and reading groups", Color: "#b45309"},
	{Id: "music", Name: "Music", Description: "Genres, artists, instruments and playlists", Color: "#db2777"},
	{Id: "movies", Name: "Movies & TV", Description: "Films, series and what to watch next", Color: "#dc2626"},
	{Id: "tech", Name: "Technology", Description: "Programming, gadgets and the industry", Color: "#2563eb"},
	{Id: "sports", Name: "Sports", Description: "Playing, watching and arguing about sports", Color: "#16a34a"},
	{Id: "travel", Name: "Travel", Description: "Destinations, tips and trip reports", Color: "#0891b2"},
	{Id: "food", Name: "Food & Cooking", Description: "Recipes, restaurants and kitchen wins", Color: "#ea580c"},
	{Id: "art", Name: "Art & Design", Description: "Drawing, painting, design and crafts", Color: "#9333ea"},
	{Id: "fitness", Name: "Fitness", Description: "Training, running and staying healthy", Color: "#65a30d"},
}

var catalogIds = func() map[string]struct{} {
	ids := make(map[string]struct{}, len(catalog))
	for _, tag := range catalog {
		ids[tag.Id] = struct{}{}
	}
	return ids
}()

// All returns a copy of the catalog so callers can enrich entries
// without mutating the shared slice.
func All() []types.InterestTag {
	tags := make([]types.InterestTag, len(catalog))
	copy(tags, catalog)
	return tags
}

// IsKnown reports whether id is a catalog tag id.
func IsKnown(id string) bool {
	_, ok := catalogIds[id]
	return ok
}
