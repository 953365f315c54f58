package methods

var (
	searchDefaults = map[string]string{"limit": "30", "page": "1"}
	listDefaults   = map[string]string{"limit": "50", "page": "1"}
	periodDefaults = map[string]string{"limit": "50", "page": "1", "period": "overall"}
)

var table = build([]Method{
	{Name: "artist.getCorrection", Spec: Single("artist")},
	{Name: "artist.getInfo", Spec: AnyOf("artist", "mbid")},
	{Name: "artist.getSimilar", Spec: AnyOf("artist", "mbid"), Defaults: map[string]string{"limit": "50"}},
	{Name: "artist.getTopAlbums", Spec: AnyOf("artist", "mbid"), Defaults: listDefaults},
	{Name: "artist.getTopTags", Spec: AnyOf("artist", "mbid")},
	{Name: "artist.getTopTracks", Spec: AnyOf("artist", "mbid"), Defaults: listDefaults},
	{Name: "artist.search", Spec: Single("artist"), Defaults: searchDefaults},

	{Name: "album.getInfo", Spec: Combined("mbid", "artist", "album")},
	{Name: "album.getTopTags", Spec: Combined("mbid", "artist", "album")},
	{Name: "album.search", Spec: Single("album"), Defaults: searchDefaults},

	{Name: "track.getCorrection", Spec: AllOf("artist", "track")},
	{Name: "track.getInfo", Spec: Combined("mbid", "artist", "track")},
	{Name: "track.getSimilar", Spec: Combined("mbid", "artist", "track"), Defaults: map[string]string{"limit": "50"}},
	{Name: "track.getTopTags", Spec: AllOf("artist", "track")},
	{Name: "track.search", Spec: Single("track"), Defaults: searchDefaults},

	{Name: "chart.getTopArtists", Spec: None(), Defaults: listDefaults},
	{Name: "chart.getTopTags", Spec: None(), Defaults: listDefaults},
	{Name: "chart.getTopTracks", Spec: None(), Defaults: listDefaults},

	{Name: "geo.getTopArtists", Spec: Single("country"), Defaults: listDefaults},
	{Name: "geo.getTopTracks", Spec: Single("country"), Defaults: listDefaults},

	{Name: "tag.getInfo", Spec: Single("tag")},
	{Name: "tag.getSimilar", Spec: Single("tag")},
	{Name: "tag.getTopAlbums", Spec: Single("tag"), Defaults: listDefaults},
	{Name: "tag.getTopArtists", Spec: Single("tag"), Defaults: listDefaults},
	{Name: "tag.getTopTags", Spec: None()},
	{Name: "tag.getTopTracks", Spec: Single("tag"), Defaults: listDefaults},
	{Name: "tag.getWeeklyChartList", Spec: Single("tag")},

	{Name: "user.getFriends", Spec: Single("user"), Defaults: listDefaults},
	{Name: "user.getInfo", Spec: None()},
	{Name: "user.getLovedTracks", Spec: Single("user"), Defaults: listDefaults},
	{Name: "user.getPersonalTags", Spec: AllOf("user", "tag", "taggingtype"), Defaults: listDefaults},
	{Name: "user.getRecentTracks", Spec: Single("user"), Defaults: listDefaults},
	{Name: "user.getTopAlbums", Spec: Single("user"), Defaults: periodDefaults},
	{Name: "user.getTopArtists", Spec: Single("user"), Defaults: periodDefaults},
	{Name: "user.getTopTags", Spec: Single("user")},
	{Name: "user.getTopTracks", Spec: Single("user"), Defaults: periodDefaults},
	{Name: "user.getWeeklyAlbumChart", Spec: Single("user")},
	{Name: "user.getWeeklyArtistChart", Spec: Single("user")},
	{Name: "user.getWeeklyChartList", Spec: Single("user")},
	{Name: "user.getWeeklyTrackChart", Spec: Single("user")},

	{Name: "library.getArtists", Spec: Single("user"), Defaults: listDefaults},

	{Name: "auth.getSession", Spec: Single("token"), Privileged: true},
	{Name: "auth.getMobileSession", Spec: AllOf("username", "password"), Privileged: true},
})

func build(ms []Method) map[string]Method {
	t := make(map[string]Method, len(ms))
	for _, m := range ms {
		if _, dup := t[m.Name]; dup {
			panic("methods: duplicate entry " + m.Name)
		}
		t[m.Name] = m
	}
	return t
}
