package metadata

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"showtime/models"
)

func TestParseFilename(t *testing.T) {
	tests := []struct {
		in   string
		want ParsedFilename
	}{
		{
			in:   "Inception (2010).mp4",
			want: ParsedFilename{Title: "Inception", Year: 2010},
		},
		{
			in:   "Show.Name.S02E05.1080p.x264.mkv",
			want: ParsedFilename{Title: "Show Name", Season: 2, Episode: 5, IsEpisode: true},
		},
		{
			in:   "The.Matrix.1999.1080p.BluRay.x264.mkv",
			want: ParsedFilename{Title: "The Matrix", Year: 1999},
		},
		{
			in:   "Breaking Bad 1x03.avi",
			want: ParsedFilename{Title: "Breaking Bad", Season: 1, Episode: 3, IsEpisode: true},
		},
		{
			in:   "Show.2019.S01E01.WEB-DL.mkv",
			want: ParsedFilename{Title: "Show", Year: 2019, Season: 1, Episode: 1, IsEpisode: true},
		},
		{
			in:   "Show.S03E10.2021.HDTV.mp4",
			want: ParsedFilename{Title: "Show", Year: 2021, Season: 3, Episode: 10, IsEpisode: true},
		},
		{
			in:   "Movie_Name-720p.HDRip.MP4",
			want: ParsedFilename{Title: "Movie Name"},
		},
		{
			in:   "[Group] Some Title - 03 [1080p].mkv",
			want: ParsedFilename{Title: "Some Title 03"},
		},
		{
			in:   "Doctor.Who.S00E01.mkv",
			want: ParsedFilename{Title: "Doctor Who", IsEpisode: true, Episode: 1},
		},
		{
			in:   "home video.mov",
			want: ParsedFilename{Title: "home video"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseFilename(tt.in)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseFilename(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestParseFilenameIsDeterministic(t *testing.T) {
	for i := 0; i < 5; i++ {
		got := ParseFilename("Show.Name.S02E05.1080p.x264.mkv")
		if got.Title != "Show Name" || got.Season != 2 || got.Episode != 5 {
			t.Fatalf("run %d: unexpected parse %+v", i, got)
		}
	}
}

func TestParsedFilenameKind(t *testing.T) {
	if k := ParseFilename("Inception (2010).mp4").Kind(); k != models.KindMovie {
		t.Errorf("expected movie, got %s", k)
	}
	if k := ParseFilename("Doctor.Who.S00E01.mkv").Kind(); k != models.KindTV {
		t.Errorf("expected tv for season 0, got %s", k)
	}
}
