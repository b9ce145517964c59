package metadata

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"showtime/models"
)

var (
	videoExtPattern  = regexp.MustCompile(`(?i)\.(mp4|mkv|avi|mov|wmv|flv|webm|m4v|mpg|mpeg)$`)
	yearPattern      = regexp.MustCompile(`[\(\[]?(19\d{2}|20\d{2})[\)\]]?`)
	episodePattern   = regexp.MustCompile(`[Ss](\d{1,2})[Ee](\d{1,2})|(\d{1,2})[xX](\d{1,2})`)
	bracketPattern   = regexp.MustCompile(`[\[\(].*?[\]\)]`)
	releaseTagRegexp = regexp.MustCompile(`(?i)\b(720p|1080p|2160p|4K|BluRay|WEB-DL|HDRip|BRRip|HDTV|HDTC|HDTS|PROPER|REPACK|EXTENDED|UNRATED|DC|Directors\.Cut|x264|x265|HEVC|AAC|AC3|DTS|Hindi|English|Tamil|Telugu|Gujarati|ESub|HC|10bit|10Bit|5\.1)\b`)
	separatorPattern = regexp.MustCompile(`[._\-]+`)
	spacePattern     = regexp.MustCompile(`\s+`)
)

// ParsedFilename is what can be recovered from a release-style filename.
type ParsedFilename struct {
	Title   string
	Year    int
	Season  int
	Episode int
	// IsEpisode is set whenever an S01E02 or 1x02 marker was found, so
	// season 0 specials still count as tv.
	IsEpisode bool
}

// Kind infers movie or tv from the episode marker.
func (p ParsedFilename) Kind() models.MediaKind {
	if p.IsEpisode {
		return models.KindTV
	}
	return models.KindMovie
}

// ParseFilename extracts title, year and season/episode from a filename.
//
// Rules, in order: drop the video extension; find the first 19xx/20xx year,
// optionally bracketed; find S##E## or #x##; for movies keep only what
// precedes the year, otherwise just drop the year token; cut at the episode
// marker; strip bracketed tags and release tokens; collapse separators.
func ParseFilename(filename string) ParsedFilename {
	name := videoExtPattern.ReplaceAllString(norm.NFC.String(strings.TrimSpace(filename)), "")

	var parsed ParsedFilename

	year := yearPattern.FindStringSubmatchIndex(name)
	if year != nil {
		parsed.Year, _ = strconv.Atoi(name[year[2]:year[3]])
	}

	episode := episodePattern.FindStringSubmatchIndex(name)
	if episode != nil {
		parsed.IsEpisode = true
		if episode[2] >= 0 {
			parsed.Season, _ = strconv.Atoi(name[episode[2]:episode[3]])
			parsed.Episode, _ = strconv.Atoi(name[episode[4]:episode[5]])
		} else {
			parsed.Season, _ = strconv.Atoi(name[episode[6]:episode[7]])
			parsed.Episode, _ = strconv.Atoi(name[episode[8]:episode[9]])
		}
	}

	title := name
	switch {
	case year != nil && episode == nil:
		title = name[:year[0]]
	case year != nil:
		title = name[:year[0]] + name[year[1]:]
	}

	if episode != nil {
		cut := episode[0]
		if year != nil && year[0] < cut {
			// the year token was removed in front of the marker
			cut -= min(year[1], cut) - year[0]
		}
		if cut > len(title) {
			cut = len(title)
		}
		title = title[:cut]
	}

	title = bracketPattern.ReplaceAllString(title, "")
	title = releaseTagRegexp.ReplaceAllString(title, "")
	title = separatorPattern.ReplaceAllString(title, " ")
	title = spacePattern.ReplaceAllString(title, " ")
	parsed.Title = strings.TrimSpace(title)

	return parsed
}
