// Package digest builds normalized novel digests from a ranking
// response. Per-item failures are isolated: one bad entry never aborts
// the batch.
package digest

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"narou-digest/genre"
	"narou-digest/narou"
)

// excerptLimit caps the first-episode excerpt, in runes.
const excerptLimit = 501

const defaultPace = 500 * time.Millisecond

// Novel is one normalized digest record, serialized as-is into the
// generation request.
type Novel struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Tags         []string `json:"tags"`
	Genre        string   `json:"genre"`
	FirstEpisode string   `json:"first_episode"`
}

// RankingSource provides the ordered ranking, header record included.
type RankingSource interface {
	Ranking(ctx context.Context, period, category string, size int) ([]narou.RankedNovel, error)
}

// ChapterFetcher extracts one chapter's plain text.
type ChapterFetcher interface {
	ChapterText(ctx context.Context, ncode string, index int) (string, error)
}

// Aggregator turns ranked works into digests.
type Aggregator struct {
	source  RankingSource
	fetcher ChapterFetcher
	pace    time.Duration
}

// NewAggregator creates an Aggregator with the default per-item pacing.
func NewAggregator(source RankingSource, fetcher ChapterFetcher) *Aggregator {
	return &Aggregator{
		source:  source,
		fetcher: fetcher,
		pace:    defaultPace,
	}
}

// Aggregate fetches the ranking and builds one digest per processable
// work. The index-0 header record is always excluded. A failed or empty
// ranking yields an empty result; a failed chapter fetch falls back to
// the work's synopsis; an entry without an identifier is skipped with a
// warning. A short pause follows each processed item to stay within the
// scraped site's rate tolerance.
func (a *Aggregator) Aggregate(ctx context.Context, period, category string, size int) []Novel {
	novels, err := a.source.Ranking(ctx, period, category, size)
	if err != nil {
		slog.Error("ranking fetch failed", "error", err)
		return nil
	}
	if len(novels) == 0 {
		return nil
	}

	var digests []Novel
	for i, novel := range novels {
		if i == 0 {
			// Header record carrying allcount, not a real work.
			continue
		}
		select {
		case <-ctx.Done():
			slog.Warn("aggregation interrupted", "processed", len(digests))
			return digests
		default:
		}

		if novel.Ncode == "" {
			slog.Warn("ranking entry missing ncode, skipping", "index", i, "title", novel.Title)
			continue
		}
		ncode := strings.ToLower(novel.Ncode)

		excerpt, err := a.fetcher.ChapterText(ctx, ncode, 1)
		if err != nil || excerpt == "" {
			slog.Warn("chapter fetch failed, using synopsis", "ncode", ncode, "error", err)
			excerpt = novel.Story
		}

		digests = append(digests, Novel{
			Title:        novel.Title,
			Description:  novel.Story,
			Tags:         strings.Fields(novel.Keyword),
			Genre:        genre.Label(novel.Genre),
			FirstEpisode: truncateRunes(excerpt, excerptLimit),
		})
		slog.Info("novel aggregated", "ncode", ncode, "title", novel.Title)

		if a.pace > 0 {
			time.Sleep(a.pace)
		}
	}

	return digests
}

// truncateRunes caps s at limit runes. Byte-level slicing would split
// multi-byte characters mid-codepoint.
func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
