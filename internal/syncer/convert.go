package syncer

import (
	"github.com/samber/lo"

	"github.com/TobiSchelling/feverista/internal/database"
	"github.com/TobiSchelling/feverista/internal/fever"
)

func toItems(items []fever.Item) []database.Item {
	return lo.Map(items, func(it fever.Item, _ int) database.Item {
		return database.Item{
			ID:            int64(it.ID),
			FeedID:        int64(it.FeedID),
			Title:         it.Title,
			Author:        it.Author,
			HTML:          it.HTML,
			URL:           it.URL,
			IsSaved:       it.IsSaved.Bool(),
			IsRead:        it.IsRead.Bool(),
			CreatedOnTime: int64(it.CreatedOnTime),
		}
	})
}

func toGroups(groups []fever.Group) []database.Group {
	return lo.Map(groups, func(g fever.Group, _ int) database.Group {
		return database.Group{ID: int64(g.ID), Title: g.Title}
	})
}

func toFeeds(feeds []fever.Feed) []database.Feed {
	return lo.Map(feeds, func(f fever.Feed, _ int) database.Feed {
		return database.Feed{
			ID:                int64(f.ID),
			FaviconID:         int64(f.FaviconID),
			Title:             f.Title,
			URL:               f.URL,
			SiteURL:           f.SiteURL,
			IsSpark:           f.IsSpark.Bool(),
			LastUpdatedOnTime: int64(f.LastUpdatedOnTime),
		}
	})
}

// toFeedGroups flattens each group's feed id list into membership rows and
// returns the entries that were not ids.
func toFeedGroups(groups []fever.FeedsGroup) ([]database.FeedGroup, []string) {
	var invalid []string
	memberships := lo.FlatMap(groups, func(g fever.FeedsGroup, _ int) []database.FeedGroup {
		invalid = append(invalid, g.FeedIDs.Invalid...)
		return lo.Map(g.FeedIDs.IDs, func(feedID int64, _ int) database.FeedGroup {
			return database.FeedGroup{GroupID: int64(g.GroupID), FeedID: feedID}
		})
	})
	return memberships, invalid
}

func toFavicons(favicons []fever.Favicon) []database.Favicon {
	return lo.Map(favicons, func(f fever.Favicon, _ int) database.Favicon {
		return database.Favicon{ID: int64(f.ID), Data: f.Data}
	})
}

func toLinks(links []fever.Link) []database.Link {
	return lo.Map(links, func(l fever.Link, _ int) database.Link {
		return database.Link{
			ID:          int64(l.ID),
			FeedID:      int64(l.FeedID),
			ItemID:      int64(l.ItemID),
			Temperature: float64(l.Temperature),
			IsItem:      l.IsItem.Bool(),
			IsLocal:     l.IsLocal.Bool(),
			IsSaved:     l.IsSaved.Bool(),
			Title:       l.Title,
			URL:         l.URL,
			ItemIDs:     l.ItemIDs,
		}
	})
}
