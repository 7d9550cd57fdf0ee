package trackers

import (
	"encoding/xml"
	"strconv"
	"strings"

	"spool/internal/services"
)

// Torznab feeds are RSS with typed attributes in the torznab namespace
// (http://torznab.com/schemas/2015/feed). Some indexers emit the attr
// elements without the namespace; matching on the local name covers both.

type torznabFeed struct {
	Channel struct {
		Items []torznabItem `xml:"item"`
	} `xml:"channel"`
}

type torznabItem struct {
	Title      string           `xml:"title"`
	GUID       string           `xml:"guid"`
	Link       string           `xml:"link"`
	PubDate    string           `xml:"pubDate"`
	Categories []string         `xml:"category"`
	Size       int64            `xml:"size"`
	Enclosure  torznabEnclosure `xml:"enclosure"`
	Attrs      []torznabAttr    `xml:"attr"`
}

type torznabEnclosure struct {
	URL    string `xml:"url,attr"`
	Length int64  `xml:"length,attr"`
	Type   string `xml:"type,attr"`
}

type torznabAttr struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// parseTorznab maps a Torznab XML payload onto search results. Size is taken
// from the enclosure length, the <size> element, or the size attribute, in
// increasing order of precedence.
func parseTorznab(slug string, payload []byte) ([]SearchResult, error) {
	var feed torznabFeed
	if err := xml.Unmarshal(payload, &feed); err != nil {
		return nil, services.Wrap(services.ErrExternalUnavailable, slug, "search", "decode torznab feed", err)
	}
	results := make([]SearchResult, 0, len(feed.Channel.Items))
	for _, item := range feed.Channel.Items {
		result := SearchResult{
			ID:          strings.TrimSpace(item.GUID),
			Name:        strings.TrimSpace(item.Title),
			DownloadURL: strings.TrimSpace(item.Link),
			PublishedAt: strings.TrimSpace(item.PubDate),
			SizeBytes:   item.Enclosure.Length,
		}
		if item.Size > 0 {
			result.SizeBytes = item.Size
		}
		if len(item.Categories) > 0 {
			result.Category = strings.TrimSpace(item.Categories[0])
		}
		for _, attr := range item.Attrs {
			value := strings.TrimSpace(attr.Value)
			switch strings.ToLower(attr.Name) {
			case "seeders":
				result.Seeders = atoiSafe(value)
			case "peers", "leechers":
				result.Leechers = atoiSafe(value)
			case "size":
				if parsed, err := strconv.ParseInt(value, 10, 64); err == nil && parsed > 0 {
					result.SizeBytes = parsed
				}
			case "infohash":
				result.InfoHash = strings.ToLower(value)
			case "imdbid", "imdb":
				result.IMDBID = value
			case "tmdbid", "tmdb":
				result.TMDBID = value
			}
		}
		if result.ID == "" {
			result.ID = result.DownloadURL
		}
		results = append(results, result)
	}
	return results, nil
}
