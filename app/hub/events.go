package hub

// Event names pushed to connected users
const (
	EventFeedParsed       = "feed.parsed"
	EventArticleParsed    = "article.parsed"
	EventFeedAdded        = "feed.added"
	EventFeedAddAmbiguous = "feed.add.ambiguous"
	EventFeedAddFailed    = "feed.add.failed"
)

// Control names owned by the transport layer; events must not shadow them
var reservedEventNames = map[string]bool{
	"error":   true,
	"message": true,
	"open":    true,
	"close":   true,
}

type FeedParsedPayload struct {
	FeedID      int64  `json:"feedId"`
	FeedTitle   string `json:"feedTitle"`
	NewArticles int    `json:"newArticles"`
	TotalItems  int    `json:"totalItems"`
}

type ArticleParsedPayload struct {
	ArticleID     int64  `json:"articleId"`
	FeedID        int64  `json:"feedId"`
	Title         string `json:"title"`
	ContentLength int    `json:"contentLength"`
}

type FeedAddedPayload struct {
	FeedID    int64  `json:"feedId"`
	FeedURL   string `json:"feedUrl"`
	PendingID string `json:"pendingId"`
}

type FeedAddAmbiguousPayload struct {
	CandidateURLs []string `json:"candidateUrls"`
	OriginalURL   string   `json:"originalUrl"`
	PendingID     string   `json:"pendingId"`
}

type FeedAddFailedPayload struct {
	Error       string `json:"error"`
	OriginalURL string `json:"originalUrl"`
	PendingID   string `json:"pendingId"`
}
