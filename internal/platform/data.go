package platform

import "time"

// Auth is the caller-supplied credential pair the platform API expects on
// every call: the raw cookie header from a logged-in browser session and
// the API token that session was granted.
type Auth struct {
	Cookie string
	Token  string
}

// ArticleSummary is one row from the account's article listing.
type ArticleSummary struct {
	title       string
	link        string
	digest      string
	publishedAt time.Time
}

func (a ArticleSummary) Title() string {
	return a.title
}

func (a ArticleSummary) Link() string {
	return a.link
}

func (a ArticleSummary) Digest() string {
	return a.digest
}

func (a ArticleSummary) PublishedAt() time.Time {
	return a.publishedAt
}

// NewArticleSummary constructs an ArticleSummary. The listing API builds
// these from wire rows; single-article sessions build one directly.
func NewArticleSummary(title, link, digest string, publishedAt time.Time) ArticleSummary {
	return ArticleSummary{
		title:       title,
		link:        link,
		digest:      digest,
		publishedAt: publishedAt,
	}
}

// listing API wire types

type baseResp struct {
	Ret    int    `json:"ret"`
	ErrMsg string `json:"err_msg"`
}

type searchResponse struct {
	BaseResp baseResp `json:"base_resp"`
	List     []struct {
		FakeID   string `json:"fakeid"`
		Nickname string `json:"nickname"`
	} `json:"list"`
}

type listResponse struct {
	BaseResp   baseResp `json:"base_resp"`
	AppMsgList []struct {
		Title      string `json:"title"`
		Link       string `json:"link"`
		Digest     string `json:"digest"`
		CreateTime int64  `json:"create_time"`
	} `json:"app_msg_list"`
}
