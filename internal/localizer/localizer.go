/*
Responsibilities
- Replace video embeds with static placeholders
- Strip scripts and leftover iframes
- Inline external stylesheets
- Download referenced images next to the artifact
- Rewrite references so the document renders offline

The output of this stage must render without any network access.
*/
package localizer

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/rohmanhakim/article-archiver/internal/fetcher"
	"github.com/rohmanhakim/article-archiver/internal/logger"
	"github.com/rohmanhakim/article-archiver/pkg/failure"
	"github.com/rohmanhakim/article-archiver/pkg/fileutil"
	"github.com/rohmanhakim/article-archiver/pkg/retry"
	"github.com/rohmanhakim/article-archiver/pkg/urlutil"
)

// Elements that embed short-form channel videos. The platform renders these
// through scripts that cannot run offline, so each one becomes a placeholder.
const channelVideoSelector = "mp-common-videosnap, .js_wechannel_video_card, .js_finder_card, [data-finder-feed-id]"

const (
	noticeChannelVideo  = "Channel video is not preserved in this archive."
	noticeEmbeddedVideo = "Embedded video is not preserved in this archive."
)

const placeholderStyle = "padding: 20px; text-align: center; background-color: #f0f0f0; " +
	"color: #666; border: 1px dashed #999; margin: 10px 0; font-size: 14px;"

// overrideStyleHTML is appended to head last so it wins over inline styles.
// Article bodies ship with visibility:hidden that scripts would normally lift.
const overrideStyleHTML = `<style>
.rich_media_area_primary_inner, #js_content, body, .rich_media_content {
	visibility: visible !important;
	opacity: 1 !important;
}
#js_loading { display: none !important; }
body {
	font-family: -apple-system, system-ui, "Segoe UI", Roboto, "Helvetica Neue", Arial, sans-serif;
	line-height: 1.8;
	padding: 20px;
	background-color: #f6f6f6;
	color: #333;
}
#js_content, #img-content, .rich_media_area_primary_inner {
	max-width: 677px;
	margin: 0 auto;
	background-color: #fff;
	padding: 40px;
	border: 1px solid #e7e7eb;
}
.rich_media_title {
	font-size: 22px;
	font-weight: 700;
	margin-bottom: 20px;
	line-height: 1.4;
}
img {
	max-width: 100% !important;
	height: auto !important;
	display: block;
	margin: 20px auto;
	border-radius: 4px;
}
p {
	margin-bottom: 1.5em;
	text-align: justify;
	font-size: 16px;
}
</style>`

// Localizer rewrites a fetched article page into a self-contained document.
type Localizer interface {
	Localize(
		ctx context.Context,
		localizeParam LocalizeParam,
		retryParam retry.RetryParam,
	) (LocalizedDoc, failure.ClassifiedError)
}

type HtmlLocalizer struct {
	fetcher      fetcher.Fetcher
	userAgent    string
	videoDomains []string
	log          logger.Logger
}

func NewHtmlLocalizer(
	resourceFetcher fetcher.Fetcher,
	userAgent string,
	videoDomains []string,
	log logger.Logger,
) *HtmlLocalizer {
	return &HtmlLocalizer{
		fetcher:      resourceFetcher,
		userAgent:    userAgent,
		videoDomains: videoDomains,
		log:          log,
	}
}

func (l *HtmlLocalizer) Localize(
	ctx context.Context,
	localizeParam LocalizeParam,
	retryParam retry.RetryParam,
) (LocalizedDoc, failure.ClassifiedError) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(localizeParam.Document()))
	if err != nil {
		return LocalizedDoc{}, &LocalizerError{
			Message:   fmt.Sprintf("failed to parse document: %v", err),
			Retryable: false,
			Cause:     ErrCauseMalformedDocument,
		}
	}

	var warnings []Warning

	l.replaceVideoEmbeds(doc)

	// Scripts would block rendering offline; nothing in the archive needs them.
	doc.Find("script").Remove()

	// Leftover iframes (ads, plugins) cannot load offline either. Video
	// iframes were already swapped for placeholders above.
	doc.Find("iframe").Remove()

	inlined := l.inlineStylesheets(ctx, doc, localizeParam, retryParam, &warnings)

	// onerror handlers retrigger endlessly once their targets are local files.
	doc.Find("[onerror]").RemoveAttr("onerror")

	head := doc.Find("head").First()
	if head.Find("meta[charset]").Length() == 0 {
		head.PrependHtml(`<meta charset="utf-8">`)
	}
	head.AppendHtml(overrideStyleHTML)

	resourceDir, saved, derr := l.localizeImages(ctx, doc, localizeParam, retryParam, &warnings)
	if derr != nil {
		return LocalizedDoc{}, derr
	}

	rendered, err := doc.Html()
	if err != nil {
		return LocalizedDoc{}, &LocalizerError{
			Message:   fmt.Sprintf("failed to render document: %v", err),
			Retryable: false,
			Cause:     ErrCauseRenderFailure,
		}
	}

	pageUrl := localizeParam.URL()
	l.log.Debug("document localized",
		logger.String("url", pageUrl.String()),
		logger.Int("images", saved),
		logger.Int("stylesheets", inlined),
		logger.Int("warnings", len(warnings)),
	)

	return LocalizedDoc{
		document:           []byte(rendered),
		resourceDir:        resourceDir,
		savedImages:        saved,
		inlinedStylesheets: inlined,
		warnings:           warnings,
	}, nil
}

func (l *HtmlLocalizer) replaceVideoEmbeds(doc *goquery.Document) {
	doc.Find(channelVideoSelector).ReplaceWithHtml(placeholderDiv(noticeChannelVideo))
	doc.Find("mp-video").ReplaceWithHtml(placeholderDiv(noticeEmbeddedVideo))

	doc.Find("iframe").Each(func(_ int, sel *goquery.Selection) {
		if l.isVideoIframe(sel) {
			sel.ReplaceWithHtml(placeholderDiv(noticeEmbeddedVideo))
		}
	})
}

func (l *HtmlLocalizer) isVideoIframe(sel *goquery.Selection) bool {
	if sel.HasClass("video_iframe") {
		return true
	}
	src := sel.AttrOr("data-src", "")
	if src == "" {
		src = sel.AttrOr("src", "")
	}
	for _, domain := range l.videoDomains {
		if strings.Contains(src, domain) {
			return true
		}
	}
	if _, ok := sel.Attr("data-vid"); ok {
		return true
	}
	if _, ok := sel.Attr("data-mpvid"); ok {
		return true
	}
	return false
}

// inlineStylesheets downloads each external stylesheet and embeds it as a
// <style> element. The <link> is removed whether or not the download worked,
// so the archived page never waits on an unreachable host.
func (l *HtmlLocalizer) inlineStylesheets(
	ctx context.Context,
	doc *goquery.Document,
	localizeParam LocalizeParam,
	retryParam retry.RetryParam,
	warnings *[]Warning,
) int {
	head := doc.Find("head").First()
	inlined := 0

	doc.Find(`link[rel="stylesheet"]`).Each(func(_ int, sel *goquery.Selection) {
		defer sel.Remove()

		href := sel.AttrOr("href", "")
		if href == "" {
			return
		}

		cssUrl, err := url.Parse(urlutil.EnsureScheme(href))
		if err != nil {
			*warnings = append(*warnings, Warning{
				resource: href,
				reason:   fmt.Sprintf("unparseable stylesheet URL: %v", err),
			})
			return
		}

		result, fetchErr := l.fetchResource(ctx, *cssUrl, localizeParam, retryParam)
		if fetchErr != nil {
			*warnings = append(*warnings, Warning{
				resource: cssUrl.String(),
				reason:   fmt.Sprintf("stylesheet download failed: %v", fetchErr),
			})
			return
		}

		head.AppendHtml("<style>" + string(result.Body()) + "</style>")
		inlined++
	})

	return inlined
}

// localizeImages downloads every image referenced via data-src into a sibling
// directory named after the article and rewrites src and data-src to the
// relative path. data-src is overwritten too so nothing can restore the
// upstream reference.
func (l *HtmlLocalizer) localizeImages(
	ctx context.Context,
	doc *goquery.Document,
	localizeParam LocalizeParam,
	retryParam retry.RetryParam,
	warnings *[]Warning,
) (string, int, failure.ClassifiedError) {
	resourceDir := fileutil.SanitizeName(localizeParam.Title()) + "_files"

	resourceDirAbs, joinErr := fileutil.SecureJoin(localizeParam.OutputDir(), resourceDir)
	if joinErr != nil {
		return "", 0, &LocalizerError{
			Message:   joinErr.Error(),
			Retryable: false,
			Cause:     ErrCauseResourceDirFailure,
		}
	}
	if err := fileutil.EnsureDir(resourceDirAbs); err != nil {
		return "", 0, &LocalizerError{
			Message:   err.Error(),
			Retryable: false,
			Cause:     ErrCauseResourceDirFailure,
		}
	}

	stamp := time.Now().Unix()
	saved := 0

	doc.Find("img").Each(func(idx int, sel *goquery.Selection) {
		src := sel.AttrOr("data-src", "")
		if src == "" {
			return
		}

		imgUrl, err := url.Parse(urlutil.EnsureScheme(src))
		if err != nil {
			*warnings = append(*warnings, Warning{
				resource: src,
				reason:   fmt.Sprintf("unparseable image URL: %v", err),
			})
			return
		}

		result, fetchErr := l.fetchResource(ctx, *imgUrl, localizeParam, retryParam)
		if fetchErr != nil {
			*warnings = append(*warnings, Warning{
				resource: imgUrl.String(),
				reason:   fmt.Sprintf("image download failed: %v", fetchErr),
			})
			return
		}

		filename := fmt.Sprintf("%d_%d.%s", idx, stamp, imageExtension(sel, imgUrl.Path))

		imgPath, joinErr := fileutil.SecureJoin(resourceDirAbs, filename)
		if joinErr != nil {
			*warnings = append(*warnings, Warning{
				resource: imgUrl.String(),
				reason:   joinErr.Error(),
			})
			return
		}
		if err := os.WriteFile(imgPath, result.Body(), 0644); err != nil {
			*warnings = append(*warnings, Warning{
				resource: imgUrl.String(),
				reason:   fmt.Sprintf("image write failed: %v", err),
			})
			return
		}

		localSrc := "./" + resourceDir + "/" + filename
		sel.SetAttr("src", localSrc)
		sel.SetAttr("data-src", localSrc)
		saved++
	})

	return resourceDir, saved, nil
}

func (l *HtmlLocalizer) fetchResource(
	ctx context.Context,
	resourceUrl url.URL,
	localizeParam LocalizeParam,
	retryParam retry.RetryParam,
) (fetcher.FetchResult, failure.ClassifiedError) {
	pageUrl := localizeParam.URL()
	fetchParam := fetcher.NewFetchParam(resourceUrl, l.userAgent).
		WithReferer(pageUrl.String())
	if localizeParam.Cookie() != "" {
		fetchParam = fetchParam.WithCookie(localizeParam.Cookie())
	}
	return l.fetcher.FetchResource(ctx, fetchParam, retryParam)
}

// imageExtension prefers the platform's data-type attribute over the URL
// path. The platform reports jpeg for what it serves as jpg.
func imageExtension(sel *goquery.Selection, urlPath string) string {
	ext := sel.AttrOr("data-type", "")
	if ext == "" {
		ext = fileutil.GetFileExtension(urlPath)
	}
	if ext == "jpeg" {
		ext = "jpg"
	}
	if ext == "" {
		ext = "jpg"
	}
	return ext
}

func placeholderDiv(notice string) string {
	return `<div style="` + placeholderStyle + `">` + notice + `</div>`
}

// Compile-time interface check
var _ Localizer = (*HtmlLocalizer)(nil)
