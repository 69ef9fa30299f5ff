package localizer

import "net/url"

// LocalizeParam carries one fetched article page into localization.
type LocalizeParam struct {
	pageUrl   url.URL
	document  []byte
	title     string
	outputDir string
	cookie    string
}

func NewLocalizeParam(pageUrl url.URL, document []byte, title string, outputDir string) LocalizeParam {
	return LocalizeParam{
		pageUrl:   pageUrl,
		document:  document,
		title:     title,
		outputDir: outputDir,
	}
}

// WithCookie attaches the session cookie used for resource fetches.
// Some image hosts refuse requests without it.
func (p LocalizeParam) WithCookie(cookie string) LocalizeParam {
	p.cookie = cookie
	return p
}

func (p LocalizeParam) URL() url.URL {
	return p.pageUrl
}

func (p LocalizeParam) Document() []byte {
	return p.document
}

func (p LocalizeParam) Title() string {
	return p.title
}

func (p LocalizeParam) OutputDir() string {
	return p.outputDir
}

func (p LocalizeParam) Cookie() string {
	return p.cookie
}

// Warning records a resource that could not be localized. Warnings never
// abort localization; the affected reference is left pointing upstream.
type Warning struct {
	resource string
	reason   string
}

func (w Warning) Resource() string {
	return w.resource
}

func (w Warning) Reason() string {
	return w.reason
}

// NewWarningForTest creates a Warning for testing purposes.
// The fields remain private to maintain immutability.
func NewWarningForTest(resource string, reason string) Warning {
	return Warning{
		resource: resource,
		reason:   reason,
	}
}

// LocalizedDoc is the outcome of localizing one article page: the rewritten
// document plus an inventory of what was saved alongside it.
type LocalizedDoc struct {
	document           []byte
	resourceDir        string
	savedImages        int
	inlinedStylesheets int
	warnings           []Warning
}

func (d *LocalizedDoc) Document() []byte {
	return d.document
}

// ResourceDir returns the name of the sibling directory holding downloaded
// images, relative to the output directory.
func (d *LocalizedDoc) ResourceDir() string {
	return d.resourceDir
}

func (d *LocalizedDoc) SavedImages() int {
	return d.savedImages
}

func (d *LocalizedDoc) InlinedStylesheets() int {
	return d.inlinedStylesheets
}

func (d *LocalizedDoc) Warnings() []Warning {
	return d.warnings
}

// NewLocalizedDocForTest creates a LocalizedDoc for testing purposes.
// The fields remain private to maintain immutability.
func NewLocalizedDocForTest(
	document []byte,
	resourceDir string,
	savedImages int,
	inlinedStylesheets int,
	warnings []Warning,
) LocalizedDoc {
	return LocalizedDoc{
		document:           document,
		resourceDir:        resourceDir,
		savedImages:        savedImages,
		inlinedStylesheets: inlinedStylesheets,
		warnings:           warnings,
	}
}
