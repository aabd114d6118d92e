package edgar

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"insidertrack/pkg/core/form4"
)

// FetchFilingDocument downloads the raw ownership XML for one filing: it
// loads the filing index page, locates the primary XML document among the
// listed files, and fetches it.
func (c *Client) FetchFilingDocument(ctx context.Context, meta form4.FilingMeta) (form4.Document, error) {
	indexHTML, err := c.get(ctx, meta.IndexURL)
	if err != nil {
		return form4.Document{}, err
	}

	xmlURL, err := findXMLDocument(meta.IndexURL, indexHTML)
	if err != nil {
		return form4.Document{}, &form4.MalformedDocumentError{
			AccessionNumber: meta.AccessionNumber,
			Reason:          err.Error(),
		}
	}

	body, err := c.get(ctx, xmlURL)
	if err != nil {
		return form4.Document{}, err
	}
	return form4.Document{Meta: meta, XML: body}, nil
}

// findXMLDocument scans an index page for the ownership XML link. Filings
// list several documents; stylesheet renderings (xsl paths) are skipped and
// names like form4.xml or primary_doc.xml win over exhibits.
func findXMLDocument(indexURL string, indexHTML []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(indexHTML))
	if err != nil {
		return "", fmt.Errorf("unreadable index page: %v", err)
	}

	base, err := url.Parse(indexURL)
	if err != nil {
		return "", fmt.Errorf("bad index url: %v", err)
	}

	var preferred, fallback string
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		lower := strings.ToLower(href)
		if !strings.HasSuffix(lower, ".xml") {
			return
		}
		if strings.Contains(lower, "/xsl") || strings.Contains(lower, "xslf345") {
			return
		}

		name := lower
		if i := strings.LastIndex(name, "/"); i >= 0 {
			name = name[i+1:]
		}
		switch {
		case strings.Contains(name, "form4") || strings.Contains(name, "doc4") || strings.Contains(name, "primary_doc"):
			if preferred == "" {
				preferred = href
			}
		default:
			if fallback == "" {
				fallback = href
			}
		}
	})

	href := preferred
	if href == "" {
		href = fallback
	}
	if href == "" {
		return "", fmt.Errorf("no xml document listed on index page")
	}

	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("bad document link %q: %v", href, err)
	}
	return base.ResolveReference(ref).String(), nil
}
