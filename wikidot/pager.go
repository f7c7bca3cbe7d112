package wikidot

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// listpagesRowClass wraps each rendered row so it can be isolated in the
// combined HTML the module returns.
const listpagesRowClass = "notifier-listpages-row"

// PageIterator lazily steps through the pages of a paginated module call.
// The first page also yields the total page count, parsed from the pager
// element; subsequent pages are fetched on demand. Rate pacing happens in
// Module, which every page fetch goes through.
type PageIterator struct {
	c          *Client
	ctx        context.Context
	wikiID     string
	moduleName string
	args       map[string]string
	pageVar    string

	total int
	next  int
}

// Paginated prepares a lazy page sequence. pageVar names the module
// argument carrying the page number.
func (c *Client) Paginated(ctx context.Context, wikiID, moduleName string, args map[string]string, pageVar string) *PageIterator {
	return &PageIterator{
		c:          c,
		ctx:        ctx,
		wikiID:     wikiID,
		moduleName: moduleName,
		args:       args,
		pageVar:    pageVar,
		total:      -1, // unknown until the first page is parsed
		next:       1,
	}
}

// Total returns the page count, valid after the first Next call.
func (it *PageIterator) Total() int { return it.total }

// Next fetches the next page and parses it. ok is false once all pages
// have been consumed.
func (it *PageIterator) Next() (doc *goquery.Document, ok bool, err error) {
	if it.total >= 0 && it.next > it.total {
		return nil, false, nil
	}

	args := make(map[string]string, len(it.args)+1)
	for k, v := range it.args {
		args[k] = v
	}
	args[it.pageVar] = fmt.Sprint(it.next)

	resp, err := it.c.Module(it.ctx, it.wikiID, it.moduleName, args)
	if err != nil {
		return nil, false, err
	}
	doc, err = goquery.NewDocumentFromReader(strings.NewReader(resp.Body))
	if err != nil {
		return nil, false, fmt.Errorf("parse module body: %w", err)
	}

	if it.total < 0 {
		it.total = parsePagerTotal(doc)
	}
	it.next++
	return doc, true, nil
}

// parsePagerTotal extracts the page count from the pager element; a page
// without a pager is a single page.
func parsePagerTotal(doc *goquery.Document) int {
	pagerText := strings.TrimSpace(doc.Find("div.pager span.pager-no").First().Text())
	if pagerText == "" {
		return 1
	}
	var curr, last int
	if _, err := fmt.Sscanf(pagerText, "page %d of %d", &curr, &last); err != nil || last < 1 {
		return 1
	}
	return last
}

// Listpages lazily yields the rendered body of each page under the given
// category, one row fragment at a time. moduleBody is the per-row payload
// template; it is wrapped in a marker div so rows can be told apart in the
// combined HTML. Iteration stops early when each returns an error.
func (c *Client) Listpages(ctx context.Context, wikiID, category, moduleBody string, each func(fragment string) error) error {
	wrapped := fmt.Sprintf("[[div_ class=\"%s\"]]\n%s\n[[/div]]", listpagesRowClass, moduleBody)
	args := map[string]string{
		"category":    category,
		"order":       "created_at desc",
		"perPage":     "250",
		"separate":    "false",
		"module_body": wrapped,
	}

	it := c.Paginated(ctx, wikiID, "list/ListPagesModule", args, "p")
	for {
		doc, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		var eachErr error
		doc.Find("div." + listpagesRowClass).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if err := each(strings.TrimSpace(s.Text())); err != nil {
				eachErr = err
				return false
			}
			return true
		})
		if eachErr != nil {
			return eachErr
		}
	}
}
