package ingestion

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// HTMLLayout describes where records live on a scraped page.
// Either TableSelector or CardSelector is set.
type HTMLLayout struct {
	// TableSelector matches tables whose first row is a header.
	TableSelector string
	// CardSelector matches one element per record.
	CardSelector string
	// CardFields maps a semantic field to a selector inside the card.
	// "sel@attr" reads an attribute; "@attr" reads it from the card itself.
	CardFields map[string]string
}

// ParseHTML extracts records from page according to layout.
func (p *Parser) ParseHTML(page io.Reader, layout HTMLLayout) ([]domain.RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(page)
	if err != nil {
		return nil, fmt.Errorf("%w: html: %v", domain.ErrParse, err)
	}
	if layout.CardSelector != "" {
		return cardRecords(doc, layout)
	}
	return p.tableRecords(doc, layout.TableSelector)
}

func (p *Parser) tableRecords(doc *goquery.Document, selector string) ([]domain.RawRecord, error) {
	if selector == "" {
		selector = "table"
	}
	tables := doc.Find(selector)
	if tables.Length() == 0 {
		return nil, fmt.Errorf("%w: html: no table matches %q", domain.ErrParse, selector)
	}

	var out []domain.RawRecord
	headerFound := false
	tables.Each(func(_ int, table *goquery.Selection) {
		var columns []string
		table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			cells := tr.ChildrenFiltered("th, td")
			if cells.Length() == 0 {
				return
			}
			row := make([]string, 0, cells.Length())
			cells.Each(func(_ int, c *goquery.Selection) {
				row = append(row, cleanText(c.Text()))
			})
			if columns == nil {
				if cols := p.mapper.Columns(row); hasField(cols, domain.FieldName) {
					columns = cols
					headerFound = true
				}
				return
			}
			if blankRow(row) {
				return
			}
			out = append(out, Record(columns, row))
		})
	})
	if !headerFound {
		return nil, fmt.Errorf("%w: html: no table header with a name column", domain.ErrParse)
	}
	return out, nil
}

func cardRecords(doc *goquery.Document, layout HTMLLayout) ([]domain.RawRecord, error) {
	cards := doc.Find(layout.CardSelector)
	if cards.Length() == 0 {
		return nil, fmt.Errorf("%w: html: no card matches %q", domain.ErrParse, layout.CardSelector)
	}
	out := make([]domain.RawRecord, 0, cards.Length())
	cards.Each(func(_ int, card *goquery.Selection) {
		rec := make(domain.RawRecord, len(layout.CardFields))
		for field, sel := range layout.CardFields {
			if v := selectValue(card, sel); v != "" {
				rec[field] = v
			}
		}
		out = append(out, rec)
	})
	return out, nil
}

func selectValue(card *goquery.Selection, sel string) string {
	sel, attr, hasAttr := strings.Cut(sel, "@")
	target := card
	if strings.TrimSpace(sel) != "" {
		target = card.Find(sel).First()
	}
	if hasAttr {
		v, _ := target.Attr(attr)
		return strings.TrimSpace(v)
	}
	return cleanText(target.Text())
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
