package textfmt

import (
	"html/template"
	"strings"
)

// RenderHTML writes the document as escaped HTML suitable for embedding
// in a page template.
func RenderHTML(doc Document) template.HTML {
	var b strings.Builder

	for _, section := range doc.Sections {
		b.WriteString(`<section class="teks">`)
		if section.Title != "" {
			b.WriteString("<h3>")
			b.WriteString(template.HTMLEscapeString(section.Title))
			b.WriteString("</h3>")
		}

		for _, block := range section.Blocks {
			switch block.Kind {
			case List:
				tag := "ul"
				if block.Ordered {
					tag = "ol"
				}
				b.WriteString("<" + tag + ">")
				for _, item := range block.Items {
					b.WriteString("<li>")
					b.WriteString(template.HTMLEscapeString(item))
					b.WriteString("</li>")
				}
				b.WriteString("</" + tag + ">")
			default:
				b.WriteString("<p>")
				b.WriteString(template.HTMLEscapeString(block.Text))
				b.WriteString("</p>")
			}
		}

		b.WriteString("</section>")
	}

	return template.HTML(b.String())
}

// Items returns every list item of the document in order.
func (d Document) Items() []string {
	var items []string
	for _, section := range d.Sections {
		for _, block := range section.Blocks {
			if block.Kind == List {
				items = append(items, block.Items...)
			}
		}
	}
	return items
}

// Paragraphs returns the text of every paragraph block in order.
func (d Document) Paragraphs() []string {
	var out []string
	for _, section := range d.Sections {
		for _, block := range section.Blocks {
			if block.Kind == Paragraph {
				out = append(out, block.Text)
			}
		}
	}
	return out
}
