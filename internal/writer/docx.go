package writer

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"os"
	"strings"
)

// writeDocx renders plain text into a minimal WordprocessingML container:
// one paragraph per line, markdown-style "#" lines become bold headings.
func writeDocx(path, content string) error {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	files := map[string]string{
		"[Content_Types].xml": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`,
		"_rels/.rels": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`,
		"word/document.xml": buildDocumentXML(content),
	}

	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			zw.Close()
			return err
		}
		if _, err := w.Write([]byte(body)); err != nil {
			zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

func buildDocumentXML(content string) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)

	for _, line := range strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n") {
		text := line
		heading := false
		if trimmed := strings.TrimLeft(line, "# "); strings.HasPrefix(line, "#") {
			text = trimmed
			heading = true
		}
		sb.WriteString("<w:p>")
		if heading {
			sb.WriteString(`<w:r><w:rPr><w:b/><w:sz w:val="32"/></w:rPr><w:t xml:space="preserve">`)
		} else {
			sb.WriteString(`<w:r><w:t xml:space="preserve">`)
		}
		sb.WriteString(xmlEscape(text))
		sb.WriteString("</w:t></w:r></w:p>")
	}

	sb.WriteString(`<w:sectPr/></w:body></w:document>`)
	return sb.String()
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
