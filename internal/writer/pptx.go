package writer

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// imageFetchClient bounds how long one [IMG: url] download may take.
var imageFetchClient = &http.Client{Timeout: 15 * time.Second}

type pptxSlide struct {
	title  string
	lines  []string
	images [][]byte // raw image bytes, appended as ppt/media parts
}

// writePptx renders text into a minimal PresentationML container. Slides are
// separated by a line containing only "---"; the first line of each block is
// the slide title. A line of the form [IMG: url-or-path] embeds the image,
// downloaded for http(s) URLs, read from disk otherwise.
func writePptx(path, content string) error {
	slides := splitSlides(content)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	write := func(name, body string) error {
		w, err := zw.Create(name)
		if err != nil {
			return err
		}
		_, err = w.Write([]byte(body))
		return err
	}

	var overrides, presRels, sldIds strings.Builder
	imageIndex := 0

	for i, slide := range slides {
		n := i + 1
		slideName := fmt.Sprintf("ppt/slides/slide%d.xml", n)
		overrides.WriteString(fmt.Sprintf(
			`<Override PartName="/%s" ContentType="application/vnd.openxmlformats-officedocument.presentationml.slide+xml"/>`, slideName))
		presRels.WriteString(fmt.Sprintf(
			`<Relationship Id="rId%d" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slide" Target="slides/slide%d.xml"/>`, n, n))
		sldIds.WriteString(fmt.Sprintf(`<p:sldId id="%d" r:id="rId%d"/>`, 255+n, n))

		var slideRels strings.Builder
		var imageRefs []string
		for _, img := range slide.images {
			imageIndex++
			mediaName := fmt.Sprintf("ppt/media/image%d.png", imageIndex)
			w, err := zw.Create(mediaName)
			if err != nil {
				zw.Close()
				return err
			}
			if _, err := w.Write(img); err != nil {
				zw.Close()
				return err
			}
			relID := fmt.Sprintf("rIdImg%d", imageIndex)
			slideRels.WriteString(fmt.Sprintf(
				`<Relationship Id="%s" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/image" Target="../media/image%d.png"/>`, relID, imageIndex))
			imageRefs = append(imageRefs, relID)
		}

		if err := write(slideName, buildSlideXML(slide, imageRefs)); err != nil {
			zw.Close()
			return err
		}
		if slideRels.Len() > 0 {
			relName := fmt.Sprintf("ppt/slides/_rels/slide%d.xml.rels", n)
			body := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` + slideRels.String() + `</Relationships>`
			if err := write(relName, body); err != nil {
				zw.Close()
				return err
			}
		}
	}

	contentTypes := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
<Default Extension="png" ContentType="image/png"/>
<Override PartName="/ppt/presentation.xml" ContentType="application/vnd.openxmlformats-officedocument.presentationml.presentation.main+xml"/>` +
		overrides.String() + `</Types>`

	rootRels := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="ppt/presentation.xml"/>
</Relationships>`

	presentation := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<p:presentation xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships">
<p:sldIdLst>` + sldIds.String() + `</p:sldIdLst>
<p:sldSz cx="9144000" cy="6858000"/>
</p:presentation>`

	presentationRels := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` + presRels.String() + `</Relationships>`

	for name, body := range map[string]string{
		"[Content_Types].xml":              contentTypes,
		"_rels/.rels":                      rootRels,
		"ppt/presentation.xml":             presentation,
		"ppt/_rels/presentation.xml.rels":  presentationRels,
	} {
		if err := write(name, body); err != nil {
			zw.Close()
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

var imgMarkerPrefix = "[IMG:"

func splitSlides(content string) []pptxSlide {
	var slides []pptxSlide
	blocks := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n---\n")
	for _, block := range blocks {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		slide := pptxSlide{}
		for _, line := range strings.Split(block, "\n") {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, imgMarkerPrefix) && strings.HasSuffix(trimmed, "]") {
				ref := strings.TrimSpace(trimmed[len(imgMarkerPrefix) : len(trimmed)-1])
				if data, err := fetchImage(ref); err == nil {
					slide.images = append(slide.images, data)
				}
				continue
			}
			if slide.title == "" && trimmed != "" {
				slide.title = trimmed
				continue
			}
			slide.lines = append(slide.lines, line)
		}
		slides = append(slides, slide)
	}
	if len(slides) == 0 {
		slides = append(slides, pptxSlide{title: "Untitled"})
	}
	return slides
}

func fetchImage(ref string) ([]byte, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		resp, err := imageFetchClient.Get(ref)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("image download failed: HTTP %d", resp.StatusCode)
		}
		return io.ReadAll(io.LimitReader(resp.Body, 8*1024*1024))
	}
	if !filepath.IsAbs(ref) {
		return nil, fmt.Errorf("local image path must be absolute: %s", ref)
	}
	return os.ReadFile(ref)
}

func buildSlideXML(slide pptxSlide, imageRefs []string) string {
	var body strings.Builder
	for _, line := range slide.lines {
		body.WriteString(`<a:p><a:r><a:t>`)
		body.WriteString(xmlEscape(line))
		body.WriteString(`</a:t></a:r></a:p>`)
	}

	var pics strings.Builder
	for i, relID := range imageRefs {
		pics.WriteString(fmt.Sprintf(`<p:pic><p:nvPicPr><p:cNvPr id="%d" name="image%d"/><p:cNvPicPr/><p:nvPr/></p:nvPicPr>
<p:blipFill><a:blip r:embed="%s"/><a:stretch><a:fillRect/></a:stretch></p:blipFill>
<p:spPr><a:xfrm><a:off x="1524000" y="2286000"/><a:ext cx="6096000" cy="3429000"/></a:xfrm>
<a:prstGeom prst="rect"><a:avLst/></a:prstGeom></p:spPr></p:pic>`, 10+i, i+1, relID))
	}

	return `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<p:sld xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main" xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships">
<p:cSld><p:spTree><p:nvGrpSpPr><p:cNvPr id="1" name=""/><p:cNvGrpSpPr/><p:nvPr/></p:nvGrpSpPr><p:grpSpPr/>
<p:sp><p:nvSpPr><p:cNvPr id="2" name="Title"/><p:cNvSpPr/><p:nvPr/></p:nvSpPr><p:spPr/>
<p:txBody><a:bodyPr/><a:p><a:r><a:rPr b="1" sz="3200"/><a:t>` + xmlEscape(slide.title) + `</a:t></a:r></a:p></p:txBody></p:sp>
<p:sp><p:nvSpPr><p:cNvPr id="3" name="Body"/><p:cNvSpPr/><p:nvPr/></p:nvSpPr><p:spPr/>
<p:txBody><a:bodyPr/>` + body.String() + `</p:txBody></p:sp>` + pics.String() + `
</p:spTree></p:cSld></p:sld>`
}
