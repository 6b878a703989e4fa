// Package inspect sniffs uploaded files: content type and, for PDFs, page count.
package inspect

import (
	"archive/zip"
	"bytes"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

const (
	MimePDF         = "application/pdf"
	MimeDOCX        = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeXLSX        = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MimePPTX        = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	mimeOctetStream = "application/octet-stream"
)

type Info struct {
	MimeType  string `json:"mimeType"`
	PageCount int    `json:"pageCount,omitempty"`
}

// Describe detects the content type of data and counts PDF pages. Page
// counting is best effort: unreadable PDFs report zero pages.
func Describe(fileName string, data []byte) Info {
	info := Info{MimeType: DetectMimeType(fileName, data)}
	if info.MimeType == MimePDF {
		info.PageCount = pdfPageCount(data)
	}
	return info
}

// DetectMimeType sniffs the first bytes of data, resolving zip containers to
// their office format and falling back to the file extension.
func DetectMimeType(fileName string, data []byte) string {
	sniffed := normalize(http.DetectContentType(data))
	switch sniffed {
	case "application/zip":
		if mapped := mapOOXMLFromZip(data); mapped != "" {
			return mapped
		}
		return sniffed
	case mimeOctetStream, "text/plain":
		if byExt := normalize(mime.TypeByExtension(strings.ToLower(filepath.Ext(fileName)))); byExt != "" {
			return byExt
		}
	}
	return sniffed
}

func normalize(mimeType string) string {
	return strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))
}

func pdfPageCount(data []byte) (n int) {
	defer func() {
		if recover() != nil {
			n = 0
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0
	}
	return r.NumPage()
}

func mapOOXMLFromZip(data []byte) string {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ""
	}
	for _, f := range zr.File {
		switch strings.ReplaceAll(f.Name, "\\", "/") {
		case "word/document.xml":
			return MimeDOCX
		case "xl/workbook.xml":
			return MimeXLSX
		case "ppt/presentation.xml":
			return MimePPTX
		}
	}
	return ""
}
