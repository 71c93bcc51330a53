package kml

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/mholt/archiver/v3"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

var charsetReader = charset.NewReaderLabel

// ReadKMZ 从 KMZ 中取出主文档：优先 doc.kml，否则第一个 .kml。返回内容和包内文件名。
func ReadKMZ(src string) ([]byte, string, error) {
	var (
		found   []byte
		name    string
		primary bool
	)
	z := archiver.NewZip()
	err := z.Walk(src, func(f archiver.File) error {
		if f.IsDir() || primary {
			return nil
		}
		entry := f.Name()
		if hdr, ok := f.Header.(zip.FileHeader); ok {
			entry = hdr.Name
			if hdr.NonUTF8 || !utf8.ValidString(entry) {
				entry = gbkToUtf8(entry)
			}
		}
		if !strings.EqualFold(path.Ext(entry), ".kml") {
			return nil
		}
		isDoc := strings.EqualFold(path.Base(entry), "doc.kml")
		if found != nil && !isDoc {
			return nil
		}
		data, err := io.ReadAll(f)
		if err != nil {
			return fmt.Errorf("read %s: %w", entry, err)
		}
		found, name, primary = data, entry, isDoc
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("open kmz %s: %w", src, err)
	}
	if found == nil {
		return nil, "", fmt.Errorf("kmz %s contains no .kml document", src)
	}
	return found, name, nil
}

// gbkToUtf8 国内工具打包的 KMZ 文件名常为 GBK 编码
func gbkToUtf8(s string) string {
	r := transform.NewReader(bytes.NewReader([]byte(s)), simplifiedchinese.GB18030.NewDecoder())
	d, err := io.ReadAll(r)
	if err != nil {
		return s
	}
	return string(d)
}

// WriteKMZ 把文档打包为 KMZ，包内主文档为 doc.kml
func WriteKMZ(dst string, data []byte) error {
	dir, err := os.MkdirTemp("", "kmz-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)
	doc := filepath.Join(dir, "doc.kml")
	if err := os.WriteFile(doc, data, 0o644); err != nil {
		return err
	}
	src, err := os.Open(doc)
	if err != nil {
		return err
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	z := archiver.NewZip()
	if err := z.Create(out); err != nil {
		out.Close()
		return fmt.Errorf("write kmz %s: %w", dst, err)
	}
	werr := z.Write(archiver.File{
		FileInfo:   archiver.FileInfo{FileInfo: info, CustomName: "doc.kml"},
		ReadCloser: src,
	})
	cerr := z.Close()
	if err := out.Close(); err != nil && werr == nil && cerr == nil {
		cerr = err
	}
	if werr != nil {
		return fmt.Errorf("write kmz %s: %w", dst, werr)
	}
	if cerr != nil {
		return fmt.Errorf("write kmz %s: %w", dst, cerr)
	}
	return nil
}
