package ingestion_engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/markdave123-py/regkb/internal/core/resilience"
	"github.com/markdave123-py/regkb/internal/models"
	perr "github.com/markdave123-py/regkb/internal/platform/errors"
)

const contentTypePDF = "application/pdf"

// payload is a request resolved to either raw pages or document bytes
type payload struct {
	pages       []Page
	data        []byte
	contentType string
}

func (p payload) isPDF() bool { return p.data != nil && p.contentType == contentTypePDF }

func (i *DocumentIngestor) resolvePayload(ctx context.Context, req *models.IngestRequest) (payload, error) {
	switch {
	case req.RawText != "":
		return payload{pages: splitFormFeed(req.RawText)}, nil
	case req.PDFBase64 != "":
		data, err := decodeBase64(req.PDFBase64)
		if err != nil {
			return payload{}, perr.WithField(perr.Wrap(err, perr.ErrorCodeValidation, "pdf_base64 is not valid base64"), "pdf_base64")
		}
		if int64(len(data)) > i.cfg.MaxPayloadBytes {
			return payload{}, perr.Validationf("document exceeds %d bytes", i.cfg.MaxPayloadBytes)
		}
		return payload{data: data, contentType: sniffContentType(data, "")}, nil
	case req.PDFURL != "":
		return i.fetch(ctx, req.PDFURL)
	default:
		return payload{}, perr.Validationf("one of pdf_base64, pdf_url or raw_text is required")
	}
}

// decodeBase64 accepts standard or URL alphabets, with or without padding, and data: URLs.
func decodeBase64(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, s)

	var firstErr error
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

func (i *DocumentIngestor) fetch(ctx context.Context, raw string) (payload, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return payload{}, perr.WithField(perr.Wrap(err, perr.ErrorCodeValidation, "invalid pdf_url"), "pdf_url")
	}

	switch u.Scheme {
	case "s3":
		if i.deps.Objects == nil {
			return payload{}, perr.Validationf("s3 urls need object storage to be configured")
		}
		bucket, key := parseS3URL(raw)
		data, err := i.deps.Objects.GetFile(ctx, bucket, key)
		if err != nil {
			return payload{}, perr.Wrapf(err, perr.ErrorCodeUnavailable, "fetch %s", raw)
		}
		return payload{data: data, contentType: sniffContentType(data, mime.TypeByExtension(extOf(key)))}, nil

	case "http", "https":
		resp, err := i.deps.Caller.Do(ctx, resilience.Request{Method: http.MethodGet, URL: raw}, i.cfg.Fetch)
		if err != nil {
			return payload{}, fmt.Errorf("fetch %s: %w", raw, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			code := perr.ErrorCodeUnavailable
			if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden {
				code = perr.ErrorCodeValidation
			}
			return payload{}, perr.Newf(code, "fetch %s: status %d", raw, resp.StatusCode)
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, i.cfg.MaxPayloadBytes+1))
		if err != nil {
			return payload{}, perr.Wrapf(err, perr.ErrorCodeUnavailable, "read %s", raw)
		}
		if int64(len(data)) > i.cfg.MaxPayloadBytes {
			return payload{}, perr.Validationf("document exceeds %d bytes", i.cfg.MaxPayloadBytes)
		}
		return payload{data: data, contentType: sniffContentType(data, resp.Header.Get("Content-Type"))}, nil

	default:
		return payload{}, perr.WithField(perr.Validationf("unsupported url scheme %q", u.Scheme), "pdf_url")
	}
}

// sniffContentType trusts the PDF magic first, then the declared type, then net/http sniffing.
func sniffContentType(data []byte, declared string) string {
	if bytes.HasPrefix(bytes.TrimLeft(data[:min(len(data), 1024)], "\x00\t\r\n "), []byte("%PDF-")) {
		return contentTypePDF
	}
	if declared != "" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mt
}

func extOf(key string) string {
	if i := strings.LastIndex(key, "."); i >= 0 && !strings.Contains(key[i:], "/") {
		return key[i:]
	}
	return ""
}

// parseS3URL extracts the bucket and key from s3://bucket/key or a virtual-hosted–style URL.
// Example: https://my-bucket.s3.us-east-2.amazonaws.com/path/to/file.pdf
func parseS3URL(u string) (bucket, key string) {
	if rest, ok := strings.CutPrefix(u, "s3://"); ok {
		bucket, key, _ = strings.Cut(rest, "/")
		return bucket, key
	}
	hostPath := strings.SplitN(strings.TrimPrefix(u, "https://"), "/", 2)
	host := hostPath[0]
	if len(hostPath) == 2 {
		key = hostPath[1]
	}
	parts := strings.Split(host, ".")
	if len(parts) > 0 {
		bucket = parts[0]
	}
	return bucket, key
}
