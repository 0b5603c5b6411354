package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewMockForTests returns a *Bucket backed by an in-memory fake HTTP transport.
// Only the S3 operations the bucket uses are implemented.
func NewMockForTests() *Bucket {
	rt := &mockRoundTripper{state: make(map[string][]byte)}
	cfg, _ := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: rt}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
	})
	return &Bucket{client: client, bucket: "mock-bucket"}
}

type mockRoundTripper struct {
	mu    sync.Mutex
	state map[string][]byte
}

const noSuchKeyBody = `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`

func xmlResponse(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body)), Header: http.Header{"Content-Type": {"application/xml"}}}
}

func emptyResponse(status int, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(nil)), Header: header}
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) { //nolint:cyclop
	m.mu.Lock()
	defer m.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet && strings.Contains(req.URL.RawQuery, "list-type=2") {
		prefix := req.URL.Query().Get("prefix")
		var keys []string
		for k := range m.state {
			if prefix == "" || strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString("<?xml version=\"1.0\"?><ListBucketResult><IsTruncated>false</IsTruncated>")
		for _, k := range keys {
			b.WriteString("<Contents><Key>")
			b.WriteString(k)
			b.WriteString("</Key><Size>")
			b.WriteString(fmt.Sprintf("%d", len(m.state[k])))
			b.WriteString("</Size><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>")
		}
		b.WriteString("</ListBucketResult>")
		return xmlResponse(http.StatusOK, b.String()), nil
	}
	switch req.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if dec, ok := decodeChunkedLite(body); ok { // handle aws-chunked encoding
			body = dec
		}
		m.state[key] = body
		return emptyResponse(http.StatusOK, http.Header{"ETag": {"\"etag\""}}), nil
	case http.MethodGet:
		body, ok := m.state[key]
		if !ok {
			return xmlResponse(http.StatusNotFound, noSuchKeyBody), nil
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(body)), Header: http.Header{
			"Content-Length": {fmt.Sprintf("%d", len(body))},
			"Content-Type":   {contentType},
			"Last-Modified":  {time.Now().UTC().Format(http.TimeFormat)},
			"ETag":           {"\"etag\""},
		}}, nil
	case http.MethodDelete:
		delete(m.state, key)
		return emptyResponse(http.StatusNoContent, nil), nil
	}
	return emptyResponse(http.StatusNotImplemented, nil), nil
}

// decodeChunkedLite decodes a minimal single-chunk aws-chunked style payload: <hex>\r\n<body>\r\n0\r\n...
func decodeChunkedLite(b []byte) ([]byte, bool) {
	parts := strings.Split(string(b), "\r\n")
	if len(parts) < 3 {
		return nil, false
	}
	sz, perr := parseHex(parts[0])
	if perr != nil || int64(len(parts[1])) != sz || parts[2] != "0" {
		return nil, false
	}
	return []byte(parts[1]), true
}

func parseHex(h string) (int64, error) {
	var v int64
	for _, c := range h {
		v <<= 4
		switch {
		case c >= '0' && c <= '9':
			v += int64(c - '0')
		case c >= 'a' && c <= 'f':
			v += int64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			v += int64(c-'A') + 10
		default:
			return 0, fmt.Errorf("invalid hex")
		}
	}
	return v, nil
}
