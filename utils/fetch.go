package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

var fetchClient = &http.Client{Timeout: 30 * time.Second}

// FetchURL downloads the given link and returns the body together with its
// sha256 hex digest and the ETag header if the server provided one.
func FetchURL(link string) (body []byte, hash string, etag string, err error) {
	resp, err := fetchClient.Get(link)
	if err != nil {
		return nil, "", "", ErrInErr{ErrDesc: "fetch failed", ErrDetail: err, Data: link}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", "", ErrInErr{ErrDesc: "fetch got bad status", Data: resp.Status}
	}

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", "", ErrInErr{ErrDesc: "fetch read failed", ErrDetail: err, Data: link}
	}

	sum := sha256.Sum256(body)
	hash = hex.EncodeToString(sum[:])

	if ce := CanLogDebug("fetched url"); ce != nil {
		ce.Write(zap.String("url", link), zap.String("size", humanize.Bytes(uint64(len(body)))))
	}

	return body, hash, resp.Header.Get("Etag"), nil
}
