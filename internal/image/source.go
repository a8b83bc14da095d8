// Package image validates and resolves the image input of a generation
// request. A request carries exactly one of an inline base64 payload or a
// URL; inline payloads are decoded at submit time, URLs are fetched by the
// worker just before inference.
package image

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
)

var (
	ErrNoSource    = errors.New("either image or image_url is required")
	ErrBothSources = errors.New("image and image_url are mutually exclusive")
	ErrBadEncoding = errors.New("image is not valid base64")
	ErrBadURL      = errors.New("image_url must be an absolute http or https URL")
)

// Source is a validated image input. Exactly one of Inline or URL is set.
type Source struct {
	Inline []byte
	URL    string
}

// ParseSource validates the raw request fields and returns a Source.
// imageB64 is decoded eagerly so malformed payloads are rejected before a
// job is created.
func ParseSource(imageB64, imageURL string) (Source, error) {
	switch {
	case imageB64 == "" && imageURL == "":
		return Source{}, ErrNoSource
	case imageB64 != "" && imageURL != "":
		return Source{}, ErrBothSources
	}

	if imageB64 != "" {
		data, err := base64.StdEncoding.DecodeString(imageB64)
		if err != nil {
			return Source{}, fmt.Errorf("%w: %v", ErrBadEncoding, err)
		}
		if len(data) == 0 {
			return Source{}, fmt.Errorf("%w: empty payload", ErrBadEncoding)
		}
		return Source{Inline: data}, nil
	}

	u, err := url.Parse(imageURL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return Source{}, ErrBadURL
	}
	return Source{URL: imageURL}, nil
}
