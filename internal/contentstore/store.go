// Package contentstore pushes blobs to a content-addressed store and returns
// their fingerprints. Puts are not retried here and cannot be undone.
package contentstore

import (
	"context"
	"strings"

	"medshare/pkg/fault"
)

// MaxBlobSize is the largest payload accepted, checked before any network call.
const MaxBlobSize = 10 << 20

// Metadata describes the blob being stored.
type Metadata struct {
	Name      string
	MediaType string
	Size      int64
}

type Store interface {
	Put(ctx context.Context, data []byte, meta Metadata) (fingerprint string, err error)
}

// CheckSize rejects payloads over MaxBlobSize.
func CheckSize(size int64) error {
	if size > MaxBlobSize {
		return fault.Newf(fault.PayloadTooLarge, fault.StageUpload, "file is %d bytes; the limit is %d", size, MaxBlobSize)
	}
	return nil
}

// GatewayURL resolves a fingerprint to a retrieval URL under gateway.
func GatewayURL(gateway, fingerprint string) string {
	return strings.TrimRight(gateway, "/") + "/ipfs/" + fingerprint
}
