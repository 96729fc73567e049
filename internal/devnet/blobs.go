package devnet

import (
	"context"
	"crypto/sha256"

	"medshare/internal/contentstore"
	"medshare/pkg/fault"
	"medshare/pkg/logger"

	"github.com/mr-tron/base58"
	"github.com/syndtr/goleveldb/leveldb"
	"go.uber.org/zap"
)

// Blobs is a content store kept in Storage. Fingerprints have the CIDv0
// shape: base58 of the sha2-256 multihash of the raw bytes.
type Blobs struct {
	store *Storage
}

var _ contentstore.Store = (*Blobs)(nil)

type blobMeta struct {
	Name      string `json:"name"`
	MediaType string `json:"media_type"`
	Size      int64  `json:"size"`
}

func NewBlobs(store *Storage) *Blobs {
	return &Blobs{store: store}
}

// Fingerprint returns the fingerprint Put would assign to data.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return base58.Encode(append([]byte{0x12, 0x20}, sum[:]...))
}

func (b *Blobs) Put(ctx context.Context, data []byte, meta contentstore.Metadata) (string, error) {
	if err := contentstore.CheckSize(int64(len(data))); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", fault.Wrap(fault.StoreUnavailable, fault.StageUpload, err)
	}
	fp := Fingerprint(data)
	batch := new(leveldb.Batch)
	batch.Put([]byte("blob:"+fp), data)
	if err := putJSON(batch, "blobmeta:"+fp, blobMeta{Name: meta.Name, MediaType: meta.MediaType, Size: int64(len(data))}); err != nil {
		return "", fault.Wrap(fault.StoreRejected, fault.StageUpload, err)
	}
	if err := b.store.db.Write(batch, nil); err != nil {
		return "", fault.Wrap(fault.StoreUnavailable, fault.StageUpload, err)
	}
	logger.Log.Info("blob stored", zap.String("fingerprint", fp), zap.Int("size", len(data)))
	return fp, nil
}

// Get returns a stored blob and its metadata. ok is false when fp is unknown.
func (b *Blobs) Get(ctx context.Context, fp string) (data []byte, meta contentstore.Metadata, ok bool, err error) {
	data, ok, err = b.store.get("blob:" + fp)
	if err != nil || !ok {
		return nil, meta, ok, err
	}
	var m blobMeta
	if _, err := b.store.getJSON("blobmeta:"+fp, &m); err != nil {
		return nil, meta, false, err
	}
	return data, contentstore.Metadata{Name: m.Name, MediaType: m.MediaType, Size: m.Size}, true, nil
}
