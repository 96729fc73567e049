package contentstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"medshare/pkg/fault"
	"medshare/pkg/logger"

	"go.uber.org/zap"
)

const DefaultPinataURL = "https://api.pinata.cloud"

type PinataConfig struct {
	APIURL     string
	APIKey     string
	APISecret  string
	HTTPClient *http.Client
}

// Pinata stores blobs through the Pinata pinning API. Fingerprints are CIDv0.
type Pinata struct {
	apiURL string
	key    string
	secret string
	http   *http.Client
}

type pinataMetadata struct {
	Name      string            `json:"name"`
	KeyValues map[string]string `json:"keyvalues"`
}

type pinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

// NewPinata fails fast when either credential is missing.
func NewPinata(cfg PinataConfig) (*Pinata, error) {
	logger.Log.Info("pinata configuration",
		zap.String("api_key", logger.Presence(cfg.APIKey)),
		zap.String("api_secret", logger.Presence(cfg.APISecret)),
	)
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fault.New(fault.StoreUnavailable, fault.StageUpload, "content store credentials are missing")
	}
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = DefaultPinataURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Pinata{
		apiURL: strings.TrimRight(apiURL, "/"),
		key:    cfg.APIKey,
		secret: cfg.APISecret,
		http:   client,
	}, nil
}

func (p *Pinata) Put(ctx context.Context, data []byte, meta Metadata) (string, error) {
	if err := CheckSize(int64(len(data))); err != nil {
		return "", err
	}

	body, contentType, err := encodePin(data, meta)
	if err != nil {
		return "", fault.Wrap(fault.Unknown, fault.StageUpload, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/pinning/pinFileToIPFS", body)
	if err != nil {
		return "", fault.Wrap(fault.StoreUnavailable, fault.StageUpload, err)
	}
	req.Header.Set("Content-Type", contentType)
	p.authorize(req)

	resp, err := p.http.Do(req)
	if err != nil {
		logger.Sugar.Errorf("Pinata request failed: %v", err)
		return "", fault.Wrap(fault.StoreUnavailable, fault.StageUpload, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fault.Wrap(fault.StoreUnavailable, fault.StageUpload, err)
	}
	if err := classifyStatus(resp.StatusCode, resp.Status, raw); err != nil {
		logger.Log.Warn("pinata rejected upload",
			zap.Int("status", resp.StatusCode),
			zap.String("name", meta.Name),
			zap.Error(err),
		)
		return "", err
	}

	var pin pinResponse
	if err := json.Unmarshal(raw, &pin); err != nil {
		return "", fault.Newf(fault.StoreRejected, fault.StageUpload, "unreadable response: %v", err)
	}
	if pin.IpfsHash == "" {
		return "", fault.New(fault.StoreRejected, fault.StageUpload, "response did not include a fingerprint")
	}
	logger.Log.Info("blob pinned",
		zap.String("fingerprint", pin.IpfsHash),
		zap.Int64("size", pin.PinSize),
	)
	return pin.IpfsHash, nil
}

// CheckAuth verifies the configured credentials against the API.
func (p *Pinata) CheckAuth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL+"/data/testAuthentication", nil)
	if err != nil {
		return fault.Wrap(fault.StoreUnavailable, fault.StageUpload, err)
	}
	p.authorize(req)
	resp, err := p.http.Do(req)
	if err != nil {
		return fault.Wrap(fault.StoreUnavailable, fault.StageUpload, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	return classifyStatus(resp.StatusCode, resp.Status, raw)
}

func (p *Pinata) authorize(req *http.Request) {
	req.Header.Set("pinata_api_key", p.key)
	req.Header.Set("pinata_secret_api_key", p.secret)
}

func encodePin(data []byte, meta Metadata) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	name := meta.Name
	if name == "" {
		name = "document"
	}
	mediaType := meta.MediaType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", mediaType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}

	size := meta.Size
	if size == 0 {
		size = int64(len(data))
	}
	md, err := json.Marshal(pinataMetadata{
		Name:      name,
		KeyValues: map[string]string{"type": mediaType, "size": fmt.Sprint(size)},
	})
	if err != nil {
		return nil, "", err
	}
	if err := w.WriteField("pinataMetadata", string(md)); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("pinataOptions", `{"cidVersion":0}`); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func classifyStatus(code int, status string, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	reason := errorReason(body)
	if reason == "" {
		reason = "HTTP " + status
	}
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		return fault.New(fault.StoreUnavailable, fault.StageUpload, "credentials rejected: "+reason)
	}
	return fault.New(fault.StoreRejected, fault.StageUpload, reason)
}

// errorReason digs the message out of the shapes Pinata uses for errors:
// {"error":{"reason","details"}}, {"error":"..."} and {"message":"..."}.
func errorReason(body []byte) string {
	var envelope struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	if len(envelope.Error) > 0 {
		var detailed struct {
			Reason  string `json:"reason"`
			Details string `json:"details"`
		}
		if json.Unmarshal(envelope.Error, &detailed) == nil {
			if detailed.Details != "" {
				return detailed.Details
			}
			if detailed.Reason != "" {
				return detailed.Reason
			}
		}
		var plain string
		if json.Unmarshal(envelope.Error, &plain) == nil && plain != "" {
			return plain
		}
	}
	return envelope.Message
}
