package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// CloudinaryStore keeps documents in Cloudinary. References are public IDs
// followed by the stored format, e.g. "kkn/12/krs-ab12.pdf".
type CloudinaryStore struct {
	cld    *cloudinary.Cloudinary
	folder string
}

func NewCloudinaryStore(cloudinaryURL, folder string) (*CloudinaryStore, error) {
	cld, err := cloudinary.NewFromURL(cloudinaryURL)
	if err != nil {
		return nil, fmt.Errorf("init cloudinary: %w", err)
	}
	return &CloudinaryStore{cld: cld, folder: folder}, nil
}

func (s *CloudinaryStore) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	if key == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	// Cloudinary appends the format itself.
	publicID := strings.TrimSuffix(key, path.Ext(key))

	res, err := s.cld.Upload.Upload(ctx, r, uploader.UploadParams{
		Folder:       s.folder,
		PublicID:     publicID,
		ResourceType: "image",
	})
	if err != nil {
		return "", fmt.Errorf("cloudinary upload %s: %w", key, err)
	}
	if res.Error.Message != "" {
		return "", fmt.Errorf("cloudinary upload %s: %s", key, res.Error.Message)
	}
	return cloudinaryRef(res.PublicID, res.Format, key), nil
}

// cloudinaryRef appends the format Cloudinary stored, or the key's extension
// when the response carries none.
func cloudinaryRef(publicID, format, key string) string {
	ext := strings.ToLower(strings.TrimPrefix(format, "."))
	if ext == "" {
		ext = strings.ToLower(strings.TrimPrefix(path.Ext(key), "."))
	}
	if ext == "" {
		return publicID
	}
	return publicID + "." + ext
}

func publicIDFromRef(ref string) string {
	return strings.TrimSuffix(ref, path.Ext(ref))
}

// Open fetches the delivered asset over HTTPS. The extension in ref selects
// the delivery format.
func (s *CloudinaryStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	img, err := s.cld.Image(ref)
	if err != nil {
		return nil, fmt.Errorf("cloudinary asset %s: %w", ref, err)
	}
	img.Config.URL.Secure = true
	deliveryURL, err := img.String()
	if err != nil {
		return nil, fmt.Errorf("cloudinary url %s: %w", ref, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, deliveryURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloudinary fetch %s: %w", ref, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotExist, ref)
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, fmt.Errorf("cloudinary fetch %s: status %d", ref, resp.StatusCode)
	}
	return resp.Body, nil
}

func (s *CloudinaryStore) Delete(ctx context.Context, ref string) error {
	res, err := s.cld.Upload.Destroy(ctx, uploader.DestroyParams{
		PublicID:     publicIDFromRef(ref),
		ResourceType: "image",
	})
	if err != nil {
		return fmt.Errorf("cloudinary destroy %s: %w", ref, err)
	}
	if res.Error.Message != "" {
		return fmt.Errorf("cloudinary destroy %s: %s", ref, res.Error.Message)
	}
	return nil
}
