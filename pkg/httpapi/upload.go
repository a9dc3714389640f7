package httpapi

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"taskmarket/pkg/errutil"
	"taskmarket/pkg/minio"

	"github.com/gin-gonic/gin"
)

// FormFile reads an optional multipart file. It returns (nil, nil, nil) when the
// field is absent. The content type is sniffed, never taken from the client.
// The caller closes the returned file once the upload has been stored.
func FormFile(c *gin.Context, field string, maxBytes int64) (*minio.Upload, io.Closer, error) {
	header, err := c.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, errutil.BadRequest("invalid multipart body", err)
	}
	if maxBytes > 0 && header.Size > maxBytes {
		return nil, nil, errutil.ValidationFailed("file too large", nil, errutil.WithDetails(
			errutil.Detail{Field: field, Message: "file exceeds the upload limit"},
		))
	}
	if header.Size == 0 {
		return nil, nil, errutil.ValidationFailed("empty file", nil, errutil.WithDetails(
			errutil.Detail{Field: field, Message: "file is empty"},
		))
	}

	f, err := header.Open()
	if err != nil {
		return nil, nil, errutil.BadRequest("failed to read upload", err)
	}

	contentType, err := sniff(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, errutil.BadRequest("failed to read upload", err)
	}

	return &minio.Upload{
		Filename:    header.Filename,
		ContentType: contentType,
		Size:        header.Size,
		Body:        f,
	}, f, nil
}

func sniff(f multipart.File) (string, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return http.DetectContentType(head[:n]), nil
}
