package oss

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"

	"github.com/qs3c/style_go_server/config"
)

type Client struct {
	bucket     *oss.Bucket
	bucketName string
	endpoint   string
	cdnDomain  string
}

func NewClient(cfg *config.OSSConfig) (*Client, error) {
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create OSS client: %w", err)
	}

	bucket, err := client.Bucket(cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}

	return &Client{
		bucket:     bucket,
		bucketName: cfg.BucketName,
		endpoint:   strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://"),
		cdnDomain:  cfg.CDNDomain,
	}, nil
}

// UploadAvatar 上传用户头像，类型按内容嗅探
func (c *Client) UploadAvatar(userID int64, data []byte) (string, error) {
	contentType := http.DetectContentType(data)
	ext, ok := imageExt[contentType]
	if !ok {
		return "", fmt.Errorf("unsupported avatar type: %s", contentType)
	}
	objectKey := fmt.Sprintf("avatars/%d/%d%s", userID, time.Now().UnixNano(), ext)
	return c.UploadFile(objectKey, data, contentType)
}

// UploadFile 上传通用文件
func (c *Client) UploadFile(objectKey string, data []byte, contentType string) (string, error) {
	err := c.bucket.PutObject(objectKey, bytes.NewReader(data), oss.ContentType(contentType))
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}

	return c.GetURL(objectKey), nil
}

// Delete 删除文件
func (c *Client) Delete(objectKey string) error {
	if err := c.bucket.DeleteObject(objectKey); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// GetURL 获取文件访问 URL
func (c *Client) GetURL(objectKey string) string {
	if c.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", c.cdnDomain, objectKey)
	}
	return fmt.Sprintf("https://%s.%s/%s", c.bucketName, c.endpoint, objectKey)
}

// ExtractObjectKey 从访问 URL 中取回 object key，非本 bucket 的 URL 返回空
func (c *Client) ExtractObjectKey(url string) string {
	prefixes := []string{fmt.Sprintf("https://%s.%s/", c.bucketName, c.endpoint)}
	if c.cdnDomain != "" {
		prefixes = append(prefixes, fmt.Sprintf("https://%s/", c.cdnDomain))
	}
	for _, p := range prefixes {
		if strings.HasPrefix(url, p) {
			return url[len(p):]
		}
	}
	return ""
}

var imageExt = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}
