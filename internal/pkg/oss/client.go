// Package oss offloads large insight payloads to object storage so the
// database only holds a URL for them.
package oss

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"

	"github.com/repolens/repolens/config"
)

type Client struct {
	bucket     *oss.Bucket
	bucketName string
	cdnDomain  string
	endpoint   string
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
		cdnDomain:  cfg.CDNDomain,
		endpoint:   cfg.Endpoint,
	}, nil
}

// UploadInsights stores a raw insight payload and returns its URL.
func (c *Client) UploadInsights(jobID string, data []byte) (string, error) {
	objectKey := fmt.Sprintf("insights/%s/%d.json", jobID, time.Now().Unix())

	err := c.bucket.PutObject(objectKey, bytes.NewReader(data), oss.ContentType("application/json"))
	if err != nil {
		return "", fmt.Errorf("failed to upload insights: %w", err)
	}

	return c.GetURL(objectKey), nil
}

// Delete removes an object. Absent objects are not an error.
func (c *Client) Delete(objectKey string) error {
	if err := c.bucket.DeleteObject(objectKey); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// GetURL builds the public URL, preferring the CDN domain when set.
func (c *Client) GetURL(objectKey string) string {
	if c.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", strings.TrimPrefix(c.cdnDomain, "https://"), objectKey)
	}
	endpoint := strings.TrimPrefix(strings.TrimPrefix(c.endpoint, "https://"), "http://")
	return fmt.Sprintf("https://%s.%s/%s", c.bucketName, endpoint, objectKey)
}
