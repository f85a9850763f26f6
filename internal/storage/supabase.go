package storage

import (
	"context"
	"fmt"
	"os"

	storage_go "github.com/supabase-community/storage-go"
	supa "github.com/supabase-community/supabase-go"
)

// SupabaseUploader stores objects in a public Supabase Storage bucket.
type SupabaseUploader struct {
	client *supa.Client
	bucket string
}

func NewSupabaseUploader(url, serviceKey, bucket string) (*SupabaseUploader, error) {
	if bucket == "" {
		return nil, fmt.Errorf("supabase bucket is required")
	}
	client, err := supa.NewClient(url, serviceKey, nil)
	if err != nil {
		return nil, fmt.Errorf("init supabase client: %w", err)
	}
	return &SupabaseUploader{client: client, bucket: bucket}, nil
}

func (u *SupabaseUploader) Upload(ctx context.Context, localPath, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	ct := contentType(localPath)
	upsert := true
	if _, err := u.client.Storage.UploadFile(u.bucket, key, f, storage_go.FileOptions{
		ContentType: &ct,
		Upsert:      &upsert,
	}); err != nil {
		return "", fmt.Errorf("upload %s to bucket %s: %w", key, u.bucket, err)
	}

	return u.client.Storage.GetPublicUrl(u.bucket, key).SignedURL, nil
}
