package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// FileStore is the durable truth for project file content. Sandbox
// filesystems are disposable projections of it.
type FileStore interface {
	GetAllFiles(ctx context.Context, projectID string) (map[string]string, error)
	WriteFile(ctx context.Context, projectID string, path string, content string) error
	DeleteFile(ctx context.Context, projectID string, path string) error
	GetProjectMeta(ctx context.Context, projectID string) (*ProjectMeta, error)
	PutProjectMeta(ctx context.Context, projectID string, meta *ProjectMeta) error
}

var ErrMetaNotFound = fmt.Errorf("project meta not found")

type MinIOConfigure struct {
	Endpoint    string                     `yaml:"endpoint"`
	Credentials *MinIOCredentialsConfigure `yaml:"credentials"`
	SSL         bool                       `yaml:"ssl"`
	Buckets     *MinIOBucketsConfigure     `yaml:"buckets"`
}

type MinIOCredentialsConfigure struct {
	AccessKey string `yaml:"access-key"`
	SecretKey string `yaml:"secret-key"`
}

type MinIOBucketsConfigure struct {
	Files string `yaml:"files"`
	Meta  string `yaml:"meta"`
}

// MinIOStore keeps one object per (project, path) in the files bucket and
// a project.toml manifest per project in the meta bucket.
type MinIOStore struct {
	mc          *minio.Client
	filesBucket string
	metaBucket  string
}

func NewMinIOStore(conf *MinIOConfigure) (*MinIOStore, error) {
	mc, err := minio.New(conf.Endpoint, &minio.Options{
		Creds: credentials.NewStaticV4(
			conf.Credentials.AccessKey, conf.Credentials.SecretKey, "",
		),
		Secure: conf.SSL,
	})
	if err != nil {
		return nil, err
	}
	return &MinIOStore{
		mc:          mc,
		filesBucket: conf.Buckets.Files,
		metaBucket:  conf.Buckets.Meta,
	}, nil
}

func (s *MinIOStore) objectKey(projectID string, path string) string {
	return projectID + "/" + strings.TrimPrefix(path, "/")
}

func (s *MinIOStore) GetAllFiles(ctx context.Context, projectID string) (map[string]string, error) {
	files := make(map[string]string)
	prefix := projectID + "/"
	for obj := range s.mc.ListObjects(ctx, s.filesBucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		o, err := s.mc.GetObject(ctx, s.filesBucket, obj.Key, minio.GetObjectOptions{})
		if err != nil {
			return nil, err
		}
		content, err := io.ReadAll(o)
		o.Close()
		if err != nil {
			return nil, err
		}
		files[strings.TrimPrefix(obj.Key, prefix)] = string(content)
	}
	return files, nil
}

func (s *MinIOStore) WriteFile(ctx context.Context, projectID string, path string, content string) error {
	sum := sha256.Sum256([]byte(content))
	_, err := s.mc.PutObject(
		ctx, s.filesBucket, s.objectKey(projectID, path),
		bytes.NewReader([]byte(content)), int64(len(content)),
		minio.PutObjectOptions{
			ContentType: "text/plain",
			UserMetadata: map[string]string{
				"Content-Sha256": hex.EncodeToString(sum[:]),
			},
		},
	)
	return err
}

func (s *MinIOStore) DeleteFile(ctx context.Context, projectID string, path string) error {
	return s.mc.RemoveObject(
		ctx, s.filesBucket, s.objectKey(projectID, path),
		minio.RemoveObjectOptions{},
	)
}
