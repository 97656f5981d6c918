package store

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/pelletier/go-toml/v2"
	"github.com/qbit-dev/sandboxd/common/consts"
)

// ProjectMeta is the per-project manifest the manager needs to rebuild a
// sandbox after the in-memory session is gone.
type ProjectMeta struct {
	ProjectID  string    `toml:"project_id"`
	Mode       string    `toml:"mode"`
	ExternalID string    `toml:"external_id"`
	UpdatedAt  time.Time `toml:"updated_at"`
}

func (s *MinIOStore) metaKey(projectID string) string {
	return projectID + "/" + consts.ProjectMetaFile
}

func (s *MinIOStore) GetProjectMeta(ctx context.Context, projectID string) (*ProjectMeta, error) {
	obj, err := s.mc.GetObject(ctx, s.metaBucket, s.metaKey(projectID), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	mToml, err := io.ReadAll(obj)
	if err != nil {
		eResp := minio.ToErrorResponse(err)
		if eResp.Code == "NoSuchKey" {
			return nil, ErrMetaNotFound
		}
		return nil, err
	}
	meta := new(ProjectMeta)
	err = toml.Unmarshal(mToml, meta)
	if err != nil {
		return nil, err
	}
	return meta, nil
}

func (s *MinIOStore) PutProjectMeta(ctx context.Context, projectID string, meta *ProjectMeta) error {
	meta.UpdatedAt = time.Now()
	mToml, err := toml.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = s.mc.PutObject(
		ctx, s.metaBucket, s.metaKey(projectID),
		bytes.NewReader(mToml), int64(len(mToml)),
		minio.PutObjectOptions{ContentType: "application/toml"},
	)
	return err
}
