package storage

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shaiso/prreview/internal/domain"
)

func TestObjectKey(t *testing.T) {
	task := domain.NewTask("fp", "Octo/Repo", 6, "abc", time.Now())

	key := ObjectKey(task)
	want := "reports/octo/repo/6/" + task.ID.String() + ".json"
	if key != want {
		t.Errorf("expected %s, got %s", want, key)
	}
}

func TestParseRef(t *testing.T) {
	bucket, key, err := ParseRef("s3://reports-bucket/reports/octo/repo/6/id.json")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if bucket != "reports-bucket" || key != "reports/octo/repo/6/id.json" {
		t.Errorf("unexpected split: %s %s", bucket, key)
	}

	for _, bad := range []string{"", "http://x/y", "s3://bucket", "s3:///key"} {
		if _, _, err := ParseRef(bad); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("ParseRef(%q): expected ErrInvalidInput, got %v", bad, err)
		}
	}
}

func TestNewMinio_RequiresEndpointAndBucket(t *testing.T) {
	_, err := NewMinio(t.Context(), MinioConfig{Bucket: "b"}, nil, nil)
	if !errors.Is(err, ErrNotConfigured) || !strings.Contains(err.Error(), "endpoint") {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}
