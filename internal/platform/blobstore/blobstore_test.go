package blobstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestInMemoryBlobStore_UploadAndDownload(t *testing.T) {
	store := NewInMemoryBlobStore()

	meta := BlobMetadata{
		FileName:    "smear-001.png",
		ContentType: "image/png",
		CreatedBy:   "tech-1",
	}
	stored, err := store.Upload(context.Background(), meta, strings.NewReader("fake image bytes"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if stored.ID == "" {
		t.Fatal("expected a storage reference to be assigned")
	}
	if stored.Size != int64(len("fake image bytes")) {
		t.Errorf("expected size %d, got %d", len("fake image bytes"), stored.Size)
	}
	if stored.Hash == "" {
		t.Error("expected content hash")
	}

	rc, gotMeta, err := store.Download(context.Background(), stored.ID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer rc.Close()

	data, _ := io.ReadAll(rc)
	if string(data) != "fake image bytes" {
		t.Errorf("unexpected content: %q", data)
	}
	if gotMeta.FileName != "smear-001.png" {
		t.Errorf("unexpected file name: %s", gotMeta.FileName)
	}
}

func TestInMemoryBlobStore_RejectsMissingFileName(t *testing.T) {
	store := NewInMemoryBlobStore()
	_, err := store.Upload(context.Background(), BlobMetadata{}, strings.NewReader("x"))
	if !errors.Is(err, ErrMissingFileName) {
		t.Fatalf("expected ErrMissingFileName, got %v", err)
	}
}

func TestInMemoryBlobStore_RejectsDisallowedContentType(t *testing.T) {
	store := NewInMemoryBlobStore()
	meta := BlobMetadata{FileName: "report.exe", ContentType: "application/octet-stream"}
	_, err := store.Upload(context.Background(), meta, strings.NewReader("x"))
	if !errors.Is(err, ErrInvalidContentType) {
		t.Fatalf("expected ErrInvalidContentType, got %v", err)
	}
}

func TestInMemoryBlobStore_DownloadMissing(t *testing.T) {
	store := NewInMemoryBlobStore()
	_, _, err := store.Download(context.Background(), "nope")
	if !errors.Is(err, ErrBlobNotFound) {
		t.Fatalf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestInMemoryBlobStore_Delete(t *testing.T) {
	store := NewInMemoryBlobStore()
	stored, err := store.Upload(context.Background(),
		BlobMetadata{FileName: "a.png", ContentType: "image/png"}, strings.NewReader("x"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if err := store.Delete(context.Background(), stored.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetMetadata(context.Background(), stored.ID); !errors.Is(err, ErrBlobNotFound) {
		t.Fatalf("expected ErrBlobNotFound after delete, got %v", err)
	}
}
