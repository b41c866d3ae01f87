package archive

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeS3 struct {
	puts map[string]string
	fail string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if *in.Key == f.fail {
		return nil, errors.New("access denied")
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.puts[*in.Bucket+"/"+*in.Key] = string(body)
	return &s3.PutObjectOutput{}, nil
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestUpload(t *testing.T) {
	dir := t.TempDir()
	jsonl := writeFile(t, dir, "listings.jsonl", "{\"url\":\"a\"}\n")
	csv := writeFile(t, dir, "listings.csv", "url\na\n")
	client := &fakeS3{puts: map[string]string{}}
	u := NewUploader(client, "bucket", "runs")

	keys, err := u.Upload(context.Background(), "run-1", jsonl, filepath.Join(dir, "missing.csv"), csv)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(keys) != 2 || keys[0] != "runs/run-1/listings.jsonl" || keys[1] != "runs/run-1/listings.csv" {
		t.Fatalf("keys = %v", keys)
	}
	if got := client.puts["bucket/runs/run-1/listings.csv"]; got != "url\na\n" {
		t.Errorf("csv body = %q", got)
	}
}

func TestUpload_StopsOnFailure(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.jsonl", "a")
	b := writeFile(t, dir, "b.jsonl", "b")
	client := &fakeS3{puts: map[string]string{}, fail: "runs/r/a.jsonl"}
	u := NewUploader(client, "bucket", "runs")

	keys, err := u.Upload(context.Background(), "r", a, b)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(keys) != 0 || len(client.puts) != 0 {
		t.Errorf("nothing should be uploaded after the failure, got %v", keys)
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"x.jsonl": "application/x-ndjson",
		"x.csv":   "text/csv",
		"x.bin":   "application/octet-stream",
	}
	for file, want := range tests {
		if got := *contentType(file); got != want {
			t.Errorf("contentType(%s) = %s, want %s", file, got, want)
		}
	}
}
