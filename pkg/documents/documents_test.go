package documents

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	"gocloud.dev/blob/memblob"
)

func TestFromURLs(t *testing.T) {
	tests := []struct {
		name    string
		urls    []string
		want    []Document
		wantErr string
	}{
		{
			name: "escaped spaces become underscores",
			urls: []string{"https://example.com/manuals/PumpWorks%20610%20PWI%20pump_Maintenance.pdf"},
			want: []Document{{
				URL:      "https://example.com/manuals/PumpWorks%20610%20PWI%20pump_Maintenance.pdf",
				FileName: "PumpWorks_610_PWI_pump_Maintenance.pdf",
				DocName:  "PumpWorks_610_PWI_pump_Maintenance",
			}},
		},
		{
			name:    "not http",
			urls:    []string{"file:///tmp/a.pdf"},
			wantErr: "scheme must be http or https",
		},
		{
			name:    "no file name",
			urls:    []string{"https://example.com/"},
			wantErr: "has no file name",
		},
		{
			name:    "duplicate staged name",
			urls:    []string{"https://a.example.com/x.pdf", "https://b.example.com/x.pdf"},
			wantErr: "both stage as x.pdf",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			got, err := FromURLs(tt.urls)
			if tt.wantErr != "" {
				assert.ErrorContains(err, tt.wantErr)
				return
			}
			if assert.NoError(err) {
				assert.Equal(tt.want, got)
			}
		})
	}
}

func TestCorpus(t *testing.T) {
	assert := assert.New(t)
	docs, err := Corpus(nil)
	assert.NoError(err)
	assert.Equal(DefaultCorpus, docs)
	assert.Equal("PumpWorks_610", docs[1].DocName)
	assert.Equal("PumpWorks_610_PWI_pump_Maintenance.pdf", CleanFileName("PumpWorks%20610%20PWI%20pump_Maintenance.pdf"))
}

func testServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/a.pdf", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("%PDF-a"))
	})
	mux.HandleFunc("/b.pdf", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("%PDF-bb"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch(t *testing.T) {
	srv := testServer(t)

	t.Run("stages every document in order", func(t *testing.T) {
		assert := assert.New(t)
		fs := afero.NewMemMapFs()
		docs := []Document{
			{URL: srv.URL + "/a.pdf", FileName: "a.pdf", DocName: "a"},
			{URL: srv.URL + "/b.pdf", FileName: "b.pdf", DocName: "b"},
		}

		staged, err := NewFetcher(fs, "stage", nil).Fetch(context.Background(), docs)
		require.NoError(t, err)
		require.Len(t, staged, 2)

		assert.Equal("a", staged[0].DocName)
		assert.Equal(filepath.Join("stage", "b.pdf"), staged[1].Path)
		assert.EqualValues(len("%PDF-bb"), staged[1].Size)

		content, err := afero.ReadFile(fs, staged[0].Path)
		assert.NoError(err)
		assert.Equal("%PDF-a", string(content))
	})

	t.Run("non 200 names the file", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		docs := []Document{{URL: srv.URL + "/missing.pdf", FileName: "missing.pdf"}}

		_, err := NewFetcher(fs, "stage", nil).Fetch(context.Background(), docs)
		assert.ErrorContains(t, err, "could not download missing.pdf")

		exists, _ := afero.Exists(fs, filepath.Join("stage", "missing.pdf"))
		assert.False(t, exists)
	})
}

// memBucket shares one in-memory store between handles. Each handle can be closed on its own.
func memBucket(fs afero.Fs) (*Bucket, func() *blob.Bucket) {
	store := memblob.OpenBucket(nil)
	handle := func() *blob.Bucket {
		return blob.PrefixedBucket(store, "")
	}
	return &Bucket{
		FS: fs,
		Open: func(ctx context.Context, name string) (*blob.Bucket, error) {
			return handle(), nil
		},
	}, handle
}

func TestUploadAndEmpty(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	fs := afero.NewMemMapFs()
	require.NoError(afero.WriteFile(fs, "stage/a.pdf", []byte("%PDF-a"), 0644))
	require.NoError(afero.WriteFile(fs, "stage/b.pdf", []byte("%PDF-b"), 0644))
	b, handle := memBucket(fs)
	mem := handle()
	defer mem.Close()

	err := b.Upload(ctx, "docs", []Staged{
		{Document: Document{FileName: "a.pdf"}, Path: "stage/a.pdf"},
		{Document: Document{FileName: "b.pdf"}, Path: "stage/b.pdf"},
	})
	require.NoError(err)

	attrs, err := mem.Attributes(ctx, "a.pdf")
	require.NoError(err)
	assert.Equal(ContentType, attrs.ContentType)
	data, err := mem.ReadAll(ctx, "b.pdf")
	require.NoError(err)
	assert.Equal("%PDF-b", string(data))

	require.NoError(b.Empty(ctx, "docs"))
	objs, _, err := mem.ListPage(ctx, blob.FirstPageToken, 10, nil)
	require.NoError(err)
	assert.Empty(objs)
}
