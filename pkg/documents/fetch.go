package documents

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gojek/heimdall/v7"
	"github.com/gojek/heimdall/v7/httpclient"
	"github.com/klothoplatform/cortexrag/pkg/logging"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Staged is a document written to the staging directory.
type Staged struct {
	Document
	Path string
	Size int64
}

type Fetcher struct {
	Client heimdall.Doer
	FS     afero.Fs
	Dir    string

	// Concurrency bounds parallel downloads. Zero means unbounded.
	Concurrency int
	// Progress receives the download progress bar. Nil disables it.
	Progress io.Writer
}

func NewHTTPClient() *httpclient.Client {
	backoff := heimdall.NewExponentialBackoff(500*time.Millisecond, 10*time.Second, 2, 250*time.Millisecond)
	return httpclient.NewClient(
		httpclient.WithHTTPTimeout(2*time.Minute),
		httpclient.WithRetryCount(3),
		httpclient.WithRetrier(heimdall.NewRetrier(backoff)),
	)
}

func NewFetcher(fs afero.Fs, dir string, progress io.Writer) *Fetcher {
	return &Fetcher{
		Client:      NewHTTPClient(),
		FS:          fs,
		Dir:         dir,
		Concurrency: 4,
		Progress:    progress,
	}
}

// Fetch downloads every document into the staging directory. The result is in the same order as docs.
func (f *Fetcher) Fetch(ctx context.Context, docs []Document) ([]Staged, error) {
	log := logging.GetLogger(ctx).Named("documents")
	if err := f.FS.MkdirAll(f.Dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create staging directory %s: %w", f.Dir, err)
	}

	out := f.Progress
	if out == nil {
		out = io.Discard
	}
	bar := progressbar.NewOptions64(-1,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription(fmt.Sprintf("downloading %d documents", len(docs))),
		progressbar.OptionShowBytes(true),
		progressbar.OptionClearOnFinish(),
	)

	staged := make([]Staged, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	if f.Concurrency > 0 {
		g.SetLimit(f.Concurrency)
	}
	for i, doc := range docs {
		g.Go(func() error {
			s, err := f.fetch(gctx, doc, bar)
			if err != nil {
				return err
			}
			log.Debug("downloaded document", zap.String("file", s.FileName), zap.Int64("bytes", s.Size))
			staged[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	_ = bar.Finish()
	log.Info("documents staged", zap.Int("count", len(staged)), zap.String("dir", f.Dir))
	return staged, nil
}

func (f *Fetcher) fetch(ctx context.Context, doc Document, bar io.Writer) (Staged, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, doc.URL, nil)
	if err != nil {
		return Staged{}, fmt.Errorf("could not download %s: %w", doc.FileName, err)
	}
	res, err := f.Client.Do(req)
	if res != nil {
		defer res.Body.Close()
	}
	if err != nil {
		return Staged{}, fmt.Errorf("could not download %s: %w", doc.FileName, err)
	}
	if res.StatusCode != http.StatusOK {
		return Staged{}, fmt.Errorf("could not download %s: bad response from server: %s", doc.FileName, res.Status)
	}

	path := filepath.Join(f.Dir, doc.FileName)
	file, err := f.FS.Create(path)
	if err != nil {
		return Staged{}, fmt.Errorf("could not create %s: %w", path, err)
	}
	n, err := io.Copy(io.MultiWriter(file, bar), res.Body)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = f.FS.Remove(path)
		return Staged{}, fmt.Errorf("could not write %s: %w", path, err)
	}
	return Staged{Document: doc, Path: path, Size: n}, nil
}
