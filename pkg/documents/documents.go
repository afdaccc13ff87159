// Package documents moves the sample corpus around: downloaded over HTTP into a local staging directory,
// uploaded to the stack's document bucket, and removed again when the stack is destroyed.
package documents

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

type Document struct {
	URL string
	// FileName is the name the file is staged and uploaded under. It contains no spaces so it can be
	// referenced unquoted from stage paths.
	FileName string
	// DocName identifies the document in the warehouse tables.
	DocName string
}

const sampleBase = "https://raw.githubusercontent.com/Snowflake-Labs/sfguide-getting-started-with-amazon-q-for-business-and-cortex/main/"

// DefaultCorpus are the pump maintenance manuals the sample questions are written against.
var DefaultCorpus = []Document{
	{
		URL:      sampleBase + "1290IF_PumpHeadMaintenance_TN.pdf",
		FileName: "1290IF_PumpHeadMaintenance_TN.pdf",
		DocName:  "1290IF_PumpHeadMaintenance_TN",
	},
	{
		URL:      sampleBase + "PumpWorks%20610%20PWI%20pump_Maintenance.pdf",
		FileName: "PumpWorks_610_PWI_pump_Maintenance.pdf",
		DocName:  "PumpWorks_610",
	},
}

// FromURLs builds documents for user supplied URLs. The file name is the unescaped last path segment with
// whitespace replaced by underscores, and the doc name is the file name without its extension.
func FromURLs(urls []string) ([]Document, error) {
	docs := make([]Document, 0, len(urls))
	seen := make(map[string]string, len(urls))
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid document url %q: %w", raw, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("invalid document url %q: scheme must be http or https", raw)
		}
		name := CleanFileName(path.Base(u.Path))
		if name == "" || name == "." || name == "/" {
			return nil, fmt.Errorf("document url %q has no file name", raw)
		}
		if prev, ok := seen[name]; ok {
			return nil, fmt.Errorf("documents %q and %q both stage as %s", prev, raw, name)
		}
		seen[name] = raw
		docs = append(docs, Document{
			URL:      raw,
			FileName: name,
			DocName:  strings.TrimSuffix(name, path.Ext(name)),
		})
	}
	return docs, nil
}

// CleanFileName unescapes a URL path segment and replaces whitespace with underscores.
func CleanFileName(segment string) string {
	if s, err := url.PathUnescape(segment); err == nil {
		segment = s
	}
	return strings.Join(strings.Fields(segment), "_")
}

// Corpus returns the documents for the given URLs, or DefaultCorpus when there are none.
func Corpus(urls []string) ([]Document, error) {
	if len(urls) == 0 {
		return DefaultCorpus, nil
	}
	return FromURLs(urls)
}
