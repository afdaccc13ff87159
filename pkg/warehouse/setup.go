package warehouse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/klothoplatform/cortexrag/pkg/documents"
	"github.com/klothoplatform/cortexrag/pkg/logging"
	"github.com/lithammer/dedent"
	"go.uber.org/zap"
)

const (
	Warehouse     = "HOL_WH"
	Database      = "PUMP_DB"
	Schema        = "PUBLIC"
	Stage         = "DOCS"
	Table         = "PUMP_TABLE"
	ChunkTable    = "PUMP_TABLE_CHUNK"
	SearchService = "PUMP_SEARCH_SERVICE"
	Integration   = "Q_AUTH_HOL"
	GranteeRole   = "PUBLIC"

	ChunkSize    = 700
	ChunkOverlap = 100

	CallbackPath = "oauth/callback"
)

// CreateWarehouse replaces the warehouse and database and selects both for the session.
func (s *Session) CreateWarehouse(ctx context.Context) error {
	s.log.Info("creating warehouse and database", zap.String("warehouse", Warehouse), zap.String("database", Database))
	return s.execAll(ctx,
		"CREATE OR REPLACE WAREHOUSE "+Warehouse+" WITH WAREHOUSE_SIZE='X-SMALL' AUTO_SUSPEND=60 AUTO_RESUME=TRUE INITIALLY_SUSPENDED=TRUE",
		"CREATE OR REPLACE DATABASE "+Database,
		"USE DATABASE "+Database,
		"USE WAREHOUSE "+Warehouse,
	)
}

func (s *Session) CreateStage(ctx context.Context) error {
	s.log.Info("creating stage", zap.String("stage", Stage))
	return s.exec(ctx, "CREATE STAGE "+Stage+" DIRECTORY = (ENABLE = true) ENCRYPTION = (TYPE = 'SNOWFLAKE_SSE')")
}

// StageDocuments PUTs each staged file uncompressed so PARSE_DOCUMENT can read it, and returns the stage
// listing afterwards.
func (s *Session) StageDocuments(ctx context.Context, docs []documents.Staged) ([]string, error) {
	for _, doc := range docs {
		path, err := filepath.Abs(doc.Path)
		if err != nil {
			return nil, err
		}
		s.log.Info("uploading document to stage", zap.String("file", doc.FileName))
		stmt := fmt.Sprintf("PUT %s @%s AUTO_COMPRESS=FALSE", quote("file://"+filepath.ToSlash(path)), Stage)
		if err := s.exec(ctx, stmt); err != nil {
			return nil, err
		}
	}
	listing, err := s.query(ctx, "LIST @"+Stage)
	if err != nil {
		return nil, err
	}
	name := listing.column(0, "name")
	files := make([]string, 0, len(listing.rows))
	for _, row := range listing.rows {
		files = append(files, listing.value(row, name))
	}
	s.log.Info("files in stage", zap.Strings("files", files))
	return files, nil
}

type ParsedDocument struct {
	DocName string
	// ContentLength is the length of the parsed text, zero when parsing produced no content.
	ContentLength int64
}

// ParseDocuments creates the document table from the first document and inserts the rest, then reports the
// parsed content length of each.
func (s *Session) ParseDocuments(ctx context.Context, docs []documents.Document) ([]ParsedDocument, error) {
	if len(docs) == 0 {
		return nil, errors.New("no documents to parse")
	}
	s.log.Info("parsing documents", zap.Int("count", len(docs)))
	for i, doc := range docs {
		parse := fmt.Sprintf("SNOWFLAKE.CORTEX.PARSE_DOCUMENT(@%s.%s.%s, %s, {'mode': 'LAYOUT'})",
			Database, Schema, Stage, quote(doc.FileName))
		var stmt string
		if i == 0 {
			stmt = fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT %s AS doc, %s AS pump_maint_text", Table, quote(doc.DocName), parse)
		} else {
			stmt = fmt.Sprintf("INSERT INTO %s (doc, pump_maint_text) SELECT %s, %s", Table, quote(doc.DocName), parse)
		}
		if err := s.exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("could not parse %s: %w", doc.FileName, err)
		}
	}

	stmt := "SELECT DOC, LENGTH(TO_VARCHAR(pump_maint_text:content)) AS content_length FROM " + Table
	rows, err := s.conn.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", stmt, err)
	}
	defer rows.Close()
	var parsed []ParsedDocument
	for rows.Next() {
		var p ParsedDocument
		var length *int64
		if err := rows.Scan(&p.DocName, &length); err != nil {
			return nil, err
		}
		if length != nil {
			p.ContentLength = *length
		}
		s.log.Info("parsed document", zap.String("doc", p.DocName), zap.Int64("characters", p.ContentLength))
		parsed = append(parsed, p)
	}
	return parsed, rows.Err()
}

var (
	chunkStmt = dedent.Dedent(fmt.Sprintf(`
		CREATE OR REPLACE TABLE %[1]s AS
		SELECT
		    TO_VARCHAR(c.value) AS CHUNK_TEXT,
		    DOC
		FROM
		    %[2]s,
		    LATERAL FLATTEN(input => SNOWFLAKE.CORTEX.SPLIT_TEXT_RECURSIVE_CHARACTER(
		        TO_VARCHAR(pump_maint_text:content),
		        'none',
		        %[3]d,
		        %[4]d
		    )) c
		WHERE pump_maint_text:content IS NOT NULL
		`, ChunkTable, Table, ChunkSize, ChunkOverlap))

	// fixedChunkStmt cuts the raw parse output into fixed windows. It is used when recursive splitting
	// finds no content field to split.
	fixedChunkStmt = dedent.Dedent(fmt.Sprintf(`
		CREATE OR REPLACE TABLE %[1]s AS
		WITH numbered_chunks AS (
		    SELECT
		        DOC,
		        TO_VARCHAR(pump_maint_text) AS content,
		        ROW_NUMBER() OVER (PARTITION BY DOC ORDER BY SEQ4()) AS chunk_num
		    FROM %[2]s
		    CROSS JOIN TABLE(GENERATOR(ROWCOUNT => CEIL(LENGTH(TO_VARCHAR(pump_maint_text)) / %[3]d.0)))
		)
		SELECT
		    SUBSTR(content, (chunk_num - 1) * %[3]d + 1, %[3]d) AS CHUNK_TEXT,
		    DOC
		FROM numbered_chunks
		WHERE LENGTH(TRIM(SUBSTR(content, (chunk_num - 1) * %[3]d + 1, %[3]d))) > 0
		`, ChunkTable, Table, ChunkSize))

	searchServiceStmt = dedent.Dedent(fmt.Sprintf(`
		CREATE OR REPLACE CORTEX SEARCH SERVICE %[1]s
		    ON CHUNK_TEXT
		    ATTRIBUTES DOC
		    WAREHOUSE = %[2]s
		    TARGET_LAG = '30 day'
		    AS (
		        SELECT CHUNK_TEXT AS CHUNK_TEXT, DOC FROM %[3]s
		    )
		`, SearchService, Warehouse, ChunkTable))
)

// ChunkDocuments splits the parsed documents into overlapping chunks and returns the chunk count.
func (s *Session) ChunkDocuments(ctx context.Context) (int64, error) {
	s.log.Info("chunking documents", zap.Int("size", ChunkSize), zap.Int("overlap", ChunkOverlap))
	if err := s.exec(ctx, chunkStmt); err != nil {
		return 0, err
	}
	n, err := s.count(ctx, ChunkTable)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("created chunks", zap.Int64("chunks", n))
		return n, nil
	}

	sample, err := s.query(ctx, fmt.Sprintf("SELECT DOC, LEFT(TO_VARCHAR(pump_maint_text), 200) FROM %s LIMIT 1", Table))
	if err == nil && len(sample.rows) > 0 {
		s.log.Warn("no chunks created, falling back to fixed windows", zap.String("raw_sample", sample.value(sample.rows[0], 1)))
	} else {
		s.log.Warn("no chunks created, falling back to fixed windows")
	}
	if err := s.exec(ctx, fixedChunkStmt); err != nil {
		return 0, err
	}
	if n, err = s.count(ctx, ChunkTable); err != nil {
		return 0, err
	}
	s.log.Info("created chunks with fixed windows", zap.Int64("chunks", n))
	return n, nil
}

func (s *Session) CreateSearchService(ctx context.Context) error {
	s.log.Info("creating cortex search service", zap.String("service", SearchService))
	return s.exec(ctx, searchServiceStmt)
}

// RedirectURI joins the web experience URL and the callback path with exactly one slash.
func RedirectURI(webExperienceURL string) string {
	return strings.TrimRight(webExperienceURL, "/") + "/" + CallbackPath
}

// CreateOAuthIntegration replaces the security integration the plugin authenticates through and returns its
// redirect URI.
func (s *Session) CreateOAuthIntegration(ctx context.Context, webExperienceURL string) (string, error) {
	if webExperienceURL == "" {
		return "", errors.New("web experience url is required for the oauth redirect")
	}
	redirect := RedirectURI(webExperienceURL)
	s.log.Info("creating oauth integration", zap.String("integration", Integration), zap.String("redirect_uri", redirect))
	stmt := dedent.Dedent(fmt.Sprintf(`
		CREATE OR REPLACE SECURITY INTEGRATION %s
		    TYPE = OAUTH
		    ENABLED = TRUE
		    OAUTH_ISSUE_REFRESH_TOKENS = TRUE
		    OAUTH_REFRESH_TOKEN_VALIDITY = 3600
		    OAUTH_CLIENT = CUSTOM
		    OAUTH_CLIENT_TYPE = CONFIDENTIAL
		    OAUTH_REDIRECT_URI = %s
		`, Integration, quote(redirect)))
	return redirect, s.exec(ctx, stmt)
}

// Grant lets the plugin's users reach the search service.
func (s *Session) Grant(ctx context.Context) error {
	s.log.Info("granting usage", zap.String("role", GranteeRole))
	return s.execAll(ctx,
		fmt.Sprintf("GRANT USAGE ON DATABASE %s TO ROLE %s", Database, GranteeRole),
		fmt.Sprintf("GRANT USAGE ON SCHEMA %s TO ROLE %s", Schema, GranteeRole),
		fmt.Sprintf("GRANT USAGE ON CORTEX SEARCH SERVICE %s TO ROLE %s", SearchService, GranteeRole),
	)
}

// ClientCredentials are the OAuth client id and secret of the integration.
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
}

// Credentials reads the integration's client id and its current client secret.
func (s *Session) Credentials(ctx context.Context) (ClientCredentials, error) {
	var creds ClientCredentials

	desc, err := s.query(ctx, "DESC INTEGRATION "+Integration)
	if err != nil {
		return creds, err
	}
	prop, val := desc.column(0, "property"), desc.column(2, "property_value")
	for _, row := range desc.rows {
		if desc.value(row, prop) == "OAUTH_CLIENT_ID" {
			creds.ClientID = desc.value(row, val)
			break
		}
	}
	if creds.ClientID == "" {
		return creds, fmt.Errorf("integration %s has no OAUTH_CLIENT_ID", Integration)
	}

	var raw string
	stmt := fmt.Sprintf("SELECT SYSTEM$SHOW_OAUTH_CLIENT_SECRETS(%s)", quote(Integration))
	if err := s.conn.QueryRowContext(ctx, stmt).Scan(&raw); err != nil {
		return creds, fmt.Errorf("could not read client secrets of %s: %w", Integration, err)
	}
	var secrets struct {
		ClientSecret string `json:"OAUTH_CLIENT_SECRET"`
	}
	if err := json.Unmarshal([]byte(raw), &secrets); err != nil {
		return creds, fmt.Errorf("could not decode client secrets of %s: %w", Integration, err)
	}
	if secrets.ClientSecret == "" {
		return creds, fmt.Errorf("integration %s returned an empty client secret", Integration)
	}
	creds.ClientSecret = secrets.ClientSecret
	s.log.Info("retrieved oauth credentials", logging.Secret("client_id", creds.ClientID), logging.Secret("client_secret", creds.ClientSecret))
	return creds, nil
}
