// Package statusdb talks to the CouchDB instance holding flowcell documents.
package statusdb

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	sp "github.com/scipipe/scipipe"

	"github.com/pharmbio/taca/config"
	"github.com/pharmbio/taca/utils"
)

const (
	ErrNotFound = utils.Error("document not found")
	ErrNoName   = utils.Error("document has no name")
)

// Client is a minimal CouchDB client for the name view based upserts
type Client struct {
	base       *url.URL
	username   string
	password   string
	flowcellDB string
	nameView   string
	http       *http.Client
}

// NewClient returns a client for the statusdb section of the configuration
func NewClient(cfg config.StatusDBConfig) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || base.Host == "" {
		return nil, errors.Errorf("invalid statusdb url %q", cfg.URL)
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = time.Minute
	}
	return &Client{
		base:       base,
		username:   cfg.Username,
		password:   cfg.Password,
		flowcellDB: cfg.FlowcellDB,
		nameView:   cfg.NameView,
		http:       &http.Client{Timeout: timeout},
	}, nil
}

// FlowcellDB is the database holding run documents
func (c *Client) FlowcellDB() string { return c.flowcellDB }

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	u := *c.base
	u.Path = u.Path + "/" + path
	u.RawQuery = query.Encode()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "could not encode document")
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return errors.Wrapf(err, "could not create request for %s", path)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s failed", method, path)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return errors.Wrapf(ErrNotFound, "%s %s", method, path)
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return errors.Wrapf(json.NewDecoder(resp.Body).Decode(out), "could not decode response of %s", path)
}

// viewPath turns "names/name" into "_design/names/_view/name"
func viewPath(view string) string {
	parts := strings.SplitN(view, "/", 2)
	if len(parts) != 2 {
		return view
	}
	return "_design/" + parts[0] + "/_view/" + parts[1]
}

// FindByName returns the document whose name view key equals name
func (c *Client) FindByName(ctx context.Context, db, name string) (Doc, error) {
	key, _ := json.Marshal(name)
	q := url.Values{}
	q.Set("key", string(key))
	q.Set("include_docs", "true")
	var res struct {
		Rows []struct {
			ID  string `json:"id"`
			Doc Doc    `json:"doc"`
		} `json:"rows"`
	}
	if err := c.do(ctx, http.MethodGet, db+"/"+viewPath(c.nameView), q, nil, &res); err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "%s in %s", name, db)
	}
	if len(res.Rows) > 1 {
		sp.Warning.Printf("%d documents named %s in %s, using %s\n", len(res.Rows), name, db, res.Rows[0].ID)
	}
	return res.Rows[0].Doc, nil
}

// Put saves doc under its _id and returns the new revision
func (c *Client) Put(ctx context.Context, db string, doc Doc) (string, error) {
	id, _ := doc["_id"].(string)
	if id == "" {
		return "", errors.New("document has no _id")
	}
	var res struct {
		Rev string `json:"rev"`
	}
	if err := c.do(ctx, http.MethodPut, db+"/"+id, nil, doc, &res); err != nil {
		return "", err
	}
	return res.Rev, nil
}

// UpdateDoc inserts doc, or updates the document with the same name. With
// overwrite the stored document is replaced, otherwise the two are merged
// with MergeDocs.
func (c *Client) UpdateDoc(ctx context.Context, db string, doc Doc, overwrite bool) error {
	name, _ := doc["name"].(string)
	if name == "" {
		return ErrNoName
	}
	existing, err := c.FindByName(ctx, db, name)
	switch {
	case errors.Cause(err) == ErrNotFound:
		fresh := Doc{}
		for k, v := range doc {
			fresh[k] = v
		}
		fresh["_id"] = strings.ReplaceAll(uuid.New().String(), "-", "")
		if _, err := c.Put(ctx, db, fresh); err != nil {
			return errors.Wrapf(err, "could not create document %s", name)
		}
		sp.Info.Printf("Created new document %s in %s\n", name, db)
		return nil
	case err != nil:
		return err
	}

	var updated Doc
	if overwrite {
		updated = Doc{}
		for k, v := range doc {
			updated[k] = v
		}
	} else {
		var diverged []string
		updated, diverged = MergeDocs(existing, doc)
		for _, path := range diverged {
			sp.Info.Printf("Value of %s changed in document %s\n", path, name)
		}
	}
	updated["_id"] = existing["_id"]
	updated["_rev"] = existing["_rev"]
	if _, err := c.Put(ctx, db, updated); err != nil {
		return errors.Wrapf(err, "could not update document %s", name)
	}
	sp.Info.Printf("Updated document %s in %s\n", name, db)
	return nil
}

// LogPDCArchived stamps the run document with the time it was confirmed in
// tape storage
func (c *Client) LogPDCArchived(ctx context.Context, run string) error {
	doc, err := c.FindByName(ctx, c.flowcellDB, run)
	if err != nil {
		return err
	}
	doc["pdc_archived"] = utils.Now().Format(utils.TimeStamp)
	_, err = c.Put(ctx, c.flowcellDB, doc)
	return errors.Wrapf(err, "could not log pdc_archived for %s", run)
}

// IsDemultiplexed reports whether the run document carries demultiplexing
// statistics
func (c *Client) IsDemultiplexed(ctx context.Context, run string) (bool, error) {
	doc, err := c.FindByName(ctx, c.flowcellDB, run)
	if errors.Cause(err) == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	illumina, ok := asMap(doc["illumina"])
	if !ok {
		return false, nil
	}
	_, ok = illumina["Demultiplex_Stats"]
	return ok, nil
}
